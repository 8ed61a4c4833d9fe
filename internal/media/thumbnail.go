// Package media produces preview thumbnails for segment illustrations.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/nfnt/resize"

	"wove/internal/models"
)

// DefaultSize bounds both thumbnail dimensions.
const DefaultSize = 300

var (
	ErrNotImage    = errors.New("media asset is not an image")
	ErrLocalSource = errors.New("local media sources are disabled")
)

// Fetcher opens the bytes behind an asset's source locator.
type Fetcher interface {
	Fetch(ctx context.Context, src string) (io.ReadCloser, error)
}

// SourceFetcher reads http(s) URLs with Client. file:// URLs and bare paths
// are read from disk only when AllowLocal is set; story content comes from
// the server and must not pick local files on its own.
type SourceFetcher struct {
	Client     *http.Client
	AllowLocal bool
}

func (f SourceFetcher) Fetch(ctx context.Context, src string) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client := f.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
		}
		return resp.Body, nil
	}
	if !f.AllowLocal {
		return nil, fmt.Errorf("fetch %s: %w", src, ErrLocalSource)
	}
	return os.Open(strings.TrimPrefix(src, "file://"))
}

// Thumbnailer generates and caches JPEG thumbnails
type Thumbnailer struct {
	fetch Fetcher
	size  uint

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewThumbnailer creates a thumbnailer bounding images to size×size.
func NewThumbnailer(fetch Fetcher, size uint) *Thumbnailer {
	if fetch == nil {
		fetch = SourceFetcher{}
	}
	if size == 0 {
		size = DefaultSize
	}
	return &Thumbnailer{fetch: fetch, size: size, cache: make(map[string][]byte)}
}

// Thumbnail returns JPEG bytes for an image asset.
func (t *Thumbnailer) Thumbnail(ctx context.Context, asset models.MediaAsset) ([]byte, error) {
	if asset.Kind != models.MediaImage {
		return nil, ErrNotImage
	}

	// Check cache first
	t.mu.RLock()
	if cached, ok := t.cache[asset.Source]; ok {
		t.mu.RUnlock()
		return cached, nil
	}
	t.mu.RUnlock()

	rc, err := t.fetch.Fetch(ctx, asset.Source)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", asset.ID, err)
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", asset.ID, err)
	}

	thumbnail := resize.Thumbnail(t.size, t.size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumbnail, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail %s: %w", asset.ID, err)
	}

	t.mu.Lock()
	t.cache[asset.Source] = buf.Bytes()
	t.mu.Unlock()
	return buf.Bytes(), nil
}
