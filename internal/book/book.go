// Package book lays a story out as pages for the digital book viewer.
package book

import (
	"context"
	"encoding/base64"
	"html/template"
	"io"
	"log/slog"
	"sort"

	"wove/internal/models"
	"wove/internal/observability"
)

// DefaultSegmentsPerPage is used when Build is given no page size.
const DefaultSegmentsPerPage = 3

// Illustrator renders image assets as JPEG bytes.
type Illustrator interface {
	Thumbnail(ctx context.Context, asset models.MediaAsset) ([]byte, error)
}

type Book struct {
	Title     string
	Completed bool
	Authors   []string
	Pages     []Page
}

type Page struct {
	Number   int
	Passages []Passage
}

type Passage struct {
	Position int
	Author   string
	Content  string
	Images   []Image
	Media    []models.MediaAsset // non-image attachments, listed by description
}

type Image struct {
	Alt string
	Src template.URL
}

// Build paginates story segments in position order. Images that cannot be
// illustrated fall back to their description.
func Build(ctx context.Context, story models.Story, perPage int, ill Illustrator, logger *slog.Logger) Book {
	if perPage <= 0 {
		perPage = DefaultSegmentsPerPage
	}
	if logger == nil {
		logger = observability.Logger()
	}

	names := make(map[string]string, len(story.Collaborators))
	for _, c := range story.Collaborators {
		names[c.UserID] = c.Username
	}

	segs := append([]models.Segment(nil), story.Segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Position < segs[j].Position })

	b := Book{Title: story.Title, Completed: story.Status == models.StoryCompleted}
	seenAuthor := map[string]bool{}
	for i, seg := range segs {
		if i%perPage == 0 {
			b.Pages = append(b.Pages, Page{Number: len(b.Pages) + 1})
		}
		author := names[seg.AuthorID]
		if author == "" {
			author = seg.AuthorID
		}
		if author != "" && !seenAuthor[author] {
			seenAuthor[author] = true
			b.Authors = append(b.Authors, author)
		}

		p := Passage{Position: seg.Position, Author: author, Content: seg.Content}
		for _, asset := range seg.Media {
			if asset.Kind != models.MediaImage || ill == nil {
				p.Media = append(p.Media, asset)
				continue
			}
			jpg, err := ill.Thumbnail(ctx, asset)
			if err != nil {
				logger.Warn("illustration unavailable", "asset_id", asset.ID, "error", err)
				p.Media = append(p.Media, asset)
				continue
			}
			p.Images = append(p.Images, Image{
				Alt: asset.Description,
				Src: template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg)),
			})
		}
		page := &b.Pages[len(b.Pages)-1]
		page.Passages = append(page.Passages, p)
	}
	return b
}

// Render writes b as a standalone HTML document.
func Render(w io.Writer, b Book) error {
	return bookTemplate.Execute(w, b)
}

var bookTemplate = template.Must(template.New("book").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 42rem; margin: 2rem auto; line-height: 1.6; }
.page { border-bottom: 1px solid #ccc; padding: 1.5rem 0; }
.page-number { color: #888; font-size: .8rem; text-align: right; }
.author { color: #666; font-size: .85rem; }
img { max-width: 100%; display: block; margin: .5rem auto; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Authors}}<p class="byline">By {{range $i, $a := .Authors}}{{if $i}}, {{end}}{{$a}}{{end}}</p>{{end}}
{{range .Pages}}<section class="page">
{{range .Passages}}<article>
<p>{{.Content}}</p>
{{range .Images}}<img src="{{.Src}}" alt="{{.Alt}}">
{{end}}{{range .Media}}<p class="media">[{{.Kind}}: {{.Description}}]</p>
{{end}}{{if .Author}}<p class="author">{{.Author}}</p>{{end}}
</article>
{{end}}<p class="page-number">{{.Number}}</p>
</section>
{{else}}<p>This story has no pages yet.</p>
{{end}}{{if .Completed}}<p class="the-end">The End</p>{{end}}
</body>
</html>
`))
