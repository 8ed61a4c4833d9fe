package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"wove/internal/book"
	"wove/internal/config"
	"wove/internal/media"
	"wove/internal/observability"
)

func runBook(ctx context.Context, cfg config.Client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	storyID := fs.String("story", "", "story id")
	outPath := fs.String("out", "-", "output file, - for stdout")
	perPage := fs.Int("per-page", book.DefaultSegmentsPerPage, "segments per page")
	noImages := fs.Bool("no-images", false, "caption images instead of embedding thumbnails")
	localMedia := fs.Bool("local-media", false, "allow image sources that are local files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storyID == "" {
		return fmt.Errorf("book: -story is required")
	}

	story, err := storyClient(cfg).GetStory(ctx, *storyID)
	if err != nil {
		return err
	}

	var ill book.Illustrator
	if !*noImages {
		ill = media.NewThumbnailer(media.SourceFetcher{AllowLocal: *localMedia}, media.DefaultSize)
	}
	b := book.Build(ctx, story, *perPage, ill, observability.Logger())

	if *outPath == "-" {
		return book.Render(stdout, b)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := book.Render(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
