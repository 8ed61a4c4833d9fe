// Command wove is a terminal client for live story sessions.
//
//	wove session -story ID     join a story and write, chat and conclude
//	wove book -story ID -out F render the story as an HTML book
//	wove list                  list stories
//	wove new -title T          start a story
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wove/internal/config"
	"wove/internal/observability"
	"wove/internal/storyapi"
)

func main() {
	log.SetPrefix("[WOVE] ")
	log.SetFlags(0)

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	observability.Configure(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Client, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wove <session|book|list|new> [flags]")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "session":
		return runSession(ctx, cfg, args, in, out)
	case "book":
		return runBook(ctx, cfg, args, out)
	case "list":
		return runList(ctx, cfg, out)
	case "new":
		return runNew(ctx, cfg, args, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func storyClient(cfg config.Client) *storyapi.Client {
	return storyapi.New(cfg.APIURL, storyapi.StaticToken(cfg.Token), nil)
}

func runList(ctx context.Context, cfg config.Client, out io.Writer) error {
	stories, err := storyClient(cfg).ListStories(ctx)
	if err != nil {
		return err
	}
	for _, s := range stories {
		fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.Status, s.Title)
	}
	return nil
}

func runNew(ctx context.Context, cfg config.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	title := fs.String("title", "", "story title")
	opening := fs.String("opening", "", "opening passage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		return fmt.Errorf("new: -title is required")
	}
	story, err := storyClient(cfg).CreateStory(ctx, storyapi.CreateStoryRequest{Title: *title, Opening: *opening})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, story.ID)
	return nil
}
