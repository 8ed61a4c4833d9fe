package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"wove/internal/config"
	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
	"wove/internal/session"
	"wove/internal/websocket"
)

// command is one parsed line of terminal input.
type command struct {
	name string // turn, chat, conclude, reconnect, who, story, quit, help
	text string
}

func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "turn", text: line}
	}
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return command{name: strings.ToLower(name), text: strings.TrimSpace(rest)}
}

const sessionHelp = `plain text   submit your turn
/chat TEXT   send a chat message
/conclude    ask to end the story
/reconnect   reopen the live connection
/who         list collaborators
/story       print the story so far
/quit        leave`

func runSession(ctx context.Context, cfg config.Client, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	storyID := fs.String("story", "", "story id")
	userID := fs.String("user", cfg.UserID, "your user id")
	username := fs.String("name", cfg.Username, "your display name")
	autoFix := fs.Bool("autofix", false, "ask the server to tidy submitted turns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storyID == "" {
		return fmt.Errorf("session: -story is required")
	}
	if *userID == "" {
		return fmt.Errorf("session: -user or WOVE_USER_ID is required")
	}
	if *username == "" {
		*username = *userID
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	client := session.NewClient(session.ClientOptions{
		Stories:  storyClient(cfg),
		Identity: models.Identity{UserID: *userID, Username: *username},
		Live: websocket.Options{
			BaseURL: cfg.WSURL,
			Query:   url.Values{"userId": {*userID}, "username": {*username}},
			Header:  header,
		},
		TypingIdle: cfg.TypingIdle,
		Logger:     observability.Logger(),
	})
	defer client.Close()

	var outMu sync.Mutex
	printf := func(format string, a ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, a...)
	}
	names := func(id string) string {
		for _, c := range client.Store.Collaborators() {
			if c.UserID == id {
				return c.Username
			}
		}
		return id
	}
	client.Dispatcher.Observe(func(ev session.Event) {
		if line := describeEvent(ev, names); line != "" {
			printf("%s\n", line)
		}
	})

	if err := client.Open(ctx, *storyID); err != nil {
		var cerr *websocket.ConnectionError
		if !errors.As(err, &cerr) {
			return err
		}
		printf("! live connection failed (%v); the story is read-only until /reconnect\n", err)
	}
	if sess, ok := client.Store.Session(); ok {
		printf("== %s ==\n", sess.Title)
		printStory(printf, client, names)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		cmd := parseLine(line)
		var err error
		switch cmd.name {
		case "turn":
			if cmd.text == "" {
				continue
			}
			err = client.SubmitTurn(cmd.text, *autoFix)
		case "chat":
			err = client.SendChat(cmd.text)
		case "conclude":
			err = client.RequestConclusion()
		case "reconnect":
			err = client.Reconnect(ctx)
		case "who":
			for _, c := range client.Store.Collaborators() {
				printf("  %s (%s)\n", c.Username, c.Role)
			}
		case "story":
			printStory(printf, client, names)
		case "help":
			printf("%s\n", sessionHelp)
		case "quit", "exit":
			return nil
		default:
			printf("unknown command /%s, try /help\n", cmd.name)
		}
		if err != nil {
			printf("! %s\n", describeError(err))
		}
	}
}

func printStory(printf func(string, ...any), client *session.Client, names func(string) string) {
	for _, seg := range client.Store.Segments() {
		printf("[%d] %s: %s\n", seg.Position, names(seg.AuthorID), seg.Content)
	}
	if holder := client.Store.TurnHolder(); holder != "" {
		printf("-- %s's turn --\n", names(holder))
	}
}

func describeError(err error) string {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("nothing sent: %s is empty", verr.Field)
	case session.IsNotConnected(err):
		return "not connected; use /reconnect"
	}
	return err.Error()
}

// describeEvent renders an event as one terminal line, or "" to stay quiet.
func describeEvent(ev session.Event, names func(string) string) string {
	switch ev.Kind {
	case session.EventOpened:
		return "* connected"
	case session.EventErrored:
		return fmt.Sprintf("! connection error: %v", ev.Err)
	case session.EventClosed:
		return fmt.Sprintf("* disconnected (%d %s)", ev.Code, ev.Reason)
	}

	switch m := ev.Message.(type) {
	case *protocol.UserJoined:
		return fmt.Sprintf("* %s joined", m.Username)
	case *protocol.UserLeft:
		return fmt.Sprintf("* %s left", names(m.UserID))
	case *protocol.ChatMessageReceived:
		return fmt.Sprintf("<%s> %s", m.Username, m.Text)
	case *protocol.NewSegment:
		return fmt.Sprintf("[%d] %s: %s", m.Segment.Position, names(m.Segment.AuthorID), m.Segment.Content)
	case *protocol.TurnChanged:
		if m.Holder() == "" {
			return "-- nobody holds the turn --"
		}
		return fmt.Sprintf("-- %s's turn --", names(m.Holder()))
	case *protocol.StoryUpdated:
		if m.Status != nil && *m.Status == models.StoryCompleted {
			return "== the story is complete =="
		}
		if m.Title != nil {
			return fmt.Sprintf("== retitled: %s ==", *m.Title)
		}
	}
	return ""
}
