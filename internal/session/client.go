package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/websocket"
)

// StoryFetcher loads the snapshot a session starts from.
type StoryFetcher interface {
	GetStory(ctx context.Context, id string) (models.Story, error)
}

// ChatHistory is implemented by story fetchers that can also return a
// story's past chat.
type ChatHistory interface {
	ListChat(ctx context.Context, id string) ([]models.ChatMessage, error)
}

// Connector is the live connection the client drives.
type Connector interface {
	Sender
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Stories    StoryFetcher
	Identity   models.Identity
	Live       websocket.Options
	TypingIdle time.Duration
	Logger     *slog.Logger
}

// Client opens and closes story sessions. One Client holds at most one
// session at a time; opening another story tears the current one down.
type Client struct {
	Store      *Store
	Dispatcher *Dispatcher
	Emitter    *Emitter

	conn    Connector
	stories StoryFetcher
	idle    time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	typing *TypingNotifier
}

// NewClient wires a store, dispatcher, live connection and emitter together.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}
	if opts.Live.Logger == nil {
		opts.Live.Logger = logger
	}
	store := NewStore()
	dispatcher := NewDispatcher(store, logger)
	conn := websocket.NewConn(opts.Live, dispatcher, store)
	return newClient(store, dispatcher, conn, opts, logger)
}

func newClient(store *Store, dispatcher *Dispatcher, conn Connector, opts ClientOptions, logger *slog.Logger) *Client {
	return &Client{
		Store:      store,
		Dispatcher: dispatcher,
		Emitter:    NewEmitter(conn, opts.Identity, logger),
		conn:       conn,
		stories:    opts.Stories,
		idle:       opts.TypingIdle,
		log:        logger.With("component", "session"),
	}
}

// Open loads storyID from the story service and connects to it. If the
// connection fails the snapshot stays loaded for read-only viewing and the
// *websocket.ConnectionError is returned; call Reconnect to try again.
func (c *Client) Open(ctx context.Context, storyID string) error {
	if current := c.Store.SessionID(); current != "" {
		c.log.Info("switching session", "from", current, "to", storyID)
		c.Close()
	}

	story, err := c.stories.GetStory(ctx, storyID)
	if err != nil {
		return fmt.Errorf("open story %s: %w", storyID, err)
	}
	c.Store.Load(story)
	c.loadHistory(ctx, storyID)

	c.mu.Lock()
	c.typing = NewTypingNotifier(c.idle, func(isTyping bool) {
		c.Emitter.SetTypingActivity(storyID, isTyping)
	})
	c.mu.Unlock()

	return c.conn.Connect(ctx, storyID)
}

// loadHistory seeds the transcript before the live connection can append to
// it. A failure leaves the transcript empty.
func (c *Client) loadHistory(ctx context.Context, storyID string) {
	h, ok := c.stories.(ChatHistory)
	if !ok {
		return
	}
	msgs, err := h.ListChat(ctx, storyID)
	if err != nil {
		c.log.Warn("chat history unavailable", "session_id", storyID, "error", err)
		return
	}
	for _, m := range msgs {
		c.Store.AppendChat(storyID, m)
	}
}

// Reconnect re-opens the live connection for the current session.
func (c *Client) Reconnect(ctx context.Context) error {
	id := c.Store.SessionID()
	if id == "" {
		return fmt.Errorf("reconnect: no open session")
	}
	return c.conn.Connect(ctx, id)
}

// Close leaves the session: the connection is closed and all session state
// is cleared. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	typing := c.typing
	c.typing = nil
	c.mu.Unlock()
	if typing != nil {
		typing.Flush()
	}

	c.conn.Disconnect()
	c.Store.Reset()
}

// Typing records a keystroke in the composer.
func (c *Client) Typing() {
	c.mu.Lock()
	typing := c.typing
	c.mu.Unlock()
	if typing != nil {
		typing.Keystroke()
	}
}

// Blur ends the typing burst without sending anything.
func (c *Client) Blur() {
	c.flushTyping()
}

// SubmitTurn sends text as the user's turn in the current session.
func (c *Client) SubmitTurn(text string, applyAutoFix bool) error {
	c.flushTyping()
	return c.Emitter.SubmitTurn(c.Store.SessionID(), text, applyAutoFix)
}

// SendChat posts a chat line in the current session.
func (c *Client) SendChat(text string) error {
	c.flushTyping()
	return c.Emitter.SendChatMessage(c.Store.SessionID(), text)
}

// RequestConclusion asks the server to end the current story.
func (c *Client) RequestConclusion() error {
	return c.Emitter.RequestConclusion(c.Store.SessionID())
}

func (c *Client) flushTyping() {
	c.mu.Lock()
	typing := c.typing
	c.mu.Unlock()
	if typing != nil {
		typing.Flush()
	}
}
