package websocket

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 64
)

// Listener receives connection events. Calls for a single connection are
// never concurrent, and MessageReceived is delivered in arrival order.
type Listener interface {
	Opened(sessionID string)
	MessageReceived(sessionID string, raw []byte)
	Errored(sessionID string, err error)
	Closed(sessionID string, reason string, code int)
}

// StatusRecorder is told about every connection status change.
type StatusRecorder interface {
	SetStatus(sessionID string, status models.ConnectionStatus)
}

// Options configures a Conn.
type Options struct {
	// BaseURL is the ws(s) endpoint; the session lives at BaseURL/story/{id}.
	BaseURL string
	Query   url.Values
	Header  http.Header
	Dialer  *websocket.Dialer
	Logger  *slog.Logger

	PongWait   time.Duration
	PingPeriod time.Duration
}

// Conn owns the single live connection for the active session.
type Conn struct {
	opts     Options
	listener Listener
	recorder StatusRecorder
	log      *slog.Logger

	mu        sync.Mutex
	state     models.ConnectionStatus
	sessionID string
	attempt   uint64
	link      *link
}

// link is one dialed socket and its pumps
type link struct {
	id        string
	sessionID string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// NewConn creates a disconnected connection manager.
func NewConn(opts Options, listener Listener, recorder StatusRecorder) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = (opts.PongWait * 9) / 10
	}
	l := opts.Logger
	if l == nil {
		l = observability.Logger()
	}
	return &Conn{
		opts:     opts,
		listener: listener,
		recorder: recorder,
		log:      l.With("component", "conn"),
		state:    models.StatusDisconnected,
	}
}

// Status returns the current connection state.
func (c *Conn) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the connection is bound to, if any.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// URL returns the live endpoint for sessionID.
func (c *Conn) URL(sessionID string) string {
	u := strings.TrimRight(c.opts.BaseURL, "/") + "/story/" + url.PathEscape(sessionID)
	if len(c.opts.Query) > 0 {
		u += "?" + c.opts.Query.Encode()
	}
	return u
}

// Connect opens the live connection for sessionID. It is a no-op while a
// connection is already open or opening. A dial failure leaves the manager
// disconnected and returns a *ConnectionError; re-invoking Connect is the
// caller's job.
func (c *Conn) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.state != models.StatusDisconnected {
		c.log.Debug("connect ignored", "session_id", sessionID, "state", c.state, "active_session", c.sessionID)
		c.mu.Unlock()
		return nil
	}
	c.sessionID = sessionID
	c.apply(triggerConnect)
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.URL(sessionID), c.opts.Header)

	c.mu.Lock()
	if c.attempt != attempt || c.state != models.StatusConnecting {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return &ConnectionError{SessionID: sessionID, Op: "dial", Err: ErrConnectAborted}
	}
	if err != nil {
		c.apply(triggerFail)
		c.mu.Unlock()
		cerr := &ConnectionError{SessionID: sessionID, Op: "dial", Err: err}
		if resp != nil {
			cerr.Code = resp.StatusCode
		}
		c.log.Warn("connect failed", "session_id", sessionID, "error", err)
		c.notify(func(l Listener) { l.Errored(sessionID, cerr) })
		return cerr
	}
	l := &link{
		id:        uuid.NewString(),
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
	c.link = l
	c.apply(triggerOpen)
	c.mu.Unlock()

	c.log.Info("connected", "session_id", sessionID, "conn_id", l.id)
	c.notify(func(lst Listener) { lst.Opened(sessionID) })

	go c.writePump(l)
	go c.readPump(l)
	return nil
}

// Disconnect closes the active connection. Calling it when already
// disconnected does nothing.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == models.StatusDisconnected {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	l := c.link
	c.link = nil
	c.attempt++
	c.apply(triggerClose)
	c.mu.Unlock()

	if l != nil {
		l.close()
	}
	c.log.Info("disconnected", "session_id", sessionID)
	c.notify(func(lst Listener) { lst.Closed(sessionID, "client disconnect", websocket.CloseNormalClosure) })
}

// Send queues m for the connection bound to sessionID. Sends are
// fire-and-forget; ordering across calls is preserved.
func (c *Conn) Send(sessionID string, m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.link
	state := c.state
	if state != models.StatusConnected || l == nil || c.sessionID != sessionID {
		c.mu.Unlock()
		return &NotConnectedError{SessionID: sessionID, Status: state}
	}
	c.mu.Unlock()

	select {
	case <-l.done:
		return &NotConnectedError{SessionID: sessionID, Status: models.StatusDisconnected}
	default:
	}
	select {
	case l.send <- frame:
		return nil
	case <-l.done:
		return &NotConnectedError{SessionID: sessionID, Status: models.StatusDisconnected}
	default:
		return &ConnectionError{SessionID: sessionID, Op: "send", Err: ErrSendBufferFull}
	}
}

// apply moves the state machine; c.mu must be held.
func (c *Conn) apply(t trigger) {
	from := c.state
	to, ok := nextState(from, t)
	if !ok {
		c.log.Error("illegal connection transition", "from", from, "trigger", t)
		return
	}
	c.state = to
	if c.recorder != nil {
		c.recorder.SetStatus(c.sessionID, to)
	}
}

func (c *Conn) notify(fn func(Listener)) {
	if c.listener != nil {
		fn(c.listener)
	}
}

// readPump pumps frames from the socket to the listener
func (c *Conn) readPump(l *link) {
	var readErr error
	defer func() {
		c.finish(l, readErr)
	}()

	l.ws.SetReadLimit(maxFrameSize)
	l.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	l.ws.SetPongHandler(func(string) error {
		l.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := l.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		// The server may coalesce queued frames with newlines.
		for _, frame := range bytes.Split(message, []byte{'\n'}) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			c.notify(func(lst Listener) { lst.MessageReceived(l.sessionID, frame) })
		}
	}
}

// writePump pumps queued frames to the socket and keeps it alive with pings
func (c *Conn) writePump(l *link) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		l.ws.Close()
	}()

	for {
		select {
		case frame := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("write failed", "session_id", l.sessionID, "conn_id", l.id, "error", err)
				return
			}

		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.done:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			l.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// finish runs when the read pump stops. If the link is still current the
// remote side dropped us, so the manager goes back to disconnected.
func (c *Conn) finish(l *link, err error) {
	l.close()

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.apply(triggerClose)
	c.mu.Unlock()

	code, reason := closeDetails(err)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn("connection dropped", "session_id", l.sessionID, "conn_id", l.id, "code", code, "error", err)
		cause := err
		if cause == nil {
			cause = ErrAbnormalClosure
		}
		cerr := &ConnectionError{SessionID: l.sessionID, Op: "read", Code: code, Err: cause}
		c.notify(func(lst Listener) { lst.Errored(l.sessionID, cerr) })
	}
	c.notify(func(lst Listener) { lst.Closed(l.sessionID, reason, code) })
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		reason := ce.Text
		if reason == "" {
			reason = "closed by server"
		}
		return ce.Code, reason
	}
	if err == nil {
		return websocket.CloseAbnormalClosure, "connection lost"
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
