package session

import (
	"log/slog"
	"sync"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
)

// EventKind says what an Event reports.
type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	EventErrored
	EventClosed
)

// Event is what observers see after the dispatcher has handled something.
// Message events are only raised once the store has been updated.
type Event struct {
	Kind      EventKind
	SessionID string
	Message   protocol.Message
	Err       error
	Code      int
	Reason    string
}

// Dispatcher decodes inbound frames and routes them to store reducers. It
// implements websocket.Listener. Decode failures and unknown types are
// logged and dropped; nothing here closes the connection.
type Dispatcher struct {
	store *Store
	log   *slog.Logger

	mu        sync.RWMutex
	observers []func(Event)
}

// NewDispatcher creates a dispatcher writing into store.
func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Dispatcher{store: store, log: logger.With("component", "dispatcher")}
}

// Observe registers fn for every event. fn runs on the connection's read
// goroutine and must not block.
func (d *Dispatcher) Observe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

func (d *Dispatcher) emit(ev Event) {
	d.mu.RLock()
	obs := d.observers
	d.mu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func (d *Dispatcher) Opened(sessionID string) {
	d.emit(Event{Kind: EventOpened, SessionID: sessionID})
}

func (d *Dispatcher) Errored(sessionID string, err error) {
	d.log.Warn("connection error", "session_id", sessionID, "error", err)
	d.emit(Event{Kind: EventErrored, SessionID: sessionID, Err: err})
}

func (d *Dispatcher) Closed(sessionID, reason string, code int) {
	d.log.Info("connection closed", "session_id", sessionID, "code", code, "reason", reason)
	d.emit(Event{Kind: EventClosed, SessionID: sessionID, Code: code, Reason: reason})
}

// MessageReceived decodes raw and applies it to the store.
func (d *Dispatcher) MessageReceived(sessionID string, raw []byte) {
	active := d.store.SessionID()
	if sessionID != active {
		d.log.Debug("dropping message for inactive session", "session_id", sessionID, "active_session", active)
		return
	}

	m, err := protocol.Decode(raw)
	if err != nil {
		d.log.Warn("dropping undecodable message", "session_id", sessionID, "error", err)
		return
	}
	if target := protocol.StoryIDOf(m); target != "" && target != sessionID {
		d.log.Debug("dropping message addressed to another story", "session_id", sessionID, "story_id", target, "type", m.Type())
		return
	}
	if !d.apply(sessionID, m) {
		return
	}
	d.emit(Event{Kind: EventMessage, SessionID: sessionID, Message: m})
}

func (d *Dispatcher) apply(sessionID string, m protocol.Message) bool {
	switch v := m.(type) {
	case *protocol.UserJoined:
		d.store.AddCollaborator(sessionID, v.Collaborator())

	case *protocol.UserLeft:
		d.store.RemoveCollaborator(sessionID, v.UserID)

	case *protocol.ChatMessageReceived:
		msg := v.ChatMessage()
		if msg.StoryID == "" {
			msg.StoryID = sessionID
		}
		d.store.AppendChat(sessionID, msg)

	case *protocol.UserTypingUpdate:
		d.store.SetTyping(sessionID, models.TypingPresence{UserID: v.UserID, Username: v.Username}, v.IsTyping)

	case *protocol.NewSegment:
		d.store.MergeSegment(sessionID, v.Segment.Model())

	case *protocol.StoryUpdated:
		d.store.ApplyStoryUpdate(sessionID, StoryPatch{
			Title:        v.Title,
			StoryStatus:  v.Status,
			TurnHolderID: v.TurnHolderID,
			Segments:     v.AllSegments(),
		})

	case *protocol.TurnChanged:
		d.store.SetTurnHolder(sessionID, v.Holder())

	default:
		d.log.Warn("dropping unhandled message type", "session_id", sessionID, "type", m.Type())
		return false
	}
	return true
}
