package session

import (
	"errors"
	"log/slog"
	"strings"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
	"wove/internal/websocket"
)

// Sender delivers outbound messages for a session.
type Sender interface {
	Status() models.ConnectionStatus
	SessionID() string
	Send(sessionID string, m protocol.Message) error
}

// Emitter turns local user intent into outbound envelopes. It never touches
// the store; the server's echo is what updates local state.
type Emitter struct {
	conn Sender
	me   models.Identity
	log  *slog.Logger
}

// NewEmitter creates an emitter acting as me.
func NewEmitter(conn Sender, me models.Identity, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Emitter{conn: conn, me: me, log: logger.With("component", "emitter")}
}

// SubmitTurn sends the user's input as their turn.
func (e *Emitter) SubmitTurn(sessionID, text string, applyAutoFix bool) error {
	if err := requireText("turn text", text); err != nil {
		return err
	}
	if err := e.requireConnected(sessionID); err != nil {
		return err
	}
	return e.conn.Send(sessionID, &protocol.SubmitTurn{
		StoryID:      sessionID,
		UserInput:    text,
		ApplyAutoFix: applyAutoFix,
	})
}

// SendChatMessage posts a chat line.
func (e *Emitter) SendChatMessage(sessionID, text string) error {
	if err := requireText("chat text", text); err != nil {
		return err
	}
	if err := e.requireConnected(sessionID); err != nil {
		return err
	}
	return e.conn.Send(sessionID, &protocol.SendChatMessage{
		StoryID:  sessionID,
		UserID:   e.me.UserID,
		Username: e.me.Username,
		Text:     text,
	})
}

// SetTypingActivity signals composing state. Presence is advisory, so a
// failure is logged and otherwise ignored.
func (e *Emitter) SetTypingActivity(sessionID string, isTyping bool) {
	err := e.conn.Send(sessionID, &protocol.TypingActivity{
		StoryID:  sessionID,
		UserID:   e.me.UserID,
		Username: e.me.Username,
		IsTyping: isTyping,
	})
	if err != nil {
		e.log.Debug("typing signal dropped", "session_id", sessionID, "is_typing", isTyping, "error", err)
	}
}

// RequestConclusion asks the server to finish the story.
func (e *Emitter) RequestConclusion(sessionID string) error {
	if err := e.requireConnected(sessionID); err != nil {
		return err
	}
	return e.conn.Send(sessionID, &protocol.RequestConclusion{StoryID: sessionID})
}

func (e *Emitter) requireConnected(sessionID string) error {
	status := e.conn.Status()
	if status != models.StatusConnected || e.conn.SessionID() != sessionID {
		return &websocket.NotConnectedError{SessionID: sessionID, Status: status}
	}
	return nil
}

func requireText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: field, Err: ErrEmptyText}
	}
	return nil
}

// IsNotConnected reports whether err means there was no open connection.
func IsNotConnected(err error) bool {
	var nce *websocket.NotConnectedError
	return errors.As(err, &nce)
}
