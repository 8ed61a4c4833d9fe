package websocket

import (
	"errors"
	"fmt"

	"wove/internal/models"
)

var (
	ErrConnectAborted  = errors.New("connect aborted by disconnect")
	ErrSendBufferFull  = errors.New("send buffer full")
	ErrAbnormalClosure = errors.New("connection closed abnormally")
	ErrHubStopped      = errors.New("hub stopped")
)

// ConnectionError reports a transport that failed to open or dropped.
// It is recoverable by calling Connect again.
type ConnectionError struct {
	SessionID string
	Op        string
	Code      int
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("websocket %s %s (code %d): %v", e.Op, e.SessionID, e.Code, e.Err)
	}
	return fmt.Sprintf("websocket %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotConnectedError reports an action attempted without an open connection
// for the session.
type NotConnectedError struct {
	SessionID string
	Status    models.ConnectionStatus
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("session %s is not connected (status %s)", e.SessionID, e.Status)
}
