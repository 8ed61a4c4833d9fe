// Package protocol defines the envelopes exchanged over a live story session.
//
// Every frame is a tagged envelope {"type": ..., "payload": {...}}. Decode turns a
// frame into one variant of the closed Message set; types it does not recognise
// come back as Unknown so callers can log and move on.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wire wrapper for every live-session frame
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types
const (
	MsgUserJoined          = "USER_JOINED"
	MsgUserLeft            = "USER_LEFT"
	MsgChatMessageReceived = "CHAT_MESSAGE_RECEIVED"
	MsgUserTypingUpdate    = "USER_TYPING_UPDATE"
	MsgNewSegment          = "NEW_SEGMENT"
	MsgStoryUpdated        = "STORY_UPDATED"
	MsgTurnChanged         = "TURN_CHANGED"

	MsgSubmitTurn        = "SUBMIT_TURN"
	MsgSendChatMessage   = "SEND_CHAT_MESSAGE"
	MsgTypingActivity    = "TYPING_ACTIVITY"
	MsgRequestConclusion = "REQUEST_STORY_CONCLUSION"
)

// Message is one decoded envelope. The set of implementations is closed;
// anything the decoder does not know about is returned as Unknown.
type Message interface {
	Type() string
}

// Encode wraps m in an envelope and marshals it.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: payload})
}

// Decode parses a raw frame into its message variant.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	var m Message
	switch env.Type {
	case MsgUserJoined:
		m = &UserJoined{}
	case MsgUserLeft:
		m = &UserLeft{}
	case MsgChatMessageReceived:
		m = &ChatMessageReceived{}
	case MsgUserTypingUpdate:
		m = &UserTypingUpdate{}
	case MsgNewSegment:
		m = &NewSegment{}
	case MsgStoryUpdated:
		m = &StoryUpdated{}
	case MsgTurnChanged:
		m = &TurnChanged{}
	case MsgSubmitTurn:
		m = &SubmitTurn{}
	case MsgSendChatMessage:
		m = &SendChatMessage{}
	case MsgTypingActivity:
		m = &TypingActivity{}
	case MsgRequestConclusion:
		m = &RequestConclusion{}
	default:
		return &Unknown{Kind: env.Type, Payload: env.Payload}, nil
	}

	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, &DecodeError{Type: env.Type, Reason: "missing payload"}
	}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, &DecodeError{Type: env.Type, Reason: "malformed payload", Err: err}
	}
	if v, ok := m.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, &DecodeError{Type: env.Type, Reason: err.Error()}
		}
	}
	return m, nil
}
