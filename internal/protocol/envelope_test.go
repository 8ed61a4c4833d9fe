package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeKnownTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"joined", `{"type":"USER_JOINED","payload":{"userId":"u1","username":"Ann"}}`, MsgUserJoined},
		{"left", `{"type":"USER_LEFT","payload":{"userId":"u1"}}`, MsgUserLeft},
		{"chat", `{"type":"CHAT_MESSAGE_RECEIVED","payload":{"id":"m1","text":"hi"}}`, MsgChatMessageReceived},
		{"typing", `{"type":"USER_TYPING_UPDATE","payload":{"userId":"u1","username":"Ann","isTyping":true}}`, MsgUserTypingUpdate},
		{"segment", `{"type":"NEW_SEGMENT","payload":{"id":"seg1","position":0}}`, MsgNewSegment},
		{"story", `{"type":"STORY_UPDATED","payload":{"title":"Dragons"}}`, MsgStoryUpdated},
		{"turn", `{"type":"TURN_CHANGED","payload":{"userId":"u2"}}`, MsgTurnChanged},
		{"submit", `{"type":"SUBMIT_TURN","payload":{"storyId":"s1","userInput":"once","applyAutoFix":true}}`, MsgSubmitTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if m.Type() != tt.want {
				t.Fatalf("expected type %s, got %s", tt.want, m.Type())
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	m, err := Decode([]byte(`{"type":"STORY_ILLUSTRATED","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, ok := m.(*Unknown)
	if !ok {
		t.Fatalf("expected *Unknown, got %T", m)
	}
	if u.Type() != "STORY_ILLUSTRATED" {
		t.Fatalf("unexpected type %q", u.Type())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"missing type", `{"payload":{}}`},
		{"missing payload", `{"type":"USER_LEFT"}`},
		{"null payload", `{"type":"USER_LEFT","payload":null}`},
		{"bad payload", `{"type":"USER_JOINED","payload":"nope"}`},
		{"joined without user", `{"type":"USER_JOINED","payload":{"username":"Ann"}}`},
		{"segment without id", `{"type":"NEW_SEGMENT","payload":{"position":2}}`},
		{"bad media kind", `{"type":"NEW_SEGMENT","payload":{"id":"s","media":[{"id":"a","kind":"hologram"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestDecodeNewSegmentNested(t *testing.T) {
	m, err := Decode([]byte(`{"type":"NEW_SEGMENT","payload":{"storyId":"s1","segment":{"id":"seg2","position":4,"content":"The end"}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	seg := m.(*NewSegment)
	if seg.StoryID != "s1" || seg.Segment.ID != "seg2" || seg.Segment.Position != 4 {
		t.Fatalf("unexpected segment %+v", seg)
	}
}

func TestTimeNormalization(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		`{"timestamp":"2024-03-01T12:00:00Z"}`,
		`{"timestamp":"2024-03-01T13:00:00+01:00"}`,
		`{"timestamp":1709294400000}`,
		`{"timestamp":"1709294400000"}`,
		`{"timestamp":"2024-03-01 12:00:00"}`,
		`{"timestamp":"2024-03-01T12:00:00"}`,
		`{"timestamp":"Fri, 01 Mar 2024 12:00:00 +0000"}`,
	} {
		var v struct {
			Timestamp Time `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !v.Timestamp.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", raw, want, v.Timestamp.Time)
		}
	}
}

func TestUnparseableTimestampKeepsMessage(t *testing.T) {
	m, err := Decode([]byte(`{"type":"CHAT_MESSAGE_RECEIVED","payload":{"id":"m","text":"hi","timestamp":"yesterday"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	chat := m.(*ChatMessageReceived)
	if chat.ID != "m" || chat.Text != "hi" {
		t.Fatalf("unexpected payload %+v", chat)
	}
	if !chat.Timestamp.IsZero() {
		t.Fatalf("expected zero time, got %v", chat.Timestamp.Time)
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	raw, err := Encode(&SendChatMessage{StoryID: "s1", UserID: "u1", Username: "Ann", Text: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != MsgSendChatMessage {
		t.Fatalf("expected %s, got %s", MsgSendChatMessage, env.Type)
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	chat := m.(*SendChatMessage)
	if chat.Text != "hello" || chat.Username != "Ann" {
		t.Fatalf("unexpected payload %+v", chat)
	}
}

func TestTurnChangedNullClearsHolder(t *testing.T) {
	m, err := Decode([]byte(`{"type":"TURN_CHANGED","payload":{"userId":null}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := m.(*TurnChanged).Holder(); got != "" {
		t.Fatalf("expected empty holder, got %q", got)
	}
}

func TestStoryIDOf(t *testing.T) {
	if got := StoryIDOf(&UserLeft{StoryID: "s9", UserID: "u"}); got != "s9" {
		t.Fatalf("expected s9, got %q", got)
	}
	if got := StoryIDOf(&Unknown{Kind: "X"}); got != "" {
		t.Fatalf("expected empty story id, got %q", got)
	}
}
