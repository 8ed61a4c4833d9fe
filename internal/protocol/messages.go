package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"wove/internal/models"
)

// UserJoined announces a collaborator entering the session.
type UserJoined struct {
	StoryID  string      `json:"storyId,omitempty"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     models.Role `json:"role,omitempty"`
}

func (*UserJoined) Type() string { return MsgUserJoined }

func (m *UserJoined) validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("missing userId")
	}
	return nil
}

// Collaborator converts the payload to a roster entry.
func (m *UserJoined) Collaborator() models.Collaborator {
	return models.Collaborator{UserID: m.UserID, Username: m.Username, Role: m.Role}
}

// UserLeft announces a collaborator leaving the session.
type UserLeft struct {
	StoryID string `json:"storyId,omitempty"`
	UserID  string `json:"userId"`
}

func (*UserLeft) Type() string { return MsgUserLeft }

func (m *UserLeft) validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("missing userId")
	}
	return nil
}

// ChatMessageReceived carries a server-confirmed chat line.
type ChatMessageReceived struct {
	ID        string `json:"id"`
	StoryID   string `json:"storyId,omitempty"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp Time   `json:"timestamp"`
}

func (*ChatMessageReceived) Type() string { return MsgChatMessageReceived }

// ChatMessage converts the payload to a transcript entry.
func (m *ChatMessageReceived) ChatMessage() models.ChatMessage {
	return models.ChatMessage{
		ID:        m.ID,
		StoryID:   m.StoryID,
		UserID:    m.UserID,
		Username:  m.Username,
		Text:      m.Text,
		Timestamp: m.Timestamp.Time,
	}
}

// UserTypingUpdate toggles a collaborator's typing presence.
type UserTypingUpdate struct {
	StoryID  string `json:"storyId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

func (*UserTypingUpdate) Type() string { return MsgUserTypingUpdate }

func (m *UserTypingUpdate) validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("missing userId")
	}
	return nil
}

// Segment is the wire form of a story segment.
type Segment struct {
	ID        string              `json:"id"`
	Position  int                 `json:"position"`
	AuthorID  string              `json:"authorId"`
	Content   string              `json:"content"`
	Media     []models.MediaAsset `json:"media,omitempty"`
	CreatedAt Time                `json:"createdAt"`
}

// SegmentFrom converts a model segment to its wire form.
func SegmentFrom(s models.Segment) Segment {
	return Segment{
		ID:        s.ID,
		Position:  s.Position,
		AuthorID:  s.AuthorID,
		Content:   s.Content,
		Media:     s.Media,
		CreatedAt: NewTime(s.CreatedAt),
	}
}

// Model converts the wire segment to the client model.
func (s Segment) Model() models.Segment {
	return models.Segment{
		ID:        s.ID,
		Position:  s.Position,
		AuthorID:  s.AuthorID,
		Content:   s.Content,
		Media:     s.Media,
		CreatedAt: s.CreatedAt.Time,
	}.Clone()
}

func (s Segment) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("segment missing id")
	}
	for _, m := range s.Media {
		if !m.Kind.Valid() {
			return errors.New("segment media has unknown kind " + string(m.Kind))
		}
	}
	return nil
}

// NewSegment carries one server-confirmed segment. The segment fields may be
// sent inline or nested under "segment".
type NewSegment struct {
	StoryID string
	Segment Segment
}

func (*NewSegment) Type() string { return MsgNewSegment }

func (m *NewSegment) UnmarshalJSON(b []byte) error {
	var shape struct {
		StoryID string   `json:"storyId"`
		Nested  *Segment `json:"segment"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return err
	}
	m.StoryID = shape.StoryID
	if shape.Nested != nil {
		m.Segment = *shape.Nested
		return nil
	}
	return json.Unmarshal(b, &m.Segment)
}

func (m NewSegment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StoryID string  `json:"storyId,omitempty"`
		Segment Segment `json:"segment"`
	}{m.StoryID, m.Segment})
}

func (m *NewSegment) validate() error { return m.Segment.validate() }

// StoryUpdated carries a partial story. Only the fields present are applied.
type StoryUpdated struct {
	StoryID      string              `json:"storyId,omitempty"`
	Title        *string             `json:"title,omitempty"`
	Status       *models.StoryStatus `json:"status,omitempty"`
	TurnHolderID *string             `json:"turnHolderId,omitempty"`
	Segment      *Segment            `json:"segment,omitempty"`
	Segments     []Segment           `json:"segments,omitempty"`
}

func (*StoryUpdated) Type() string { return MsgStoryUpdated }

func (m *StoryUpdated) validate() error {
	if m.Segment != nil {
		if err := m.Segment.validate(); err != nil {
			return err
		}
	}
	for _, s := range m.Segments {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

// AllSegments returns the single and list segments in payload order.
func (m *StoryUpdated) AllSegments() []models.Segment {
	out := make([]models.Segment, 0, len(m.Segments)+1)
	if m.Segment != nil {
		out = append(out, m.Segment.Model())
	}
	for _, s := range m.Segments {
		out = append(out, s.Model())
	}
	return out
}

// TurnChanged names the collaborator whose turn it is. An empty or null
// userId means nobody holds the turn.
type TurnChanged struct {
	StoryID string  `json:"storyId,omitempty"`
	UserID  *string `json:"userId"`
}

func (*TurnChanged) Type() string { return MsgTurnChanged }

// Holder returns the turn holder, or "" when cleared.
func (m *TurnChanged) Holder() string {
	if m.UserID == nil {
		return ""
	}
	return *m.UserID
}

// SubmitTurn asks the server to append the user's input as the next segment.
type SubmitTurn struct {
	StoryID      string `json:"storyId"`
	UserInput    string `json:"userInput"`
	ApplyAutoFix bool   `json:"applyAutoFix"`
}

func (*SubmitTurn) Type() string { return MsgSubmitTurn }

// SendChatMessage posts a chat line; the transcript updates on the echo.
type SendChatMessage struct {
	StoryID  string `json:"storyId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

func (*SendChatMessage) Type() string { return MsgSendChatMessage }

// TypingActivity is the advisory composing signal.
type TypingActivity struct {
	StoryID  string `json:"storyId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

func (*TypingActivity) Type() string { return MsgTypingActivity }

// RequestConclusion asks the server to wrap the story up.
type RequestConclusion struct {
	StoryID string `json:"storyId"`
}

func (*RequestConclusion) Type() string { return MsgRequestConclusion }

// Unknown is any envelope whose type this client does not handle.
type Unknown struct {
	Kind    string
	Payload json.RawMessage
}

func (m *Unknown) Type() string { return m.Kind }

// StoryIDOf returns the storyId a message is addressed to, if it carries one.
func StoryIDOf(m Message) string {
	switch v := m.(type) {
	case *UserJoined:
		return v.StoryID
	case *UserLeft:
		return v.StoryID
	case *ChatMessageReceived:
		return v.StoryID
	case *UserTypingUpdate:
		return v.StoryID
	case *NewSegment:
		return v.StoryID
	case *StoryUpdated:
		return v.StoryID
	case *TurnChanged:
		return v.StoryID
	case *SubmitTurn:
		return v.StoryID
	case *SendChatMessage:
		return v.StoryID
	case *TypingActivity:
		return v.StoryID
	case *RequestConclusion:
		return v.StoryID
	}
	return ""
}
