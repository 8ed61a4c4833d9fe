package models

import "time"

// Role is a collaborator's permission level within a story
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanSubmitTurns reports whether the role may write segments.
func (r Role) CanSubmitTurns() bool {
	return r == RoleOwner || r == RoleEditor
}

// StoryStatus is the lifecycle of a story on the backend
type StoryStatus string

const (
	StoryInProgress StoryStatus = "in_progress"
	StoryCompleted  StoryStatus = "completed"
)

// Story is the full snapshot returned by the story service
type Story struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	OwnerID       string         `json:"ownerId"`
	Status        StoryStatus    `json:"status"`
	TurnHolderID  string         `json:"turnHolderId,omitempty"`
	Segments      []Segment      `json:"segments"`
	Collaborators []Collaborator `json:"collaborators"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Segment is one ordered, immutable unit of story content
type Segment struct {
	ID        string       `json:"id"`
	Position  int          `json:"position"`
	AuthorID  string       `json:"authorId"`
	Content   string       `json:"content"`
	Media     []MediaAsset `json:"media,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Clone returns a copy that shares no slices with s.
func (s Segment) Clone() Segment {
	if s.Media != nil {
		s.Media = append([]MediaAsset(nil), s.Media...)
	}
	return s
}

// Collaborator is a participant bound to a story
type Collaborator struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role,omitempty"`
}
