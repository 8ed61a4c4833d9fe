package models

import "time"

// ChatMessage represents a chat message in a story session
type ChatMessage struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"storyId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPresence marks a collaborator who is currently composing
type TypingPresence struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
