package models

// ConnectionStatus is the state of the live connection for a session
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Session identifies one open collaborative story on the client
type Session struct {
	StoryID      string           `json:"storyId"`
	Title        string           `json:"title,omitempty"`
	StoryStatus  StoryStatus      `json:"storyStatus,omitempty"`
	Status       ConnectionStatus `json:"status"`
	TurnHolderID string           `json:"turnHolderId,omitempty"`
}

// Identity is the local user acting in a session
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
