// Package backend is a development story service that speaks the live
// session protocol. It persists to sqlite and fans events out through the
// websocket hub.
package backend

import (
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
	"wove/internal/websocket"
)

// Repository is the persistence the service needs.
type Repository interface {
	SaveStory(story *models.Story) error
	GetStory(id string) (*models.Story, error)
	GetAllStories() ([]*models.Story, error)
	UpdateStory(story *models.Story) error
	DeleteStory(id string) error
	AddCollaborator(storyID string, c models.Collaborator) error
	AppendSegment(storyID string, seg models.Segment) (models.Segment, error)
	SaveChatMessage(msg *models.ChatMessage) error
	GetChatMessages(storyID string) ([]models.ChatMessage, error)
}

// Service answers live-protocol messages for every story on the hub. Its
// handler methods run on the hub goroutine only.
type Service struct {
	repo  Repository
	log   *slog.Logger
	now   func() time.Time
	newID func() string

	typing map[string]map[string]string // storyID -> userID -> username
}

// NewService creates the live handler. A nil logger uses the package logger.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Service{
		repo:  repo,
		log:   logger.With("component", "live"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,

		typing: make(map[string]map[string]string),
	}
}

var _ websocket.Handler = (*Service)(nil)

// Joined announces the peer to the rest of the story and tells the peer who
// is typing. Unknown users are enrolled as viewers.
func (s *Service) Joined(p *websocket.Peer) []websocket.Outbound {
	story, err := s.repo.GetStory(p.StoryID)
	if err != nil {
		s.log.Warn("join for unreadable story", "story_id", p.StoryID, "error", err)
		return nil
	}
	c, ok := findCollaborator(story.Collaborators, p.UserID)
	if !ok {
		c = models.Collaborator{UserID: p.UserID, Username: p.Username, Role: models.RoleViewer}
		if err := s.repo.AddCollaborator(p.StoryID, c); err != nil {
			s.log.Error("failed to enroll viewer", "story_id", p.StoryID, "user_id", p.UserID, "error", err)
		}
	}
	if p.Username != "" {
		c.Username = p.Username
	}
	outs := []websocket.Outbound{{
		StoryID: p.StoryID,
		Message: &protocol.UserJoined{StoryID: p.StoryID, UserID: c.UserID, Username: c.Username, Role: c.Role},
		Except:  p,
	}}
	for userID, username := range s.typing[p.StoryID] {
		if userID == p.UserID {
			continue
		}
		outs = append(outs, websocket.Outbound{
			StoryID: p.StoryID,
			Message: &protocol.UserTypingUpdate{StoryID: p.StoryID, UserID: userID, Username: username, IsTyping: true},
			Only:    p,
		})
	}
	return outs
}

// Left announces the departure once the user's last peer is gone.
func (s *Service) Left(p *websocket.Peer, userStillPresent bool) []websocket.Outbound {
	if userStillPresent {
		return nil
	}
	s.setTyping(p.StoryID, p.UserID, "", false)
	return []websocket.Outbound{{
		StoryID: p.StoryID,
		Message: &protocol.UserLeft{StoryID: p.StoryID, UserID: p.UserID},
		Except:  p,
	}}
}

func (s *Service) setTyping(storyID, userID, username string, isTyping bool) {
	users := s.typing[storyID]
	if !isTyping {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.typing, storyID)
		}
		return
	}
	if users == nil {
		users = make(map[string]string)
		s.typing[storyID] = users
	}
	users[userID] = username
}

// Received handles one inbound frame from p.
func (s *Service) Received(p *websocket.Peer, raw []byte) []websocket.Outbound {
	msg, err := protocol.Decode(raw)
	if err != nil {
		s.log.Warn("dropping undecodable frame", "story_id", p.StoryID, "user_id", p.UserID, "error", err)
		return nil
	}
	if id := protocol.StoryIDOf(msg); id != "" && id != p.StoryID {
		s.log.Warn("dropping frame for another story", "story_id", p.StoryID, "payload_story_id", id, "type", msg.Type())
		return nil
	}

	switch m := msg.(type) {
	case *protocol.SubmitTurn:
		return s.submitTurn(p, m)
	case *protocol.SendChatMessage:
		return s.chat(p, m)
	case *protocol.TypingActivity:
		s.setTyping(p.StoryID, p.UserID, p.Username, m.IsTyping)
		return []websocket.Outbound{{
			StoryID: p.StoryID,
			Message: &protocol.UserTypingUpdate{StoryID: p.StoryID, UserID: p.UserID, Username: p.Username, IsTyping: m.IsTyping},
			Except:  p,
		}}
	case *protocol.RequestConclusion:
		return s.conclude(p)
	default:
		s.log.Warn("unhandled message type", "story_id", p.StoryID, "type", msg.Type())
		return nil
	}
}

func (s *Service) submitTurn(p *websocket.Peer, m *protocol.SubmitTurn) []websocket.Outbound {
	text := strings.TrimSpace(m.UserInput)
	if text == "" {
		return nil
	}
	story, err := s.repo.GetStory(p.StoryID)
	if err != nil {
		s.log.Error("failed to load story", "story_id", p.StoryID, "error", err)
		return nil
	}
	if story.Status == models.StoryCompleted {
		s.log.Info("turn rejected: story completed", "story_id", p.StoryID, "user_id", p.UserID)
		return nil
	}
	c, ok := findCollaborator(story.Collaborators, p.UserID)
	if !ok || !c.Role.CanSubmitTurns() {
		s.log.Info("turn rejected: role", "story_id", p.StoryID, "user_id", p.UserID)
		return nil
	}
	if story.TurnHolderID != "" && story.TurnHolderID != p.UserID {
		s.log.Info("turn rejected: not turn holder", "story_id", p.StoryID, "user_id", p.UserID, "turn_holder_id", story.TurnHolderID)
		return nil
	}
	if m.ApplyAutoFix {
		text = autoFix(text)
	}

	seg, err := s.repo.AppendSegment(p.StoryID, models.Segment{
		ID:        s.newID(),
		AuthorID:  p.UserID,
		Content:   text,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Error("failed to store segment", "story_id", p.StoryID, "error", err)
		return nil
	}

	next := nextTurn(story.Collaborators, p.UserID)
	story.TurnHolderID = next
	story.UpdatedAt = s.now()
	if err := s.repo.UpdateStory(story); err != nil {
		s.log.Error("failed to rotate turn", "story_id", p.StoryID, "error", err)
	}

	return []websocket.Outbound{
		{StoryID: p.StoryID, Message: &protocol.NewSegment{StoryID: p.StoryID, Segment: protocol.SegmentFrom(seg)}},
		{StoryID: p.StoryID, Message: &protocol.TurnChanged{StoryID: p.StoryID, UserID: &next}},
	}
}

func (s *Service) chat(p *websocket.Peer, m *protocol.SendChatMessage) []websocket.Outbound {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}
	msg := &models.ChatMessage{
		ID:        s.newID(),
		StoryID:   p.StoryID,
		UserID:    p.UserID,
		Username:  p.Username,
		Text:      text,
		Timestamp: s.now(),
	}
	if err := s.repo.SaveChatMessage(msg); err != nil {
		s.log.Error("failed to store chat message", "story_id", p.StoryID, "error", err)
		return nil
	}
	return []websocket.Outbound{{
		StoryID: p.StoryID,
		Message: &protocol.ChatMessageReceived{
			ID:        msg.ID,
			StoryID:   msg.StoryID,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Text:      msg.Text,
			Timestamp: protocol.NewTime(msg.Timestamp),
		},
	}}
}

func (s *Service) conclude(p *websocket.Peer) []websocket.Outbound {
	story, err := s.repo.GetStory(p.StoryID)
	if err != nil {
		s.log.Error("failed to load story", "story_id", p.StoryID, "error", err)
		return nil
	}
	if story.OwnerID != p.UserID {
		s.log.Info("conclusion rejected: not owner", "story_id", p.StoryID, "user_id", p.UserID)
		return nil
	}
	if story.Status == models.StoryCompleted {
		return nil
	}
	story.Status = models.StoryCompleted
	story.TurnHolderID = ""
	story.UpdatedAt = s.now()
	if err := s.repo.UpdateStory(story); err != nil {
		s.log.Error("failed to complete story", "story_id", p.StoryID, "error", err)
		return nil
	}
	status, holder := story.Status, ""
	return []websocket.Outbound{{
		StoryID: p.StoryID,
		Message: &protocol.StoryUpdated{StoryID: p.StoryID, Status: &status, TurnHolderID: &holder},
	}}
}

func findCollaborator(collabs []models.Collaborator, userID string) (models.Collaborator, bool) {
	for _, c := range collabs {
		if c.UserID == userID {
			return c, true
		}
	}
	return models.Collaborator{}, false
}

// nextTurn returns the writer after current in roster order, wrapping
// around. Viewers are skipped.
func nextTurn(collabs []models.Collaborator, current string) string {
	var writers []string
	for _, c := range collabs {
		if c.Role.CanSubmitTurns() {
			writers = append(writers, c.UserID)
		}
	}
	if len(writers) == 0 {
		return ""
	}
	for i, id := range writers {
		if id == current {
			return writers[(i+1)%len(writers)]
		}
	}
	return writers[0]
}

// autoFix capitalizes the first letter and closes the sentence.
func autoFix(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	last, _ := utf8.DecodeLastRuneInString(text)
	if !strings.ContainsRune(".!?\"'…", last) {
		text += "."
	}
	return text
}
