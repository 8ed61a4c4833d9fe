// Package session holds the client side of a live story session: the state
// store, the inbound dispatcher, the outbound emitter, and the client that
// wires them to the story service and the live connection.
package session

import (
	"sort"
	"sync"

	"wove/internal/models"
)

// Store is the single source of truth for one open session. Reducers are
// called by the Dispatcher (and by the Conn for status); everything else
// reads snapshots. Returned slices are copies.
//
// Every reducer takes the session id it was addressed to and does nothing
// unless that session is the active one.
type Store struct {
	mu       sync.RWMutex
	session  *models.Session
	segments []models.Segment
	roster   []models.Collaborator
	chat     []models.ChatMessage
	typing   []models.TypingPresence
}

// NewStore returns an empty store with no active session.
func NewStore() *Store {
	return &Store{}
}

// Load starts a session from a REST snapshot, replacing anything held.
func (s *Store) Load(story models.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.session = &models.Session{
		StoryID:      story.ID,
		Title:        story.Title,
		StoryStatus:  story.Status,
		Status:       models.StatusDisconnected,
		TurnHolderID: story.TurnHolderID,
	}
	for _, seg := range story.Segments {
		s.mergeSegmentLocked(seg)
	}
	for _, c := range story.Collaborators {
		s.addCollaboratorLocked(c)
	}
}

// Reset clears all session-scoped state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) activeLocked(sessionID string) bool {
	return s.session != nil && s.session.StoryID == sessionID
}

func (s *Store) clearLocked() {
	s.session = nil
	s.segments = nil
	s.roster = nil
	s.chat = nil
	s.typing = nil
}

// SessionID returns the active story id, or "" with no session.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.StoryID
}

// Session returns a copy of the active session.
func (s *Store) Session() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Session{Status: models.StatusDisconnected}, false
	}
	return *s.session, true
}

// TurnHolder returns the user whose turn it is.
func (s *Store) TurnHolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.TurnHolderID
}

// Segments returns segments in render order (ascending position).
func (s *Store) Segments() []models.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Segment, len(s.segments))
	for i, seg := range s.segments {
		out[i] = seg.Clone()
	}
	return out
}

// Collaborators returns the roster in join order.
func (s *Store) Collaborators() []models.Collaborator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Collaborator(nil), s.roster...)
}

// Transcript returns chat messages in arrival order.
func (s *Store) Transcript() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.chat...)
}

// Typing returns who is currently composing.
func (s *Store) Typing() []models.TypingPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TypingPresence(nil), s.typing...)
}

// SetStatus records a connection status change for sessionID. Updates for
// any other session are ignored.
func (s *Store) SetStatus(sessionID string, status models.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return
	}
	s.session.Status = status
}

// AddCollaborator adds c unless a collaborator with the same user id is
// already present. It reports whether the roster changed.
func (s *Store) AddCollaborator(sessionID string, c models.Collaborator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return false
	}
	return s.addCollaboratorLocked(c)
}

func (s *Store) addCollaboratorLocked(c models.Collaborator) bool {
	for _, existing := range s.roster {
		if existing.UserID == c.UserID {
			return false
		}
	}
	s.roster = append(s.roster, c)
	return true
}

// RemoveCollaborator drops userID from the roster and from typing presence.
func (s *Store) RemoveCollaborator(sessionID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return false
	}
	removed := false
	for i, c := range s.roster {
		if c.UserID == userID {
			s.roster = append(s.roster[:i:i], s.roster[i+1:]...)
			removed = true
			break
		}
	}
	s.removeTypingLocked(userID)
	return removed
}

// AppendChat adds a message to the end of the transcript.
func (s *Store) AppendChat(sessionID string, m models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return
	}
	s.chat = append(s.chat, m)
}

// SetTyping adds or removes a typing presence entry. Repeating the same
// update is a no-op. It reports whether the set changed.
func (s *Store) SetTyping(sessionID string, p models.TypingPresence, isTyping bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return false
	}
	if !isTyping {
		return s.removeTypingLocked(p.UserID)
	}
	for _, existing := range s.typing {
		if existing.UserID == p.UserID {
			return false
		}
	}
	s.typing = append(s.typing, p)
	return true
}

func (s *Store) removeTypingLocked(userID string) bool {
	for i, p := range s.typing {
		if p.UserID == userID {
			s.typing = append(s.typing[:i:i], s.typing[i+1:]...)
			return true
		}
	}
	return false
}

// MergeSegment appends seg, or replaces the segment with the same id.
func (s *Store) MergeSegment(sessionID string, seg models.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return
	}
	s.mergeSegmentLocked(seg)
}

func (s *Store) mergeSegmentLocked(seg models.Segment) {
	seg = seg.Clone()
	replaced := false
	for i := range s.segments {
		if s.segments[i].ID == seg.ID {
			s.segments[i] = seg
			replaced = true
			break
		}
	}
	if !replaced {
		s.segments = append(s.segments, seg)
	}
	sort.SliceStable(s.segments, func(i, j int) bool {
		return s.segments[i].Position < s.segments[j].Position
	})
}

// StoryPatch is the set of session fields a STORY_UPDATED may carry; nil
// fields are left alone.
type StoryPatch struct {
	Title        *string
	StoryStatus  *models.StoryStatus
	TurnHolderID *string
	Segments     []models.Segment
}

// ApplyStoryUpdate merges p with last-write-wins per field.
func (s *Store) ApplyStoryUpdate(sessionID string, p StoryPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return
	}
	if p.Title != nil {
		s.session.Title = *p.Title
	}
	if p.StoryStatus != nil {
		s.session.StoryStatus = *p.StoryStatus
	}
	if p.TurnHolderID != nil {
		s.session.TurnHolderID = *p.TurnHolderID
	}
	for _, seg := range p.Segments {
		s.mergeSegmentLocked(seg)
	}
}

// SetTurnHolder records whose turn it is; "" clears it.
func (s *Store) SetTurnHolder(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(sessionID) {
		return
	}
	s.session.TurnHolderID = userID
}
