package session

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"wove/internal/models"
)

func loadedStore(id string) *Store {
	s := NewStore()
	s.Load(models.Story{ID: id})
	return s
}

func TestRosterNeverDuplicatesOrInvents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := loadedStore("s1")
	joined := map[string]bool{}

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("u%d", rng.Intn(8))
		if rng.Intn(2) == 0 {
			s.AddCollaborator("s1", models.Collaborator{UserID: id, Username: id})
			joined[id] = true
		} else {
			s.RemoveCollaborator("s1", id)
		}

		seen := map[string]bool{}
		for _, c := range s.Collaborators() {
			if seen[c.UserID] {
				t.Fatalf("step %d: duplicate collaborator %s", i, c.UserID)
			}
			if !joined[c.UserID] {
				t.Fatalf("step %d: collaborator %s never joined", i, c.UserID)
			}
			seen[c.UserID] = true
		}
	}
}

func TestSegmentMergeKeepsUniqueSortedIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := loadedStore("s1")

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("seg%d", rng.Intn(20))
		s.MergeSegment("s1", models.Segment{ID: id, Position: rng.Intn(50), Content: fmt.Sprint(i)})

		segs := s.Segments()
		seen := map[string]bool{}
		for _, seg := range segs {
			if seen[seg.ID] {
				t.Fatalf("step %d: duplicate segment %s", i, seg.ID)
			}
			seen[seg.ID] = true
		}
		if !sort.SliceIsSorted(segs, func(a, b int) bool { return segs[a].Position < segs[b].Position }) {
			t.Fatalf("step %d: segments out of order", i)
		}
	}
}

func TestSegmentTiesKeepInsertionOrder(t *testing.T) {
	s := loadedStore("s1")
	s.MergeSegment("s1", models.Segment{ID: "a", Position: 1})
	s.MergeSegment("s1", models.Segment{ID: "b", Position: 1})
	s.MergeSegment("s1", models.Segment{ID: "c", Position: 0})

	segs := s.Segments()
	got := []string{segs[0].ID, segs[1].ID, segs[2].ID}
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("expected [c a b], got %v", got)
	}
}

func TestTypingIsIdempotent(t *testing.T) {
	s := loadedStore("s1")
	ann := models.TypingPresence{UserID: "u1", Username: "Ann"}

	if changed := s.SetTyping("s1", ann, false); changed {
		t.Fatal("removing an absent typist must be a no-op")
	}
	s.SetTyping("s1", ann, true)
	if changed := s.SetTyping("s1", ann, true); changed {
		t.Fatal("repeating typing start must be a no-op")
	}
	if got := s.Typing(); len(got) != 1 {
		t.Fatalf("expected one typist, got %v", got)
	}
	s.SetTyping("s1", ann, false)
	if changed := s.SetTyping("s1", ann, false); changed {
		t.Fatal("repeating typing stop must be a no-op")
	}
	if got := s.Typing(); len(got) != 0 {
		t.Fatalf("expected no typists, got %v", got)
	}
}

func TestRemoveCollaboratorClearsTyping(t *testing.T) {
	s := loadedStore("s1")
	s.AddCollaborator("s1", models.Collaborator{UserID: "u1", Username: "Ann"})
	s.SetTyping("s1", models.TypingPresence{UserID: "u1", Username: "Ann"}, true)

	s.RemoveCollaborator("s1", "u1")
	if len(s.Typing()) != 0 {
		t.Fatal("leaving must clear typing presence")
	}
}

func TestReducersIgnoreOtherSessions(t *testing.T) {
	s := loadedStore("s1")
	s.AddCollaborator("s2", models.Collaborator{UserID: "u1"})
	s.AppendChat("s2", models.ChatMessage{ID: "m1"})
	s.MergeSegment("s2", models.Segment{ID: "seg1"})
	s.SetTurnHolder("s2", "u1")
	s.SetStatus("s2", models.StatusConnected)

	sess, _ := s.Session()
	if len(s.Collaborators())+len(s.Transcript())+len(s.Segments()) != 0 || sess.TurnHolderID != "" || sess.Status != models.StatusDisconnected {
		t.Fatalf("mismatched session updates leaked into store: %+v", sess)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.Load(models.Story{
		ID:            "s1",
		TurnHolderID:  "u1",
		Segments:      []models.Segment{{ID: "seg1"}},
		Collaborators: []models.Collaborator{{UserID: "u1"}},
	})
	s.AppendChat("s1", models.ChatMessage{ID: "m1"})
	s.SetTyping("s1", models.TypingPresence{UserID: "u1"}, true)

	s.Reset()

	if s.SessionID() != "" || s.TurnHolder() != "" {
		t.Fatal("expected no active session")
	}
	if len(s.Segments())+len(s.Collaborators())+len(s.Transcript())+len(s.Typing()) != 0 {
		t.Fatal("expected all collections cleared")
	}
	if _, ok := s.Session(); ok {
		t.Fatal("expected Session to report no session")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := loadedStore("s1")
	s.MergeSegment("s1", models.Segment{ID: "seg1", Content: "a", Media: []models.MediaAsset{{ID: "m", Kind: models.MediaImage}}})

	segs := s.Segments()
	segs[0].Content = "mutated"
	segs[0].Media[0].ID = "mutated"

	again := s.Segments()
	if again[0].Content != "a" || again[0].Media[0].ID != "m" {
		t.Fatalf("store was mutated through a snapshot: %+v", again[0])
	}
}

func TestApplyStoryUpdateIsPerField(t *testing.T) {
	s := NewStore()
	s.Load(models.Story{ID: "s1", Title: "Old", Status: models.StoryInProgress, TurnHolderID: "u1"})

	title := "New"
	s.ApplyStoryUpdate("s1", StoryPatch{Title: &title})

	sess, _ := s.Session()
	if sess.Title != "New" || sess.TurnHolderID != "u1" || sess.StoryStatus != models.StoryInProgress {
		t.Fatalf("unexpected session after patch: %+v", sess)
	}
}
