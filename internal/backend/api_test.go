package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
	"wove/internal/session"
	"wove/internal/storyapi"
	"wove/internal/websocket"
)

type testServer struct {
	hub *websocket.Hub
	srv *httptest.Server
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	svc, db := newTestService(t)
	seedStory(t, db)

	hub := websocket.NewHub(svc, observability.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	api := NewAPI(db, hub, svc, observability.Discard())
	srv := httptest.NewServer(api.Handler([]string{"http://localhost:5173"}, io.Discard))
	t.Cleanup(srv.Close)
	return &testServer{hub: hub, srv: srv}
}

func (ts *testServer) wsBase() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) stories(token string) *storyapi.Client {
	return storyapi.New(ts.srv.URL, storyapi.StaticToken(token), ts.srv.Client())
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRESTRequiresBearer(t *testing.T) {
	ts := startServer(t)

	resp, err := http.Get(ts.srv.URL + "/stories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRESTStoryLifecycle(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()
	ann := ts.stories("u1")

	created, err := ann.CreateStory(ctx, storyapi.CreateStoryRequest{Title: "Moons", Opening: "Two moons rose."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.OwnerID != "u1" || created.TurnHolderID != "u1" || len(created.Segments) != 1 {
		t.Fatalf("unexpected created story %+v", created)
	}

	c, err := ann.AddCollaborator(ctx, created.ID, storyapi.AddCollaboratorRequest{UserID: "u2", Username: "bo", Role: models.RoleEditor})
	if err != nil || c.Role != models.RoleEditor {
		t.Fatalf("add collaborator: %+v %v", c, err)
	}

	got, err := ann.GetStory(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Collaborators) != 2 || got.Segments[0].Content != "Two moons rose." {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	list, err := ann.ListStories(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d stories, %v", len(list), err)
	}

	title := "Three Moons"
	if _, err := ts.stories("u2").UpdateStory(ctx, created.ID, storyapi.UpdateStoryRequest{Title: &title}); err == nil {
		t.Fatal("expected non-owner update to fail")
	} else {
		var se *storyapi.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %v", err)
		}
	}
	updated, err := ann.UpdateStory(ctx, created.ID, storyapi.UpdateStoryRequest{Title: &title})
	if err != nil || updated.Title != "Three Moons" {
		t.Fatalf("update: %+v %v", updated, err)
	}

	if err := ann.DeleteStory(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ann.GetStory(ctx, created.ID); !errors.Is(err, storyapi.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestChatHistoryEndpoint(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	if _, err := ts.stories("u1").ListChat(ctx, "missing"); !errors.Is(err, storyapi.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	msgs, err := ts.stories("u1").ListChat(ctx, "st1")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty history, got %+v %v", msgs, err)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := startServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/stories", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestLiveEndpointRequiresKnownStoryAndUser(t *testing.T) {
	ts := startServer(t)

	_, resp, err := gorilla.DefaultDialer.Dial(ts.wsBase()+"/story/st1", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without userId, got %v", err)
	}
	_, resp, err = gorilla.DefaultDialer.Dial(ts.wsBase()+"/story/missing?userId=u1", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown story, got %v", err)
	}
}

func TestPatchIsPublishedToLivePeers(t *testing.T) {
	ts := startServer(t)

	conn, _, err := gorilla.DefaultDialer.Dial(ts.wsBase()+"/story/st1?userId=u1&username=ann", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	eventually(t, "peer registration", func() bool { return ts.hub.PeerCount("st1") == 1 })

	title := "The Lantern, Relit"
	if _, err := ts.stories("u1").UpdateStory(context.Background(), "st1", storyapi.UpdateStoryRequest{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	up, ok := m.(*protocol.StoryUpdated)
	if !ok || up.Title == nil || *up.Title != title || up.Status != nil {
		t.Fatalf("unexpected message %+v", m)
	}
}

func newSessionClient(t *testing.T, ts *testServer, userID, username string) *session.Client {
	t.Helper()
	c := session.NewClient(session.ClientOptions{
		Stories:  ts.stories(userID),
		Identity: models.Identity{UserID: userID, Username: username},
		Live: websocket.Options{
			BaseURL: ts.wsBase(),
			Query:   url.Values{"userId": {userID}, "username": {username}},
		},
		TypingIdle: time.Hour,
		Logger:     observability.Discard(),
	})
	t.Cleanup(c.Close)
	return c
}

func TestSessionEndToEnd(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	ann := newSessionClient(t, ts, "u1", "ann")
	bo := newSessionClient(t, ts, "u2", "bo")
	if err := ann.Open(ctx, "st1"); err != nil {
		t.Fatalf("ann open: %v", err)
	}
	if err := bo.Open(ctx, "st1"); err != nil {
		t.Fatalf("bo open: %v", err)
	}
	eventually(t, "both peers registered", func() bool { return ts.hub.PeerCount("st1") == 2 })

	if err := ann.SubmitTurn("the lantern flickered", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for name, c := range map[string]*session.Client{"ann": ann, "bo": bo} {
		c := c
		eventually(t, name+" sees the new segment", func() bool {
			segs := c.Store.Segments()
			return len(segs) == 1 && segs[0].Content == "The lantern flickered." && c.Store.TurnHolder() == "u2"
		})
	}

	if err := bo.SendChat("spooky"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	eventually(t, "ann sees the chat echo", func() bool {
		tr := ann.Store.Transcript()
		return len(tr) == 1 && tr[0].Username == "bo" && tr[0].Text == "spooky"
	})

	cy := newSessionClient(t, ts, "u3", "cy")
	if err := cy.Open(ctx, "st1"); err != nil {
		t.Fatalf("cy open: %v", err)
	}
	if tr := cy.Store.Transcript(); len(tr) != 1 || tr[0].Text != "spooky" || tr[0].Username != "bo" {
		t.Fatalf("late joiner should load chat history, got %+v", tr)
	}
	eventually(t, "all three peers registered", func() bool { return ts.hub.PeerCount("st1") == 3 })

	if err := ann.RequestConclusion(); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	eventually(t, "bo sees the story completed", func() bool {
		sess, ok := bo.Store.Session()
		return ok && sess.StoryStatus == models.StoryCompleted && bo.Store.TurnHolder() == ""
	})

	bo.Close()
	eventually(t, "ann sees bo leave", func() bool {
		for _, c := range ann.Store.Collaborators() {
			if c.UserID == "u2" {
				return false
			}
		}
		return true
	})
}
