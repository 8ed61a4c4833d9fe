package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"wove/internal/models"
	"wove/internal/observability"
	"wove/internal/protocol"
	"wove/internal/storage"
	"wove/internal/websocket"
)

type ctxKey int

const callerKey ctxKey = 0

// API serves the story REST surface and the live endpoint.
type API struct {
	Repo Repository
	Hub  *websocket.Hub
	Log  *slog.Logger

	svc *Service
}

// NewAPI wires the REST handlers to repo and hub.
func NewAPI(repo Repository, hub *websocket.Hub, svc *Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = observability.Logger()
	}
	return &API{Repo: repo, Hub: hub, Log: logger.With("component", "api"), svc: svc}
}

// Router registers every route on a new mux router.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	// Browsers cannot set headers on a socket upgrade; identity comes from
	// the query string.
	r.HandleFunc("/story/{id}", a.live).Methods(http.MethodGet)

	api := r.PathPrefix("/stories").Subrouter()
	api.Use(bearerAuth)
	api.HandleFunc("", a.listStories).Methods(http.MethodGet)
	api.HandleFunc("", a.createStory).Methods(http.MethodPost)
	api.HandleFunc("/{id}", a.getStory).Methods(http.MethodGet)
	api.HandleFunc("/{id}", a.updateStory).Methods(http.MethodPatch)
	api.HandleFunc("/{id}", a.deleteStory).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/collaborators", a.addCollaborator).Methods(http.MethodPost)
	api.HandleFunc("/{id}/chat", a.listChat).Methods(http.MethodGet)
	return r
}

// Handler wraps the router with CORS and an access log written to accessLog.
func (a *API) Handler(allowedOrigins []string, accessLog io.Writer) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.LoggingHandler(accessLog, cors(a.Router()))
}

// bearerAuth treats the bearer token as the caller's user id. This is a
// development server; it does not verify anything.
func bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, token)))
	})
}

func caller(r *http.Request) string {
	id, _ := r.Context().Value(callerKey).(string)
	return id
}

func (a *API) listStories(w http.ResponseWriter, r *http.Request) {
	stories, err := a.Repo.GetAllStories()
	if err != nil {
		a.fail(w, "list stories", err)
		return
	}
	if stories == nil {
		stories = []*models.Story{}
	}
	writeJSON(w, http.StatusOK, stories)
}

func (a *API) createStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Opening string `json:"opening"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	owner := caller(r)
	now := a.svc.now()
	story := &models.Story{
		ID:           a.svc.newID(),
		Title:        req.Title,
		OwnerID:      owner,
		Status:       models.StoryInProgress,
		TurnHolderID: owner,
		Collaborators: []models.Collaborator{
			{UserID: owner, Username: r.Header.Get("X-Username"), Role: models.RoleOwner},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if story.Collaborators[0].Username == "" {
		story.Collaborators[0].Username = owner
	}
	if opening := strings.TrimSpace(req.Opening); opening != "" {
		story.Segments = []models.Segment{{ID: a.svc.newID(), Position: 0, AuthorID: owner, Content: opening, CreatedAt: now}}
	}
	if err := a.Repo.SaveStory(story); err != nil {
		a.fail(w, "create story", err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

func (a *API) getStory(w http.ResponseWriter, r *http.Request) {
	story, err := a.Repo.GetStory(mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, "get story", err)
		return
	}
	if story.Segments == nil {
		story.Segments = []models.Segment{}
	}
	writeJSON(w, http.StatusOK, story)
}

func (a *API) updateStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        *string             `json:"title"`
		Status       *models.StoryStatus `json:"status"`
		TurnHolderID *string             `json:"turnHolderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Status != nil && *req.Status != models.StoryInProgress && *req.Status != models.StoryCompleted {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if req.Title != nil {
		*req.Title = strings.TrimSpace(*req.Title)
		if *req.Title == "" {
			http.Error(w, "title must not be empty", http.StatusBadRequest)
			return
		}
	}

	story, ok := a.ownedStory(w, r)
	if !ok {
		return
	}
	if req.Title != nil {
		story.Title = *req.Title
	}
	if req.Status != nil {
		story.Status = *req.Status
	}
	if req.TurnHolderID != nil {
		story.TurnHolderID = *req.TurnHolderID
	}
	story.UpdatedAt = a.svc.now()
	if err := a.Repo.UpdateStory(story); err != nil {
		a.fail(w, "update story", err)
		return
	}

	a.Hub.Publish(websocket.Outbound{
		StoryID: story.ID,
		Message: &protocol.StoryUpdated{StoryID: story.ID, Title: req.Title, Status: req.Status, TurnHolderID: req.TurnHolderID},
	})
	writeJSON(w, http.StatusOK, story)
}

func (a *API) deleteStory(w http.ResponseWriter, r *http.Request) {
	story, ok := a.ownedStory(w, r)
	if !ok {
		return
	}
	if err := a.Repo.DeleteStory(story.ID); err != nil {
		a.fail(w, "delete story", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) addCollaborator(w http.ResponseWriter, r *http.Request) {
	var c models.Collaborator
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(c.UserID) == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	switch c.Role {
	case "":
		c.Role = models.RoleEditor
	case models.RoleEditor, models.RoleViewer:
	default:
		http.Error(w, "role must be editor or viewer", http.StatusBadRequest)
		return
	}
	if c.Username == "" {
		c.Username = c.UserID
	}

	story, ok := a.ownedStory(w, r)
	if !ok {
		return
	}
	if err := a.Repo.AddCollaborator(story.ID, c); err != nil {
		a.fail(w, "add collaborator", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listChat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.Repo.GetStory(id); err != nil {
		a.fail(w, "list chat", err)
		return
	}
	msgs, err := a.Repo.GetChatMessages(id)
	if err != nil {
		a.fail(w, "list chat", err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) live(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["id"]
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		http.Error(w, "userId is required", http.StatusUnauthorized)
		return
	}
	username := q.Get("username")
	if username == "" {
		username = userID
	}
	if _, err := a.Repo.GetStory(storyID); err != nil {
		a.fail(w, "open live session", err)
		return
	}
	if err := a.Hub.ServeWS(w, r, storyID, userID, username); err != nil {
		// The upgrader has already replied.
		a.Log.Warn("websocket upgrade failed", "story_id", storyID, "user_id", userID, "error", err)
	}
}

// ownedStory loads the {id} story and checks the caller owns it.
func (a *API) ownedStory(w http.ResponseWriter, r *http.Request) (*models.Story, bool) {
	story, err := a.Repo.GetStory(mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, "load story", err)
		return nil, false
	}
	if story.OwnerID != caller(r) {
		http.Error(w, "only the owner may do that", http.StatusForbidden)
		return nil, false
	}
	return story, true
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "story not found", http.StatusNotFound)
		return
	}
	a.Log.Error(op+" failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
