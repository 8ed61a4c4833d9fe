// Package storyapi is the REST client for the story service.
package storyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wove/internal/models"
	"wove/internal/protocol"
)

var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404s.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to <base>/stories.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New creates a client. tokens and httpClient may be nil.
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, http: httpClient}
}

// CreateStoryRequest is the body of POST /stories.
type CreateStoryRequest struct {
	Title   string `json:"title"`
	Opening string `json:"opening,omitempty"`
}

// UpdateStoryRequest is the body of PATCH /stories/{id}; nil fields are
// left unchanged.
type UpdateStoryRequest struct {
	Title        *string             `json:"title,omitempty"`
	Status       *models.StoryStatus `json:"status,omitempty"`
	TurnHolderID *string             `json:"turnHolderId,omitempty"`
}

// AddCollaboratorRequest is the body of POST /stories/{id}/collaborators.
type AddCollaboratorRequest struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// GetStory fetches the full snapshot a session starts from.
func (c *Client) GetStory(ctx context.Context, id string) (models.Story, error) {
	var w wireStory
	if err := c.do(ctx, "get story", http.MethodGet, storyPath(id), nil, &w); err != nil {
		return models.Story{}, err
	}
	return w.model(), nil
}

// ListStories returns every story visible to the caller.
func (c *Client) ListStories(ctx context.Context) ([]models.Story, error) {
	var ws []wireStory
	if err := c.do(ctx, "list stories", http.MethodGet, "/stories", nil, &ws); err != nil {
		return nil, err
	}
	out := make([]models.Story, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.model())
	}
	return out, nil
}

// CreateStory starts a new story owned by the caller.
func (c *Client) CreateStory(ctx context.Context, req CreateStoryRequest) (models.Story, error) {
	var w wireStory
	if err := c.do(ctx, "create story", http.MethodPost, "/stories", req, &w); err != nil {
		return models.Story{}, err
	}
	return w.model(), nil
}

// UpdateStory patches story attributes.
func (c *Client) UpdateStory(ctx context.Context, id string, req UpdateStoryRequest) (models.Story, error) {
	var w wireStory
	if err := c.do(ctx, "update story", http.MethodPatch, storyPath(id), req, &w); err != nil {
		return models.Story{}, err
	}
	return w.model(), nil
}

// DeleteStory removes a story.
func (c *Client) DeleteStory(ctx context.Context, id string) error {
	return c.do(ctx, "delete story", http.MethodDelete, storyPath(id), nil, nil)
}

// AddCollaborator invites a user into a story.
func (c *Client) AddCollaborator(ctx context.Context, id string, req AddCollaboratorRequest) (models.Collaborator, error) {
	var out models.Collaborator
	err := c.do(ctx, "add collaborator", http.MethodPost, storyPath(id)+"/collaborators", req, &out)
	return out, err
}

// ListChat returns a story's chat history, oldest first.
func (c *Client) ListChat(ctx context.Context, id string) ([]models.ChatMessage, error) {
	var ws []protocol.ChatMessageReceived
	if err := c.do(ctx, "list chat", http.MethodGet, storyPath(id)+"/chat", nil, &ws); err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(ws))
	for _, w := range ws {
		m := w.ChatMessage()
		if m.StoryID == "" {
			m.StoryID = id
		}
		out = append(out, m)
	}
	return out, nil
}

func storyPath(id string) string {
	return "/stories/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: token: %w", op, err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// wireStory tolerates either timestamp encoding the service may use.
type wireStory struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	OwnerID       string                `json:"ownerId"`
	Status        models.StoryStatus    `json:"status"`
	TurnHolderID  string                `json:"turnHolderId"`
	Segments      []protocol.Segment    `json:"segments"`
	Collaborators []models.Collaborator `json:"collaborators"`
	CreatedAt     protocol.Time         `json:"createdAt"`
	UpdatedAt     protocol.Time         `json:"updatedAt"`
}

func (w wireStory) model() models.Story {
	s := models.Story{
		ID:            w.ID,
		Title:         w.Title,
		OwnerID:       w.OwnerID,
		Status:        w.Status,
		TurnHolderID:  w.TurnHolderID,
		Collaborators: w.Collaborators,
		CreatedAt:     w.CreatedAt.Time,
		UpdatedAt:     w.UpdatedAt.Time,
	}
	if s.Status == "" {
		s.Status = models.StoryInProgress
	}
	for _, seg := range w.Segments {
		s.Segments = append(s.Segments, seg.Model())
	}
	return s
}
