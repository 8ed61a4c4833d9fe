package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"wove/internal/models"
)

var ErrNotFound = errors.New("not found")

// DB wraps the database connection with performance optimizations
type DB struct {
	*sql.DB
}

// InitDB initializes the database with connection pooling
func InitDB(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Performance optimizations
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		turn_holder_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		media TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE,
		UNIQUE (story_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_segments_story ON segments(story_id);

	CREATE TABLE IF NOT EXISTS collaborators (
		story_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (story_id, user_id),
		FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chat_story ON chat_messages(story_id);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveStory inserts a new story and its collaborators
func (db *DB) SaveStory(story *models.Story) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO stories (id, title, owner_id, status, turn_holder_id, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.Exec(query, story.ID, story.Title, story.OwnerID, story.Status, story.TurnHolderID, story.CreatedAt, story.UpdatedAt); err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	for _, c := range story.Collaborators {
		if err := upsertCollaborator(tx, story.ID, c); err != nil {
			return err
		}
	}
	for _, seg := range story.Segments {
		if err := insertSegment(tx, story.ID, seg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateStory writes the mutable story attributes
func (db *DB) UpdateStory(story *models.Story) error {
	query := `UPDATE stories SET title = ?, status = ?, turn_holder_id = ?, updated_at = ? WHERE id = ?`
	res, err := db.Exec(query, story.Title, story.Status, story.TurnHolderID, story.UpdatedAt, story.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStory retrieves a story with its segments and collaborators
func (db *DB) GetStory(id string) (*models.Story, error) {
	story := &models.Story{}
	query := `SELECT id, title, owner_id, status, turn_holder_id, created_at, updated_at FROM stories WHERE id = ?`
	err := db.QueryRow(query, id).Scan(&story.ID, &story.Title, &story.OwnerID, &story.Status, &story.TurnHolderID, &story.CreatedAt, &story.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if story.Collaborators, err = db.GetCollaborators(id); err != nil {
		return nil, err
	}
	if story.Segments, err = db.GetSegments(id); err != nil {
		return nil, err
	}
	return story, nil
}

// GetAllStories retrieves every story with collaborators but without segments
func (db *DB) GetAllStories() ([]*models.Story, error) {
	rows, err := db.Query(`SELECT id, title, owner_id, status, turn_holder_id, created_at, updated_at
	                        FROM stories ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		s := &models.Story{}
		if err := rows.Scan(&s.ID, &s.Title, &s.OwnerID, &s.Status, &s.TurnHolderID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range stories {
		if s.Collaborators, err = db.GetCollaborators(s.ID); err != nil {
			return nil, err
		}
	}
	return stories, nil
}

// DeleteStory removes a story and its related data
func (db *DB) DeleteStory(id string) error {
	res, err := db.Exec("DELETE FROM stories WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertCollaborator(db execer, storyID string, c models.Collaborator) error {
	query := `INSERT INTO collaborators (story_id, user_id, username, role, joined_at) VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT (story_id, user_id) DO UPDATE SET username = excluded.username, role = excluded.role`
	if _, err := db.Exec(query, storyID, c.UserID, c.Username, c.Role, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

// AddCollaborator adds or updates a collaborator on a story
func (db *DB) AddCollaborator(storyID string, c models.Collaborator) error {
	return upsertCollaborator(db, storyID, c)
}

// GetCollaborators retrieves collaborators in join order
func (db *DB) GetCollaborators(storyID string) ([]models.Collaborator, error) {
	rows, err := db.Query(`SELECT user_id, username, role FROM collaborators
	                        WHERE story_id = ? ORDER BY joined_at ASC, rowid ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Collaborator
	for rows.Next() {
		var c models.Collaborator
		if err := rows.Scan(&c.UserID, &c.Username, &c.Role); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertSegment(db execer, storyID string, seg models.Segment) error {
	mediaJSON, err := json.Marshal(seg.Media)
	if err != nil {
		return err
	}
	query := `INSERT INTO segments (id, story_id, position, author_id, content, media, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := db.Exec(query, seg.ID, storyID, seg.Position, seg.AuthorID, seg.Content, string(mediaJSON), seg.CreatedAt); err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// AppendSegment stores seg at the next free position and returns it
func (db *DB) AppendSegment(storyID string, seg models.Segment) (models.Segment, error) {
	tx, err := db.Begin()
	if err != nil {
		return seg, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM segments WHERE story_id = ?`, storyID).Scan(&next); err != nil {
		return seg, err
	}
	seg.Position = next
	if err := insertSegment(tx, storyID, seg); err != nil {
		return seg, err
	}
	if _, err := tx.Exec(`UPDATE stories SET updated_at = ? WHERE id = ?`, seg.CreatedAt, storyID); err != nil {
		return seg, err
	}
	return seg, tx.Commit()
}

// GetSegments retrieves segments in position order
func (db *DB) GetSegments(storyID string) ([]models.Segment, error) {
	rows, err := db.Query(`SELECT id, position, author_id, content, media, created_at
	                        FROM segments WHERE story_id = ? ORDER BY position ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Segment
	for rows.Next() {
		var seg models.Segment
		var mediaJSON sql.NullString
		if err := rows.Scan(&seg.ID, &seg.Position, &seg.AuthorID, &seg.Content, &mediaJSON, &seg.CreatedAt); err != nil {
			return nil, err
		}
		if mediaJSON.Valid && mediaJSON.String != "" && mediaJSON.String != "null" {
			if err := json.Unmarshal([]byte(mediaJSON.String), &seg.Media); err != nil {
				return nil, fmt.Errorf("segment %s media: %w", seg.ID, err)
			}
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// SaveChatMessage saves a chat message
func (db *DB) SaveChatMessage(msg *models.ChatMessage) error {
	query := `INSERT INTO chat_messages (id, story_id, user_id, username, text, timestamp)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query, msg.ID, msg.StoryID, msg.UserID, msg.Username, msg.Text, msg.Timestamp)
	return err
}

// GetChatMessages retrieves chat messages for a story
func (db *DB) GetChatMessages(storyID string) ([]models.ChatMessage, error) {
	rows, err := db.Query(`SELECT id, story_id, user_id, username, text, timestamp
	                        FROM chat_messages WHERE story_id = ? ORDER BY timestamp ASC, rowid ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.StoryID, &msg.UserID, &msg.Username, &msg.Text, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
