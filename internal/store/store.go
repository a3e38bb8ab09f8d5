// Package store persists users and their conversations in sqlite. Memory
// records live in their own database under internal/memory; this one holds
// identity, session counters, personality profiles and raw transcripts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hamdamlab/hamdam/internal/personality"
)

// User is one registered chat user.
type User struct {
	ID           string
	FirstName    string
	Username     string
	Traits       personality.Traits
	SessionCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one stored conversation turn.
type Message struct {
	ID             int64
	ConversationID string
	UserID         string
	Role           string
	Content        string
	Emotion        string
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			traits TEXT NOT NULL DEFAULT '{}',
			session_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers a user with the default personality profile. Calling
// it for an existing user is a no-op that returns the stored record.
func (s *Store) CreateUser(id, firstName, username string) (*User, error) {
	traits, err := json.Marshal(personality.DefaultTraits())
	if err != nil {
		return nil, fmt.Errorf("marshal default traits: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO users (id, first_name, username, traits) VALUES (?, ?, ?, ?)`,
		id, firstName, username, string(traits),
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUser(id)
}

// GetUser returns nil (and no error) when the user does not exist.
func (s *Store) GetUser(id string) (*User, error) {
	row := s.db.QueryRow(
		`SELECT id, first_name, username, traits, session_count, created_at, updated_at
		 FROM users WHERE id = ?`, id,
	)

	var (
		u          User
		traitsJSON string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.Username, &traitsJSON, &u.SessionCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	u.Traits = personality.DefaultTraits()
	if err := json.Unmarshal([]byte(traitsJSON), &u.Traits); err != nil {
		return nil, fmt.Errorf("unmarshal traits for %s: %w", id, err)
	}
	if t, err := parseTime(createdAt); err == nil {
		u.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		u.UpdatedAt = t
	}
	return &u, nil
}

// UpdateTraits replaces the stored personality profile.
func (s *Store) UpdateTraits(id string, traits personality.Traits) error {
	raw, err := json.Marshal(traits)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`UPDATE users SET traits = ?, updated_at = datetime('now') WHERE id = ?`,
		string(raw), id,
	)
	if err != nil {
		return fmt.Errorf("update traits: %w", err)
	}
	return nil
}

// IncrementSession bumps the user's session counter.
func (s *Store) IncrementSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE users SET session_count = session_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment session: %w", err)
	}
	return nil
}

// StartConversation opens a new conversation and returns its id.
func (s *Store) StartConversation(userID string) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO conversations (id, user_id) VALUES (?, ?)`, id, userID)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// LatestConversation returns the user's most recent conversation id, or ""
// when they have none yet.
func (s *Store) LatestConversation(userID string) (string, error) {
	row := s.db.QueryRow(
		`SELECT id FROM conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest conversation: %w", err)
	}
	return id, nil
}

// AppendMessage records one turn of a conversation.
func (s *Store) AppendMessage(conversationID, userID, role, content, emotion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, user_id, role, content, emotion) VALUES (?, ?, ?, ?, ?)`,
		conversationID, userID, role, content, emotion,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the user's last messages across conversations in
// chronological order.
func (s *Store) RecentMessages(userID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, user_id, role, content, emotion, created_at
		 FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Flip newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RecentUserMessages is RecentMessages restricted to the user's own turns,
// the window personality analysis reads.
func (s *Store) RecentUserMessages(userID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, user_id, role, content, emotion, created_at
		 FROM messages WHERE user_id = ? AND role = 'user' ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query user messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UserMessageCount counts the user's own turns, which drives the
// personality refresh cadence.
func (s *Store) UserMessageCount(userID string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE user_id = ? AND role = 'user'`, userID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.Emotion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			m.CreatedAt = t
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
