package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Engine is the sqlite persistence layer for memories. Reads go straight to
// the pool; writes are serialized with a mutex because modernc's driver does
// not like concurrent writers even in WAL mode.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(path string) (*Engine, error) {
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

	e := &Engine{db: db}
	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			tier INTEGER NOT NULL,
			content TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			last_accessed TEXT NOT NULL DEFAULT (datetime('now')),
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_tier ON memories(owner, tier)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_created ON memories(owner, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(owner, tier, importance)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// Append stores a new record and returns its id. Importance is clamped
// to [0, 1] before writing.
func (e *Engine) Append(owner string, tier Tier, content, emotion string, importance float64) (int64, error) {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(
		`INSERT INTO memories (owner, tier, content, emotion, importance) VALUES (?, ?, ?, ?, ?)`,
		owner, int(tier), content, emotion, importance,
	)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// QueryShortTerm returns the owner's short-term records, newest first.
func (e *Engine) QueryShortTerm(owner string, limit int) ([]Record, error) {
	rows, err := e.db.Query(
		`SELECT id, owner, tier, content, emotion, importance, created_at, last_accessed, access_count
		 FROM memories WHERE owner = ? AND tier = ?
		 ORDER BY created_at DESC LIMIT ?`,
		owner, int(TierShortTerm), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query short-term: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// QueryLongTerm returns the owner's long-term records ordered by importance,
// then by last access, most important first.
func (e *Engine) QueryLongTerm(owner string, limit int) ([]Record, error) {
	rows, err := e.db.Query(
		`SELECT id, owner, tier, content, emotion, importance, created_at, last_accessed, access_count
		 FROM memories WHERE owner = ? AND tier = ?
		 ORDER BY importance DESC, last_accessed DESC LIMIT ?`,
		owner, int(TierLongTerm), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query long-term: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Touch bumps a record's access time and count.
func (e *Engine) Touch(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(
		`UPDATE memories SET last_accessed = datetime('now'), access_count = access_count + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch memory %d: %w", id, err)
	}
	return nil
}

// PurgeShortTerm deletes the owner's short-term records older than maxAge.
// Long-term records are never purged. Returns the number deleted.
func (e *Engine) PurgeShortTerm(owner string, maxAge time.Duration) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge).Format("2006-01-02 15:04:05")
	res, err := e.db.Exec(
		`DELETE FROM memories WHERE owner = ? AND tier = ? AND created_at < ?`,
		owner, int(TierShortTerm), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge short-term: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Owners lists every owner that has at least one record.
func (e *Engine) Owners() ([]string, error) {
	rows, err := e.db.Query(`SELECT DISTINCT owner FROM memories ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// Stats reports per-owner record counts and the newest record time.
func (e *Engine) Stats(owner string) (Stats, error) {
	var s Stats

	row := e.db.QueryRow(
		`SELECT
			COUNT(CASE WHEN tier = ? THEN 1 END),
			COUNT(CASE WHEN tier = ? THEN 1 END),
			COALESCE(MAX(created_at), '')
		 FROM memories WHERE owner = ?`,
		int(TierShortTerm), int(TierLongTerm), owner,
	)
	var newest string
	if err := row.Scan(&s.ShortTerm, &s.LongTerm, &newest); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if newest != "" {
		if t, err := parseTime(newest); err == nil {
			s.NewestAt = t
		}
	}
	return s, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec          Record
			tier         int
			createdAt    string
			lastAccessed string
		)
		if err := rows.Scan(&rec.ID, &rec.Owner, &tier, &rec.Content, &rec.Emotion,
			&rec.Importance, &createdAt, &lastAccessed, &rec.AccessCount); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Tier = Tier(tier)
		if t, err := parseTime(createdAt); err == nil {
			rec.CreatedAt = t
		}
		if t, err := parseTime(lastAccessed); err == nil {
			rec.LastAccessed = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
