package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Session is one row of the sessions index: which workdir it belongs to
// and when it was last touched. The turn-by-turn content itself lives in
// that session's own context.jsonl (internal/contextstore), not here —
// this table exists only so a workdir can be asked "what sessions exist"
// and "which one is most recent" without scanning the filesystem.
type Session struct {
	ID          string
	WorkdirHash string
	Title       string
	Created     time.Time
	Updated     time.Time
}

// SessionSummary is the listing shape used by --list / the resume picker.
type SessionSummary struct {
	ID        string
	Timestamp time.Time
	Preview   string
}

// DB exposes the underlying *sql.DB so other SQLite-backed components
// (internal/delta's undo log) can share one file instead of opening a
// second database.
func (c *Cache) DB() *sql.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// CreateSession registers a new session under workdirHash.
func (c *Cache) CreateSession(id, workdirHash string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err := c.db.Exec(
		"INSERT INTO sessions (id, workdir_hash, title, created, updated) VALUES (?, ?, '', ?, ?)",
		id, workdirHash, now, now,
	)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("store: failed to create session")
	}
	return err
}

// Touch bumps a session's updated timestamp — called at the end of each
// turn so ListSessions/LatestSessionID reflect recent activity.
func (c *Cache) Touch(id string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec("UPDATE sessions SET updated = ? WHERE id = ?", time.Now().Unix(), id)
	return err
}

// SessionExists reports whether id has a sessions-table row.
func (c *Cache) SessionExists(id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListSessions returns every session for workdirHash, most recently
// updated first.
func (c *Cache) ListSessions(workdirHash string) ([]SessionSummary, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT id, updated, title FROM sessions WHERE workdir_hash = ? ORDER BY updated DESC`,
		workdirHash,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var ts int64
		if err := rows.Scan(&s.ID, &ts, &s.Preview); err != nil {
			continue
		}
		s.Timestamp = time.Unix(ts, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSessionID returns the most recently updated session for
// workdirHash.
func (c *Cache) LatestSessionID(workdirHash string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("no cache")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var id string
	err := c.db.QueryRow(
		`SELECT id FROM sessions WHERE workdir_hash = ? ORDER BY updated DESC LIMIT 1`,
		workdirHash,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("no sessions found for workdir")
	}
	return id, nil
}

// --- per-workdir metadata: last session id, sticky thinking mode ---

// WorkdirMeta is the single-row-per-workdir metadata store: last session
// id and sticky thinking mode, kept outside any per-session directory.
type WorkdirMeta struct {
	LastSessionID string
	ThinkingMode  string
}

// GetWorkdirMeta reads the metadata row for workdirHash, returning a zero
// value (not an error) if none exists yet.
func (c *Cache) GetWorkdirMeta(workdirHash string) (WorkdirMeta, error) {
	if c == nil {
		return WorkdirMeta{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var m WorkdirMeta
	err := c.db.QueryRow(
		`SELECT last_session_id, thinking_mode FROM workdir_meta WHERE workdir_hash = ?`,
		workdirHash,
	).Scan(&m.LastSessionID, &m.ThinkingMode)
	if err == sql.ErrNoRows {
		return WorkdirMeta{}, nil
	}
	return m, err
}

// SetWorkdirMeta upserts the metadata row for workdirHash.
func (c *Cache) SetWorkdirMeta(workdirHash string, m WorkdirMeta) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO workdir_meta (workdir_hash, last_session_id, thinking_mode, updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workdir_hash) DO UPDATE SET
			last_session_id = excluded.last_session_id,
			thinking_mode = excluded.thinking_mode,
			updated = excluded.updated`,
		workdirHash, m.LastSessionID, m.ThinkingMode, time.Now().Unix(),
	)
	return err
}
