package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"repsync/internal/session"
)

// SessionCache stores session documents as JSON rows keyed by
// (session_id, account_id).
type SessionCache struct {
	db *DB
}

// NewSessionCache creates a cache backed by db.
func NewSessionCache(db *DB) *SessionCache {
	return &SessionCache{db: db}
}

// Save upserts the documents for one session and account.
func (c *SessionCache) Save(sess session.Session, state session.State) error {
	sessJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO session_cache (session_id, account_id, version, session, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, account_id) DO UPDATE SET
			version = excluded.version,
			session = excluded.session,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.SessionID, state.AccountID, state.Version,
		string(sessJSON), string(stateJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session cache: %w", err)
	}
	return nil
}

// Load returns the cached documents for a session and account, or ok=false
// when nothing is cached.
func (c *SessionCache) Load(sessionID, accountID string) (session.Session, session.State, bool, error) {
	row := c.db.QueryRow(
		"SELECT session, state FROM session_cache WHERE session_id = ? AND account_id = ?",
		sessionID, accountID)
	return c.scanRow(row)
}

// LoadLatest returns the most recently updated cached session for an
// account, or ok=false when nothing is cached.
func (c *SessionCache) LoadLatest(accountID string) (session.Session, session.State, bool, error) {
	row := c.db.QueryRow(
		"SELECT session, state FROM session_cache WHERE account_id = ? ORDER BY updated_at DESC LIMIT 1",
		accountID)
	return c.scanRow(row)
}

func (c *SessionCache) scanRow(row *sql.Row) (session.Session, session.State, bool, error) {
	var sessJSON, stateJSON string
	if err := row.Scan(&sessJSON, &stateJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.State{}, false, nil
		}
		return session.Session{}, session.State{}, false, fmt.Errorf("load session cache: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(sessJSON), &sess); err != nil {
		return session.Session{}, session.State{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	var state session.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return session.Session{}, session.State{}, false, fmt.Errorf("unmarshal state: %w", err)
	}
	return sess, state, true, nil
}

// Delete drops every cached row for a session, e.g. after the user leaves
// or ends it.
func (c *SessionCache) Delete(sessionID string) error {
	if _, err := c.db.Exec("DELETE FROM session_cache WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session cache: %w", err)
	}
	return nil
}
