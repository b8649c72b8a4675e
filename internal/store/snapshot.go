// Package store persists engine state to a local sqlite database.
// Snapshots are JSON blobs written transactionally; delivered messages
// and user preferences additionally land in structured tables so they
// can be queried without rehydrating the whole engine.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"volition/internal/logging"
	"volition/internal/spontaneous"
	"volition/internal/wants"
)

// DBFileName is the sqlite file created under the state directory.
const DBFileName = "volition.db"

// EngineState bundles everything a restart needs to restore.
type EngineState struct {
	Wants       wants.State       `json:"wants"`
	Personality json.RawMessage   `json:"personality"`
	Queue       spontaneous.State `json:"queue"`
}

// Store is the sqlite-backed snapshot store.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewStore creates or opens the volition database under stateDir.
func NewStore(stateDir string) (*Store, error) {
	dbPath := filepath.Join(stateDir, DBFileName)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("snapshot store opened at %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	-- Singleton snapshot blobs, one row each
	CREATE TABLE IF NOT EXISTS want_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS personality_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		snapshot_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS queue_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Structured copy of per-user delivery preferences
	CREATE TABLE IF NOT EXISTS user_prefs (
		user_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		daily_count INTEGER NOT NULL DEFAULT 0,
		last_delivered_at DATETIME,
		last_reset_date TEXT
	);

	-- Append-only log of delivered spontaneous messages
	CREATE TABLE IF NOT EXISTS delivered_log (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		content TEXT NOT NULL,
		reason TEXT,
		urgency TEXT NOT NULL,
		message_type TEXT NOT NULL,
		want_id TEXT,
		created_at DATETIME NOT NULL,
		delivered_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_delivered_user ON delivered_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_delivered_at ON delivered_log(delivered_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SAVE
// =============================================================================

// SaveEngineState writes all three snapshots in one transaction,
// refreshes the user_prefs table and appends any new deliveries to the
// delivered log.
func (s *Store) SaveEngineState(st EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantJSON, err := json.Marshal(st.Wants)
	if err != nil {
		return fmt.Errorf("failed to marshal want state: %w", err)
	}
	queueJSON, err := json.Marshal(st.Queue)
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}
	personaJSON := st.Personality
	if len(personaJSON) == 0 {
		personaJSON = []byte("{}")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	upsert := `INSERT INTO %s (id, %s, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at`

	if _, err := tx.Exec(fmt.Sprintf(upsert, "want_state", "state_json", "state_json", "state_json"),
		string(wantJSON), now); err != nil {
		return fmt.Errorf("failed to save want state: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(upsert, "personality_state", "snapshot_json", "snapshot_json", "snapshot_json"),
		string(personaJSON), now); err != nil {
		return fmt.Errorf("failed to save personality state: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(upsert, "queue_state", "state_json", "state_json", "state_json"),
		string(queueJSON), now); err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}

	if err := saveUserPrefs(tx, st.Queue.Prefs); err != nil {
		return err
	}
	if err := appendDeliveries(tx, st.Queue.Delivered); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logging.Store("engine state saved: %d wants, %d pending, %d delivered",
		len(st.Wants.Wants), len(st.Queue.Pending), len(st.Queue.Delivered))
	return nil
}

func saveUserPrefs(tx *sql.Tx, prefs map[string]*spontaneous.UserPrefs) error {
	for userID, p := range prefs {
		var last any
		if !p.LastDeliveredAt.IsZero() {
			last = p.LastDeliveredAt.UTC()
		}
		_, err := tx.Exec(`INSERT INTO user_prefs (user_id, enabled, daily_count, last_delivered_at, last_reset_date)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				enabled = excluded.enabled,
				daily_count = excluded.daily_count,
				last_delivered_at = excluded.last_delivered_at,
				last_reset_date = excluded.last_reset_date`,
			userID, p.Enabled, p.DailyCount, last, p.LastResetDate)
		if err != nil {
			return fmt.Errorf("failed to save prefs for %q: %w", userID, err)
		}
	}
	return nil
}

func appendDeliveries(tx *sql.Tx, delivered []*spontaneous.Message) error {
	for _, m := range delivered {
		_, err := tx.Exec(`INSERT OR IGNORE INTO delivered_log
			(id, user_id, content, reason, urgency, message_type, want_id, created_at, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.DeliveryText(), m.Reason, string(m.Urgency),
			string(m.MessageType), m.WantID, m.CreatedAt.UTC(), m.DeliveredAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to log delivery %s: %w", m.ID, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// LoadEngineState restores the latest snapshots. The second return is
// false when the database holds no snapshot yet.
func (s *Store) LoadEngineState() (EngineState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st EngineState
	found := false

	var wantJSON string
	err := s.db.QueryRow(`SELECT state_json FROM want_state WHERE id = 1`).Scan(&wantJSON)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return EngineState{}, false, fmt.Errorf("failed to load want state: %w", err)
	default:
		if err := json.Unmarshal([]byte(wantJSON), &st.Wants); err != nil {
			return EngineState{}, false, fmt.Errorf("corrupt want state: %w", err)
		}
		found = true
	}

	var personaJSON string
	err = s.db.QueryRow(`SELECT snapshot_json FROM personality_state WHERE id = 1`).Scan(&personaJSON)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return EngineState{}, false, fmt.Errorf("failed to load personality state: %w", err)
	default:
		st.Personality = json.RawMessage(personaJSON)
		found = true
	}

	var queueJSON string
	err = s.db.QueryRow(`SELECT state_json FROM queue_state WHERE id = 1`).Scan(&queueJSON)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return EngineState{}, false, fmt.Errorf("failed to load queue state: %w", err)
	default:
		if err := json.Unmarshal([]byte(queueJSON), &st.Queue); err != nil {
			return EngineState{}, false, fmt.Errorf("corrupt queue state: %w", err)
		}
		found = true
	}

	if found {
		logging.Store("engine state loaded: %d wants, %d pending", len(st.Wants.Wants), len(st.Queue.Pending))
	}
	return st, found, nil
}

// =============================================================================
// DELIVERY QUERIES
// =============================================================================

// DeliveryRecord is one row of the delivered log.
type DeliveryRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	Reason      string    `json:"reason"`
	Urgency     string    `json:"urgency"`
	MessageType string    `json:"message_type"`
	WantID      string    `json:"want_id"`
	CreatedAt   time.Time `json:"created_at"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// RecentDeliveries returns the latest delivered messages, newest first.
func (s *Store) RecentDeliveries(limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`SELECT id, user_id, content, reason, urgency, message_type, want_id, created_at, delivered_at
		FROM delivered_log ORDER BY delivered_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivered log: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &r.Reason, &r.Urgency,
			&r.MessageType, &r.WantID, &r.CreatedAt, &r.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeliveriesForUser returns a user's delivered messages since a cutoff,
// newest first.
func (s *Store) DeliveriesForUser(userID string, since time.Time) ([]DeliveryRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, content, reason, urgency, message_type, want_id, created_at, delivered_at
		FROM delivered_log WHERE user_id = ? AND delivered_at >= ? ORDER BY delivered_at DESC`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &r.Reason, &r.Urgency,
			&r.MessageType, &r.WantID, &r.CreatedAt, &r.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
