// Package audit provides an append-only journal of credential lifecycle
// events. Records form a hash chain for tamper detection.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventType categorizes journal entries.
type EventType string

const (
	EventProfilesLoaded      EventType = "profiles_loaded"
	EventProfileInvalid      EventType = "profile_invalid"
	EventCredentialsResolved EventType = "credentials_resolved"
	EventAssumeRole          EventType = "assume_role"
	EventTokenRefreshed      EventType = "token_refreshed"
	EventLoginCompleted      EventType = "login_completed"
	EventProviderInvalidated EventType = "provider_invalidated"
	EventAPICall             EventType = "api_call"
)

const schema = `CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT NOT NULL,
	profile     TEXT DEFAULT '',
	event_type  TEXT NOT NULL,
	detail      TEXT DEFAULT '{}',
	record_hash TEXT NOT NULL
)`

// Logger writes tamper-evident records to the journal database. A nil
// *Logger is a valid no-op journal.
type Logger struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
}

// Open opens (creating if needed) a journal at the given SQLite path.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return NewLogger(db)
}

// NewLogger creates a journal over an existing database, recovering the
// chain tail for continuity.
func NewLogger(db *sql.DB) (*Logger, error) {
	al := &Logger{db: db}

	var lastHash sql.NullString
	err := db.QueryRow("SELECT record_hash FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&lastHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if lastHash.Valid {
		al.lastHash = lastHash.String
	}

	return al, nil
}

// Close closes the underlying database.
func (al *Logger) Close() error {
	if al == nil {
		return nil
	}
	return al.db.Close()
}

// Log appends an event. Details must not contain secret material; callers
// pass names, ARNs, and outcomes only.
func (al *Logger) Log(eventType EventType, profileName string, detail any) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}

	now := time.Now().UTC()
	recordHash := al.computeHash(now, eventType, profileName, string(detailJSON))

	_, err = al.db.Exec(
		`INSERT INTO audit_log (timestamp, profile, event_type, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano),
		profileName,
		string(eventType),
		string(detailJSON),
		recordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}

	al.lastHash = recordHash
	return nil
}

// computeHash links the chain: SHA-256(previousHash + timestamp + eventType + profile + detail).
func (al *Logger) computeHash(ts time.Time, eventType EventType, profileName, detail string) string {
	data := al.lastHash + ts.Format(time.RFC3339Nano) + string(eventType) + profileName + detail
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Verify walks the whole chain and reports whether it is intact, returning
// the number of verified records.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query("SELECT timestamp, event_type, profile, detail, record_hash FROM audit_log ORDER BY id ASC")
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, eventType, profileName, detail, recordHash string
		if err := rows.Scan(&ts, &eventType, &profileName, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning audit row: %w", err)
		}

		data := previousHash + ts + eventType + profileName + detail
		h := sha256.Sum256([]byte(data))
		if hex.EncodeToString(h[:]) != recordHash {
			return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}

	return true, count, rows.Err()
}

// DB exposes the underlying handle for verification commands.
func (al *Logger) DB() *sql.DB {
	if al == nil {
		return nil
	}
	return al.db
}
