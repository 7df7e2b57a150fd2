package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`

// SQLiteStore is the CredentialStore backend used in production.
// Stored password hashes are bcrypt(clientHash), giving defense in depth
// against database breaches: the client-side SHA-256 digest is never stored
// directly.
type SQLiteStore struct {
	conn *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// initializes the schema.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows readers to proceed while the single writer commits.
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait and retry instead of immediately failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// SQLite permits one writer at a time; a single connection avoids
	// SQLITE_BUSY churn from the connection pool.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// CreateCredential registers username with bcrypt(passwordHash) at rest.
// The UNIQUE constraint on username turns concurrent duplicate registrations
// into ErrUsernameTaken rather than a corrupt row.
func (s *SQLiteStore) CreateCredential(username, passwordHash string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(passwordHash), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash credential: %w", err)
	}

	_, err = s.conn.Exec(
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, string(hashed), time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// VerifyCredential compares passwordHash against the stored bcrypt hash.
func (s *SQLiteStore) VerifyCredential(username, passwordHash string) bool {
	var stored string
	err := s.conn.QueryRow(
		"SELECT password_hash FROM users WHERE username = ?", username,
	).Scan(&stored)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("VerifyCredential query failed for %s: %v", username, err)
		}
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(passwordHash)) == nil
}

// UsernameExists reports whether a credential row exists for username.
func (s *SQLiteStore) UsernameExists(username string) bool {
	var one int
	err := s.conn.QueryRow(
		"SELECT 1 FROM users WHERE username = ?", username,
	).Scan(&one)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("UsernameExists query failed for %s: %v", username, err)
		}
		return false
	}
	return true
}

// AppendHistory records one chat message.
func (s *SQLiteStore) AppendHistory(username, body string, ts time.Time) error {
	_, err := s.conn.Exec(
		"INSERT INTO messages (username, message, timestamp) VALUES (?, ?, ?)",
		username, body, ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentHistory(limit int) ([]HistoryEntry, error) {
	rows, err := s.conn.Query(
		"SELECT username, message, timestamp FROM messages ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ts int64
		if err := rows.Scan(&e.Username, &e.Body, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	// Query is newest-first for the LIMIT; replay wants chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
