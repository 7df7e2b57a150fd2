// Package store persists user credentials and chat history for the relay.
//
// The relay core only depends on the CredentialStore contract; the SQLite
// implementation in this package is the production backend and MemStore is
// its in-memory twin for tests.
package store

import (
	"errors"
	"time"
)

var (
	// ErrUsernameTaken indicates the username is already registered,
	// including the case where a concurrent registration won the race.
	ErrUsernameTaken = errors.New("username already registered")
)

// HistoryEntry is one persisted chat message.
type HistoryEntry struct {
	Username  string
	Body      string
	Timestamp time.Time
}

// CredentialStore verifies and creates user credentials and records chat
// history. passwordHash is the SHA-256 hex digest computed on the protocol
// side; implementations apply their own at-rest hashing on top, so the raw
// secret never reaches this boundary.
//
// Implementations serialize their own writes; callers need no external
// locking.
type CredentialStore interface {
	// CreateCredential registers a new user. Returns ErrUsernameTaken if
	// the username already exists.
	CreateCredential(username, passwordHash string) error

	// VerifyCredential reports whether username exists and passwordHash
	// matches its stored credential.
	VerifyCredential(username, passwordHash string) bool

	// UsernameExists reports whether a credential exists for username.
	UsernameExists(username string) bool

	// AppendHistory records one chat message. Best-effort: callers log
	// and swallow failures, delivery never blocks on history.
	AppendHistory(username, body string, ts time.Time) error

	// RecentHistory returns up to limit most recent messages in
	// chronological order.
	RecentHistory(limit int) ([]HistoryEntry, error)

	Close() error
}
