package store

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MemStore is an in-memory CredentialStore with the same at-rest hashing as
// SQLiteStore. Used by tests and useful for running a throwaway relay.
type MemStore struct {
	mu          sync.Mutex
	credentials map[string]string // username -> bcrypt(clientHash)
	history     []HistoryEntry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		credentials: make(map[string]string),
	}
}

func (m *MemStore) CreateCredential(username, passwordHash string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(passwordHash), bcrypt.MinCost)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[username]; exists {
		return ErrUsernameTaken
	}
	m.credentials[username] = string(hashed)
	return nil
}

func (m *MemStore) VerifyCredential(username, passwordHash string) bool {
	m.mu.Lock()
	stored, ok := m.credentials[username]
	m.mu.Unlock()

	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(passwordHash)) == nil
}

func (m *MemStore) UsernameExists(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.credentials[username]
	return ok
}

func (m *MemStore) AppendHistory(username, body string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, HistoryEntry{
		Username:  username,
		Body:      body,
		Timestamp: ts,
	})
	return nil
}

func (m *MemStore) RecentHistory(limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(m.history) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	entries := make([]HistoryEntry, len(m.history)-start)
	copy(entries, m.history[start:])
	return entries, nil
}

func (m *MemStore) Close() error {
	return nil
}
