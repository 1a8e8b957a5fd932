// Package preflight stores cached validation results for remote tool
// servers. A record says whether the server was last seen reachable and
// authorized, when that was checked and which credential it was checked with.
package preflight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var ErrEmptyKey = errors.New("preflight key is empty")

type Record struct {
	OK        bool
	CheckedAt time.Time
	TokenHash string
}

// Fresh reports whether the record is a positive result checked within
// window of now.
func (r Record) Fresh(now time.Time, window time.Duration) bool {
	if !r.OK || r.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(r.CheckedAt) <= window
}

// Matches reports whether the record was produced for the given token.
func (r Record) Matches(token string) bool {
	return r.TokenHash == HashToken(token)
}

func HashToken(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, record Record) error
	// Revoke marks the key as failed so it has to be validated again.
	Revoke(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	return record, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, record Record) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[key]
	record.OK = false
	record.CheckedAt = s.now()
	s.records[key] = record
	return nil
}
