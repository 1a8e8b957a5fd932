// Package conversations holds the message list a relay writes into.
package conversations

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-relay/core/llms"
)

// Store owns the conversation. The relay reads the message list when a turn
// starts and replaces it after every meaningful change.
type Store interface {
	Messages(ctx context.Context) ([]llms.Message, error)
	ReplaceMessages(ctx context.Context, messages []llms.Message) error

	ResponseID(ctx context.Context) (llms.ResponseID, error)
	SetResponseID(ctx context.Context, id llms.ResponseID) error
}

type MemoryStore struct {
	mu         sync.RWMutex
	messages   []llms.Message
	responseID llms.ResponseID
	commits    int
}

func NewMemoryStore(messages ...llms.Message) *MemoryStore {
	return &MemoryStore{messages: messages}
}

func (s *MemoryStore) Messages(context.Context) ([]llms.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot(s.messages)
}

func (s *MemoryStore) ReplaceMessages(_ context.Context, messages []llms.Message) error {
	snapshot, err := Snapshot(messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = snapshot
	s.commits++
	return nil
}

func (s *MemoryStore) ResponseID(context.Context) (llms.ResponseID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseID, nil
}

func (s *MemoryStore) SetResponseID(_ context.Context, id llms.ResponseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseID = id
	return nil
}

// Commits is the number of times the message list was replaced.
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Snapshot deep copies messages so the copy can be handed across goroutines.
func Snapshot(messages []llms.Message) ([]llms.Message, error) {
	if messages == nil {
		return nil, nil
	}
	snapshot := make([]llms.Message, 0, len(messages))
	if err := copier.CopyWithOption(&snapshot, &messages, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to snapshot messages: %w", err)
	}
	return snapshot, nil
}
