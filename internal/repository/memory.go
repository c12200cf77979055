package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gpt3bot/internal/domain"
)

// MemoryStore keeps bot state in process memory. It is used when no
// DynamoDB table is configured and is safe for concurrent use.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	redo          map[string]domain.RedoEntry
	cooldowns     map[string]time.Time
	usage         domain.Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		redo:          make(map[string]domain.RedoEntry),
		cooldowns:     make(map[string]time.Time),
	}
}

func (m *MemoryStore) GetConversation(_ context.Context, userID string) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[userID]
	return conv, ok, nil
}

func (m *MemoryStore) PutConversation(_ context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.UserID) == "" {
		return errors.New("repository: PutConversation: user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.UserID] = conv
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, userID)
	return nil
}

func (m *MemoryStore) GetRedo(_ context.Context, userID string) (domain.RedoEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.redo[userID]
	return entry, ok, nil
}

func (m *MemoryStore) PutRedo(_ context.Context, entry domain.RedoEntry) error {
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("repository: PutRedo: user id is required")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redo[entry.UserID] = entry
	return nil
}

func (m *MemoryStore) TouchCooldown(_ context.Context, userID string, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.cooldowns[userID]
	m.cooldowns[userID] = now
	return prev, ok, nil
}

func (m *MemoryStore) AddUsage(_ context.Context, tokens int64, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Tokens += tokens
	m.usage.Cost += cost
	return nil
}

func (m *MemoryStore) GetUsage(_ context.Context) (domain.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage, nil
}
