package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store used by tests and local development. It
// keeps the same JSON envelope as the Redis backend so values round-trip
// identically.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(ctx context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.live(key)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{data: data, expiresAt: deadline(ttl)}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	delete(m.entries, key)
	return ok, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	if entry, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(string(entry.data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %s holds non-integer value", key)
		}
		count = parsed + 1
		// Keep the window established by the first increment.
		m.entries[key] = memoryEntry{data: []byte(strconv.FormatInt(count, 10)), expiresAt: entry.expiresAt}
		return count, nil
	}
	count = 1
	m.entries[key] = memoryEntry{data: []byte("1"), expiresAt: deadline(ttl)}
	return count, nil
}

// live returns the entry at key, pruning it when expired. Callers hold mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
