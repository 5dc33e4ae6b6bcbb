// Package session persists editing-session snapshots so an open field session
// survives an API restart.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"richfield/internal/editor"
)

// ErrNotFound is returned when a session is unknown or has expired.
var ErrNotFound = errors.New("session not found")

// Snapshot is the stored form of one editing session. Base is the last value the
// field owner supplied or accepted; Markup is the serialized live document.
type Snapshot struct {
	ID         string       `json:"id"`
	FieldID    string       `json:"field_id"`
	FieldLabel string       `json:"field_label"`
	Base       string       `json:"base"`
	Markup     string       `json:"markup"`
	Dirty      bool         `json:"dirty"`
	State      editor.State `json:"state"`
	Version    uint64       `json:"version"`
	OpenedBy   string       `json:"opened_by"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Saved converts s to the controller's restore form.
func (s Snapshot) Saved() editor.Saved {
	return editor.Saved{
		External: s.Base,
		Markup:   s.Markup,
		State:    s.State,
		Dirty:    s.Dirty,
		Version:  s.Version,
	}
}

// MemoryStore keeps snapshots in process memory with the same expiry rules as
// RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	snap      Snapshot
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.ID] = memoryItem{snap: snap, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, id)
		return Snapshot{}, ErrNotFound
	}
	return item.snap, nil
}

func (m *MemoryStore) ListByField(_ context.Context, fieldID string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Snapshot, 0)
	for id, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, id)
			continue
		}
		if item.snap.FieldID == fieldID {
			out = append(out, item.snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
