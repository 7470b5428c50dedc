package checkpoint

import (
	"context"
	"sync"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
)

// MemoryStore 在进程内保存 JSON 快照，进程退出即丢失。
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	closed    bool
}

// NewMemory 创建内存存储。
func NewMemory() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

// Save 实现 Store。
func (m *MemoryStore) Save(ctx context.Context, sessionID string, st *state.Conversation) error {
	raw, err := encode(sessionID, st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return xerrors.New(xerrors.CodeCheckpointFailure, "快照存储已关闭")
	}
	m.snapshots[sessionID] = raw
	return nil
}

// Load 实现 Store。返回的是独立副本。
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*state.Conversation, error) {
	m.mu.RLock()
	raw, ok := m.snapshots[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(raw)
}

// Close 实现 Store。
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
