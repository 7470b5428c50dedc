package cache

import (
	"context"
	"sort"
	"sync"

	xerrors "Yelp-Navigator/internal/errors"
)

type memoryKey struct {
	id   string
	kind Kind
}

// MemoryCache 是进程内的缓存实现。
type MemoryCache struct {
	mu      sync.RWMutex
	records map[memoryKey]Record
	known   map[string]struct{}
}

// NewMemory 创建内存缓存。
func NewMemory() *MemoryCache {
	return &MemoryCache{
		records: make(map[memoryKey]Record),
		known:   make(map[string]struct{}),
	}
}

// Get 实现 Cache。
func (c *MemoryCache) Get(_ context.Context, businessID string, kind Kind) (Record, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[memoryKey{id: businessID, kind: kind}]
	if !ok {
		return Record{}, false, nil
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec, true, nil
}

// Put 实现 Cache。
func (c *MemoryCache) Put(_ context.Context, record Record) error {
	if record.BusinessID == "" || !record.Kind.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "缓存记录缺少商户 ID 或种类无效")
	}
	record.Payload = append([]byte(nil), record.Payload...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[memoryKey{id: record.BusinessID, kind: record.Kind}] = record
	c.known[record.BusinessID] = struct{}{}
	return nil
}

// ListKnown 实现 Cache，结果按 ID 排序。
func (c *MemoryCache) ListKnown(context.Context) ([]string, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.known))
	for id := range c.known {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Len 返回记录数量。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Close 实现 Cache。
func (c *MemoryCache) Close() error { return nil }
