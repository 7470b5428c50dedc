package events

import (
	"context"
	"sync"

	xerrors "Yelp-Navigator/internal/errors"
)

// MemorySink 使用带缓冲的 channel 保存事件，缓冲满时丢弃新事件。
type MemorySink struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemory 创建内存事件队列。
func NewMemory(size int) *MemorySink {
	if size <= 0 {
		size = 256
	}
	return &MemorySink{ch: make(chan Event, size)}
}

// Publish 实现 Publisher。
func (m *MemorySink) Publish(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return xerrors.New(xerrors.CodeUnknown, "事件队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- ev:
		return nil
	default:
		return xerrors.New(xerrors.CodeUnknown, "事件队列已满")
	}
}

// Consume 实现 Subscriber。
func (m *MemorySink) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, ev)
		}
	}
}

// Drain 非阻塞地取出当前缓冲中的所有事件。
func (m *MemorySink) Drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-m.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close 实现 Publisher。
func (m *MemorySink) Close() error {
	m.mu.Lock()
	if !m.closed {
		close(m.ch)
		m.closed = true
	}
	m.mu.Unlock()
	return nil
}
