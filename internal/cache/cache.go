// Package cache implements the cross-session entity cache that stores fetched
// business data keyed by (business id, data kind).
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Kind 是缓存记录的数据种类。
type Kind string

const (
	KindCore      Kind = "core"
	KindDetails   Kind = "details"
	KindSentiment Kind = "sentiment"
)

// Valid 判断种类是否受支持。
func (k Kind) Valid() bool {
	return k == KindCore || k == KindDetails || k == KindSentiment
}

// Record 是一条缓存记录。Payload 为空表示已查询但没有结果。
type Record struct {
	BusinessID string          `json:"business_id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Empty 判断记录是否为“查询过但无数据”。
func (r Record) Empty() bool {
	return len(r.Payload) == 0 || string(r.Payload) == "null"
}

// Cache 是实体缓存的统一接口。所有实现都必须支持并发访问，且单个
// (id, kind) 的写入是原子的。
type Cache interface {
	// Get 返回记录；ok 为 false 表示从未获取过。
	Get(ctx context.Context, businessID string, kind Kind) (Record, bool, error)
	// Put 以 upsert 语义写入记录。
	Put(ctx context.Context, record Record) error
	// ListKnown 返回至少拥有一条记录的商户 ID。
	ListKnown(ctx context.Context) ([]string, error)
	Close() error
}

// FreshnessPolicy 判断缓存记录是否仍可直接使用。
type FreshnessPolicy interface {
	Fresh(record Record, now time.Time) bool
}

// AlwaysFresh 永不过期，是默认策略。
type AlwaysFresh struct{}

// Fresh 实现 FreshnessPolicy。
func (AlwaysFresh) Fresh(Record, time.Time) bool { return true }

// MaxAge 在记录超过指定时长后视为过期。
type MaxAge time.Duration

// Fresh 实现 FreshnessPolicy。
func (m MaxAge) Fresh(record Record, now time.Time) bool {
	if m <= 0 {
		return true
	}
	return now.Sub(record.FetchedAt) <= time.Duration(m)
}

// Encode 将载荷编码为记录。payload 为 nil 时记录为空。
func Encode(businessID string, kind Kind, payload any, fetchedAt time.Time) (Record, error) {
	rec := Record{BusinessID: businessID, Kind: kind, FetchedAt: fetchedAt.UTC()}
	if payload == nil {
		return rec, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, err
	}
	rec.Payload = raw
	return rec, nil
}

// Decode 将记录载荷解码到 out。空记录返回 false。
func Decode(record Record, out any) (bool, error) {
	if record.Empty() {
		return false, nil
	}
	if err := json.Unmarshal(record.Payload, out); err != nil {
		return false, err
	}
	return true, nil
}
