// Package events publishes supervisor lifecycle events (transitions, turn
// completion, aborts) to an external sink so operators can follow sessions
// without reading checkpoints. Publishing never blocks the turn loop on a
// slow consumer.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
)

// Type 标识事件种类。
type Type string

const (
	TypeTransition Type = "transition"
	TypeBlocked    Type = "blocked"
	TypeCompleted  Type = "completed"
	TypeAborted    Type = "aborted"
)

// Event 是一条会话事件。
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	SessionID string      `json:"session_id"`
	Request   int         `json:"request,omitempty"`
	From      state.Phase `json:"from,omitempty"`
	To        state.Phase `json:"to,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	At        time.Time   `json:"at"`
}

// NewEvent 创建带有唯一 ID 与时间戳的事件。
func NewEvent(typ Type, sessionID string) Event {
	return Event{ID: uuid.NewString(), Type: typ, SessionID: sessionID, At: time.Now().UTC()}
}

// Transition 根据一次状态切换创建事件。
func Transition(st *state.Conversation, from, to state.Phase) Event {
	ev := NewEvent(TypeTransition, st.SessionID)
	ev.Request = st.Request
	ev.From = from
	ev.To = to
	return ev
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, ev Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subscriber 负责消费事件，阻塞直到 ctx 结束。
type Subscriber interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Sink 同时具备发布与订阅能力。
type Sink interface {
	Publisher
	Subscriber
}

// Config 描述事件后端。
type Config struct {
	Driver   string         `mapstructure:"driver"`
	Buffer   int            `mapstructure:"buffer"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// Open 按配置创建事件后端。driver 为空或 "none" 时返回 Discard。
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return Discard{}, nil
	case "memory":
		return NewMemory(cfg.Buffer), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	case "rabbitmq":
		return NewRabbitMQ(cfg.RabbitMQ)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的事件驱动: "+cfg.Driver)
	}
}

// Discard 丢弃所有事件。
type Discard struct{}

// Publish 实现 Publisher。
func (Discard) Publish(context.Context, Event) error { return nil }

// Consume 实现 Subscriber。
func (Discard) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close 实现 Publisher。
func (Discard) Close() error { return nil }

func marshal(ev Event) ([]byte, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化事件失败")
	}
	return raw, nil
}

func unmarshal(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析事件失败")
	}
	return ev, nil
}
