package events

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Yelp-Navigator/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 事件队列。
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Queue      string `mapstructure:"queue"`
	Prefetch   int    `mapstructure:"prefetch"`
	Durable    bool   `mapstructure:"durable"`
	AutoDelete bool   `mapstructure:"auto_delete"`
}

// RabbitMQSink 将事件以 JSON 消息发布到 RabbitMQ 队列。
type RabbitMQSink struct {
	conn  *amqp.Connection
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQ 连接 RabbitMQ 并声明队列。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "navigator.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQSink{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 实现 Publisher。amqp channel 不是并发安全的，发布需串行。
func (q *RabbitMQSink) Publish(ctx context.Context, ev Event) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitFailure, "RabbitMQ 队列未初始化")
	}
	raw, err := marshal(ev)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Type:        string(ev.Type),
		Body:        raw,
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Consume 实现 Subscriber，使用手动确认模式。
func (q *RabbitMQSink) Consume(ctx context.Context, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitFailure, "RabbitMQ 队列未初始化")
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "订阅 RabbitMQ 队列失败")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if ev, err := unmarshal(msg.Body); err == nil {
				_ = handler(ctx, ev)
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQSink) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
