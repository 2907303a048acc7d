package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"RegimeWatch/internal/domain/service"
)

// KafkaPublisher is satisfied by pkg/kafka.Producer.
type KafkaPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaNotifier publishes notifications keyed by date so replays of one
// date land on the same partition.
type KafkaNotifier struct {
	producer KafkaPublisher
	topic    string
}

func NewKafkaNotifier(p KafkaPublisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, topic: topic}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, n service.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return k.producer.Publish(ctx, k.topic, []byte(n.Date), b)
}

// SubjectPublisher is satisfied by pkg/nats.Client.
type SubjectPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type NATSNotifier struct {
	client  SubjectPublisher
	subject string
}

func NewNATSNotifier(c SubjectPublisher, subject string) *NATSNotifier {
	return &NATSNotifier{client: c, subject: subject}
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, msg service.Notification) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.client.Publish(ctx, n.subject, b)
}

// QueuePublisher is satisfied by pkg/queue.RedisQueue.
type QueuePublisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// MessageTypeAlert is the queue message type for alert notifications.
const MessageTypeAlert = "regime_alert"

// RedisNotifier pushes notifications onto a redis list for downstream workers.
type RedisNotifier struct {
	queue QueuePublisher
}

func NewRedisNotifier(q QueuePublisher) *RedisNotifier {
	return &RedisNotifier{queue: q}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, n service.Notification) error {
	return r.queue.PublishMessage(ctx, MessageTypeAlert, n)
}
