// Package events publishes inference run lifecycle events to external sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// Event types.
const (
	TypeLayerComputed = "inference.layer_computed"
	TypeRunCompleted  = "inference.run_completed"
	TypeRunFailed     = "inference.run_failed"
)

const source = "layerinfer"

// RunEvent describes one step of a run.
type RunEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	ModelID    string    `json:"model_id"`
	Generation uint64    `json:"generation"`
	State      string    `json:"state"`
	Layer      int       `json:"layer"`
	Digest     string    `json:"digest,omitempty"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers an event to one destination.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// FanOut delivers every event to all publishers. Publishing fails only when every publisher
// fails.
type FanOut struct {
	publishers []namedPublisher
	log        *zap.Logger
}

type namedPublisher struct {
	name string
	Publisher
}

// NewFanOut creates an empty fan-out.
func NewFanOut(log *zap.Logger) *FanOut {
	return &FanOut{log: log}
}

// Add registers a publisher under a backend name used in logs and metrics.
func (f *FanOut) Add(name string, p Publisher) *FanOut {
	f.publishers = append(f.publishers, namedPublisher{name: name, Publisher: p})
	return f
}

// Len returns the number of registered publishers.
func (f *FanOut) Len() int {
	return len(f.publishers)
}

// Publish sends event to every publisher on its type's topic.
func (f *FanOut) Publish(ctx context.Context, event *RunEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return f.PublishEvent(ctx, event.Type, event)
}

// PublishEvent implements Publisher.
func (f *FanOut) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	var lastErr error
	successCount := 0

	for _, p := range f.publishers {
		if err := p.PublishEvent(ctx, topic, event); err != nil {
			metrics.EventsPublished.WithLabelValues(p.name, "error").Inc()
			f.log.Error("failed to publish event",
				zap.String("backend", p.name),
				zap.String("topic", topic),
				zap.Error(err))
			lastErr = err
			continue
		}
		metrics.EventsPublished.WithLabelValues(p.name, "ok").Inc()
		successCount++
	}

	f.log.Debug("published run event",
		zap.String("topic", topic),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(f.publishers)))

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	log    *zap.Logger
}

// NewKafkaPublisher creates a publisher writing to topic. The event type becomes the message key.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		topic: topic,
		log:   log,
	}
}

// PublishEvent implements Publisher.
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := topic
	if e, ok := event.(*RunEvent); ok && e.SessionID != "" {
		// keeps one session's events in order on a single partition
		key = e.SessionID
	}

	k.log.Debug("publishing event to kafka",
		zap.String("topic", k.topic),
		zap.String("event_type", topic),
		zap.Int("event_size", len(data)))

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "source", Value: []byte(source)},
		},
	})
}

// Close flushes pending messages.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// RedisPublisher appends events to Redis streams named layerinfer.events.<topic>.
type RedisPublisher struct {
	client *redis.Client
	maxLen int64
	log    *zap.Logger
}

// NewRedisPublisher connects to addr.
func NewRedisPublisher(addr string, log *zap.Logger) *RedisPublisher {
	return NewRedisPublisherFromClient(redis.NewClient(&redis.Options{Addr: addr}), log)
}

// NewRedisPublisherFromClient uses an existing client.
func NewRedisPublisherFromClient(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: 10000, log: log}
}

// StreamKey returns the stream an event type is appended to.
func StreamKey(topic string) string {
	return "layerinfer.events." + topic
}

// PublishEvent implements Publisher.
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	stream := StreamKey(topic)
	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"event_type": topic,
			"data":       string(data),
			"timestamp":  strconv.FormatInt(time.Now().UnixMilli(), 10),
			"source":     source,
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published event to redis stream",
		zap.String("stream", stream),
		zap.String("message_id", result.Val()))
	return nil
}

// Close closes the client.
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

// WebhookPublisher posts events to an HTTP endpoint.
type WebhookPublisher struct {
	url    string
	client *resty.Client
	log    *zap.Logger
}

// NewWebhookPublisher creates a publisher posting to url.
func NewWebhookPublisher(url string, timeout time.Duration, log *zap.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookPublisher{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Source", source),
		log: log,
	}
}

// PublishEvent implements Publisher.
func (w *WebhookPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", topic).
		SetBody(map[string]interface{}{
			"topic":     topic,
			"event":     event,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"source":    source,
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode())
	}

	w.log.Debug("sent webhook",
		zap.String("url", w.url),
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}
