// Package events publishes tenancy lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	// Topic carries every tenancy lifecycle event
	Topic = "tenancy-events"

	TypeTenantProvisioned = "tenant.provisioned"
	TypeSessionRevoked    = "session.revoked"
)

// ErrQueueFull is returned when the publish buffer has no room; the event is dropped
var ErrQueueFull = errors.New("event queue full, event dropped")

// ErrClosed is returned after Close
var ErrClosed = errors.New("publisher closed")

// Event is one lifecycle notification. Org is the partition key.
type Event struct {
	Type       string            `json:"type"`
	Org        string            `json:"org"`
	Subject    string            `json:"subject,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher is best effort: a failed publish never undoes the operation that produced it
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events and writes them from a fixed worker pool
type KafkaPublisher struct {
	writer       MessageWriter
	queue        chan Event
	workerCount  int
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewKafkaPublisher creates a publisher writing to broker
func NewKafkaPublisher(broker string) *KafkaPublisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}, 4, 256)
}

// NewPublisherWithWriter starts workers over an existing writer
func NewPublisherWithWriter(w MessageWriter, workers, buffer int) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:       w,
		queue:        make(chan Event, buffer),
		workerCount:  workers,
		writeTimeout: 5 * time.Second,
	}
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logrus.WithField("workers", p.workerCount).Info("Event publisher started")
	return p
}

func (p *KafkaPublisher) worker(id int) {
	defer p.wg.Done()
	for e := range p.queue {
		if err := p.write(e); err != nil {
			logrus.WithFields(logrus.Fields{
				"worker": id,
				"type":   e.Type,
				"org":    e.Org,
				"error":  err,
			}).Warn("Failed to publish event")
		}
	}
}

// Publish queues e without blocking
func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *KafkaPublisher) write(e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Org),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "tenant_org", Value: []byte(e.Org)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close stops accepting events, drains the queue and closes the writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	logrus.Info("Event publisher stopped")
	return nil
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

// FromBroker returns a Kafka publisher, or a NopPublisher when broker is empty
func FromBroker(broker string) Publisher {
	if broker == "" {
		logrus.Warn("KAFKA_BROKER not set, lifecycle events disabled")
		return NopPublisher{}
	}
	return NewKafkaPublisher(broker)
}
