package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	// StateChangeChannel is the Redis pub/sub channel for status changes
	StateChangeChannel = "pipeline:state_changes"

	// SubjectPrefix prefixes NATS subjects; the entity type is appended
	SubjectPrefix = "pipeline.events."
)

// RedisPublisher publishes status change events to Redis pub/sub
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher creates a new Redis event publisher
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{
		client: client,
	}
}

// Publish publishes a status transition event to Redis
func (p *RedisPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Marshal event to JSON
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Publish to Redis channel
	if err := p.client.Publish(ctx, StateChangeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	return nil
}

// Subscribe delivers status change events to handler until ctx is done.
// Malformed payloads and handler errors are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, handler func(TransitionEvent) error) error {
	pubsub := p.client.Subscribe(ctx, StateChangeChannel)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event TransitionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			_ = handler(event)
		}
	}
}

// NATSPublisher publishes status change events to NATS subjects
// "pipeline.events.pipeline_run" and "pipeline.events.node"
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher creates a new NATS event publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish publishes a status transition event to NATS
func (p *NATSPublisher) Publish(event TransitionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(SubjectPrefix+event.EntityType, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	return nil
}

// MultiPublisher publishes to multiple publishers
type MultiPublisher struct {
	publishers []EventPublisher
}

// NewMultiPublisher creates a publisher that publishes to multiple publishers
func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
	}
}

// Publish publishes to all publishers, continuing past failures, and
// returns the joined errors
func (p *MultiPublisher) Publish(event TransitionEvent) error {
	var errs []error
	for _, publisher := range p.publishers {
		if err := publisher.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
