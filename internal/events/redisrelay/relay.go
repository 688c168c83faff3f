// Package redisrelay carries job lifecycle events between processes over
// Redis pub/sub. Workers publish; the controller subscribes and re-emits
// every message on its in-process bus.
package redisrelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"genplane/internal/events"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used for job events.
const DefaultChannel = "genplane:job-events"

// Publisher implements events.Emitter on top of Redis PUBLISH.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewPublisher creates a publisher on the given client.
func NewPublisher(client *redis.Client, channel string, logger *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, logger: logger}
}

// Emit publishes e. Failures are logged; observers fall back to polling.
func (p *Publisher) Emit(e events.Event) {
	payload, err := e.Marshal()
	if err != nil {
		p.logger.Error("encode job event", "job_id", e.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Error("publish job event", "job_id", e.JobID, "kind", e.Kind, "error", err)
	}
}

// Relay subscribes to the channel and forwards events to an emitter.
type Relay struct {
	client  *redis.Client
	channel string
	target  events.Emitter
	logger  *slog.Logger
}

// NewRelay creates a relay that forwards into target.
func NewRelay(client *redis.Client, channel string, target events.Emitter, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, target: target, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("redis event relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg.Payload)
		}
	}
}

func (r *Relay) forward(payload string) {
	e, err := events.Unmarshal([]byte(payload))
	if err != nil {
		r.logger.Warn("dropping malformed job event", "error", err)
		return
	}
	r.target.Emit(e)
}
