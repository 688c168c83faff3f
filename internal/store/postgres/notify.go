package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"genplane/internal/events"

	"github.com/lib/pq"
)

// DefaultEventChannel is the LISTEN/NOTIFY channel for job events.
const DefaultEventChannel = "genplane_job_events"

// Notifier publishes job events with pg_notify so controllers in other
// processes can relay them onto their bus.
type Notifier struct {
	store   *Store
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a notifier on the store's connection pool.
func NewNotifier(s *Store, channel string, logger *slog.Logger) *Notifier {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &Notifier{store: s, channel: channel, logger: logger}
}

// Emit sends e as a notification. Failures are logged; pollers still see the
// persisted job state.
func (n *Notifier) Emit(e events.Event) {
	payload, err := e.Marshal()
	if err != nil {
		n.logger.Error("encode job event", "job_id", e.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := n.store.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel, string(payload)); err != nil {
		n.logger.Error("notify job event", "job_id", e.JobID, "kind", e.Kind, "error", err)
	}
}

// Relay listens on the event channel and forwards every notification to an
// in-process emitter.
type Relay struct {
	dsn     string
	channel string
	target  events.Emitter
	logger  *slog.Logger
}

// NewRelay creates a relay that opens its own listener connection to dsn.
func NewRelay(dsn, channel string, target events.Emitter, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &Relay{dsn: dsn, channel: channel, target: target, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	listener := pq.NewListener(r.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			r.logger.Warn("event listener connection", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(r.channel); err != nil {
		return fmt.Errorf("listen %s: %w", r.channel, err)
	}
	r.logger.Info("postgres event relay listening", "channel", r.channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; events sent meanwhile are lost and
			// observers fall back to the job snapshot.
			if n == nil {
				continue
			}
			r.forward(n.Extra)
		case <-time.After(90 * time.Second):
			go listener.Ping()
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
