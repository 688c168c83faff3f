// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the genplane instruments. A nil *Metrics records nothing.
type Metrics struct {
	meter          otelmetric.Meter
	jobsEnqueued   otelmetric.Int64Counter
	jobsCompleted  otelmetric.Int64Counter
	jobsFailed     otelmetric.Int64Counter
	streamsActive  otelmetric.Int64UpDownCounter
	engineDuration otelmetric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("genplane")
	m := &Metrics{meter: meter}

	var err error
	if m.jobsEnqueued, err = meter.Int64Counter("genplane.jobs.enqueued",
		otelmetric.WithDescription("Jobs enqueued")); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("genplane.jobs.completed",
		otelmetric.WithDescription("Jobs completed")); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("genplane.jobs.failed",
		otelmetric.WithDescription("Jobs failed")); err != nil {
		return nil, err
	}
	if m.streamsActive, err = meter.Int64UpDownCounter("genplane.streams.active",
		otelmetric.WithDescription("Open job event streams")); err != nil {
		return nil, err
	}
	if m.engineDuration, err = meter.Float64Histogram("genplane.engine.duration",
		otelmetric.WithDescription("Engine call latency"),
		otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterQueueDepth reports the number of unfinished jobs on every collection.
func (m *Metrics) RegisterQueueDepth(count func(ctx context.Context) (int64, error)) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("genplane.queue.depth",
		otelmetric.WithDescription("Waiting and active jobs"),
		otelmetric.WithInt64Callback(func(ctx context.Context, o otelmetric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}

func (m *Metrics) JobEnqueued(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", jobType)))
}

func (m *Metrics) JobCompleted(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsCompleted.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", jobType)))
}

func (m *Metrics) JobFailed(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsFailed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", jobType)))
}

func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamsActive.Add(ctx, 1)
}

func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamsActive.Add(ctx, -1)
}

// EngineCall records the latency of one engine request.
func (m *Metrics) EngineCall(ctx context.Context, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.engineDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.Bool("success", ok)))
}
