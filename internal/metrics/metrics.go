// Package metrics exports run and sync counters over OTLP/gRPC. When no
// endpoint is configured the no-op recorder keeps the call sites unchanged.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "skiff"
	serviceVersion = "1.0.0"
)

// Config holds OTLP exporter settings.
type Config struct {
	Endpoint string
	Insecure bool
}

// Recorder is the full instrumentation surface consumed across the daemon.
type Recorder interface {
	RunStarted(ctx context.Context)
	RunFinished(ctx context.Context, outcome string)
	MessagesSynced(ctx context.Context, n int)
	SyncError(ctx context.Context)
	EventDispatched(ctx context.Context, eventType string)
	PermissionRequested(ctx context.Context)
	Close(ctx context.Context) error
}

// Exporter records counters against an OTLP collector.
type Exporter struct {
	provider *sdkmetric.MeterProvider

	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	messages     metric.Int64Counter
	syncErrors   metric.Int64Counter
	events       metric.Int64Counter
	permissions  metric.Int64Counter
}

// NewExporter creates the OTLP metrics exporter. Fails when the endpoint is
// unset; callers fall back to NewNoOp.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("metrics.NewExporter: endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	e := &Exporter{provider: provider}

	e.runsStarted, err = meter.Int64Counter(
		"skiff_runs_started_total",
		metric.WithDescription("Worker runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: runs started counter: %w", err)
	}

	e.runsFinished, err = meter.Int64Counter(
		"skiff_runs_finished_total",
		metric.WithDescription("Worker runs finished, by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: runs finished counter: %w", err)
	}

	e.messages, err = meter.Int64Counter(
		"skiff_messages_synced_total",
		metric.WithDescription("Canonical messages produced from the conversation log"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: messages counter: %w", err)
	}

	e.syncErrors, err = meter.Int64Counter(
		"skiff_sync_errors_total",
		metric.WithDescription("Transient conversation sync failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: sync errors counter: %w", err)
	}

	e.events, err = meter.Int64Counter(
		"skiff_events_dispatched_total",
		metric.WithDescription("Events fanned out to listeners"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: events counter: %w", err)
	}

	e.permissions, err = meter.Int64Counter(
		"skiff_permission_requests_total",
		metric.WithDescription("Tool invocations held for human confirmation"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics.NewExporter: permissions counter: %w", err)
	}

	return e, nil
}

func (e *Exporter) RunStarted(ctx context.Context) {
	e.runsStarted.Add(ctx, 1)
}

func (e *Exporter) RunFinished(ctx context.Context, outcome string) {
	e.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (e *Exporter) MessagesSynced(ctx context.Context, n int) {
	e.messages.Add(ctx, int64(n))
}

func (e *Exporter) SyncError(ctx context.Context) {
	e.syncErrors.Add(ctx, 1)
}

func (e *Exporter) EventDispatched(ctx context.Context, eventType string) {
	e.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (e *Exporter) PermissionRequested(ctx context.Context) {
	e.permissions.Add(ctx, 1)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
