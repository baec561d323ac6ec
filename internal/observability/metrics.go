// Package observability wires metrics and tracing for the genie binaries.
// Metrics flow through the OpenTelemetry meter into a Prometheus exporter
// that the HTTP server mounts at /metrics; tracing exports spans over OTLP
// or to Zipkin. A disabled config yields no-op collectors so call sites
// never branch.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the assistant's counters and histograms. The zero value is
// a no-op collector.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	utterances       metric.Int64Counter
	utteranceLatency metric.Float64Histogram
	actionsApplied   metric.Int64Counter
	llmCalls         metric.Int64Counter
	llmLatency       metric.Float64Histogram
	placements       metric.Int64Counter
	httpRequests     metric.Int64Counter
	httpLatency      metric.Float64Histogram
}

// NewMetrics builds the collector. enabled=false returns a no-op.
func NewMetrics(enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("genie")

	m := &Metrics{meter: meter, provider: provider}

	if m.utterances, err = meter.Int64Counter(
		"genie.utterances.total",
		metric.WithDescription("Utterances handled"),
		metric.WithUnit("{utterance}"),
	); err != nil {
		return nil, fmt.Errorf("create utterances counter: %w", err)
	}
	if m.utteranceLatency, err = meter.Float64Histogram(
		"genie.utterance.latency",
		metric.WithDescription("End-to-end utterance latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create utterance latency histogram: %w", err)
	}
	if m.actionsApplied, err = meter.Int64Counter(
		"genie.actions.applied.total",
		metric.WithDescription("Actions applied to task lists"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}
	if m.llmCalls, err = meter.Int64Counter(
		"genie.llm.calls.total",
		metric.WithDescription("Completion calls by prompt"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("create llm calls counter: %w", err)
	}
	if m.llmLatency, err = meter.Float64Histogram(
		"genie.llm.latency",
		metric.WithDescription("Completion call latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create llm latency histogram: %w", err)
	}
	if m.placements, err = meter.Int64Counter(
		"genie.scheduler.placements.total",
		metric.WithDescription("Calendar placement attempts by outcome"),
		metric.WithUnit("{placement}"),
	); err != nil {
		return nil, fmt.Errorf("create placements counter: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(
		"genie.http.requests.total",
		metric.WithDescription("HTTP requests by route and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create http requests counter: %w", err)
	}
	if m.httpLatency, err = meter.Float64Histogram(
		"genie.http.latency",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create http latency histogram: %w", err)
	}
	return m, nil
}

// Handler exposes the Prometheus scrape endpoint; the HTTP server mounts
// it at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promclient.Handler()
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordUtterance counts one handled utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, latency time.Duration) {
	if m.utterances == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.utterances.Add(ctx, 1, attrs)
	m.utteranceLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordAction counts one applied (or rejected) action.
func (m *Metrics) RecordAction(ctx context.Context, kind string, ok bool) {
	if m.actionsApplied == nil {
		return
	}
	m.actionsApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("ok", ok),
	))
}

// RecordLLMCall counts one completion call.
func (m *Metrics) RecordLLMCall(ctx context.Context, prompt, status string, latency time.Duration) {
	if m.llmCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("prompt", prompt),
		attribute.String("status", status),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordPlacement counts one scheduler outcome: scheduled, advisory, or
// failed.
func (m *Metrics) RecordPlacement(ctx context.Context, outcome string) {
	if m.placements == nil {
		return
	}
	m.placements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int, latency time.Duration) {
	if m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, latency.Seconds(), attrs)
}
