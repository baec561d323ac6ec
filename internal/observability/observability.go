package observability

import (
	"context"

	"genie/internal/config"
)

// Observability bundles the metrics collector and tracer so wiring passes
// one handle around.
type Observability struct {
	Metrics *Metrics
	Tracer  *TracerProvider
}

// New builds both collectors from telemetry config.
func New(cfg config.TelemetryConfig, version string) (*Observability, error) {
	metrics, err := NewMetrics(cfg.MetricsEnabled)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracerProvider(cfg, version)
	if err != nil {
		return nil, err
	}
	return &Observability{Metrics: metrics, Tracer: tracer}, nil
}

// Shutdown flushes metrics and spans.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var first error
	if o.Tracer != nil {
		if err := o.Tracer.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if o.Metrics != nil {
		if err := o.Metrics.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
