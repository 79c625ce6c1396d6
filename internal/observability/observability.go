// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for Piston API traffic and the HTTP gateway. Every component is optional and
// nil-safe: when a feature is disabled its wrappers pass calls straight through.
package observability

import (
	"context"
	"fmt"

	"github.com/michaelbrown/piston-go/internal/config"
	"github.com/michaelbrown/piston-go/piston"
)

// Observability holds the enabled components. Any field may be nil.
type Observability struct {
	Metrics *Metrics
	Tracer  *TracerSetup
}

// New creates the components enabled in cfg.
func New(cfg *config.Config) (*Observability, error) {
	obs := &Observability{}
	if cfg == nil {
		return obs, nil
	}

	if cfg.Metrics.Enabled {
		obs.Metrics = NewMetrics()
	}

	if cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(&cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	return obs, nil
}

// WrapTransport decorates t with the enabled instrumentation. Metrics wrap
// the tracing layer so that recorded durations include span overhead.
func (o *Observability) WrapTransport(t piston.Transport) piston.Transport {
	if o == nil {
		return t
	}
	if o.Tracer != nil {
		t = TracingTransport(t, o.Tracer.Tracer())
	}
	if o.Metrics != nil {
		t = MetricsTransport(t, o.Metrics)
	}
	return t
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Tracer.Shutdown(ctx)
}
