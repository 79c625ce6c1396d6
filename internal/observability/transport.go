package observability

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaelbrown/piston-go/piston"
)

// endpoint names the API operation from the last path segment, e.g. "execute".
func endpoint(r *http.Request) string {
	return path.Base(r.URL.Path)
}

// MetricsTransport counts and times every exchange. Failed sends are
// counted with status "error".
func MetricsTransport(next piston.Transport, m *Metrics) piston.Transport {
	if m == nil {
		return next
	}
	return piston.TransportFunc(func(r *http.Request) (*http.Response, error) {
		ep := endpoint(r)
		start := time.Now()

		resp, err := next.Do(r)

		m.APIRequestDuration.WithLabelValues(ep).Observe(time.Since(start).Seconds())
		status := "error"
		if err == nil && resp != nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		m.APIRequestsTotal.WithLabelValues(ep, status).Inc()
		return resp, err
	})
}

// TracingTransport wraps every exchange in a client span.
func TracingTransport(next piston.Transport, tracer trace.Tracer) piston.Transport {
	if tracer == nil {
		return next
	}
	return piston.TransportFunc(func(r *http.Request) (*http.Response, error) {
		ctx, span := tracer.Start(r.Context(), "piston."+endpoint(r),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
			))
		defer span.End()

		resp, err := next.Do(r.WithContext(ctx))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}
		if resp == nil {
			span.SetStatus(codes.Error, "no response")
			return nil, nil
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, resp.Status)
		}
		return resp, nil
	})
}
