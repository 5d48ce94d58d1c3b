package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type (
	// Handler records counters and timers for one instrumented component.
	Handler interface {
		Counter(name string) Counter
		Timer(name string) Timer
	}

	Counter interface {
		Inc(delta int64)
	}

	Timer interface {
		Record(d time.Duration)
	}

	// MetricsHandlerOptions configures a Handler.
	MetricsHandlerOptions struct {
		// InitialAttributes are attached to every recorded value.
		InitialAttributes attribute.Set
	}

	otelHandler struct {
		meter metric.Meter
		attrs attribute.Set

		mu       sync.Mutex
		counters map[string]metric.Int64Counter
		timers   map[string]metric.Float64Histogram
	}

	otelCounter struct {
		counter metric.Int64Counter
		attrs   attribute.Set
	}

	otelTimer struct {
		histogram metric.Float64Histogram
		attrs     attribute.Set
	}

	nopHandler struct{}
	nopCounter struct{}
	nopTimer   struct{}
)

// NewMetricsHandler returns a Handler backed by the global otel meter
// provider.
func NewMetricsHandler(options MetricsHandlerOptions) Handler {
	return &otelHandler{
		meter:    otel.Meter("material-providers"),
		attrs:    options.InitialAttributes,
		counters: make(map[string]metric.Int64Counter),
		timers:   make(map[string]metric.Float64Histogram),
	}
}

// NopHandler records nothing. Used where metrics are not configured.
var NopHandler Handler = nopHandler{}

func (h *otelHandler) Counter(name string) Counter {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.counters[name]
	if !ok {
		var err error
		c, err = h.meter.Int64Counter(name)
		if err != nil {
			return nopCounter{}
		}
		h.counters[name] = c
	}
	return otelCounter{counter: c, attrs: h.attrs}
}

func (h *otelHandler) Timer(name string) Timer {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.timers[name]
	if !ok {
		var err error
		t, err = h.meter.Float64Histogram(name, metric.WithUnit("s"))
		if err != nil {
			return nopTimer{}
		}
		h.timers[name] = t
	}
	return otelTimer{histogram: t, attrs: h.attrs}
}

func (c otelCounter) Inc(delta int64) {
	c.counter.Add(context.Background(), delta, metric.WithAttributeSet(c.attrs))
}

func (t otelTimer) Record(d time.Duration) {
	t.histogram.Record(context.Background(), d.Seconds(), metric.WithAttributeSet(t.attrs))
}

func (nopHandler) Counter(string) Counter { return nopCounter{} }
func (nopHandler) Timer(string) Timer     { return nopTimer{} }
func (nopCounter) Inc(int64)              {}
func (nopTimer) Record(time.Duration)     {}
