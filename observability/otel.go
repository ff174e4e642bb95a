package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// OTelFactory adapts an OpenTelemetry meter to MetricFactory. Instrument
// creation errors fall back to no-op instruments and are reported through
// the meter provider's error handler.
type OTelFactory struct {
	meter metric.Meter
}

// NewOTelFactory wraps meter.
func NewOTelFactory(meter metric.Meter) *OTelFactory {
	return &OTelFactory{meter: meter}
}

// Counter implements MetricFactory.
func (f *OTelFactory) Counter(name string) Counter {
	c, err := f.meter.Float64Counter(name)
	if err != nil {
		return noopCounter{}
	}
	return otelCounter{c}
}

// Histogram implements MetricFactory.
func (f *OTelFactory) Histogram(name string) Histogram {
	h, err := f.meter.Float64Histogram(name)
	if err != nil {
		return noopHistogram{}
	}
	return otelHistogram{h}
}

type otelCounter struct{ c metric.Float64Counter }

func (o otelCounter) Inc()          { o.c.Add(context.Background(), 1) }
func (o otelCounter) Add(v float64) { o.c.Add(context.Background(), v) }

type otelHistogram struct{ h metric.Float64Histogram }

func (o otelHistogram) Observe(v float64) { o.h.Record(context.Background(), v) }

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}
