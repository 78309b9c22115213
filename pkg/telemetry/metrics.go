package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts describes an instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
	// Buckets overrides histogram bucket boundaries
	Buckets []float64
}

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Counter is a monotonic int64 counter
type Counter struct {
	inner metric.Int64Counter
}

// NewCounter creates a counter on the global meter provider
func NewCounter(opts MetricOpts) (*Counter, error) {
	c, err := meter().Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", opts.Name, err)
	}
	return &Counter{inner: c}, nil
}

// Add increments the counter by n
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.inner.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Inc increments the counter by one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram records float64 observations
type Histogram struct {
	inner metric.Float64Histogram
}

// NewHistogram creates a histogram on the global meter provider
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	options := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Buckets) > 0 {
		options = append(options, metric.WithExplicitBucketBoundaries(opts.Buckets...))
	}
	h, err := meter().Float64Histogram(opts.Name, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{inner: h}, nil
}

// Record adds an observation
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.inner.Record(ctx, v, metric.WithAttributes(attrs...))
}

// UpDownCounter tracks a value that can go up and down
type UpDownCounter struct {
	inner metric.Int64UpDownCounter
}

// NewUpDownCounter creates an up-down counter on the global meter provider
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	u, err := meter().Int64UpDownCounter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up-down counter %s: %w", opts.Name, err)
	}
	return &UpDownCounter{inner: u}, nil
}

// Add changes the value by n
func (u *UpDownCounter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if u == nil {
		return
	}
	u.inner.Add(ctx, n, metric.WithAttributes(attrs...))
}
