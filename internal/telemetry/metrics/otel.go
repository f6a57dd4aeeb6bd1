package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures the OpenTelemetry backend. When Reader is
// nil a zero-config SDK MeterProvider is created; embedders that already run
// an OTEL pipeline pass their own reader in.
type OTelProviderOptions struct {
	ServiceName string
	Reader      sdkmetric.Reader
}

// NewOTelProvider bridges the Provider interface onto the OTEL metric API.
// Gauges are emulated with an UpDownCounter tracking the delta from the last
// Set, which is the usual OTEL workaround for synchronous gauges.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	var mp *sdkmetric.MeterProvider
	if opts.Reader != nil {
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(opts.Reader))
	} else {
		mp = sdkmetric.NewMeterProvider()
	}
	name := opts.ServiceName
	if name == "" {
		name = "gatehouse"
	}
	return &otelProvider{meter: mp.Meter(name)}
}

type otelProvider struct {
	meter metric.Meter
}

func otelName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "." + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "." + name
	}
	return name
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst, keys: opts.Labels}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst, keys: opts.Labels}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	inst, err := p.meter.Float64Histogram(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst, keys: opts.Labels}
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

func attrs(keys, values []string) []metric.AddOption {
	n := min(len(keys), len(values))
	if n == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		kvs = append(kvs, attribute.String(keys[i], values[i]))
	}
	return []metric.AddOption{metric.WithAttributes(kvs...)}
}

func recordAttrs(keys, values []string) []metric.RecordOption {
	n := min(len(keys), len(values))
	if n == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		kvs = append(kvs, attribute.String(keys[i], values[i]))
	}
	return []metric.RecordOption{metric.WithAttributes(kvs...)}
}

type otelCounter struct {
	c    metric.Float64Counter
	keys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.c.Add(context.Background(), delta, attrs(c.keys, labels)...)
}

type otelGauge struct {
	g    metric.Float64UpDownCounter
	keys []string

	mu   sync.Mutex
	last float64
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	diff := v - g.last
	g.last = v
	g.mu.Unlock()
	if diff != 0 {
		g.g.Add(context.Background(), diff, attrs(g.keys, labels)...)
	}
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.mu.Lock()
	g.last += delta
	g.mu.Unlock()
	g.g.Add(context.Background(), delta, attrs(g.keys, labels)...)
}

type otelHistogram struct {
	h    metric.Float64Histogram
	keys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, recordAttrs(h.keys, labels)...)
}
