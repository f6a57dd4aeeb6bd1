package gatehouse

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"

	"gatehouse/internal/evaluation"
	"gatehouse/internal/events"
	"gatehouse/internal/hashing"
	"gatehouse/internal/idlists"
	"gatehouse/internal/netclient"
	"gatehouse/internal/specs"
	"gatehouse/internal/specstore"
	"gatehouse/internal/specsync"
	"gatehouse/internal/registry"
	"gatehouse/internal/telemetry/logging"
	"gatehouse/internal/telemetry/metrics"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// providerRegistry shares one metrics provider across clients built from the
// same SDK key, so duplicate construction does not duplicate collectors.
var providerRegistry = registry.New[metrics.Provider]()

// Client wires the evaluator, spec store, adapters and event pipeline behind
// one facade. Construct with NewClient, call Initialize once, Shutdown once.
type Client struct {
	sdkKey    string
	hashedKey string
	sessionID string
	opts      Options

	log     *logging.Logger
	metrics metrics.Provider
	clock   clock.Clock

	store       *specstore.Store
	idListStore *idlists.Store

	specsAdapter   SpecsAdapter
	idListsAdapter IDListsAdapter

	pipelineCfg *events.PipelineConfig
	logger      *events.Logger

	environment *Environment
	override    evaluation.OverrideHook

	initialized atomic.Bool
	closed      atomic.Bool
}

// NewClient constructs a client with default options.
func NewClient(sdkKey string) (*Client, error) {
	return NewClientWithOptions(sdkKey, &Options{})
}

func NewClientWithOptions(sdkKey string, opts *Options) (*Client, error) {
	if sdkKey == "" {
		return nil, fmt.Errorf("sdk key required")
	}
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	o.normalize()

	c := &Client{
		sdkKey:    sdkKey,
		hashedKey: hashing.Sha256Hex(sdkKey),
		sessionID: uuid.NewString(),
		opts:      o,
		log:       logging.New(o.OutputLogLevel),
		clock:     clock.New(),
	}
	c.metrics = c.acquireMetricsProvider()

	if o.Environment != "" {
		c.environment = &Environment{Tier: o.Environment}
	}

	c.pipelineCfg = &events.PipelineConfig{}
	c.store = specstore.New(c.log, c.metrics, c.onRulesetSwap)
	c.idListStore = idlists.NewStore(c.log)

	net := netclient.New(netclient.Options{
		SDKKey:         sdkKey,
		SessionID:      c.sessionID,
		DisableNetwork: o.DisableNetwork,
		Log:            c.log,
		Clock:          c.clock,
	})

	c.specsAdapter = o.SpecsAdapter
	if c.specsAdapter == nil {
		c.specsAdapter = c.buildSpecsAdapter(net)
	}

	c.idListsAdapter = o.IDListsAdapter
	if c.idListsAdapter == nil && o.EnableIDLists {
		c.idListsAdapter = idlists.NewHTTPAdapter(idlists.HTTPAdapterOptions{
			Net:          net,
			ManifestURL:  o.IDListsURL,
			SyncInterval: o.IDListsSyncInterval,
			Log:          c.log,
			Clock:        c.clock,
		})
	}

	transport := o.EventLoggingAdapter
	if transport == nil {
		transport = &httpEventLoggingAdapter{net: net, url: o.LogEventURL}
	}

	queue := events.NewQueue(o.EventQueueSize, o.EventMaxPendingBatches)
	c.logger = events.NewLogger(events.LoggerOptions{
		Queue:             queue,
		Sampler:           events.NewSampler(c.pipelineCfg, c.clock),
		Transport:         transport,
		Log:               c.log,
		Metrics:           c.metrics,
		Clock:             c.clock,
		SDKType:           netclient.SDKType,
		SDKVersion:        netclient.SDKVersion,
		SessionID:         c.sessionID,
		FlushInterval:     o.EventFlushInterval,
		MaxRetries:        o.EventMaxLogRetries,
		DisableAllLogging: o.DisableAllLogging,
	})

	if o.OverrideAdapter != nil {
		c.override = &overrideShim{adapter: o.OverrideAdapter}
	}

	if o.ObservabilityClient != nil {
		if err := o.ObservabilityClient.Init(); err != nil {
			c.log.Warn("observability client init failed", "err", err)
		}
	}
	return c, nil
}

func (c *Client) acquireMetricsProvider() metrics.Provider {
	return providerRegistry.Acquire(c.hashedKey, func() metrics.Provider {
		if c.opts.ObservabilityClient != nil {
			return &obsProvider{client: c.opts.ObservabilityClient}
		}
		switch c.opts.MetricsBackend {
		case "", "prom", "prometheus":
			return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		case "otel", "opentelemetry":
			return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "gatehouse"})
		default:
			return metrics.NewNoopProvider()
		}
	})
}

func (c *Client) buildSpecsAdapter(net *netclient.Client) SpecsAdapter {
	specsURL := c.opts.SpecsURL + "/" + c.sdkKey + ".json"
	fallbackURL := ""
	if c.opts.FallbackToStatsigAPI && c.opts.SpecsURL != DefaultSpecsURL {
		fallbackURL = DefaultSpecsURL + "/" + c.sdkKey + ".json"
	}
	polling := specsync.NewPollingAdapter(specsync.PollingAdapterOptions{
		Net:         net,
		URL:         specsURL,
		FallbackURL: fallbackURL,
		Interval:    c.opts.SpecsSyncInterval,
		Log:         c.log,
		Clock:       c.clock,
	})
	if !c.opts.EnableStreaming {
		return polling
	}
	return specsync.NewStreamingAdapter(specsync.StreamingAdapterOptions{
		SDKKey:            c.sdkKey,
		URL:               c.opts.StreamingURL,
		Fallback:          polling,
		FallbackThreshold: c.opts.StreamingFallbackThreshold,
		Log:               c.log,
		Clock:             c.clock,
	})
}

// MetricsHandler exposes the internal prometheus registry, or nil when a
// different backend is active.
func (c *Client) MetricsHandler() http.Handler {
	if hp, ok := c.metrics.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// storeListener adapts the spec store to the adapter-facing listener.
type storeListener struct{ store *specstore.Store }

func (l storeListener) DidReceiveSpecsUpdate(update SpecsUpdate) error {
	return l.store.SetValues(update)
}

func (l storeListener) CurrentInfo() (int64, string) {
	lcut, checksum, _ := l.store.Info()
	return lcut, checksum
}

// onRulesetSwap fans a newly installed ruleset out to the event pipeline and
// the data store. Runs outside the store's write lock.
func (c *Client) onRulesetSwap(snap specstore.Snapshot, update specs.Update) {
	if snap.Values.SDKConfigs != nil {
		c.pipelineCfg.AdoptSDKConfigs(snap.Values.SDKConfigs)
		if ms := snap.Values.SDKConfigs.EventFlushIntervalMS; ms != nil {
			c.logger.SetFlushInterval(time.Duration(*ms) * time.Millisecond)
		}
	}
	if c.opts.DataStore != nil && update.Source == specs.SourceNetwork {
		data := append([]byte(nil), update.Data...)
		lcut := snap.LCUT()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.opts.DataStore.Set(ctx, c.dataStoreKey(), data, lcut); err != nil {
				c.log.Warn("data store persist failed", "err", err)
			}
		}()
	}
}

func (c *Client) dataStoreKey() string {
	return "gatehouse/specs/" + c.hashedKey
}

// Initialize pulls the first ruleset (falling back to the data store when the
// network cannot deliver one), starts background refreshes and the event
// flush scheduler. An error is returned when no ruleset could be acquired
// before the init timeout; the client still works, serving defaults, and
// background syncs keep trying.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.initialized.CompareAndSwap(false, true) {
		return nil
	}
	c.store.SetSource(specs.SourceLoading)

	listener := storeListener{store: c.store}
	c.specsAdapter.Initialize(listener)

	initCtx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	startErr := c.specsAdapter.Start(initCtx)
	if startErr != nil {
		if c.bootstrapFromDataStore(initCtx) {
			startErr = nil
		}
	}
	if startErr != nil {
		c.store.SetSource(specs.SourceNoValues)
	}
	c.specsAdapter.ScheduleBackgroundSync()

	if c.idListsAdapter != nil {
		c.idListsAdapter.Initialize(c.idListStore)
		if err := c.idListsAdapter.Start(initCtx); err != nil {
			c.log.Warn("id list sync failed during initialize", "err", err)
		}
		c.idListsAdapter.ScheduleBackgroundSync()
	}

	c.logger.Start()

	if startErr != nil {
		return fmt.Errorf("initialize: no ruleset acquired: %w", startErr)
	}
	return nil
}

// bootstrapFromDataStore adopts cached bytes when the network failed.
func (c *Client) bootstrapFromDataStore(ctx context.Context) bool {
	if c.opts.DataStore == nil {
		return false
	}
	data, err := c.opts.DataStore.Get(ctx, c.dataStoreKey())
	if err != nil || len(data) == 0 {
		return false
	}
	err = c.store.SetValues(specs.Update{
		Data:       data,
		Source:     specs.SourceDataAdapter,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		c.log.Warn("data store bootstrap rejected", "err", err)
		return false
	}
	c.log.Info("bootstrapped ruleset from data store")
	return true
}

// FlushEvents synchronously drains the event queue.
func (c *Client) FlushEvents(ctx context.Context) error {
	return c.logger.FlushAll(ctx)
}

// Shutdown stops background tasks and drains remaining events under the
// context deadline. After it returns (even with an error) no further events
// are transmitted.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs *multierror.Error

	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 {
			deadline = remaining
		}
	}

	if err := c.specsAdapter.Shutdown(deadline); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("specs adapter: %w", err))
	}
	if c.idListsAdapter != nil {
		if err := c.idListsAdapter.Shutdown(deadline); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("id lists adapter: %w", err))
		}
	}
	if err := c.logger.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("event logger: %w", err))
	}

	providerRegistry.Release(c.hashedKey, nil)
	return errs.ErrorOrNil()
}

// httpEventLoggingAdapter posts gzip-compressed batches to the log-event
// endpoint. Retrying across attempts belongs to the event logger; each call
// here is a single attempt.
type httpEventLoggingAdapter struct {
	net *netclient.Client
	url string
}

func (a *httpEventLoggingAdapter) LogEvents(ctx context.Context, request LogEventRequest) (bool, error) {
	body, err := jsonCodec.Marshal(request)
	if err != nil {
		return false, err
	}
	resp, err := a.net.Send(ctx, netclient.RequestArgs{
		Method:   http.MethodPost,
		URL:      a.url,
		Body:     body,
		GzipBody: true,
	})
	if err != nil {
		return false, err
	}
	return resp.Status >= 200 && resp.Status < 300, nil
}

// obsProvider bridges an embedder ObservabilityClient onto the internal
// metrics contract.
type obsProvider struct{ client ObservabilityClient }

func (p *obsProvider) NewCounter(opts metrics.CounterOpts) metrics.Counter {
	return obsInstrument{client: p.client, name: obsName(opts.CommonOpts), labels: opts.Labels}
}

func (p *obsProvider) NewGauge(opts metrics.GaugeOpts) metrics.Gauge {
	return obsInstrument{client: p.client, name: obsName(opts.CommonOpts), labels: opts.Labels}
}

func (p *obsProvider) NewHistogram(opts metrics.HistogramOpts) metrics.Histogram {
	return obsInstrument{client: p.client, name: obsName(opts.CommonOpts), labels: opts.Labels}
}

func (p *obsProvider) Health(context.Context) error { return nil }

func obsName(c metrics.CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "." + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "." + name
	}
	return name
}

type obsInstrument struct {
	client ObservabilityClient
	name   string
	labels []string
}

func (i obsInstrument) tags(values []string) map[string]string {
	n := min(len(i.labels), len(values))
	if n == 0 {
		return nil
	}
	tags := make(map[string]string, n)
	for j := 0; j < n; j++ {
		tags[i.labels[j]] = values[j]
	}
	return tags
}

func (i obsInstrument) Inc(delta float64, labels ...string) {
	i.client.Increment(i.name, delta, i.tags(labels))
}

func (i obsInstrument) Set(v float64, labels ...string) {
	i.client.Gauge(i.name, v, i.tags(labels))
}

func (i obsInstrument) Add(delta float64, labels ...string) {
	i.client.Gauge(i.name, delta, i.tags(labels))
}

func (i obsInstrument) Observe(v float64, labels ...string) {
	i.client.Distribution(i.name, v, i.tags(labels))
}
