package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"gatehouse/internal/sdkerr"
	"gatehouse/internal/telemetry/logging"
	"gatehouse/internal/telemetry/metrics"
)

const (
	schedulerTick       = 100 * time.Millisecond
	maxLimitFlushTasks  = 5
	defaultMaxRetries   = 3
	FlushTypeMaxTime    = "scheduled:max_time"
	FlushTypeFullBatch  = "scheduled:full_batch"
	FlushTypeLimit      = "limit"
	FlushTypeManual     = "manual"
	FlushTypeShutdown   = "shutdown"
)

// RequestMetadata is the envelope stamped on every flush payload.
type RequestMetadata struct {
	SDKType           string `json:"sdkType"`
	SDKVersion        string `json:"sdkVersion"`
	SessionID         string `json:"sessionID,omitempty"`
	FlushInterval     int64  `json:"flushInterval"`
	MaxQueueSize      int    `json:"maxQueueSize"`
	MaxPendingBatches int    `json:"maxPendingBatches"`
	FlushType         string `json:"flushType"`
}

// Request is one log_events call.
type Request struct {
	Events          []Event         `json:"events"`
	StatsigMetadata RequestMetadata `json:"statsigMetadata"`
}

// Transport ships one batch. Ok(false) and errors are both failures; only the
// error's retry classification decides requeue vs drop.
type Transport interface {
	LogEvents(ctx context.Context, request Request) (bool, error)
}

// LoggerOptions wires a Logger.
type LoggerOptions struct {
	Queue             *Queue
	Sampler           *Sampler
	Transport         Transport
	Log               *logging.Logger
	Metrics           metrics.Provider
	Clock             clock.Clock
	SDKType           string
	SDKVersion        string
	SessionID         string
	FlushInterval     time.Duration
	MaxRetries        int
	DisableAllLogging bool
}

// Logger is the asynchronous batching pipeline: enqueue with sampling, a
// 100ms scheduler, a bounded pool of limit-flush workers, retry with backoff,
// and a drain-with-deadline shutdown.
type Logger struct {
	queue     *Queue
	sampler   *Sampler
	transport Transport
	log       *logging.Logger
	clock     clock.Clock

	meta       RequestMetadata
	interval   *flushInterval
	maxRetries int

	disableAll atomic.Bool

	limitCh  chan struct{}
	limitSem *semaphore.Weighted

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	nonExposureMu     sync.Mutex
	nonExposureChecks map[string]uint64

	eventsDropped  metrics.Counter
	batchesDropped metrics.Counter
	eventsLogged   metrics.Counter
}

func NewLogger(opts LoggerOptions) *Logger {
	ck := opts.Clock
	if ck == nil {
		ck = clock.New()
	}
	provider := opts.Metrics
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	l := &Logger{
		queue:     opts.Queue,
		sampler:   opts.Sampler,
		transport: opts.Transport,
		log:       opts.Log.Tagged("EventLogger"),
		clock:     ck,
		meta: RequestMetadata{
			SDKType:           opts.SDKType,
			SDKVersion:        opts.SDKVersion,
			SessionID:         opts.SessionID,
			MaxQueueSize:      opts.Queue.BatchSize(),
			MaxPendingBatches: opts.Queue.maxPendingBatches,
		},
		interval:          newFlushInterval(ck, opts.FlushInterval),
		maxRetries:        maxRetries,
		limitCh:           make(chan struct{}, 1),
		limitSem:          semaphore.NewWeighted(maxLimitFlushTasks),
		nonExposureChecks: make(map[string]uint64),
	}
	l.disableAll.Store(opts.DisableAllLogging)
	l.eventsDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "events", Name: "dropped_total",
		Help: "Events dropped by queue pressure or non-retryable failures", Labels: []string{"cause"}}})
	l.batchesDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "events", Name: "batches_dropped_total",
		Help: "Whole batches dropped", Labels: []string{"cause"}}})
	l.eventsLogged = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "events", Name: "logged_total",
		Help: "Events accepted by the transport"}})
	return l
}

// SetFlushInterval adopts a server-tuned max flush interval.
func (l *Logger) SetFlushInterval(d time.Duration) { l.interval.setMaxInterval(d) }

// Enqueue runs the sampling pass and appends the event. Crossing a batch
// boundary nudges the limit-flush task.
func (l *Logger) Enqueue(q QueuedEvent) {
	if l.disableAll.Load() {
		return
	}
	decision := l.sampler.Decide(&q)
	if !decision.Log {
		l.eventsDropped.Inc(1, "sampling")
		return
	}
	if decision.Annotate != nil {
		if q.Event.StatsigMetadata == nil {
			q.Event.StatsigMetadata = decision.Annotate
		} else {
			for k, v := range decision.Annotate {
				q.Event.StatsigMetadata[k] = v
			}
		}
	}
	if l.queue.Add(q.Event) {
		select {
		case l.limitCh <- struct{}{}:
		default:
		}
	}
}

// IncrementNonExposureCheck tallies checks made with exposure logging off.
func (l *Logger) IncrementNonExposureCheck(name string) {
	l.nonExposureMu.Lock()
	l.nonExposureChecks[name]++
	l.nonExposureMu.Unlock()
}

// Start spawns the scheduler task.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	stop, done := l.stopCh, l.doneCh
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := l.clock.Ticker(schedulerTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.sampler.MaybeReset()
				l.tryScheduledFlush()
			case <-l.limitCh:
				if l.interval.recovered() {
					l.spawnLimitFlush()
				}
			}
		}
	}()
}

func (l *Logger) tryScheduledFlush() {
	if !l.interval.cooled() {
		return
	}
	byTime := l.interval.dueByTime()
	bySize := l.queue.HasFullBatch()
	if !byTime && !bySize {
		return
	}
	l.interval.markFlush()
	flushType := FlushTypeMaxTime
	if bySize {
		flushType = FlushTypeFullBatch
	}
	l.flushNextBatch(flushType)
}

// spawnLimitFlush drains full batches on a worker while slots remain.
func (l *Logger) spawnLimitFlush() {
	if !l.limitSem.TryAcquire(1) {
		return
	}
	go func() {
		defer l.limitSem.Release(1)
		for {
			if !l.flushNextBatch(FlushTypeLimit) {
				return
			}
			if !l.interval.recovered() {
				return
			}
			if !l.queue.HasFullBatch() {
				return
			}
		}
	}()
}

// flushNextBatch reconciles and ships one batch. Reports whether a batch was
// sent successfully.
func (l *Logger) flushNextBatch(flushType string) bool {
	l.accountDrops(l.queue.Reconcile(), "queue_full")
	batch := l.queue.TakeNext()
	if batch == nil {
		return false
	}
	if err := l.shipBatch(context.Background(), batch, flushType); err != nil {
		l.interval.adjustForFailure()
		l.handleFailedBatch(err, batch)
		return false
	}
	l.interval.adjustForSuccess()
	return true
}

// FlushAll synchronously drains everything; used by the manual flush API.
func (l *Logger) FlushAll(ctx context.Context) error {
	return l.drain(ctx, FlushTypeManual)
}

// Shutdown flushes remaining events under the context deadline, then stops
// the scheduler. Events still pending after the deadline are dropped.
func (l *Logger) Shutdown(ctx context.Context) error {
	drainErr := l.drain(ctx, FlushTypeShutdown)

	l.mu.Lock()
	if l.started {
		l.started = false
		close(l.stopCh)
		done := l.doneCh
		l.mu.Unlock()
		<-done
	} else {
		l.mu.Unlock()
	}
	l.disableAll.Store(true)

	if drainErr != nil {
		l.accountDrops(l.queue.Reconcile(), "queue_full")
		dropped := 0
		for _, b := range l.queue.TakeAll() {
			dropped += len(b.Events)
		}
		l.accountDrops(dropped, "shutdown")
	}
	return drainErr
}

func (l *Logger) drain(ctx context.Context, flushType string) error {
	l.flushNonExposureChecks(flushType)
	l.accountDrops(l.queue.Reconcile(), "queue_full")

	for _, batch := range l.queue.TakeAll() {
		if err := ctx.Err(); err != nil {
			return sdkerr.ErrShutdownTimeout
		}
		if err := l.shipBatch(ctx, batch, flushType); err != nil {
			if flushType == FlushTypeManual {
				l.interval.adjustForFailure()
			}
			l.handleFailedBatch(err, batch)
			if flushType == FlushTypeShutdown {
				return err
			}
		}
	}
	return nil
}

func (l *Logger) shipBatch(ctx context.Context, batch *Batch, flushType string) error {
	batch.Attempts++
	meta := l.meta
	meta.FlushInterval = l.interval.maxInterval().Milliseconds()
	meta.FlushType = flushType

	ok, err := l.transport.LogEvents(ctx, Request{Events: batch.Events, StatsigMetadata: meta})
	if err != nil {
		return err
	}
	if !ok {
		return sdkerr.NewNetworkError(sdkerr.ErrRequestNotRetryable, 0, errors.New("transport rejected batch"))
	}
	l.eventsLogged.Inc(float64(len(batch.Events)))
	l.log.Debug("batch flushed", "events", len(batch.Events), "type", flushType)
	return nil
}

// handleFailedBatch requeues retryable failures and drops the rest.
func (l *Logger) handleFailedBatch(err error, batch *Batch) {
	retryable := !errors.Is(err, sdkerr.ErrRequestNotRetryable) &&
		!errors.Is(err, sdkerr.ErrNetworkDisabled)
	if retryable && batch.Attempts <= l.maxRetries {
		l.accountDrops(l.queue.RequeueAtHead(batch), "requeue_overflow")
		l.log.Debug("batch requeued", "attempts", batch.Attempts, "err", err)
		return
	}
	cause := "non_retryable"
	if retryable {
		cause = "retries_exhausted"
	}
	l.batchesDropped.Inc(1, cause)
	l.accountDrops(len(batch.Events), cause)
	l.log.Warn("batch dropped", "events", len(batch.Events), "cause", cause, "err", err)
}

func (l *Logger) accountDrops(n int, cause string) {
	if n > 0 {
		l.eventsDropped.Inc(float64(n), cause)
	}
}

// flushNonExposureChecks folds the tally into a diagnostics event.
func (l *Logger) flushNonExposureChecks(flushType string) {
	if flushType != FlushTypeShutdown && flushType != FlushTypeManual {
		return
	}
	l.nonExposureMu.Lock()
	checks := l.nonExposureChecks
	l.nonExposureChecks = make(map[string]uint64)
	l.nonExposureMu.Unlock()
	if len(checks) == 0 {
		return
	}
	md := make(map[string]string, len(checks))
	for name, count := range checks {
		md[name] = formatUint(count)
	}
	l.queue.Add(Event{EventName: diagnosticsName, Metadata: md, Time: l.clock.Now().UnixMilli()})
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
