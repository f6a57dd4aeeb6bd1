package specsync

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sony/gobreaker"

	"gatehouse/internal/sdkerr"
	"gatehouse/internal/specs"
	"gatehouse/internal/telemetry/logging"
)

const (
	streamInitialBackoff = 3 * time.Second
	streamBackoffFactor  = 2
	streamBackoffCap     = 60 * time.Second
	// streamRetryCeiling bounds total reconnect time to roughly ten days.
	streamRetryCeiling = 10 * 24 * time.Hour
	// defaultFallbackThreshold is the consecutive-failure count that trips
	// the breaker and starts the polling fallback.
	defaultFallbackThreshold = 30
)

// StreamingAdapter holds a long-lived event stream of ruleset payloads, one
// JSON document per data line. While the connection breaker is open the
// polling fallback keeps the store fresh; reconnect attempts continue
// underneath with exponential backoff.
type StreamingAdapter struct {
	net      *http.Client
	sdkKey   string
	url      string
	fallback *PollingAdapter
	log      *logging.Logger
	clock    clock.Clock
	breaker  *gobreaker.CircuitBreaker

	mu              sync.Mutex
	listener        Listener
	stopCh          chan struct{}
	doneCh          chan struct{}
	running         bool
	fallbackStarted bool
}

type StreamingAdapterOptions struct {
	SDKKey            string
	URL               string
	Fallback          *PollingAdapter
	FallbackThreshold uint32
	Timeout           time.Duration
	Log               *logging.Logger
	Clock             clock.Clock
}

func NewStreamingAdapter(opts StreamingAdapterOptions) *StreamingAdapter {
	threshold := opts.FallbackThreshold
	if threshold == 0 {
		threshold = defaultFallbackThreshold
	}
	ck := opts.Clock
	if ck == nil {
		ck = clock.New()
	}
	a := &StreamingAdapter{
		net:      &http.Client{Timeout: 0}, // streaming reads have no deadline
		sdkKey:   opts.SDKKey,
		url:      opts.URL,
		fallback: opts.Fallback,
		log:      opts.Log.Tagged("StreamingSpecsAdapter"),
		clock:    ck,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "specs-stream",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			a.log.Warn("stream breaker state change", "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				a.startFallback()
			}
		},
	})
	return a
}

func (a *StreamingAdapter) Initialize(listener Listener) {
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()
	if a.fallback != nil {
		a.fallback.Initialize(listener)
	}
}

// Start gets the first ruleset through the polling path (the stream only
// carries deltas going forward), then begins streaming in the background.
func (a *StreamingAdapter) Start(ctx context.Context) error {
	if a.fallback != nil {
		if err := a.fallback.Start(ctx); err != nil {
			return err
		}
	}
	a.ScheduleBackgroundSync()
	return nil
}

func (a *StreamingAdapter) ScheduleBackgroundSync() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	stop, done := a.stopCh, a.doneCh
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.runStreamLoop(stop)
	}()
}

func (a *StreamingAdapter) Shutdown(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stopCh)
	done := a.doneCh
	fallbackStarted := a.fallbackStarted
	a.mu.Unlock()

	if fallbackStarted && a.fallback != nil {
		if err := a.fallback.Shutdown(timeout); err != nil {
			return err
		}
	}
	select {
	case <-done:
		return nil
	case <-a.clock.After(timeout):
		return sdkerr.ErrShutdownTimeout
	}
}

func (a *StreamingAdapter) startFallback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fallbackStarted || a.fallback == nil {
		return
	}
	a.fallbackStarted = true
	a.fallback.ScheduleBackgroundSync()
	a.log.Warn("stream unavailable, polling fallback engaged")
}

func (a *StreamingAdapter) runStreamLoop(stop <-chan struct{}) {
	backoff := streamInitialBackoff
	start := a.clock.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if a.clock.Since(start) > streamRetryCeiling {
			a.log.Error("stream retry ceiling reached, relying on polling fallback")
			a.startFallback()
			return
		}

		_, err := a.breaker.Execute(func() (interface{}, error) {
			return nil, a.consumeStream(stop)
		})
		if err == nil {
			// Clean stop.
			return
		}
		a.log.Debug("stream disconnected", "err", err, "backoff", backoff)

		timer := a.clock.Timer(backoff)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= streamBackoffFactor
		if backoff > streamBackoffCap {
			backoff = streamBackoffCap
		}
	}
}

// consumeStream holds one connection open and applies every data line as a
// specs update. Returns nil only on shutdown.
func (a *StreamingAdapter) consumeStream(stop <-chan struct{}) error {
	a.mu.Lock()
	listener := a.listener
	a.mu.Unlock()
	if listener == nil {
		return sdkerr.ErrUnstartedAdapter
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("STATSIG-API-KEY", a.sdkKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.net.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return sdkerr.NewNetworkError(sdkerr.ErrRequestNotRetryable, resp.StatusCode, sdkerr.ErrStreamClosed)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-stop:
			return nil
		default:
		}
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		err := listener.DidReceiveSpecsUpdate(specs.Update{
			Data:       []byte(payload),
			Source:     specs.SourceNetwork,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			a.log.Warn("stream payload rejected", "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return sdkerr.ErrStreamClosed
}
