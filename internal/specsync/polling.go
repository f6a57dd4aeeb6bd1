package specsync

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"gatehouse/internal/netclient"
	"gatehouse/internal/sdkerr"
	"gatehouse/internal/specs"
	"gatehouse/internal/telemetry/logging"
)

// Listener is the store-facing half of a specs adapter. CurrentInfo feeds the
// sinceTime/checksum query so the server can answer "no updates" cheaply.
type Listener interface {
	DidReceiveSpecsUpdate(update specs.Update) error
	CurrentInfo() (lcut int64, checksum string)
}

// PollingAdapter fetches the full ruleset on an interval.
type PollingAdapter struct {
	net         *netclient.Client
	url         string
	fallbackURL string
	interval    time.Duration
	log         *logging.Logger
	clock       clock.Clock

	mu       sync.Mutex
	listener Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

type PollingAdapterOptions struct {
	Net         *netclient.Client
	URL         string
	FallbackURL string
	Interval    time.Duration
	Log         *logging.Logger
	Clock       clock.Clock
}

func NewPollingAdapter(opts PollingAdapterOptions) *PollingAdapter {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ck := opts.Clock
	if ck == nil {
		ck = clock.New()
	}
	return &PollingAdapter{
		net:         opts.Net,
		url:         opts.URL,
		fallbackURL: opts.FallbackURL,
		interval:    interval,
		log:         opts.Log.Tagged("SpecsAdapter"),
		clock:       ck,
	}
}

func (a *PollingAdapter) Initialize(listener Listener) {
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()
}

// Start fetches once and applies the result; initialize blocks on it.
func (a *PollingAdapter) Start(ctx context.Context) error {
	return a.syncOnce(ctx)
}

func (a *PollingAdapter) ScheduleBackgroundSync() {
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
		ticker := a.clock.Ticker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), a.interval)
				if err := a.syncOnce(ctx); err != nil {
					a.log.Warn("background specs sync failed", "err", err)
				}
				cancel()
			}
		}
	}()
}

func (a *PollingAdapter) Shutdown(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stopCh)
	done := a.doneCh
	a.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-a.clock.After(timeout):
		return sdkerr.ErrShutdownTimeout
	}
}

func (a *PollingAdapter) currentListener() (Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil, sdkerr.ErrUnstartedAdapter
	}
	return a.listener, nil
}

func (a *PollingAdapter) syncOnce(ctx context.Context) error {
	listener, err := a.currentListener()
	if err != nil {
		return err
	}

	body, err := a.fetch(ctx, a.url, listener)
	if err != nil && a.fallbackURL != "" && a.fallbackURL != a.url {
		a.log.Warn("primary specs fetch failed, trying fallback", "err", err)
		body, err = a.fetch(ctx, a.fallbackURL, listener)
	}
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil // 204-equivalent: nothing changed
	}

	return listener.DidReceiveSpecsUpdate(specs.Update{
		Data:       body,
		Source:     specs.SourceNetwork,
		ReceivedAt: time.Now(),
	})
}

func (a *PollingAdapter) fetch(ctx context.Context, url string, listener Listener) ([]byte, error) {
	lcut, checksum := listener.CurrentInfo()
	query := map[string]string{}
	if lcut > 0 {
		query["sinceTime"] = strconv.FormatInt(lcut, 10)
	}
	if checksum != "" {
		query["checksum"] = checksum
	}
	resp, err := a.net.Send(ctx, netclient.RequestArgs{
		Method:      http.MethodGet,
		URL:         url,
		QueryParams: query,
		Retries:     2,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNoContent {
		return nil, nil
	}
	return resp.Body, nil
}
