package idlists

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"

	"gatehouse/internal/netclient"
	"gatehouse/internal/sdkerr"
	"gatehouse/internal/telemetry/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UpdateListener receives applied manifests. The store implements it; tests
// substitute recorders.
type UpdateListener interface {
	CurrentMetadata() map[string]Metadata
	DidReceiveIDListUpdates(updates map[string]Update)
}

// HTTPAdapter pulls the list manifest on an interval and downloads only the
// byte ranges that changed.
type HTTPAdapter struct {
	net          *netclient.Client
	manifestURL  string
	syncInterval time.Duration
	log          *logging.Logger
	clock        clock.Clock

	mu       sync.Mutex
	listener UpdateListener
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

type HTTPAdapterOptions struct {
	Net          *netclient.Client
	ManifestURL  string
	SyncInterval time.Duration
	Log          *logging.Logger
	Clock        clock.Clock
}

func NewHTTPAdapter(opts HTTPAdapterOptions) *HTTPAdapter {
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ck := opts.Clock
	if ck == nil {
		ck = clock.New()
	}
	return &HTTPAdapter{
		net:          opts.Net,
		manifestURL:  opts.ManifestURL,
		syncInterval: interval,
		log:          opts.Log.Tagged("IdListsAdapter"),
		clock:        ck,
	}
}

func (a *HTTPAdapter) Initialize(listener UpdateListener) {
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()
}

// Start performs one synchronous sync so initialize sees lists on first
// evaluation.
func (a *HTTPAdapter) Start(ctx context.Context) error {
	return a.sync(ctx)
}

// ScheduleBackgroundSync spawns the periodic refresh task.
func (a *HTTPAdapter) ScheduleBackgroundSync() {
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
		ticker := a.clock.Ticker(a.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), a.syncInterval)
				if err := a.sync(ctx); err != nil {
					a.log.Warn("background sync failed", "err", err)
				}
				cancel()
			}
		}
	}()
}

func (a *HTTPAdapter) Shutdown(timeout time.Duration) error {
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

func (a *HTTPAdapter) currentListener() (UpdateListener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil, sdkerr.ErrUnstartedAdapter
	}
	return a.listener, nil
}

func (a *HTTPAdapter) sync(ctx context.Context) error {
	listener, err := a.currentListener()
	if err != nil {
		return err
	}

	manifest, err := a.fetchManifest(ctx)
	if err != nil {
		return err
	}
	current := listener.CurrentMetadata()

	updates := make(map[string]Update, len(manifest))
	for name, next := range manifest {
		cur, known := current[name]
		switch {
		case !known || changedIdentity(cur, next):
			raw, err := a.fetchRange(ctx, next.URL, 0)
			if err != nil {
				a.log.Warn("list download failed", "list", name, "err", err)
				continue
			}
			updates[name] = Update{RawChangeset: raw, NewMetadata: next}
		case next.Size > cur.Size:
			raw, err := a.fetchRange(ctx, next.URL, cur.Size)
			if err != nil {
				a.log.Warn("list range download failed", "list", name, "err", err)
				// Keep the list alive at its current state.
				updates[name] = Update{NewMetadata: cur}
				continue
			}
			updates[name] = Update{RawChangeset: raw, NewMetadata: next}
		default:
			updates[name] = Update{NewMetadata: cur}
		}
	}

	listener.DidReceiveIDListUpdates(updates)
	return nil
}

func (a *HTTPAdapter) fetchManifest(ctx context.Context) (map[string]Metadata, error) {
	resp, err := a.net.Send(ctx, netclient.RequestArgs{
		Method:  http.MethodPost,
		URL:     a.manifestURL,
		Body:    []byte("{}"),
		Retries: 2,
	})
	if err != nil {
		return nil, err
	}
	var manifest map[string]Metadata
	if err := json.Unmarshal(resp.Body, &manifest); err != nil {
		return nil, &sdkerr.JSONParseError{Type: "IdListsManifest", Err: err}
	}
	return manifest, nil
}

func (a *HTTPAdapter) fetchRange(ctx context.Context, url string, from int64) ([]byte, error) {
	args := netclient.RequestArgs{Method: http.MethodGet, URL: url, Retries: 1}
	if from > 0 {
		args.Headers = map[string]string{"Range": fmt.Sprintf("bytes=%d-", from)}
	}
	resp, err := a.net.Send(ctx, args)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
