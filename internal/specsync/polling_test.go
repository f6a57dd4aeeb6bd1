package specsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/netclient"
	"gatehouse/internal/specs"
	"gatehouse/internal/telemetry/logging"
)

type recordingListener struct {
	mu      sync.Mutex
	updates []specs.Update
	lcut    int64
	cksum   string
}

func (r *recordingListener) DidReceiveSpecsUpdate(u specs.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingListener) CurrentInfo() (int64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lcut, r.cksum
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func newPolling(t *testing.T, url, fallback string) *PollingAdapter {
	t.Helper()
	log := logging.New("none")
	return NewPollingAdapter(PollingAdapterOptions{
		Net:         netclient.New(netclient.Options{SDKKey: "secret-test", Log: log}),
		URL:         url,
		FallbackURL: fallback,
		Log:         log,
	})
}

func TestStartFetchesAndAppliesRuleset(t *testing.T) {
	var gotSince, gotChecksum string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("sinceTime")
		gotChecksum = r.URL.Query().Get("checksum")
		fmt.Fprint(w, `{"has_updates": true, "time": 42}`)
	}))
	defer srv.Close()

	listener := &recordingListener{lcut: 7, cksum: "prev"}
	a := newPolling(t, srv.URL, "")
	a.Initialize(listener)
	require.NoError(t, a.Start(context.Background()))

	require.Equal(t, 1, listener.count())
	assert.Equal(t, specs.SourceNetwork, listener.updates[0].Source)
	assert.Equal(t, "7", gotSince)
	assert.Equal(t, "prev", gotChecksum)
}

func TestNoContentMeansNoUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	listener := &recordingListener{}
	a := newPolling(t, srv.URL, "")
	a.Initialize(listener)
	require.NoError(t, a.Start(context.Background()))
	assert.Zero(t, listener.count())
}

func TestFallbackURLUsedWhenPrimaryExhausted(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden) // non-retryable: fails fast
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"has_updates": true, "time": 9}`)
	}))
	defer fallback.Close()

	listener := &recordingListener{}
	a := newPolling(t, primary.URL, fallback.URL)
	a.Initialize(listener)
	require.NoError(t, a.Start(context.Background()))
	require.Equal(t, 1, listener.count())
}

func TestStartWithoutListenerErrors(t *testing.T) {
	a := newPolling(t, "http://127.0.0.1:0/nope", "")
	assert.Error(t, a.Start(context.Background()))
}

func TestShutdownStopsBackgroundTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"has_updates": false}`)
	}))
	defer srv.Close()

	listener := &recordingListener{}
	a := newPolling(t, srv.URL, "")
	a.Initialize(listener)
	a.ScheduleBackgroundSync()
	assert.NoError(t, a.Shutdown(time.Second))
	// Idempotent.
	assert.NoError(t, a.Shutdown(time.Second))
}
