package specsync

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/netclient"
	"gatehouse/internal/telemetry/logging"
)

func TestStreamDeliversDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"has_updates\": true, \"time\": 5}\n\n")
		flusher.Flush()
		// Hold the connection briefly, then end it.
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	listener := &recordingListener{}
	a := NewStreamingAdapter(StreamingAdapterOptions{
		SDKKey: "secret-test",
		URL:    srv.URL,
		Log:    logging.New("none"),
	})
	a.Initialize(listener)
	a.ScheduleBackgroundSync()
	defer func() { _ = a.Shutdown(time.Second) }()

	require.Eventually(t, func() bool {
		return listener.count() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Contains(t, string(listener.updates[0].Data), `"time": 5`)
}

func TestStreamBreakerEngagesPollingFallback(t *testing.T) {
	pollSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"has_updates": true, "time": 8}`)
	}))
	defer pollSrv.Close()

	log := logging.New("none")
	mock := clock.NewMock()
	fallback := NewPollingAdapter(PollingAdapterOptions{
		Net:      netclient.New(netclient.Options{SDKKey: "secret-test", Log: log}),
		URL:      pollSrv.URL,
		Interval: time.Minute,
		Log:      log,
		Clock:    mock,
	})

	a := NewStreamingAdapter(StreamingAdapterOptions{
		SDKKey:            "secret-test",
		URL:               "http://127.0.0.1:1/stream", // nothing listens here
		Fallback:          fallback,
		FallbackThreshold: 2,
		Log:               log,
		Clock:             mock,
	})
	listener := &recordingListener{}
	a.Initialize(listener)
	a.ScheduleBackgroundSync()
	defer func() { _ = a.Shutdown(time.Second) }()

	// Drive the reconnect backoff until the breaker trips.
	require.Eventually(t, func() bool {
		mock.Add(streamBackoffCap)
		a.mu.Lock()
		engaged := a.fallbackStarted
		a.mu.Unlock()
		return engaged
	}, 5*time.Second, 10*time.Millisecond)
}
