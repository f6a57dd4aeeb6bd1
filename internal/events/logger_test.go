package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/sdkerr"
	"gatehouse/internal/telemetry/logging"
)

type captureTransport struct {
	mu       sync.Mutex
	requests []Request
	failures int
	failWith error
}

func (c *captureTransport) LogEvents(ctx context.Context, req Request) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return false, c.failWith
	}
	c.requests = append(c.requests, req)
	return true, nil
}

func (c *captureTransport) all() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

func (c *captureTransport) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		n += len(r.Events)
	}
	return n
}

func newTestLogger(t *testing.T, transport Transport, batchSize int) (*Logger, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	l := NewLogger(LoggerOptions{
		Queue:         NewQueue(batchSize, 10),
		Sampler:       NewSampler(&PipelineConfig{}, mock),
		Transport:     transport,
		Log:           logging.New("none"),
		Clock:         mock,
		SDKType:       "gatehouse-go",
		SDKVersion:    "test",
		FlushInterval: time.Minute,
	})
	return l, mock
}

func customEvent(name string) QueuedEvent {
	return QueuedEvent{Event: Event{EventName: name, Time: 1}}
}

func TestManualFlushDeliversPendingEvents(t *testing.T) {
	transport := &captureTransport{}
	l, _ := newTestLogger(t, transport, 100)

	l.Enqueue(customEvent("one"))
	l.Enqueue(customEvent("two"))
	require.NoError(t, l.FlushAll(context.Background()))

	reqs := transport.all()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Events, 2)
	assert.Equal(t, "one", reqs[0].Events[0].EventName)
	assert.Equal(t, FlushTypeManual, reqs[0].StatsigMetadata.FlushType)
	assert.Equal(t, "gatehouse-go", reqs[0].StatsigMetadata.SDKType)
}

func TestEnqueueOrderPreservedWithinBatch(t *testing.T) {
	transport := &captureTransport{}
	l, _ := newTestLogger(t, transport, 100)
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		l.Enqueue(customEvent(n))
	}
	require.NoError(t, l.FlushAll(context.Background()))
	reqs := transport.all()
	require.Len(t, reqs, 1)
	for i, n := range names {
		assert.Equal(t, n, reqs[i/len(names)].Events[i].EventName)
	}
}

func TestLimitFlushOnBatchBoundary(t *testing.T) {
	transport := &captureTransport{}
	l, _ := newTestLogger(t, transport, 2)
	l.Start()
	defer func() { _ = l.Shutdown(context.Background()) }()

	l.Enqueue(customEvent("a"))
	l.Enqueue(customEvent("b"))

	require.Eventually(t, func() bool {
		return transport.eventCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	reqs := transport.all()
	assert.Equal(t, FlushTypeLimit, reqs[0].StatsigMetadata.FlushType)
}

func TestScheduledFlushAfterMaxInterval(t *testing.T) {
	transport := &captureTransport{}
	l, mock := newTestLogger(t, transport, 100)
	l.Start()
	defer func() { _ = l.Shutdown(context.Background()) }()

	l.Enqueue(customEvent("slowpoke"))

	// Advance past the max flush interval; the 100ms scheduler tick fires.
	for i := 0; i < 700; i++ {
		mock.Add(100 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return transport.eventCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	reqs := transport.all()
	assert.Equal(t, FlushTypeMaxTime, reqs[0].StatsigMetadata.FlushType)
}

func TestRetryableFailureRequeuesBatch(t *testing.T) {
	transport := &captureTransport{
		failures: 1,
		failWith: sdkerr.NewNetworkError(sdkerr.ErrRetriesExhausted, 0, errors.New("boom")),
	}
	l, _ := newTestLogger(t, transport, 100)

	l.Enqueue(customEvent("retry_me"))
	_ = l.FlushAll(context.Background())
	assert.Zero(t, transport.eventCount(), "first attempt failed")

	require.NoError(t, l.FlushAll(context.Background()))
	assert.Equal(t, 1, transport.eventCount(), "requeued batch delivered on retry")
}

func TestNonRetryableFailureDropsBatch(t *testing.T) {
	transport := &captureTransport{
		failures: 1,
		failWith: sdkerr.NewNetworkError(sdkerr.ErrRequestNotRetryable, 422, errors.New("rejected")),
	}
	l, _ := newTestLogger(t, transport, 100)

	l.Enqueue(customEvent("doomed"))
	_ = l.FlushAll(context.Background())
	require.NoError(t, l.FlushAll(context.Background()))
	assert.Zero(t, transport.eventCount())
	assert.Zero(t, l.queue.ApproxPendingCount())
}

func TestRetriesExhaustedDropsBatch(t *testing.T) {
	transport := &captureTransport{
		failures: 100,
		failWith: sdkerr.NewNetworkError(sdkerr.ErrRetriesExhausted, 0, errors.New("down")),
	}
	l, _ := newTestLogger(t, transport, 100)
	l.Enqueue(customEvent("persistent"))

	for i := 0; i < 10; i++ {
		_ = l.FlushAll(context.Background())
	}
	// Attempts exceeded maxRetries; the batch is gone, not looping forever.
	assert.Zero(t, l.queue.ApproxPendingCount())
}

func TestShutdownDrainsWithShutdownTag(t *testing.T) {
	transport := &captureTransport{}
	l, _ := newTestLogger(t, transport, 100)
	l.Start()

	l.Enqueue(customEvent("final"))
	require.NoError(t, l.Shutdown(context.Background()))

	reqs := transport.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, FlushTypeShutdown, reqs[0].StatsigMetadata.FlushType)

	// After shutdown the pipeline is inert.
	l.Enqueue(customEvent("too_late"))
	_ = l.FlushAll(context.Background())
	assert.Equal(t, 1, transport.eventCount())
	assert.Zero(t, l.queue.ApproxPendingCount())
}

func TestDisableAllLoggingShortCircuitsEnqueue(t *testing.T) {
	transport := &captureTransport{}
	mock := clock.NewMock()
	l := NewLogger(LoggerOptions{
		Queue:             NewQueue(10, 10),
		Sampler:           NewSampler(&PipelineConfig{}, mock),
		Transport:         transport,
		Log:               logging.New("none"),
		Clock:             mock,
		DisableAllLogging: true,
	})
	l.Enqueue(customEvent("nope"))
	require.NoError(t, l.FlushAll(context.Background()))
	assert.Zero(t, transport.eventCount())
}

func TestDedupedExposureNotDelivered(t *testing.T) {
	transport := &captureTransport{}
	l, _ := newTestLogger(t, transport, 100)

	l.Enqueue(gateExposureEvent("g", "r", "u1"))
	l.Enqueue(gateExposureEvent("g", "r", "u1"))
	require.NoError(t, l.FlushAll(context.Background()))
	assert.Equal(t, 1, transport.eventCount())
}
