package events

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	backoffInitial = time.Second
	backoffCap     = 60 * time.Second
)

// flushInterval tracks when the scheduler may flush again: a max-interval
// timer for time-based flushes plus a failure backoff that doubles on every
// consecutive failure and clears on success.
type flushInterval struct {
	clock clock.Clock
	max   time.Duration

	mu          sync.Mutex
	backoff     time.Duration
	lastFailure time.Time
	lastFlush   time.Time
}

func newFlushInterval(ck clock.Clock, maxInterval time.Duration) *flushInterval {
	if maxInterval <= 0 {
		maxInterval = 60 * time.Second
	}
	return &flushInterval{clock: ck, max: maxInterval, lastFlush: ck.Now()}
}

func (f *flushInterval) maxInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max
}

func (f *flushInterval) setMaxInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.max = d
	f.mu.Unlock()
}

func (f *flushInterval) adjustForFailure() {
	f.mu.Lock()
	if f.backoff == 0 {
		f.backoff = backoffInitial
	} else {
		f.backoff *= 2
		if f.backoff > backoffCap {
			f.backoff = backoffCap
		}
	}
	f.lastFailure = f.clock.Now()
	f.mu.Unlock()
}

func (f *flushInterval) adjustForSuccess() {
	f.mu.Lock()
	f.backoff = 0
	f.mu.Unlock()
}

// cooled reports whether enough time has passed since the last failure to try
// the network again.
func (f *flushInterval) cooled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backoff == 0 {
		return true
	}
	return f.clock.Since(f.lastFailure) >= f.backoff
}

// recovered reports full recovery; limit flushes stay disabled while any
// backoff is outstanding.
func (f *flushInterval) recovered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backoff == 0
}

func (f *flushInterval) dueByTime() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Since(f.lastFlush) >= f.max
}

func (f *flushInterval) markFlush() {
	f.mu.Lock()
	f.lastFlush = f.clock.Now()
	f.mu.Unlock()
}
