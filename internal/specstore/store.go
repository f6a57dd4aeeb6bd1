package specstore

import (
	"sync"
	"sync/atomic"
	"time"

	"gatehouse/internal/sdkerr"
	"gatehouse/internal/specs"
	"gatehouse/internal/telemetry/logging"
	"gatehouse/internal/telemetry/metrics"
)

// Snapshot is a cheap read view of the store. Holders keep seeing the same
// ruleset until they drop the reference, no matter how many swaps happen
// underneath.
type Snapshot struct {
	Values     *specs.Response
	Source     specs.Source
	ReceivedAt time.Time
}

// LCUT returns the snapshot's last-change-update-time, 0 when empty.
func (s Snapshot) LCUT() int64 {
	if s.Values == nil {
		return 0
	}
	return s.Values.Time
}

// Store owns the current ruleset: many-reader snapshot via an atomic pointer,
// single-writer swap under a mutex that is held only for the compare and the
// pointer store.
type Store struct {
	log *logging.Logger

	state atomic.Pointer[Snapshot]

	writeMu sync.Mutex

	// onSwap fans out a successfully installed update (data-store persistence,
	// sampling-config adoption). Called outside the write lock.
	onSwap func(Snapshot, specs.Update)

	updates   metrics.Counter
	noOps     metrics.Counter
	propagate metrics.Histogram
}

func New(log *logging.Logger, provider metrics.Provider, onSwap func(Snapshot, specs.Update)) *Store {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	s := &Store{log: log.Tagged("SpecStore"), onSwap: onSwap}
	empty := &Snapshot{Source: specs.SourceUninitialized}
	s.state.Store(empty)
	s.updates = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "specstore", Name: "updates_total",
		Help: "Rulesets installed", Labels: []string{"source"}}})
	s.noOps = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "specstore", Name: "no_op_updates_total",
		Help: "Updates skipped because nothing changed", Labels: []string{"source"}}})
	s.propagate = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "gatehouse", Subsystem: "specstore", Name: "propagation_seconds",
		Help: "Delay between ruleset publish time and local adoption"}})
	return s
}

// Snapshot returns the current view. Never nil.
func (s *Store) Snapshot() Snapshot { return *s.state.Load() }

// SetSource retags the store without touching values. Used for the
// Loading -> NoValues / Error transitions during initialize.
func (s *Store) SetSource(src specs.Source) {
	s.writeMu.Lock()
	cur := *s.state.Load()
	cur.Source = src
	s.state.Store(&cur)
	s.writeMu.Unlock()
	s.log.Debug("source changed", "source", string(src))
}

// SetValues parses and conditionally installs an update, per the protocol:
// parse errors leave state untouched; has_updates=false and stale/duplicate
// payloads are accepted no-ops; anything else swaps atomically.
func (s *Store) SetValues(update specs.Update) error {
	candidate, err := specs.Parse(update.Data)
	if err != nil {
		return &sdkerr.JSONParseError{Type: "SpecsResponse", Err: err}
	}

	if !candidate.HasUpdates {
		s.noOps.Inc(1, string(update.Source))
		s.log.Debug("update had no changes", "source", string(update.Source))
		return nil
	}

	receivedAt := update.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	s.writeMu.Lock()
	current := s.state.Load()
	if current.Values != nil {
		if candidate.Time < current.Values.Time {
			s.writeMu.Unlock()
			s.noOps.Inc(1, string(update.Source))
			s.log.Debug("update older than current, keeping current",
				"candidate_lcut", candidate.Time, "current_lcut", current.Values.Time)
			return nil
		}
		if candidate.Checksum != "" && candidate.Checksum == current.Values.Checksum {
			s.writeMu.Unlock()
			s.noOps.Inc(1, string(update.Source))
			return nil
		}
	}
	next := &Snapshot{Values: candidate, Source: update.Source, ReceivedAt: receivedAt}
	s.state.Store(next)
	s.writeMu.Unlock()

	s.updates.Inc(1, string(update.Source))
	if candidate.Time > 0 {
		lag := receivedAt.Sub(time.UnixMilli(candidate.Time)).Seconds()
		if lag >= 0 {
			s.propagate.Observe(lag)
		}
	}
	s.log.Info("ruleset installed",
		"source", string(update.Source), "lcut", candidate.Time,
		"gates", len(candidate.FeatureGates), "configs", len(candidate.DynamicConfigs))

	if s.onSwap != nil {
		s.onSwap(*next, update)
	}
	return nil
}

// Info reports current metadata without copying the ruleset.
func (s *Store) Info() (lcut int64, checksum string, source specs.Source) {
	snap := s.state.Load()
	if snap.Values != nil {
		lcut = snap.Values.Time
		checksum = snap.Values.Checksum
	}
	return lcut, checksum, snap.Source
}
