package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"gatehouse/internal/evaluation"
	"gatehouse/internal/specs"
)

const (
	samplingTTL     = 60 * time.Second
	samplingMaxKeys = 100_000
)

// SamplingMode mirrors the server-controlled knob: Off logs everything, On
// drops unsampled exposures, Shadow logs everything but annotates the
// decision so the backend can extrapolate.
type SamplingMode int

const (
	SamplingOff SamplingMode = iota
	SamplingOn
	SamplingShadow
)

// PipelineConfig is the server-tunable slice of the event pipeline, adopted
// atomically whenever a ruleset carrying sdk_configs is installed.
type PipelineConfig struct {
	mode        atomic.Int32
	specialRate atomic.Pointer[uint64]
}

func (c *PipelineConfig) Mode() SamplingMode { return SamplingMode(c.mode.Load()) }

func (c *PipelineConfig) SpecialCaseRate() *uint64 { return c.specialRate.Load() }

// AdoptSDKConfigs applies the tuning block from a freshly installed ruleset.
func (c *PipelineConfig) AdoptSDKConfigs(cfg *specs.SDKConfigs) {
	if cfg == nil {
		return
	}
	if cfg.SamplingMode != nil {
		switch *cfg.SamplingMode {
		case "on":
			c.mode.Store(int32(SamplingOn))
		case "shadow":
			c.mode.Store(int32(SamplingShadow))
		default:
			c.mode.Store(int32(SamplingOff))
		}
	}
	if cfg.SpecialCaseSamplingRate != nil {
		rate := *cfg.SpecialCaseSamplingRate
		c.specialRate.Store(&rate)
	}
}

// Decision is the outcome of the enqueue-time sampling pass.
type Decision struct {
	Log bool
	// Annotate carries the shadow-mode fields stamped into statsigMetadata.
	Annotate map[string]interface{}
}

var decisionLog = Decision{Log: true}

// Sampler owns the dedupe set and the first-time (spec, rule) set. Both reset
// wholesale when the TTL elapses or the key cap trips; the scheduler tick
// drives MaybeReset.
type Sampler struct {
	cfg   *PipelineConfig
	clock clock.Clock

	mu              sync.Mutex
	dedupe          map[uint64]struct{}
	lastDedupeReset time.Time
	seen            map[[2]uint64]struct{}
	lastSeenReset   time.Time
}

func NewSampler(cfg *PipelineConfig, ck clock.Clock) *Sampler {
	now := ck.Now()
	return &Sampler{
		cfg:             cfg,
		clock:           ck,
		dedupe:          make(map[uint64]struct{}),
		lastDedupeReset: now,
		seen:            make(map[[2]uint64]struct{}),
		lastSeenReset:   now,
	}
}

// Decide classifies one queued event. Custom events and override-produced
// exposures are always logged.
func (s *Sampler) Decide(q *QueuedEvent) Decision {
	x := q.Exposure
	if x == nil || x.SkipSampling {
		return decisionLog
	}

	if s.isDuplicate(x.DedupeKey()) {
		return Decision{Log: false}
	}

	mode := s.cfg.Mode()
	if mode == SamplingOff {
		return decisionLog
	}

	if x.ForwardAllExposures || x.HasSeenAnalyticalGates {
		return decisionLog
	}

	if s.isFirstExposure(x.SpecRuleKey()) {
		return decisionLog
	}

	rate := s.effectiveRate(x)
	if rate == nil {
		return decisionLog
	}
	sampled := x.IsSampled(*rate)

	switch mode {
	case SamplingOn:
		if !sampled {
			return Decision{Log: false}
		}
		return Decision{Log: true, Annotate: map[string]interface{}{
			"samplingMode": "on", "samplingRate": *rate,
		}}
	case SamplingShadow:
		return Decision{Log: true, Annotate: map[string]interface{}{
			"samplingMode": "shadow", "samplingRate": *rate, "shadowLogged": boolToLogged(sampled),
		}}
	}
	return decisionLog
}

func boolToLogged(sampled bool) string {
	if sampled {
		return "logged"
	}
	return "dropped"
}

// effectiveRate picks the per-rule override, then the special-case rate for
// default/disabled/empty rule ids, else nothing.
func (s *Sampler) effectiveRate(x *ExposureInfo) *uint64 {
	if x.SamplingRate != nil {
		return x.SamplingRate
	}
	switch x.RuleID {
	case "", evaluation.RuleIDDefault, evaluation.RuleIDDisabled:
		return s.cfg.SpecialCaseRate()
	}
	return nil
}

func (s *Sampler) isDuplicate(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedupe[key]; ok {
		return true
	}
	s.dedupe[key] = struct{}{}
	return false
}

func (s *Sampler) isFirstExposure(key [2]uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// MaybeReset clears either set once its TTL elapses or it outgrows the cap.
func (s *Sampler) MaybeReset() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastDedupeReset) > samplingTTL || len(s.dedupe) > samplingMaxKeys {
		s.dedupe = make(map[uint64]struct{})
		s.lastDedupeReset = now
	}
	if now.Sub(s.lastSeenReset) > samplingTTL || len(s.seen) > samplingMaxKeys {
		s.seen = make(map[[2]uint64]struct{})
		s.lastSeenReset = now
	}
}
