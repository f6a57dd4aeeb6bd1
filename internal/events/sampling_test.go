package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/specs"
)

func gateExposureEvent(spec, rule, unit string) QueuedEvent {
	return QueuedEvent{
		Event: Event{EventName: GateExposureName},
		Exposure: &ExposureInfo{
			Kind: "gate", SpecName: spec, RuleID: rule, UnitID: unit, ExtraKey: "true",
		},
	}
}

func samplingOn(t *testing.T) *PipelineConfig {
	t.Helper()
	cfg := &PipelineConfig{}
	mode := "on"
	cfg.AdoptSDKConfigs(&specs.SDKConfigs{SamplingMode: &mode})
	return cfg
}

func TestCustomEventsBypassSampling(t *testing.T) {
	s := NewSampler(samplingOn(t), clock.NewMock())
	q := QueuedEvent{Event: Event{EventName: "purchase"}}
	for i := 0; i < 10; i++ {
		assert.True(t, s.Decide(&q).Log)
	}
}

func TestDuplicateExposureDropped(t *testing.T) {
	s := NewSampler(&PipelineConfig{}, clock.NewMock())
	first := gateExposureEvent("g", "r", "u1")
	second := gateExposureEvent("g", "r", "u1")
	assert.True(t, s.Decide(&first).Log)
	assert.False(t, s.Decide(&second).Log)

	other := gateExposureEvent("g", "r", "u2")
	assert.True(t, s.Decide(&other).Log)
}

func TestDedupeSetResetsAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	s := NewSampler(&PipelineConfig{}, mock)
	first := gateExposureEvent("g", "r", "u1")
	require.True(t, s.Decide(&first).Log)

	mock.Add(61 * time.Second)
	s.MaybeReset()

	again := gateExposureEvent("g", "r", "u1")
	assert.True(t, s.Decide(&again).Log)
}

func TestDedupeSetResetsAtKeyCap(t *testing.T) {
	mock := clock.NewMock()
	s := NewSampler(&PipelineConfig{}, mock)
	for i := 0; i <= samplingMaxKeys; i++ {
		q := gateExposureEvent("g", "r", fmt.Sprintf("u%d", i))
		s.Decide(&q)
	}
	s.MaybeReset()
	s.mu.Lock()
	size := len(s.dedupe)
	s.mu.Unlock()
	assert.Zero(t, size)
}

func TestOverrideExposuresSkipDedupe(t *testing.T) {
	s := NewSampler(samplingOn(t), clock.NewMock())
	q := gateExposureEvent("g", "override", "u1")
	q.Exposure.SkipSampling = true
	for i := 0; i < 5; i++ {
		assert.True(t, s.Decide(&q).Log)
	}
}

func TestFirstExposurePerSpecRuleForceSampled(t *testing.T) {
	cfg := samplingOn(t)
	rate := uint64(1 << 62) // effectively samples nothing
	mode := "on"
	cfg.AdoptSDKConfigs(&specs.SDKConfigs{SamplingMode: &mode, SpecialCaseSamplingRate: &rate})

	s := NewSampler(cfg, clock.NewMock())
	first := gateExposureEvent("g", "default", "u1")
	assert.True(t, s.Decide(&first).Log, "first (spec, rule) exposure primes analytics")

	second := gateExposureEvent("g", "default", "u2")
	decision := s.Decide(&second)
	if decision.Log {
		// The rare key that hashes to the sampled residue is annotated.
		assert.Equal(t, "on", decision.Annotate["samplingMode"])
	}
}

func TestForwardAllExposuresForceSampled(t *testing.T) {
	s := NewSampler(samplingOn(t), clock.NewMock())
	q := gateExposureEvent("g", "r", "u1")
	q.Exposure.ForwardAllExposures = true
	assert.True(t, s.Decide(&q).Log)
}

func TestShadowModeAlwaysLogsWithAnnotation(t *testing.T) {
	cfg := &PipelineConfig{}
	mode := "shadow"
	rate := uint64(1 << 62)
	cfg.AdoptSDKConfigs(&specs.SDKConfigs{SamplingMode: &mode, SpecialCaseSamplingRate: &rate})
	s := NewSampler(cfg, clock.NewMock())

	// Prime the first-time set with a different user.
	prime := gateExposureEvent("g", "default", "u0")
	require.True(t, s.Decide(&prime).Log)

	q := gateExposureEvent("g", "default", "u1")
	decision := s.Decide(&q)
	require.True(t, decision.Log)
	require.NotNil(t, decision.Annotate)
	assert.Equal(t, "shadow", decision.Annotate["samplingMode"])
	assert.Contains(t, []interface{}{"logged", "dropped"}, decision.Annotate["shadowLogged"])
}

func TestPerRuleSamplingRateWins(t *testing.T) {
	cfg := samplingOn(t)
	s := NewSampler(cfg, clock.NewMock())

	prime := gateExposureEvent("g", "rule_x", "u0")
	require.True(t, s.Decide(&prime).Log)

	rate := uint64(1)
	q := gateExposureEvent("g", "rule_x", "u1")
	q.Exposure.SamplingRate = &rate // rate 1 samples everything
	decision := s.Decide(&q)
	assert.True(t, decision.Log)
	assert.Equal(t, uint64(1), decision.Annotate["samplingRate"])
}

func TestNoEffectiveRateLogsEverything(t *testing.T) {
	// Sampling on, but a non-special rule id with no per-rule rate has no
	// effective rate and always logs.
	s := NewSampler(samplingOn(t), clock.NewMock())
	prime := gateExposureEvent("g", "rule_y", "u0")
	require.True(t, s.Decide(&prime).Log)
	q := gateExposureEvent("g", "rule_y", "u1")
	assert.True(t, s.Decide(&q).Log)
}
