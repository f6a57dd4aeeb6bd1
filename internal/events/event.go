package events

import (
	"strconv"

	"gatehouse/internal/evaluation"
	"gatehouse/internal/hashing"
	"gatehouse/internal/specs"
	"gatehouse/internal/user"
)

// Exposure event names.
const (
	GateExposureName   = "statsig::gate_exposure"
	ConfigExposureName = "statsig::config_exposure"
	LayerExposureName  = "statsig::layer_exposure"
	diagnosticsName    = "statsig::diagnostics"
)

// Event is the wire shape of one logged event.
type Event struct {
	EventName          string                         `json:"eventName"`
	User               user.Loggable                  `json:"user"`
	Value              interface{}                    `json:"value,omitempty"`
	Metadata           map[string]string              `json:"metadata,omitempty"`
	Time               int64                          `json:"time"`
	SecondaryExposures []evaluation.SecondaryExposure `json:"secondaryExposures,omitempty"`
	StatsigMetadata    map[string]interface{}         `json:"statsigMetadata,omitempty"`
}

// ExposureInfo rides alongside an exposure event until the sampling decision
// is made; custom events carry none and bypass sampling entirely.
type ExposureInfo struct {
	Kind     string // "gate" | "config" | "layer"
	SpecName string
	RuleID   string
	UnitID   string
	// ExtraKey folds kind-specific fields into the dedupe fingerprint
	// (gate value, parameter name).
	ExtraKey string

	SamplingRate           *uint64
	ForwardAllExposures    bool
	HasSeenAnalyticalGates bool

	// SkipSampling marks exposures produced by local overrides; they never
	// participate in dedupe or sampling.
	SkipSampling bool
}

// QueuedEvent pairs the payload with its sampling context.
type QueuedEvent struct {
	Event    Event
	Exposure *ExposureInfo
}

// DedupeKey fingerprints (kind, spec, rule, unit, extras).
func (x *ExposureInfo) DedupeKey() uint64 {
	return hashing.CombineFingerprints(x.Kind, x.SpecName, x.RuleID, x.UnitID, x.ExtraKey)
}

// SpecRuleKey fingerprints the (spec, rule) pair for first-time sampling.
func (x *ExposureInfo) SpecRuleKey() [2]uint64 {
	return [2]uint64{hashing.Fingerprint64(x.SpecName), hashing.Fingerprint64(x.RuleID)}
}

// IsSampled buckets the dedupe fingerprint through the effective rate: one in
// every rate distinct keys logs.
func (x *ExposureInfo) IsSampled(rate uint64) bool {
	if rate == 0 {
		return true
	}
	return x.DedupeKey()%rate == 0
}

// EvalDetails names the provenance of the snapshot an evaluation used.
type EvalDetails struct {
	Reason     string
	LCUT       int64
	ReceivedAt int64
}

// Reason composes "<Source>:<suffix>"; NoValues stands alone.
func Reason(source specs.Source, suffix string) string {
	if source == specs.SourceNoValues {
		return string(specs.SourceNoValues)
	}
	return string(source) + ":" + suffix
}

func baseExposureMetadata(details EvalDetails, ruleID string) map[string]string {
	md := map[string]string{
		"reason": details.Reason,
		"ruleID": ruleID,
	}
	if details.LCUT > 0 {
		md["lcut"] = strconv.FormatInt(details.LCUT, 10)
	}
	if details.ReceivedAt > 0 {
		md["receivedAt"] = strconv.FormatInt(details.ReceivedAt, 10)
	}
	return md
}

// NewGateExposure builds the queued event for one gate check.
func NewGateExposure(u *user.Internal, gateName string, res *evaluation.Result, details EvalDetails, now int64) QueuedEvent {
	value := "false"
	if res.BoolValue {
		value = "true"
	}
	md := baseExposureMetadata(details, res.RuleID)
	md["gate"] = gateName
	md["gateValue"] = value
	return QueuedEvent{
		Event: Event{
			EventName:          GateExposureName,
			User:               u.ToLoggable(),
			Metadata:           md,
			Time:               now,
			SecondaryExposures: append([]evaluation.SecondaryExposure(nil), res.SecondaryExposures...),
		},
		Exposure: &ExposureInfo{
			Kind:                   "gate",
			SpecName:               gateName,
			RuleID:                 res.RuleID,
			UnitID:                 u.UnitID(res.IDType),
			ExtraKey:               value,
			SamplingRate:           res.SamplingRate,
			ForwardAllExposures:    res.ForwardAllExposures,
			HasSeenAnalyticalGates: res.HasSeenAnalyticalGates,
			SkipSampling:           res.OverrideReason != "",
		},
	}
}

// NewConfigExposure builds the queued event for a config or experiment read.
func NewConfigExposure(u *user.Internal, configName string, res *evaluation.Result, details EvalDetails, now int64) QueuedEvent {
	md := baseExposureMetadata(details, res.RuleID)
	md["config"] = configName
	md["rulePassed"] = strconv.FormatBool(res.BoolValue)
	return QueuedEvent{
		Event: Event{
			EventName:          ConfigExposureName,
			User:               u.ToLoggable(),
			Metadata:           md,
			Time:               now,
			SecondaryExposures: append([]evaluation.SecondaryExposure(nil), res.SecondaryExposures...),
		},
		Exposure: &ExposureInfo{
			Kind:                   "config",
			SpecName:               configName,
			RuleID:                 res.RuleID,
			UnitID:                 u.UnitID(res.IDType),
			SamplingRate:           res.SamplingRate,
			ForwardAllExposures:    res.ForwardAllExposures,
			HasSeenAnalyticalGates: res.HasSeenAnalyticalGates,
			SkipSampling:           res.OverrideReason != "",
		},
	}
}

// NewLayerExposure builds the queued event for one layer parameter read. The
// exposure chain depends on whether the parameter came from the allocated
// experiment or the layer itself.
func NewLayerExposure(u *user.Internal, layerName, paramName string, res *evaluation.Result, details EvalDetails, now int64) QueuedEvent {
	isExplicit := res.HasExplicitParameter(paramName)
	allocated := ""
	exposures := res.UndelegatedSecondaryExposures
	if isExplicit {
		if res.ConfigDelegate != nil {
			allocated = *res.ConfigDelegate
		}
		exposures = res.SecondaryExposures
	}

	md := baseExposureMetadata(details, res.RuleID)
	md["config"] = layerName
	md["parameterName"] = paramName
	md["allocatedExperiment"] = allocated
	md["isExplicitParameter"] = strconv.FormatBool(isExplicit)

	return QueuedEvent{
		Event: Event{
			EventName:          LayerExposureName,
			User:               u.ToLoggable(),
			Metadata:           md,
			Time:               now,
			SecondaryExposures: append([]evaluation.SecondaryExposure(nil), exposures...),
		},
		Exposure: &ExposureInfo{
			Kind:                   "layer",
			SpecName:               layerName,
			RuleID:                 res.RuleID,
			UnitID:                 u.UnitID(res.IDType),
			ExtraKey:               paramName + ":" + allocated,
			SamplingRate:           res.SamplingRate,
			ForwardAllExposures:    res.ForwardAllExposures,
			HasSeenAnalyticalGates: res.HasSeenAnalyticalGates,
			SkipSampling:           res.OverrideReason != "",
		},
	}
}

// NewCustomEvent wraps an embedder event; no exposure info, so no sampling.
func NewCustomEvent(u *user.Internal, name string, value interface{}, metadata map[string]string, now int64) QueuedEvent {
	return QueuedEvent{Event: Event{
		EventName: name,
		User:      u.ToLoggable(),
		Value:     value,
		Metadata:  metadata,
		Time:      now,
	}}
}
