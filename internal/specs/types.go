package specs

import (
	"time"

	"gatehouse/internal/dynamic"
)

// Source tags where the currently held ruleset came from. It is the prefix of
// every evaluation reason string.
type Source string

const (
	SourceUninitialized Source = "Uninitialized"
	SourceLoading       Source = "Loading"
	SourceNetwork       Source = "Network"
	SourceBootstrap     Source = "Bootstrap"
	SourceDataAdapter   Source = "DataAdapter"
	SourceNoValues      Source = "NoValues"
	SourceLocalOverride Source = "LocalOverride"
	SourceError         Source = "Error"
)

// Update is the raw payload handed from an adapter to the store.
type Update struct {
	Data       []byte
	Source     Source
	ReceivedAt time.Time
}

// Entity kinds a spec may declare.
const (
	EntityFeatureGate   = "feature_gate"
	EntityDynamicConfig = "dynamic_config"
	EntityExperiment    = "experiment"
	EntityLayer         = "layer"
	EntitySegment       = "segment"
	EntityHoldout       = "holdout"
	EntityAutotune      = "autotune"
)

// Response is one immutable snapshot of the control plane's decision data.
// Readers share it; replacement happens only by whole-value swap in the store.
type Response struct {
	HasUpdates         bool              `json:"has_updates"`
	Time               int64             `json:"time"`
	Checksum           string            `json:"checksum"`
	FeatureGates       map[string]*Spec  `json:"feature_gates"`
	DynamicConfigs     map[string]*Spec  `json:"dynamic_configs"`
	LayerConfigs       map[string]*Spec  `json:"layer_configs"`
	ConditionMap       map[string]*Condition `json:"condition_map"`
	ParamStores        map[string]*ParameterStore `json:"param_stores,omitempty"`
	LayersForExperiment map[string]string `json:"experiment_to_layer,omitempty"`
	AppID              *dynamic.Value    `json:"app_id,omitempty"`
	SDKKeysToAppIDs    map[string]string `json:"sdk_keys_to_app_ids,omitempty"`
	HashedSDKKeysToAppIDs map[string]string `json:"hashed_sdk_keys_to_app_ids,omitempty"`
	Diagnostics        *DiagnosticsConfig `json:"diagnostics,omitempty"`
	SDKConfigs         *SDKConfigs       `json:"sdk_configs,omitempty"`
	DefaultEnvironment string            `json:"default_environment,omitempty"`
}

// Spec is one gate, config, experiment, layer, segment or holdout.
type Spec struct {
	Salt                string         `json:"salt"`
	Enabled             bool           `json:"enabled"`
	Rules               []*Rule        `json:"rules"`
	DefaultValue        dynamic.Value  `json:"defaultValue"`
	IDType              string         `json:"idType"`
	Entity              string         `json:"entity"`
	IsActive            *bool          `json:"isActive,omitempty"`
	HasSharedParams     *bool          `json:"hasSharedParams,omitempty"`
	ExplicitParameters  []string       `json:"explicitParameters,omitempty"`
	TargetAppIDs        []string       `json:"targetAppIDs,omitempty"`
	Version             *int64         `json:"version,omitempty"`
	ForwardAllExposures *bool          `json:"forwardAllExposures,omitempty"`
}

type Rule struct {
	ID                string        `json:"id"`
	Salt              *string       `json:"salt,omitempty"`
	PassPercentage    float64       `json:"passPercentage"`
	IDType            string        `json:"idType"`
	Conditions        []string      `json:"conditions"`
	ReturnValue       dynamic.Value `json:"returnValue"`
	GroupName         *string       `json:"groupName,omitempty"`
	ConfigDelegate    *string       `json:"configDelegate,omitempty"`
	IsExperimentGroup *bool         `json:"isExperimentGroup,omitempty"`
	SamplingRate      *uint64       `json:"samplingRate,omitempty"`
}

type Condition struct {
	Type             string                   `json:"type"`
	Operator         *string                  `json:"operator,omitempty"`
	Field            *string                  `json:"field,omitempty"`
	TargetValue      *dynamic.Value           `json:"targetValue,omitempty"`
	AdditionalValues map[string]dynamic.Value `json:"additionalValues,omitempty"`
	IDType           string                   `json:"idType"`
}

// ParameterStore indirects parameter reads to gates, configs, experiments,
// layers or static values.
type ParameterStore struct {
	TargetAppIDs []string              `json:"targetAppIDs,omitempty"`
	Parameters   map[string]*Parameter `json:"parameters"`
}

type Parameter struct {
	RefType   string         `json:"ref_type"`
	ParamType string         `json:"param_type,omitempty"`

	Value *dynamic.Value `json:"value,omitempty"` // static_value

	GateName  *string        `json:"gate_name,omitempty"`
	PassValue *dynamic.Value `json:"pass_value,omitempty"`
	FailValue *dynamic.Value `json:"fail_value,omitempty"`

	ConfigName     *string `json:"config_name,omitempty"`
	ExperimentName *string `json:"experiment_name,omitempty"`
	LayerName      *string `json:"layer_name,omitempty"`
	ParamName      *string `json:"param_name,omitempty"`
}

// Parameter ref types.
const (
	RefTypeStaticValue = "static_value"
	RefTypeGate        = "gate"
	RefTypeConfig      = "dynamic_config"
	RefTypeExperiment  = "experiment"
	RefTypeLayer       = "layer"
)

// DiagnosticsConfig carries server-controlled sampling rates for internal
// diagnostics events, keyed by context name.
type DiagnosticsConfig struct {
	SamplingRates map[string]float64 `json:"sampling_rates,omitempty"`
}

// SDKConfigs carries server-side tuning of the event pipeline.
type SDKConfigs struct {
	SamplingMode            *string `json:"sampling_mode,omitempty"` // "on" | "shadow" | "none"
	SpecialCaseSamplingRate *uint64 `json:"special_case_sampling_rate,omitempty"`
	EventFlushIntervalMS    *int64  `json:"event_logging_flush_interval_ms,omitempty"`
	EventQueueSize          *int64  `json:"event_logging_max_queue_size,omitempty"`
}

// SpecForType resolves a name against the kind-appropriate map. Experiments
// live in the dynamic-config map.
func (r *Response) SpecForType(name string, kind SpecKind) *Spec {
	switch kind {
	case KindGate:
		return r.FeatureGates[name]
	case KindDynamicConfig, KindExperiment:
		return r.DynamicConfigs[name]
	case KindLayer:
		return r.LayerConfigs[name]
	}
	return nil
}

// SpecKind distinguishes which top-level map a lookup targets.
type SpecKind int

const (
	KindGate SpecKind = iota
	KindDynamicConfig
	KindExperiment
	KindLayer
)

func (k SpecKind) String() string {
	switch k {
	case KindGate:
		return "gate"
	case KindDynamicConfig:
		return "dynamic_config"
	case KindExperiment:
		return "experiment"
	case KindLayer:
		return "layer"
	}
	return "unknown"
}
