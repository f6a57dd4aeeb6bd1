package gatehouse

import (
	"gatehouse/internal/dynamic"
)

// EvaluationDetails names the provenance of the ruleset an answer came from.
// Reason follows the pattern "<Source>:<Recognized|Unrecognized|Unsupported>".
type EvaluationDetails struct {
	Reason     string `json:"reason"`
	LCUT       int64  `json:"lcut,omitempty"`
	ReceivedAt int64  `json:"receivedAt,omitempty"`
}

// FeatureGate is the full result of a gate check.
type FeatureGate struct {
	Name    string            `json:"name"`
	Value   bool              `json:"value"`
	RuleID  string            `json:"ruleID"`
	IDType  string            `json:"idType,omitempty"`
	Details EvaluationDetails `json:"details"`
}

// DynamicConfig is a named JSON object plus match metadata. Typed getters
// fall back to the supplied default when the key is missing or mistyped.
type DynamicConfig struct {
	Name      string                 `json:"name"`
	Value     map[string]interface{} `json:"value"`
	RuleID    string                 `json:"ruleID"`
	GroupName string                 `json:"groupName,omitempty"`
	IDType    string                 `json:"idType,omitempty"`
	Details   EvaluationDetails      `json:"details"`
}

func (c *DynamicConfig) GetString(key, fallback string) string {
	if v, ok := c.Value[key].(string); ok {
		return v
	}
	return fallback
}

func (c *DynamicConfig) GetNumber(key string, fallback float64) float64 {
	switch v := c.Value[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func (c *DynamicConfig) GetBool(key string, fallback bool) bool {
	if v, ok := c.Value[key].(bool); ok {
		return v
	}
	return fallback
}

// Experiment is a dynamic config with experiment bookkeeping.
type Experiment struct {
	DynamicConfig
	IsExperimentActive bool `json:"isExperimentActive"`
	IsUserInExperiment bool `json:"isUserInExperiment"`
}

// Layer exposes parameters that may be delegated to an allocated experiment.
// Reading a parameter through Get logs the layer exposure attributing the
// read to the experiment or the layer itself.
type Layer struct {
	Name                string            `json:"name"`
	RuleID              string            `json:"ruleID"`
	GroupName           string            `json:"groupName,omitempty"`
	AllocatedExperiment string            `json:"allocatedExperimentName,omitempty"`
	Details             EvaluationDetails `json:"details"`

	values  map[string]interface{}
	onRead  func(paramName string)
}

// Get reads a parameter and records its exposure. Missing keys return the
// fallback without logging.
func (l *Layer) Get(paramName string, fallback interface{}) interface{} {
	v, ok := l.values[paramName]
	if !ok {
		return fallback
	}
	if l.onRead != nil {
		l.onRead(paramName)
	}
	return v
}

func (l *Layer) GetString(key, fallback string) string {
	if v, ok := l.Get(key, nil).(string); ok {
		return v
	}
	return fallback
}

func (l *Layer) GetNumber(key string, fallback float64) float64 {
	switch v := l.Get(key, nil).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func (l *Layer) GetBool(key string, fallback bool) bool {
	if v, ok := l.Get(key, nil).(bool); ok {
		return v
	}
	return fallback
}

// valueMap converts an evaluation value into the map public results carry.
func valueMap(v *dynamic.Value) map[string]interface{} {
	if v == nil || len(v.Raw) == 0 {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := jsonCodec.Unmarshal(v.Raw, &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}
