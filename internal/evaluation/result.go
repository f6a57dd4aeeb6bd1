package evaluation

import (
	"gatehouse/internal/dynamic"
)

// SecondaryExposure records one nested gate evaluation that justified an
// enclosing result.
type SecondaryExposure struct {
	Gate      string `json:"gate"`
	GateValue string `json:"gateValue"`
	RuleID    string `json:"ruleID"`
}

// Result is the mutable accumulator for a single evaluation. It is reused via
// Reset so a per-thread pool can serve repeated calls without reallocating.
type Result struct {
	BoolValue bool
	JSONValue *dynamic.Value

	RuleID    string
	GroupName *string
	IDType    string
	Version   *int64

	IsExperimentGroup  bool
	IsExperimentActive bool
	IsInLayer          bool

	ExplicitParameters []string
	ConfigDelegate     *string
	ParameterRuleIDs   map[string]string

	SecondaryExposures            []SecondaryExposure
	UndelegatedSecondaryExposures []SecondaryExposure

	Unsupported bool

	// Sampling hints consumed by the event logger.
	SamplingRate           *uint64
	ForwardAllExposures    bool
	HasSeenAnalyticalGates bool

	// OverrideReason is set when an override adapter short-circuited the
	// evaluation; it replaces the store source in the exposure reason.
	OverrideReason string
}

// Reset clears the accumulator in place, keeping allocated slices.
func (r *Result) Reset() {
	r.BoolValue = false
	r.JSONValue = nil
	r.RuleID = ""
	r.GroupName = nil
	r.IDType = ""
	r.Version = nil
	r.IsExperimentGroup = false
	r.IsExperimentActive = false
	r.IsInLayer = false
	r.ExplicitParameters = nil
	r.ConfigDelegate = nil
	r.ParameterRuleIDs = nil
	r.SecondaryExposures = r.SecondaryExposures[:0]
	r.UndelegatedSecondaryExposures = nil
	r.Unsupported = false
	r.SamplingRate = nil
	r.ForwardAllExposures = false
	r.HasSeenAnalyticalGates = false
	r.OverrideReason = ""
}

// HasExplicitParameter reports whether a layer parameter is owned by the
// allocated experiment.
func (r *Result) HasExplicitParameter(name string) bool {
	for _, p := range r.ExplicitParameters {
		if p == name {
			return true
		}
	}
	return false
}
