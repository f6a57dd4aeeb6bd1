package specs

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const operatorStrMatches = "str_matches"

// Parse decodes a ruleset payload and precomputes everything evaluation needs:
// regex targets compiled, lowercase projections materialized. Payloads with
// has_updates=false decode to a Response with HasUpdates false and no maps.
func Parse(data []byte) (*Response, error) {
	var probe struct {
		HasUpdates *bool `json:"has_updates"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("specs response: %w", err)
	}
	if probe.HasUpdates != nil && !*probe.HasUpdates {
		return &Response{HasUpdates: false}, nil
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("specs response: %w", err)
	}
	resp.HasUpdates = true
	resp.precompute()
	return &resp, nil
}

func (r *Response) precompute() {
	for _, cond := range r.ConditionMap {
		if cond == nil || cond.Operator == nil || cond.TargetValue == nil {
			continue
		}
		if *cond.Operator == operatorStrMatches {
			cond.TargetValue.CompileRegex()
		}
	}
}

// Marshal re-encodes the snapshot. DynamicValues serialize their original
// bytes, so serialize-deserialize-serialize is semantically a no-op.
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
