package gcir

import (
	"time"

	"gatehouse/internal/dynamic"
	"gatehouse/internal/evaluation"
	"gatehouse/internal/hashing"
	"gatehouse/internal/specs"
	"gatehouse/internal/user"
)

// Options steer one bulk evaluation.
type Options struct {
	HashAlgorithm hashing.Algorithm
	// ClientSDKKey scopes the response to the app the client key is bound
	// to; specs targeting other apps are skipped.
	ClientSDKKey string
	Now          func() time.Time
}

// Response is the client-bootstrap document: every spec pre-evaluated for one
// user so a client SDK can initialize with zero network calls.
type Response struct {
	FeatureGates   map[string]GateEvaluation   `json:"feature_gates"`
	DynamicConfigs map[string]ConfigEvaluation `json:"dynamic_configs"`
	LayerConfigs   map[string]LayerEvaluation  `json:"layer_configs"`
	HasUpdates     bool                        `json:"has_updates"`
	Time           int64                       `json:"time"`
	HashUsed       string                      `json:"hash_used"`
	EvaluatedKeys  map[string]interface{}      `json:"evaluated_keys"`
}

type baseEvaluation struct {
	Name               string               `json:"name"`
	RuleID             string               `json:"rule_id"`
	IDType             string               `json:"id_type,omitempty"`
	SecondaryExposures []hashedExposure     `json:"secondary_exposures"`
}

type hashedExposure struct {
	Gate      string `json:"gate"`
	GateValue string `json:"gateValue"`
	RuleID    string `json:"ruleID"`
}

type GateEvaluation struct {
	baseEvaluation
	Value bool `json:"value"`
}

type ConfigEvaluation struct {
	baseEvaluation
	Value              interface{} `json:"value"`
	GroupName          *string     `json:"group_name,omitempty"`
	IsUserInExperiment bool        `json:"is_user_in_experiment,omitempty"`
	IsExperimentActive bool        `json:"is_experiment_active,omitempty"`
	IsInLayer          bool        `json:"is_in_layer,omitempty"`
	ExplicitParameters []string    `json:"explicit_parameters,omitempty"`
}

type LayerEvaluation struct {
	ConfigEvaluation
	UndelegatedSecondaryExposures []hashedExposure `json:"undelegated_secondary_exposures"`
	AllocatedExperimentName       string           `json:"allocated_experiment_name,omitempty"`
}

// Formatter bulk-evaluates a ruleset snapshot for a single user.
type Formatter struct {
	specs          *specs.Response
	idListContains func(list, prefix string) bool
	appID          *dynamic.Value
}

func NewFormatter(resp *specs.Response, idListContains func(list, prefix string) bool, appID *dynamic.Value) *Formatter {
	return &Formatter{specs: resp, idListContains: idListContains, appID: appID}
}

// Format evaluates every servable spec. Segments and holdouts never appear;
// specs targeted at other apps are filtered when a client key is supplied.
func (f *Formatter) Format(u *user.Internal, opts Options) *Response {
	out := &Response{
		FeatureGates:   make(map[string]GateEvaluation),
		DynamicConfigs: make(map[string]ConfigEvaluation),
		LayerConfigs:   make(map[string]LayerEvaluation),
		HashUsed:       string(opts.HashAlgorithm),
		EvaluatedKeys:  evaluatedKeys(u),
	}
	if f.specs == nil {
		return out
	}
	out.HasUpdates = true
	out.Time = f.specs.Time

	appID := f.clientAppID(opts.ClientSDKKey)

	for name, spec := range f.specs.FeatureGates {
		if !f.servable(spec, appID) {
			continue
		}
		res := f.evaluate(u, name, specs.KindGate, opts)
		out.FeatureGates[hashing.HashName(name, opts.HashAlgorithm)] = GateEvaluation{
			baseEvaluation: baseEval(name, res, opts.HashAlgorithm),
			Value:          res.BoolValue,
		}
	}

	for name, spec := range f.specs.DynamicConfigs {
		if !f.servable(spec, appID) {
			continue
		}
		res := f.evaluate(u, name, specs.KindDynamicConfig, opts)
		out.DynamicConfigs[hashing.HashName(name, opts.HashAlgorithm)] = configEval(name, spec, res, opts.HashAlgorithm)
	}

	for name, spec := range f.specs.LayerConfigs {
		if !f.servable(spec, appID) {
			continue
		}
		res := f.evaluate(u, name, specs.KindLayer, opts)
		layer := LayerEvaluation{ConfigEvaluation: configEval(name, spec, res, opts.HashAlgorithm)}
		layer.UndelegatedSecondaryExposures = hashExposures(res.UndelegatedSecondaryExposures, opts.HashAlgorithm)
		if res.ConfigDelegate != nil {
			layer.AllocatedExperimentName = hashing.HashName(*res.ConfigDelegate, opts.HashAlgorithm)
		}
		out.LayerConfigs[hashing.HashName(name, opts.HashAlgorithm)] = layer
	}

	return out
}

func (f *Formatter) evaluate(u *user.Internal, name string, kind specs.SpecKind, opts Options) *evaluation.Result {
	res := &evaluation.Result{}
	ctx := &evaluation.Context{
		User:           u,
		Specs:          f.specs,
		AppID:          f.appID,
		Result:         res,
		IDListContains: f.idListContains,
		Now:            opts.Now,
	}
	evaluation.Evaluate(ctx, name, kind)
	return res
}

// servable filters segments, holdouts, and cross-app specs.
func (f *Formatter) servable(spec *specs.Spec, appID string) bool {
	if spec == nil {
		return false
	}
	if spec.Entity == specs.EntitySegment || spec.Entity == specs.EntityHoldout {
		return false
	}
	if appID != "" && len(spec.TargetAppIDs) > 0 {
		for _, target := range spec.TargetAppIDs {
			if target == appID {
				return true
			}
		}
		return false
	}
	return true
}

// clientAppID resolves the app bound to a client SDK key, consulting the
// plain map then the hashed one.
func (f *Formatter) clientAppID(clientKey string) string {
	if clientKey == "" {
		return ""
	}
	if id, ok := f.specs.SDKKeysToAppIDs[clientKey]; ok {
		return id
	}
	if id, ok := f.specs.HashedSDKKeysToAppIDs[hashing.Sha256Hex(clientKey)]; ok {
		return id
	}
	return ""
}

func baseEval(name string, res *evaluation.Result, algo hashing.Algorithm) baseEvaluation {
	return baseEvaluation{
		Name:               hashing.HashName(name, algo),
		RuleID:             res.RuleID,
		IDType:             res.IDType,
		SecondaryExposures: hashExposures(res.SecondaryExposures, algo),
	}
}

func configEval(name string, spec *specs.Spec, res *evaluation.Result, algo hashing.Algorithm) ConfigEvaluation {
	ce := ConfigEvaluation{
		baseEvaluation: baseEval(name, res, algo),
		GroupName:      res.GroupName,
	}
	if res.JSONValue != nil {
		ce.Value = res.JSONValue.Raw
	}
	if spec.Entity == specs.EntityExperiment || spec.Entity == specs.EntityAutotune {
		ce.IsUserInExperiment = res.IsExperimentGroup
		ce.IsExperimentActive = res.IsExperimentActive
		ce.IsInLayer = res.IsInLayer
		ce.ExplicitParameters = res.ExplicitParameters
	}
	if spec.Entity == specs.EntityLayer {
		ce.ExplicitParameters = res.ExplicitParameters
	}
	return ce
}

// hashExposures maps gate names through the chosen algorithm, dropping
// duplicate (gate, value, rule) tuples.
func hashExposures(in []evaluation.SecondaryExposure, algo hashing.Algorithm) []hashedExposure {
	out := make([]hashedExposure, 0, len(in))
	seen := make(map[hashedExposure]struct{}, len(in))
	for _, exp := range in {
		h := hashedExposure{
			Gate:      hashing.HashName(exp.Gate, algo),
			GateValue: exp.GateValue,
			RuleID:    exp.RuleID,
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func evaluatedKeys(u *user.Internal) map[string]interface{} {
	keys := make(map[string]interface{}, 2)
	if u.UserID != "" {
		keys["userID"] = u.UserID
	}
	if len(u.CustomIDs) > 0 {
		keys["customIDs"] = u.CustomIDs
	}
	return keys
}
