package gatehouse

import (
	"time"

	"gatehouse/internal/dynamic"
	"gatehouse/internal/evaluation"
	"gatehouse/internal/events"
	"gatehouse/internal/gcir"
	"gatehouse/internal/hashing"
	"gatehouse/internal/specs"
	"gatehouse/internal/specstore"
	"gatehouse/internal/user"
)

const overrideRuleID = "override"

// CheckGateOptions tunes a single gate check.
type CheckGateOptions struct {
	DisableExposureLogging bool
}

type GetConfigOptions struct {
	DisableExposureLogging bool
}

type GetExperimentOptions struct {
	DisableExposureLogging bool
}

type GetLayerOptions struct {
	DisableExposureLogging bool
}

// ClientInitResponseOptions steers GetClientInitializeResponse.
type ClientInitResponseOptions struct {
	// HashAlgorithm is "djb2" (default), "sha256", or "none".
	HashAlgorithm string
	ClientSDKKey  string
}

// ClientInitializeResponse is the client-bootstrap document.
type ClientInitializeResponse = gcir.Response

// evalOutcome bundles everything one evaluation produced.
type evalOutcome struct {
	res     *evaluation.Result
	details EvaluationDetails
	ui      *user.Internal
	snap    specstore.Snapshot
}

func (c *Client) evaluateSpec(u User, name string, kind specs.SpecKind) evalOutcome {
	snap := c.store.Snapshot()

	env := c.environment
	if env == nil && snap.Values != nil && snap.Values.DefaultEnvironment != "" {
		env = &Environment{Tier: snap.Values.DefaultEnvironment}
	}
	ui := user.NewInternal(u, env)

	res := &evaluation.Result{}
	ctx := &evaluation.Context{
		User:           ui,
		Specs:          snap.Values,
		Result:         res,
		Override:       c.override,
		IDListContains: c.idListStore.Contains,
	}
	if snap.Values != nil {
		ctx.AppID = snap.Values.AppID
	}

	recognized := evaluation.Evaluate(ctx, name, kind)

	suffix := "Unrecognized"
	if recognized {
		suffix = "Recognized"
	}
	if res.Unsupported {
		suffix = "Unsupported"
		// Unsupported rulesets serve the spec default, never a partial match.
		if snap.Values != nil {
			if spec := snap.Values.SpecForType(name, kind); spec != nil {
				res.BoolValue = spec.DefaultValue.BoolValue != nil && *spec.DefaultValue.BoolValue
				res.JSONValue = &spec.DefaultValue
				res.RuleID = evaluation.RuleIDDefault
			}
		}
	}

	reason := events.Reason(snap.Source, suffix)
	if res.OverrideReason != "" {
		reason = res.OverrideReason + ":Recognized"
	}

	details := EvaluationDetails{
		Reason: reason,
		LCUT:   snap.LCUT(),
	}
	if !snap.ReceivedAt.IsZero() {
		details.ReceivedAt = snap.ReceivedAt.UnixMilli()
	}
	return evalOutcome{res: res, details: details, ui: ui, snap: snap}
}

func (c *Client) evalDetailsForEvents(d EvaluationDetails) events.EvalDetails {
	return events.EvalDetails{Reason: d.Reason, LCUT: d.LCUT, ReceivedAt: d.ReceivedAt}
}

// CheckGate reports whether the named gate is on for the user, logging an
// exposure.
func (c *Client) CheckGate(u User, name string) bool {
	return c.GetFeatureGate(u, name).Value
}

// CheckGateWithOptions is CheckGate with exposure logging control.
func (c *Client) CheckGateWithOptions(u User, name string, opts CheckGateOptions) bool {
	return c.featureGateImpl(u, name, opts.DisableExposureLogging).Value
}

// GetFeatureGate returns the typed gate result with evaluation details.
func (c *Client) GetFeatureGate(u User, name string) FeatureGate {
	return c.featureGateImpl(u, name, false)
}

func (c *Client) featureGateImpl(u User, name string, disableExposure bool) FeatureGate {
	out := c.evaluateSpec(u, name, specs.KindGate)
	if disableExposure {
		c.logger.IncrementNonExposureCheck(name)
	} else {
		c.logger.Enqueue(events.NewGateExposure(out.ui, name, out.res,
			c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
	}
	return FeatureGate{
		Name:    name,
		Value:   out.res.BoolValue,
		RuleID:  out.res.RuleID,
		IDType:  out.res.IDType,
		Details: out.details,
	}
}

// ManuallyLogGateExposure evaluates without serving and logs the exposure.
func (c *Client) ManuallyLogGateExposure(u User, name string) {
	out := c.evaluateSpec(u, name, specs.KindGate)
	c.logger.Enqueue(events.NewGateExposure(out.ui, name, out.res,
		c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
}

// GetConfig returns the dynamic config for the user, logging an exposure.
func (c *Client) GetConfig(u User, name string) DynamicConfig {
	return c.configImpl(u, name, specs.KindDynamicConfig, false)
}

func (c *Client) GetConfigWithOptions(u User, name string, opts GetConfigOptions) DynamicConfig {
	return c.configImpl(u, name, specs.KindDynamicConfig, opts.DisableExposureLogging)
}

func (c *Client) ManuallyLogConfigExposure(u User, name string) {
	out := c.evaluateSpec(u, name, specs.KindDynamicConfig)
	c.logger.Enqueue(events.NewConfigExposure(out.ui, name, out.res,
		c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
}

func (c *Client) configImpl(u User, name string, kind specs.SpecKind, disableExposure bool) DynamicConfig {
	out := c.evaluateSpec(u, name, kind)
	if disableExposure {
		c.logger.IncrementNonExposureCheck(name)
	} else {
		c.logger.Enqueue(events.NewConfigExposure(out.ui, name, out.res,
			c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
	}
	cfg := DynamicConfig{
		Name:    name,
		Value:   valueMap(out.res.JSONValue),
		RuleID:  out.res.RuleID,
		IDType:  out.res.IDType,
		Details: out.details,
	}
	if out.res.GroupName != nil {
		cfg.GroupName = *out.res.GroupName
	}
	return cfg
}

// GetExperiment returns the experiment variant for the user.
func (c *Client) GetExperiment(u User, name string) Experiment {
	return c.experimentImpl(u, name, false)
}

func (c *Client) GetExperimentWithOptions(u User, name string, opts GetExperimentOptions) Experiment {
	return c.experimentImpl(u, name, opts.DisableExposureLogging)
}

func (c *Client) ManuallyLogExperimentExposure(u User, name string) {
	c.ManuallyLogConfigExposure(u, name)
}

func (c *Client) experimentImpl(u User, name string, disableExposure bool) Experiment {
	out := c.evaluateSpec(u, name, specs.KindExperiment)
	if disableExposure {
		c.logger.IncrementNonExposureCheck(name)
	} else {
		c.logger.Enqueue(events.NewConfigExposure(out.ui, name, out.res,
			c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
	}
	exp := Experiment{
		DynamicConfig: DynamicConfig{
			Name:    name,
			Value:   valueMap(out.res.JSONValue),
			RuleID:  out.res.RuleID,
			IDType:  out.res.IDType,
			Details: out.details,
		},
		IsExperimentActive: out.res.IsExperimentActive,
		IsUserInExperiment: out.res.IsExperimentGroup,
	}
	if out.res.GroupName != nil {
		exp.GroupName = *out.res.GroupName
	}
	return exp
}

// GetLayer returns the layer for the user. Parameter exposures are logged
// lazily as parameters are read.
func (c *Client) GetLayer(u User, name string) Layer {
	return c.layerImpl(u, name, false)
}

func (c *Client) GetLayerWithOptions(u User, name string, opts GetLayerOptions) Layer {
	return c.layerImpl(u, name, opts.DisableExposureLogging)
}

// ManuallyLogLayerParameterExposure logs the exposure for one parameter.
func (c *Client) ManuallyLogLayerParameterExposure(u User, name, paramName string) {
	out := c.evaluateSpec(u, name, specs.KindLayer)
	c.logger.Enqueue(events.NewLayerExposure(out.ui, name, paramName, out.res,
		c.evalDetailsForEvents(out.details), c.clock.Now().UnixMilli()))
}

func (c *Client) layerImpl(u User, name string, disableExposure bool) Layer {
	out := c.evaluateSpec(u, name, specs.KindLayer)
	layer := Layer{
		Name:    name,
		RuleID:  out.res.RuleID,
		Details: out.details,
		values:  valueMap(out.res.JSONValue),
	}
	if out.res.GroupName != nil {
		layer.GroupName = *out.res.GroupName
	}
	if out.res.ConfigDelegate != nil {
		layer.AllocatedExperiment = *out.res.ConfigDelegate
	}
	res, details, ui := out.res, out.details, out.ui
	if disableExposure {
		layer.onRead = func(string) { c.logger.IncrementNonExposureCheck(name) }
	} else {
		layer.onRead = func(paramName string) {
			c.logger.Enqueue(events.NewLayerExposure(ui, name, paramName, res,
				c.evalDetailsForEvents(details), c.clock.Now().UnixMilli()))
		}
	}
	return layer
}

// LogEvent enqueues a custom event. Value may be a string or number; custom
// events bypass dedupe and sampling.
func (c *Client) LogEvent(u User, eventName string, value interface{}, metadata map[string]string) {
	ui := user.NewInternal(u, c.environment)
	c.logger.Enqueue(events.NewCustomEvent(ui, eventName, value, metadata, c.clock.Now().UnixMilli()))
}

// GetClientInitializeResponse bulk-evaluates every servable spec for the user.
func (c *Client) GetClientInitializeResponse(u User, opts ClientInitResponseOptions) *ClientInitializeResponse {
	snap := c.store.Snapshot()
	env := c.environment
	if env == nil && snap.Values != nil && snap.Values.DefaultEnvironment != "" {
		env = &Environment{Tier: snap.Values.DefaultEnvironment}
	}
	ui := user.NewInternal(u, env)

	algo := hashing.Algorithm(opts.HashAlgorithm)
	switch algo {
	case hashing.AlgorithmDJB2, hashing.AlgorithmSha256, hashing.AlgorithmNone:
	default:
		algo = hashing.AlgorithmDJB2
	}

	var appID *dynamic.Value
	if snap.Values != nil {
		appID = snap.Values.AppID
	}
	formatter := gcir.NewFormatter(snap.Values, c.idListStore.Contains, appID)
	return formatter.Format(ui, gcir.Options{
		HashAlgorithm: algo,
		ClientSDKKey:  opts.ClientSDKKey,
		Now:           time.Now,
	})
}

// overrideShim adapts the public OverrideAdapter onto the evaluator's hook.
type overrideShim struct {
	adapter OverrideAdapter
}

func (s *overrideShim) Apply(ctx *evaluation.Context, name string, kind specs.SpecKind, spec *specs.Spec) bool {
	u := ctx.User.User
	r := ctx.Result
	switch kind {
	case specs.KindGate:
		v, ok := s.adapter.GetGateOverride(u, name)
		if !ok {
			return false
		}
		value := dynamic.FromBool(v)
		r.BoolValue = v
		r.JSONValue = &value
		r.RuleID = overrideRuleID
		r.OverrideReason = string(specs.SourceLocalOverride)
		return true

	case specs.KindDynamicConfig:
		v, ok := s.adapter.GetConfigOverride(u, name)
		if !ok {
			return false
		}
		applyJSONOverride(r, v)
		return true

	case specs.KindExperiment:
		v, groupName, ok := s.adapter.GetExperimentOverride(u, name)
		if !ok {
			return false
		}
		if groupName != nil && spec != nil {
			for _, rule := range spec.Rules {
				if rule.GroupName != nil && *rule.GroupName == *groupName {
					r.BoolValue = true
					r.JSONValue = &rule.ReturnValue
					r.RuleID = rule.ID
					r.GroupName = rule.GroupName
					if rule.IsExperimentGroup != nil {
						r.IsExperimentGroup = *rule.IsExperimentGroup
					}
					r.OverrideReason = string(specs.SourceLocalOverride)
					return true
				}
			}
			return false
		}
		applyJSONOverride(r, v)
		return true

	case specs.KindLayer:
		v, ok := s.adapter.GetLayerOverride(u, name)
		if !ok {
			return false
		}
		applyJSONOverride(r, v)
		return true
	}
	return false
}

func applyJSONOverride(r *evaluation.Result, v map[string]interface{}) {
	value := dynamic.FromAny(normalizeJSONMap(v))
	r.BoolValue = true
	r.JSONValue = &value
	r.RuleID = overrideRuleID
	r.OverrideReason = string(specs.SourceLocalOverride)
}

// normalizeJSONMap substitutes an empty map for a nil override value.
func normalizeJSONMap(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}
