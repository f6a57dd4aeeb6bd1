package evaluation

import (
	"strings"
	"time"

	"gatehouse/internal/dynamic"
	"gatehouse/internal/hashing"
	"gatehouse/internal/specs"
	"gatehouse/internal/user"
)

// maxNestedDepth bounds delegate/nested-gate recursion. Rulesets reference
// specs by name, so a cycle is representable; exceeding the bound marks the
// result unsupported instead of recursing forever.
const maxNestedDepth = 300

const (
	RuleIDDefault  = "default"
	RuleIDDisabled = "disabled"
)

const segmentPrefix = "segment:"

// OverrideHook short-circuits an evaluation before the ruleset is consulted.
type OverrideHook interface {
	Apply(ctx *Context, specName string, kind specs.SpecKind, spec *specs.Spec) bool
}

type nestedEntry struct {
	boolValue bool
	ruleID    string
}

// Context carries everything one evaluation needs: the user, an immutable
// ruleset snapshot, and the result accumulator. It never outlives the call.
type Context struct {
	User   *user.Internal
	Specs  *specs.Response
	AppID  *dynamic.Value
	Result *Result

	Override       OverrideHook
	IDListContains func(listName, hashPrefix string) bool
	Now            func() time.Time

	nestedMemo map[string]nestedEntry
	depth      int
}

func (ctx *Context) now() time.Time {
	if ctx.Now != nil {
		return ctx.Now()
	}
	return time.Now()
}

func (ctx *Context) enterNested() bool {
	ctx.depth++
	if ctx.depth > maxNestedDepth {
		ctx.Result.Unsupported = true
		return false
	}
	return true
}

// Evaluate walks the named spec against the context's user, mutating the
// result accumulator. The return reports recognition: false means the name is
// absent from the snapshot and the caller serves its own default.
func Evaluate(ctx *Context, specName string, kind specs.SpecKind) bool {
	var spec *specs.Spec
	if ctx.Specs != nil {
		spec = ctx.Specs.SpecForType(specName, kind)
	}

	if ctx.Override != nil && ctx.Override.Apply(ctx, specName, kind, spec) {
		return true
	}

	if spec == nil {
		return false
	}

	r := ctx.Result
	if r.IDType == "" {
		r.IDType = spec.IDType
	}
	if r.Version == nil && spec.Version != nil {
		r.Version = spec.Version
	}
	if spec.IsActive != nil {
		r.IsExperimentActive = *spec.IsActive
	}
	if spec.HasSharedParams != nil {
		r.IsInLayer = *spec.HasSharedParams
	}
	if spec.ExplicitParameters != nil {
		r.ExplicitParameters = spec.ExplicitParameters
	}
	if spec.ForwardAllExposures != nil && *spec.ForwardAllExposures {
		r.ForwardAllExposures = true
	}

	for _, rule := range spec.Rules {
		evaluateRule(ctx, rule)

		if r.Unsupported {
			return true
		}
		if !r.BoolValue {
			continue
		}

		if evaluateConfigDelegate(ctx, rule) {
			finalizeRule(ctx, spec, rule)
			return true
		}
		if r.Unsupported {
			return true
		}

		if evaluatePassPercentage(ctx, rule, spec.Salt) {
			r.BoolValue = boolOrDefault(&rule.ReturnValue, true)
			r.JSONValue = &rule.ReturnValue
		} else {
			r.BoolValue = boolOrDefault(&spec.DefaultValue, false)
			r.JSONValue = &spec.DefaultValue
		}

		r.RuleID = rule.ID
		r.GroupName = rule.GroupName
		if rule.IsExperimentGroup != nil {
			r.IsExperimentGroup = *rule.IsExperimentGroup
		}
		if spec.IsActive != nil {
			r.IsExperimentActive = *spec.IsActive
		}
		finalizeRule(ctx, spec, rule)
		return true
	}

	r.BoolValue = boolOrDefault(&spec.DefaultValue, false)
	r.JSONValue = &spec.DefaultValue
	if spec.Enabled {
		r.RuleID = RuleIDDefault
	} else {
		r.RuleID = RuleIDDisabled
	}
	return true
}

// boolOrDefault reads a value's boolean projection. Rule return values are
// truthy unless literally false; spec defaults are falsy unless literally true.
func boolOrDefault(v *dynamic.Value, whenPass bool) bool {
	if v == nil || v.BoolValue == nil {
		return whenPass
	}
	if whenPass {
		return *v.BoolValue != false
	}
	return *v.BoolValue == true
}

func finalizeRule(ctx *Context, spec *specs.Spec, rule *specs.Rule) {
	if rule != nil && rule.SamplingRate != nil {
		ctx.Result.SamplingRate = rule.SamplingRate
	}
}

// evaluateRule ANDs every referenced condition. All conditions run even after
// a miss so unsupported operators are always discovered.
func evaluateRule(ctx *Context, rule *specs.Rule) {
	allPass := true
	for _, condHash := range rule.Conditions {
		cond := ctx.Specs.ConditionMap[condHash]
		if cond == nil {
			ctx.Result.Unsupported = true
			return
		}
		evaluateCondition(ctx, cond)
		if ctx.Result.Unsupported {
			return
		}
		if !ctx.Result.BoolValue {
			allPass = false
		}
	}
	ctx.Result.BoolValue = allPass
}

func evaluateCondition(ctx *Context, cond *specs.Condition) {
	var left *dynamic.Value
	var scratch dynamic.Value

	switch cond.Type {
	case "public":
		ctx.Result.BoolValue = true
		return
	case "pass_gate", "fail_gate":
		evaluateNestedGate(ctx, cond)
		return
	case "user_field":
		left = ctx.User.Value(cond.Field)
	case "environment_field":
		left = ctx.User.EnvironmentValue(cond.Field)
	case "current_time":
		scratch = dynamic.ForTimestamp(ctx.now().UnixMilli())
		left = &scratch
	case "user_bucket":
		scratch = userBucket(ctx, cond)
		left = &scratch
	case "unit_id":
		scratch = dynamic.FromString(ctx.User.UnitID(cond.IDType))
		left = &scratch
	case "target_app":
		left = ctx.AppID
	case "ua_based":
		left = ctx.User.Value(cond.Field)
		if left == nil && cond.Field != nil {
			left = uaDerive(ctx.User.UserAgent, *cond.Field)
		}
	case "ip_based":
		// Country derivation from raw IP needs an external lookup table,
		// which is not embedded; absent both, the condition sees no value.
		left = ctx.User.Value(cond.Field)
	default:
		ctx.Result.Unsupported = true
		return
	}

	if cond.Operator == nil {
		ctx.Result.Unsupported = true
		return
	}
	op := *cond.Operator
	target := cond.TargetValue

	switch op {
	case "gt", "gte", "lt", "lte":
		ctx.Result.BoolValue = compareNumbers(left, target, op)
	case "version_gt", "version_gte", "version_lt", "version_lte", "version_eq", "version_neq":
		ctx.Result.BoolValue = compareVersions(left, target, op)
	case "any", "none", "str_starts_with_any", "str_ends_with_any", "str_contains_any", "str_contains_none":
		ctx.Result.BoolValue = compareStringsInArray(left, target, op, true)
	case "any_case_sensitive", "none_case_sensitive":
		ctx.Result.BoolValue = compareStringsInArray(left, target, op, false)
	case "str_matches":
		ctx.Result.BoolValue = compareStrWithRegex(left, target)
	case "before", "after", "on":
		ctx.Result.BoolValue = compareTime(left, target, op)
	case "eq":
		ctx.Result.BoolValue = target.Equal(left)
	case "neq":
		ctx.Result.BoolValue = !target.Equal(left)
	case "in_segment_list", "not_in_segment_list":
		ctx.Result.BoolValue = evaluateSegmentList(ctx, op, target, left)
	case "array_contains_any", "array_contains_none", "array_contains_all", "not_array_contains_all":
		ctx.Result.BoolValue = compareArrays(left, target, op)
	default:
		ctx.Result.Unsupported = true
	}
}

func evaluateSegmentList(ctx *Context, op string, target, left *dynamic.Value) bool {
	inList := false
	if ctx.IDListContains != nil && target != nil && target.StrValue != nil &&
		left != nil && left.StrValue != nil {
		prefix := hashing.Sha256Prefix8(*left.StrValue)
		inList = ctx.IDListContains(*target.StrValue, prefix)
	}
	if op == "not_in_segment_list" {
		return !inList
	}
	return inList
}

// evaluateNestedGate recursively evaluates the gate named by the condition's
// target, memoizing per top-level call, and records a secondary exposure
// unless the gate is a segment.
func evaluateNestedGate(ctx *Context, cond *specs.Condition) {
	gateName := ""
	if cond.TargetValue != nil && cond.TargetValue.StrValue != nil {
		gateName = *cond.TargetValue.StrValue
	}

	if entry, ok := ctx.nestedMemo[gateName]; ok {
		ctx.Result.BoolValue = entry.boolValue
		ctx.Result.RuleID = entry.ruleID
	} else {
		if !ctx.enterNested() {
			return
		}
		Evaluate(ctx, gateName, specs.KindGate)
		if ctx.Result.Unsupported {
			return
		}
		if gateName != "" {
			if ctx.nestedMemo == nil {
				ctx.nestedMemo = make(map[string]nestedEntry, 4)
			}
			ctx.nestedMemo[gateName] = nestedEntry{boolValue: ctx.Result.BoolValue, ruleID: ctx.Result.RuleID}
		}
	}

	if !strings.HasPrefix(gateName, segmentPrefix) {
		r := ctx.Result
		if r.SamplingRate == nil {
			r.HasSeenAnalyticalGates = true
		}
		r.SecondaryExposures = append(r.SecondaryExposures, SecondaryExposure{
			Gate:      gateName,
			GateValue: boolString(r.BoolValue),
			RuleID:    r.RuleID,
		})
	}

	if cond.Type == "fail_gate" {
		ctx.Result.BoolValue = !ctx.Result.BoolValue
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// evaluateConfigDelegate follows a rule's delegate, snapshotting the
// secondary exposures collected so far. Reports whether a delegate took over.
func evaluateConfigDelegate(ctx *Context, rule *specs.Rule) bool {
	if rule.ConfigDelegate == nil {
		return false
	}
	delegate := *rule.ConfigDelegate
	delegateSpec := ctx.Specs.DynamicConfigs[delegate]
	if delegateSpec == nil {
		return false
	}

	snapshot := append([]SecondaryExposure(nil), ctx.Result.SecondaryExposures...)
	ctx.Result.UndelegatedSecondaryExposures = snapshot

	if !ctx.enterNested() {
		return false
	}
	if !Evaluate(ctx, delegate, specs.KindExperiment) {
		ctx.Result.UndelegatedSecondaryExposures = nil
		return false
	}

	ctx.Result.ExplicitParameters = delegateSpec.ExplicitParameters
	ctx.Result.ConfigDelegate = rule.ConfigDelegate
	return true
}

// evaluatePassPercentage buckets the user deterministically. 100 and 0 never
// hash, preserving behavior when the user lacks the rule's id-type.
func evaluatePassPercentage(ctx *Context, rule *specs.Rule, specSalt string) bool {
	if rule.PassPercentage >= 100 {
		return true
	}
	if rule.PassPercentage <= 0 {
		return false
	}
	ruleSalt := rule.ID
	if rule.Salt != nil {
		ruleSalt = *rule.Salt
	}
	unitID := ctx.User.UnitID(rule.IDType)
	hash := hashing.EvaluationHash(specSalt + "." + ruleSalt + "." + unitID)
	return float64(hash%10000) < rule.PassPercentage*100
}

// userBucket hashes the user into [0, 1000) through a per-condition salt.
func userBucket(ctx *Context, cond *specs.Condition) dynamic.Value {
	salt := ""
	if v, ok := cond.AdditionalValues["salt"]; ok && v.StrValue != nil {
		salt = *v.StrValue
	}
	unitID := ctx.User.UnitID(cond.IDType)
	hash := hashing.EvaluationHash(salt + "." + unitID)
	return dynamic.FromInt64(int64(hash % 1000))
}
