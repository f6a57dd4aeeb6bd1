package gcir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/dynamic"
	"gatehouse/internal/hashing"
	"gatehouse/internal/specs"
	"gatehouse/internal/user"
)

func valPtr(v interface{}) *dynamic.Value {
	dv := dynamic.FromAny(v)
	return &dv
}

func fixtureResponse() *specs.Response {
	return &specs.Response{
		Time: 1234,
		FeatureGates: map[string]*specs.Spec{
			"public_gate": {
				Enabled: true,
				IDType:  "userID",
				Entity:  specs.EntityFeatureGate,
				Rules: []*specs.Rule{{
					ID: "rule_1", PassPercentage: 100, IDType: "userID",
					Conditions: []string{"c_pub"}, ReturnValue: dynamic.FromBool(true),
				}},
				DefaultValue: dynamic.FromBool(false),
			},
			"segment:internal": {
				Enabled: true, IDType: "userID", Entity: specs.EntitySegment,
				DefaultValue: dynamic.FromBool(true),
			},
			"holdout_gate": {
				Enabled: true, IDType: "userID", Entity: specs.EntityHoldout,
				DefaultValue: dynamic.FromBool(true),
			},
		},
		DynamicConfigs: map[string]*specs.Spec{
			"exp": {
				Enabled: true, IDType: "userID", Entity: specs.EntityExperiment,
				DefaultValue: dynamic.FromAny(map[string]interface{}{"variant": "control"}),
			},
		},
		LayerConfigs: map[string]*specs.Spec{
			"layer": {
				Enabled: true, IDType: "userID", Entity: specs.EntityLayer,
				DefaultValue: dynamic.FromAny(map[string]interface{}{"p": 1}),
			},
		},
		ConditionMap: map[string]*specs.Condition{
			"c_pub": {Type: "public"},
		},
	}
}

func format(resp *specs.Response, opts Options) *Response {
	f := NewFormatter(resp, nil, nil)
	return f.Format(user.NewInternal(user.User{UserID: "u1"}, nil), opts)
}

func TestSegmentsAndHoldoutsSkipped(t *testing.T) {
	out := format(fixtureResponse(), Options{HashAlgorithm: hashing.AlgorithmNone})
	assert.Contains(t, out.FeatureGates, "public_gate")
	assert.NotContains(t, out.FeatureGates, "segment:internal")
	assert.NotContains(t, out.FeatureGates, "holdout_gate")
	assert.Contains(t, out.DynamicConfigs, "exp")
	assert.Contains(t, out.LayerConfigs, "layer")
	assert.True(t, out.HasUpdates)
	assert.Equal(t, int64(1234), out.Time)
}

func TestNamesHashedWithDJB2(t *testing.T) {
	out := format(fixtureResponse(), Options{HashAlgorithm: hashing.AlgorithmDJB2})
	hashed := hashing.DJB2("public_gate")
	require.Contains(t, out.FeatureGates, hashed)
	assert.Equal(t, hashed, out.FeatureGates[hashed].Name)
	assert.True(t, out.FeatureGates[hashed].Value)
	assert.Equal(t, "djb2", out.HashUsed)
}

func TestTargetAppFiltering(t *testing.T) {
	resp := fixtureResponse()
	resp.SDKKeysToAppIDs = map[string]string{"client-abc": "app_1"}
	resp.FeatureGates["other_app_gate"] = &specs.Spec{
		Enabled: true, IDType: "userID", Entity: specs.EntityFeatureGate,
		TargetAppIDs: []string{"app_2"},
		DefaultValue: dynamic.FromBool(true),
	}
	resp.FeatureGates["this_app_gate"] = &specs.Spec{
		Enabled: true, IDType: "userID", Entity: specs.EntityFeatureGate,
		TargetAppIDs: []string{"app_1"},
		DefaultValue: dynamic.FromBool(true),
	}

	out := format(resp, Options{HashAlgorithm: hashing.AlgorithmNone, ClientSDKKey: "client-abc"})
	assert.Contains(t, out.FeatureGates, "this_app_gate")
	assert.NotContains(t, out.FeatureGates, "other_app_gate")
	// Untargeted specs are served to every app.
	assert.Contains(t, out.FeatureGates, "public_gate")
}

func TestHashedClientKeyLookup(t *testing.T) {
	resp := fixtureResponse()
	resp.HashedSDKKeysToAppIDs = map[string]string{hashing.Sha256Hex("client-xyz"): "app_9"}
	resp.FeatureGates["nine_only"] = &specs.Spec{
		Enabled: true, IDType: "userID", Entity: specs.EntityFeatureGate,
		TargetAppIDs: []string{"app_9"},
		DefaultValue: dynamic.FromBool(true),
	}
	out := format(resp, Options{HashAlgorithm: hashing.AlgorithmNone, ClientSDKKey: "client-xyz"})
	assert.Contains(t, out.FeatureGates, "nine_only")
}

func TestSecondaryExposuresHashedAndDeduped(t *testing.T) {
	resp := fixtureResponse()
	resp.FeatureGates["inner"] = &specs.Spec{
		Enabled: true, IDType: "userID", Entity: specs.EntityFeatureGate,
		DefaultValue: dynamic.FromBool(true),
	}
	// Two conditions referencing the same inner gate produce one exposure.
	resp.ConditionMap["c_inner"] = &specs.Condition{Type: "pass_gate", TargetValue: valPtr("inner")}
	resp.FeatureGates["outer"] = &specs.Spec{
		Enabled: true, IDType: "userID", Entity: specs.EntityFeatureGate,
		Rules: []*specs.Rule{{
			ID: "r", PassPercentage: 100, IDType: "userID",
			Conditions:  []string{"c_inner", "c_inner"},
			ReturnValue: dynamic.FromBool(true),
		}},
		DefaultValue: dynamic.FromBool(false),
	}

	out := format(resp, Options{HashAlgorithm: hashing.AlgorithmDJB2})
	outer := out.FeatureGates[hashing.DJB2("outer")]
	require.Len(t, outer.SecondaryExposures, 1)
	assert.Equal(t, hashing.DJB2("inner"), outer.SecondaryExposures[0].Gate)
}

func TestEvaluatedKeys(t *testing.T) {
	f := NewFormatter(fixtureResponse(), nil, nil)
	out := f.Format(user.NewInternal(user.User{
		UserID:    "u1",
		CustomIDs: map[string]string{"companyID": "c1"},
	}, nil), Options{HashAlgorithm: hashing.AlgorithmNone})
	assert.Equal(t, "u1", out.EvaluatedKeys["userID"])
	assert.Equal(t, map[string]string{"companyID": "c1"}, out.EvaluatedKeys["customIDs"])
}

func TestNilSnapshotProducesEmptyDocument(t *testing.T) {
	f := NewFormatter(nil, nil, nil)
	out := f.Format(user.NewInternal(user.User{UserID: "u1"}, nil), Options{HashAlgorithm: hashing.AlgorithmNone})
	assert.False(t, out.HasUpdates)
	assert.Empty(t, out.FeatureGates)
}
