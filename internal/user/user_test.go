package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestTopLevelFieldsWinOverCustom(t *testing.T) {
	in := NewInternal(User{
		Email:  "real@example.com",
		Custom: map[string]interface{}{"email": "fake@example.com"},
	}, nil)
	v := in.Value(strPtr("email"))
	require.NotNil(t, v)
	assert.Equal(t, "real@example.com", *v.StrValue)
}

func TestCustomLookupIsCaseInsensitive(t *testing.T) {
	in := NewInternal(User{Custom: map[string]interface{}{"Plan": "pro"}}, nil)
	v := in.Value(strPtr("plan"))
	require.NotNil(t, v)
	assert.Equal(t, "pro", *v.StrValue)
}

func TestPrivateAttributesResolveButStayUnlogged(t *testing.T) {
	in := NewInternal(User{
		UserID:            "u1",
		PrivateAttributes: map[string]interface{}{"ssn": "000-00-0000"},
	}, nil)
	v := in.Value(strPtr("ssn"))
	require.NotNil(t, v)
	assert.Equal(t, "000-00-0000", *v.StrValue)

	loggable := in.ToLoggable()
	assert.Equal(t, "u1", loggable.UserID)
	assert.Nil(t, loggable.Custom)
}

func TestUnitIDResolution(t *testing.T) {
	in := NewInternal(User{
		UserID:    "u1",
		CustomIDs: map[string]string{"companyID": "c9"},
	}, nil)
	assert.Equal(t, "u1", in.UnitID(""))
	assert.Equal(t, "u1", in.UnitID("userID"))
	assert.Equal(t, "u1", in.UnitID("UserID"))
	assert.Equal(t, "c9", in.UnitID("companyID"))
	assert.Equal(t, "c9", in.UnitID("COMPANYID"))
	assert.Equal(t, "", in.UnitID("orgID"))
}

func TestEnvironmentValue(t *testing.T) {
	in := NewInternal(User{}, &Environment{Tier: "staging"})
	v := in.EnvironmentValue(strPtr("tier"))
	require.NotNil(t, v)
	assert.Equal(t, "staging", *v.StrValue)

	assert.Nil(t, in.EnvironmentValue(strPtr("nope")))
	bare := NewInternal(User{}, nil)
	assert.Nil(t, bare.EnvironmentValue(strPtr("tier")))
}

func TestLoggableCarriesEnvironment(t *testing.T) {
	in := NewInternal(User{UserID: "u1"}, &Environment{Tier: "production"})
	loggable := in.ToLoggable()
	require.NotNil(t, loggable.Environment)
	assert.Equal(t, "production", loggable.Environment.Tier)
}

func TestMissingFieldResolvesNil(t *testing.T) {
	in := NewInternal(User{UserID: "u1"}, nil)
	assert.Nil(t, in.Value(strPtr("country")))
	assert.Nil(t, in.Value(nil))
}
