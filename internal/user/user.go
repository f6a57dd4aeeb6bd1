package user

import (
	"strings"

	"gatehouse/internal/dynamic"
)

// User is the subject of an evaluation. Immutable for the duration of a call.
type User struct {
	UserID            string                 `json:"userID,omitempty"`
	Email             string                 `json:"email,omitempty"`
	IP                string                 `json:"ip,omitempty"`
	Country           string                 `json:"country,omitempty"`
	Locale            string                 `json:"locale,omitempty"`
	AppVersion        string                 `json:"appVersion,omitempty"`
	UserAgent         string                 `json:"userAgent,omitempty"`
	CustomIDs         map[string]string      `json:"customIDs,omitempty"`
	Custom            map[string]interface{} `json:"custom,omitempty"`
	PrivateAttributes map[string]interface{} `json:"privateAttributes,omitempty"`
}

// Environment is the tier tag attached to logged events.
type Environment struct {
	Tier string `json:"tier"`
}

// Internal wraps a User with the lowercase indexes evaluation needs. Building
// one is cheap relative to an evaluation over many rules, and the wrapper is
// reused across every spec touched by a single client call.
type Internal struct {
	User
	Environment *Environment

	lowerCustomIDs map[string]string
	lowerCustom    map[string]interface{}
	lowerPrivate   map[string]interface{}

	memo map[string]*dynamic.Value
}

func NewInternal(u User, env *Environment) *Internal {
	in := &Internal{User: u, Environment: env, memo: make(map[string]*dynamic.Value, 4)}
	if len(u.CustomIDs) > 0 {
		in.lowerCustomIDs = make(map[string]string, len(u.CustomIDs))
		for k, v := range u.CustomIDs {
			in.lowerCustomIDs[strings.ToLower(k)] = v
		}
	}
	if len(u.Custom) > 0 {
		in.lowerCustom = make(map[string]interface{}, len(u.Custom))
		for k, v := range u.Custom {
			in.lowerCustom[strings.ToLower(k)] = v
		}
	}
	if len(u.PrivateAttributes) > 0 {
		in.lowerPrivate = make(map[string]interface{}, len(u.PrivateAttributes))
		for k, v := range u.PrivateAttributes {
			in.lowerPrivate[strings.ToLower(k)] = v
		}
	}
	return in
}

// Value resolves a condition field against the user. Declared top-level
// fields win over custom entries of the same name; custom wins over private.
// Lookup is case-insensitive. Returns nil when nothing is set.
func (in *Internal) Value(field *string) *dynamic.Value {
	if field == nil || *field == "" {
		return nil
	}
	key := strings.ToLower(*field)
	if v, ok := in.memo[key]; ok {
		return v
	}
	v := in.resolve(key)
	in.memo[key] = v
	return v
}

func (in *Internal) resolve(key string) *dynamic.Value {
	var top string
	switch key {
	case "userid", "user_id":
		top = in.UserID
	case "email":
		top = in.Email
	case "ip":
		top = in.IP
	case "country":
		top = in.Country
	case "locale":
		top = in.Locale
	case "appversion", "app_version":
		top = in.AppVersion
	case "useragent", "user_agent":
		top = in.UserAgent
	}
	if top != "" {
		v := dynamic.FromString(top)
		return &v
	}
	if raw, ok := in.lowerCustom[key]; ok && raw != nil {
		v := dynamic.FromAny(raw)
		return &v
	}
	if raw, ok := in.lowerPrivate[key]; ok && raw != nil {
		v := dynamic.FromAny(raw)
		return &v
	}
	return nil
}

// UnitID resolves the id the pass-percentage hash keys on. Empty or "userid"
// id-types use UserID; anything else is a custom-id lookup, case-insensitive.
// Missing ids resolve to the empty string so bucketing stays deterministic.
func (in *Internal) UnitID(idType string) string {
	if idType == "" || strings.EqualFold(idType, "userid") {
		return in.UserID
	}
	if v, ok := in.CustomIDs[idType]; ok {
		return v
	}
	if v, ok := in.lowerCustomIDs[strings.ToLower(idType)]; ok {
		return v
	}
	return ""
}

// EnvironmentValue resolves an environment_field condition, falling back to
// nothing when no tier is set.
func (in *Internal) EnvironmentValue(field *string) *dynamic.Value {
	if in.Environment == nil || field == nil {
		return nil
	}
	if strings.EqualFold(*field, "tier") && in.Environment.Tier != "" {
		v := dynamic.FromString(in.Environment.Tier)
		return &v
	}
	return nil
}

// Loggable is the event-payload shape of a user: private attributes omitted,
// environment included.
type Loggable struct {
	UserID      string                 `json:"userID,omitempty"`
	Email       string                 `json:"email,omitempty"`
	IP          string                 `json:"ip,omitempty"`
	Country     string                 `json:"country,omitempty"`
	Locale      string                 `json:"locale,omitempty"`
	AppVersion  string                 `json:"appVersion,omitempty"`
	UserAgent   string                 `json:"userAgent,omitempty"`
	CustomIDs   map[string]string      `json:"customIDs,omitempty"`
	Custom      map[string]interface{} `json:"custom,omitempty"`
	Environment *Environment           `json:"statsigEnvironment,omitempty"`
}

// ToLoggable snapshots the user for event payloads.
func (in *Internal) ToLoggable() Loggable {
	return Loggable{
		UserID:      in.UserID,
		Email:       in.Email,
		IP:          in.IP,
		Country:     in.Country,
		Locale:      in.Locale,
		AppVersion:  in.AppVersion,
		UserAgent:   in.UserAgent,
		CustomIDs:   in.CustomIDs,
		Custom:      in.Custom,
		Environment: in.Environment,
	}
}
