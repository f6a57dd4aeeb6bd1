package dynamic

import (
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Value is a JSON scalar plus precomputed coercions. Rulesets are decoded once
// and then compared against user attributes millions of times, so every typed
// projection a comparator could want is materialized at decode time.
type Value struct {
	Null       bool
	BoolValue  *bool
	IntValue   *int64
	FloatValue *float64
	StrValue   *string
	LowerValue *string
	ArrayValue []Value
	ObjectValue map[string]Value

	// Regex is compiled on demand for str_matches targets; never part of equality.
	Regex *regexp.Regexp

	// Raw retains the original JSON encoding for round-tripping.
	Raw jsoniter.RawMessage
}

func FromString(s string) Value {
	v := Value{StrValue: &s}
	lower := strings.ToLower(s)
	v.LowerValue = &lower
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		v.IntValue = &i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v.FloatValue = &f
	}
	raw, _ := json.Marshal(s)
	v.Raw = raw
	return v
}

func FromBool(b bool) Value {
	s := strconv.FormatBool(b)
	raw, _ := json.Marshal(b)
	return Value{BoolValue: &b, StrValue: &s, LowerValue: &s, Raw: raw}
}

func FromInt64(i int64) Value {
	f := float64(i)
	s := strconv.FormatInt(i, 10)
	raw, _ := json.Marshal(i)
	return Value{IntValue: &i, FloatValue: &f, StrValue: &s, LowerValue: &s, Raw: raw}
}

func FromFloat64(f float64) Value {
	i := int64(f)
	s := strconv.FormatFloat(f, 'f', -1, 64)
	raw, _ := json.Marshal(f)
	return Value{IntValue: &i, FloatValue: &f, StrValue: &s, LowerValue: &s, Raw: raw}
}

// ForTimestamp carries only the integer projection; time comparators read
// IntValue and nothing else.
func ForTimestamp(ms int64) Value {
	return Value{IntValue: &ms}
}

// FromAny builds a Value from a decoded JSON tree (map[string]interface{},
// []interface{}, string, float64, bool, nil) or native Go scalars.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Value{Null: true, Raw: jsoniter.RawMessage("null")}
	case bool:
		return FromBool(t)
	case string:
		return FromString(t)
	case int:
		return FromInt64(int64(t))
	case int64:
		return FromInt64(t)
	case float64:
		if t == float64(int64(t)) {
			v := FromInt64(int64(t))
			return v
		}
		return FromFloat64(t)
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, el := range t {
			arr = append(arr, FromAny(el))
		}
		raw, _ := json.Marshal(t)
		s := string(raw)
		lower := strings.ToLower(s)
		return Value{ArrayValue: arr, StrValue: &s, LowerValue: &lower, Raw: raw}
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, el := range t {
			obj[k] = FromAny(el)
		}
		raw, _ := json.Marshal(t)
		return Value{ObjectValue: obj, Raw: raw}
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return Value{Null: true, Raw: jsoniter.RawMessage("null")}
		}
		var tree interface{}
		if err := json.Unmarshal(raw, &tree); err != nil {
			return Value{Null: true, Raw: jsoniter.RawMessage("null")}
		}
		return FromAny(tree)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	*v = FromAny(tree)
	v.Raw = append(jsoniter.RawMessage(nil), data...)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.Raw) == 0 {
		return []byte("null"), nil
	}
	return v.Raw, nil
}

// CompileRegex compiles the string projection once. Invalid patterns leave
// Regex nil; the str_matches comparator then fails closed.
func (v *Value) CompileRegex() {
	if v.Regex != nil || v.StrValue == nil {
		return
	}
	if re, err := regexp.Compile(*v.StrValue); err == nil {
		v.Regex = re
	}
}

// IsEmpty reports whether no projection is populated.
func (v *Value) IsEmpty() bool {
	return !v.Null && v.BoolValue == nil && v.IntValue == nil && v.FloatValue == nil &&
		v.StrValue == nil && v.ArrayValue == nil && v.ObjectValue == nil
}

// Equal compares every typed projection. Regex and the raw JSON handle are
// deliberately excluded.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Null != other.Null ||
		!eqBoolPtr(v.BoolValue, other.BoolValue) ||
		!eqInt64Ptr(v.IntValue, other.IntValue) ||
		!eqFloatPtr(v.FloatValue, other.FloatValue) ||
		!eqStrPtr(v.StrValue, other.StrValue) {
		return false
	}
	if len(v.ArrayValue) != len(other.ArrayValue) {
		return false
	}
	for i := range v.ArrayValue {
		if !v.ArrayValue[i].Equal(&other.ArrayValue[i]) {
			return false
		}
	}
	if len(v.ObjectValue) != len(other.ObjectValue) {
		return false
	}
	for k := range v.ObjectValue {
		ov, ok := other.ObjectValue[k]
		if !ok {
			return false
		}
		mv := v.ObjectValue[k]
		if !mv.Equal(&ov) {
			return false
		}
	}
	return true
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
