package evaluation

import (
	"strconv"
	"strings"
	"time"

	"gatehouse/internal/dynamic"
)

func compareNumbers(left, target *dynamic.Value, op string) bool {
	if left == nil || target == nil || left.FloatValue == nil || target.FloatValue == nil {
		return false
	}
	l, r := *left.FloatValue, *target.FloatValue
	switch op {
	case "gt":
		return l > r
	case "gte":
		return l >= r
	case "lt":
		return l < r
	case "lte":
		return l <= r
	}
	return false
}

// versionCompare returns -1/0/1 across dot-separated numeric segments. A
// pre-release suffix after '-' is ignored; missing segments count as 0.
func versionCompare(a, b string) (int, bool) {
	if i := strings.IndexByte(a, '-'); i >= 0 {
		a = a[:i]
	}
	if i := strings.IndexByte(b, '-'); i >= 0 {
		b = b[:i]
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		var av, bv int64
		var err error
		if i < len(as) && as[i] != "" {
			if av, err = strconv.ParseInt(as[i], 10, 64); err != nil {
				return 0, false
			}
		}
		if i < len(bs) && bs[i] != "" {
			if bv, err = strconv.ParseInt(bs[i], 10, 64); err != nil {
				return 0, false
			}
		}
		if av < bv {
			return -1, true
		}
		if av > bv {
			return 1, true
		}
	}
	return 0, true
}

func compareVersions(left, target *dynamic.Value, op string) bool {
	if left == nil || target == nil || left.StrValue == nil || target.StrValue == nil {
		return false
	}
	cmp, ok := versionCompare(*left.StrValue, *target.StrValue)
	if !ok {
		return false
	}
	switch op {
	case "version_gt":
		return cmp > 0
	case "version_gte":
		return cmp >= 0
	case "version_lt":
		return cmp < 0
	case "version_lte":
		return cmp <= 0
	case "version_eq":
		return cmp == 0
	case "version_neq":
		return cmp != 0
	}
	return false
}

// compareStringsInArray matches the left string against each target element.
// none-flavored operators negate the aggregate match.
func compareStringsInArray(left, target *dynamic.Value, op string, ignoreCase bool) bool {
	negate := op == "none" || op == "none_case_sensitive" || op == "str_contains_none"
	found := false
	forEachString(target, func(t string) bool {
		if matchOneString(left, t, op, ignoreCase) {
			found = true
			return false
		}
		return true
	})
	if negate {
		return !found
	}
	return found
}

func matchOneString(left *dynamic.Value, target, op string, ignoreCase bool) bool {
	if left == nil {
		return false
	}
	var l string
	if ignoreCase {
		if left.LowerValue == nil {
			return false
		}
		l = *left.LowerValue
		target = strings.ToLower(target)
	} else {
		if left.StrValue == nil {
			return false
		}
		l = *left.StrValue
	}
	switch op {
	case "any", "none", "any_case_sensitive", "none_case_sensitive":
		return l == target
	case "str_starts_with_any":
		return strings.HasPrefix(l, target)
	case "str_ends_with_any":
		return strings.HasSuffix(l, target)
	case "str_contains_any", "str_contains_none":
		return strings.Contains(l, target)
	}
	return false
}

// forEachString walks a target that is either an array of strings or a single
// string. The visitor returns false to stop.
func forEachString(target *dynamic.Value, visit func(string) bool) {
	if target == nil {
		return
	}
	if target.ArrayValue != nil {
		for i := range target.ArrayValue {
			el := &target.ArrayValue[i]
			if el.StrValue == nil {
				continue
			}
			if !visit(*el.StrValue) {
				return
			}
		}
		return
	}
	if target.StrValue != nil {
		visit(*target.StrValue)
	}
}

func compareStrWithRegex(left, target *dynamic.Value) bool {
	if left == nil || target == nil || left.StrValue == nil || target.Regex == nil {
		return false
	}
	return target.Regex.MatchString(*left.StrValue)
}

func compareTime(left, target *dynamic.Value, op string) bool {
	if left == nil || target == nil || left.IntValue == nil || target.IntValue == nil {
		return false
	}
	l, r := *left.IntValue, *target.IntValue
	switch op {
	case "before":
		return l < r
	case "after":
		return l > r
	case "on":
		ld := time.UnixMilli(l).UTC()
		rd := time.UnixMilli(r).UTC()
		return ld.Year() == rd.Year() && ld.YearDay() == rd.YearDay()
	}
	return false
}

func compareArrays(left, target *dynamic.Value, op string) bool {
	if left == nil || left.ArrayValue == nil || target == nil || target.ArrayValue == nil {
		return false
	}
	contains := func(hay []dynamic.Value, needle *dynamic.Value) bool {
		for i := range hay {
			if hay[i].Equal(needle) {
				return true
			}
		}
		return false
	}
	switch op {
	case "array_contains_any":
		for i := range target.ArrayValue {
			if contains(left.ArrayValue, &target.ArrayValue[i]) {
				return true
			}
		}
		return false
	case "array_contains_none":
		for i := range target.ArrayValue {
			if contains(left.ArrayValue, &target.ArrayValue[i]) {
				return false
			}
		}
		return true
	case "array_contains_all":
		for i := range target.ArrayValue {
			if !contains(left.ArrayValue, &target.ArrayValue[i]) {
				return false
			}
		}
		return true
	case "not_array_contains_all":
		for i := range target.ArrayValue {
			if !contains(left.ArrayValue, &target.ArrayValue[i]) {
				return true
			}
		}
		return false
	}
	return false
}
