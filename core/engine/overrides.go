package engine

import (
	"battery-pricing/core/expression"
	"battery-pricing/core/ruleset"
)

// ResolveOverrides merges the Set of every override matching attrs, in
// declaration order. Later overrides win on key collisions. The result is
// empty, never nil, when nothing matches.
func ResolveOverrides(overrides []ruleset.Override, attrs *expression.Environment) *expression.Environment {
	merged := expression.NewEnvironment()
	for _, ov := range overrides {
		if Matches(ov, attrs) {
			merged.Merge(ov.Set)
		}
	}
	return merged
}

// Matches reports whether every When condition of ov equals the
// corresponding attribute. Numbers compare numerically, strings exactly,
// and a number never equals a string. A null condition matches an absent
// attribute. An override without conditions matches every item.
func Matches(ov ruleset.Override, attrs *expression.Environment) bool {
	if ov.When == nil {
		return true
	}

	matched := true
	ov.When.Range(func(name string, want expression.Value) bool {
		got, ok := attrs.Get(name)
		if !ok {
			got = expression.Null()
		}
		if !got.Equals(want) {
			matched = false
			return false
		}
		return true
	})
	return matched
}
