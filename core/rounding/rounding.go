// Package rounding implements the named rounding policies applied to prices.
//
// Method names:
//
//	ceil, floor, round                 integer rounding
//	ceil{N}, floor{N}, round{N}        multiple of N, N in {10, 25, 50, 100}
//
// Any other method falls back to ordinary rounding. Ties resolve to the even
// neighbour of the quotient, so round50 maps 1225 to 1200 and 1275 to 1300.
package rounding

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Multiples are the step sizes accepted after ceil, floor and round
var Multiples = []int{10, 25, 50, 100}

type policy func(float64) float64

var policies = buildPolicies()

func buildPolicies() map[string]policy {
	p := map[string]policy{
		"ceil":  math.Ceil,
		"floor": math.Floor,
		"round": math.RoundToEven,
	}
	for _, n := range Multiples {
		step := float64(n)
		p["ceil"+strconv.Itoa(n)] = func(v float64) float64 { return math.Ceil(v/step) * step }
		p["floor"+strconv.Itoa(n)] = func(v float64) float64 { return math.Floor(v/step) * step }
		p["round"+strconv.Itoa(n)] = func(v float64) float64 { return math.RoundToEven(v/step) * step }
	}
	return p
}

// Round applies method to value. Unknown methods use ordinary rounding.
// Non-finite values are returned unchanged.
func Round(value float64, method string) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	fn, ok := policies[method]
	if !ok {
		fn = math.RoundToEven
	}
	// adding zero folds a negative zero result into zero
	return fn(value) + 0
}

// RoundStrict is Round for callers that treat non-finite input as an error
func RoundStrict(value float64, method string) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("cannot round non-finite value %v", value)
	}
	return Round(value, method), nil
}

// Known reports whether method is a recognised policy name
func Known(method string) bool {
	_, ok := policies[method]
	return ok
}

// Methods returns every recognised policy name in sorted order
func Methods() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxPlaces bounds the digit count RoundPlaces works with. A float64 has no
// digits beyond it in either direction.
const MaxPlaces = 330

// RoundPlaces rounds value to places decimal digits, resolving ties to even.
// The decision is made on the exact binary value, so 2.675 rounds to 2.67.
// Negative places round to tens, hundreds and so on. Places at or beyond
// MaxPlaces return value unchanged, or zero when negative.
func RoundPlaces(value float64, places int32) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("cannot round non-finite value %v", value)
	}
	switch {
	case places >= MaxPlaces:
		return value, nil
	case places <= -MaxPlaces:
		return 0, nil
	}
	d, err := Exact(value)
	if err != nil {
		return 0, err
	}
	return d.RoundBank(places).InexactFloat64(), nil
}

// Exact returns the exact decimal expansion of a finite float64
func Exact(value float64) (decimal.Decimal, error) {
	s := strconv.FormatFloat(value, 'f', 1074, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return decimal.NewFromString(s)
}

// Money renders an amount with two decimals, the way prices are exported
func Money(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return decimal.NewFromFloat(value).StringFixedBank(2)
}
