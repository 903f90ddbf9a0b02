package expression

import (
	"fmt"
	"math"

	"battery-pricing/core/rounding"
)

// builtin is a function callable from expressions
type builtin struct {
	name    string
	minArgs int
	maxArgs int // -1 for variadic
	fn      func(args []Value) (Value, error)
}

func (b *builtin) call(args []Value) (Value, error) {
	if len(args) < b.minArgs || (b.maxArgs >= 0 && len(args) > b.maxArgs) {
		return Null(), fmt.Errorf("%s() takes %s, got %d", b.name, b.arity(), len(args))
	}
	return b.fn(args)
}

func (b *builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", b.minArgs)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("exactly %d argument(s)", b.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", b.minArgs, b.maxArgs)
	}
}

const mathNamespace = "math"

var builtins = map[string]*builtin{
	"abs":      {name: "abs", minArgs: 1, maxArgs: 1, fn: numericUnary(math.Abs)},
	"min":      {name: "min", minArgs: 1, maxArgs: -1, fn: extremum("min", func(a, b float64) bool { return a < b })},
	"max":      {name: "max", minArgs: 1, maxArgs: -1, fn: extremum("max", func(a, b float64) bool { return a > b })},
	"sum":      {name: "sum", minArgs: 1, maxArgs: 2, fn: builtinSum},
	"round":    {name: "round", minArgs: 1, maxArgs: 2, fn: builtinRound},
	"rounding": {name: "rounding", minArgs: 2, maxArgs: 2, fn: builtinRounding},
}

var mathFuncs = map[string]*builtin{
	"ceil":  {name: "math.ceil", minArgs: 1, maxArgs: 1, fn: numericUnary(math.Ceil)},
	"floor": {name: "math.floor", minArgs: 1, maxArgs: 1, fn: numericUnary(math.Floor)},
	"trunc": {name: "math.trunc", minArgs: 1, maxArgs: 1, fn: numericUnary(math.Trunc)},
	"fabs":  {name: "math.fabs", minArgs: 1, maxArgs: 1, fn: numericUnary(math.Abs)},
	"exp":   {name: "math.exp", minArgs: 1, maxArgs: 1, fn: checkedUnary("math.exp", math.Exp)},
	"sqrt": {name: "math.sqrt", minArgs: 1, maxArgs: 1, fn: func(args []Value) (Value, error) {
		x, err := args[0].AsNumber()
		if err != nil {
			return Null(), err
		}
		if x < 0 {
			return Null(), fmt.Errorf("math domain error: sqrt(%v)", x)
		}
		return Number(math.Sqrt(x)), nil
	}},
	"pow": {name: "math.pow", minArgs: 2, maxArgs: 2, fn: func(args []Value) (Value, error) {
		x, y, err := twoNumbers(args[0], args[1])
		if err != nil {
			return Null(), err
		}
		return power(x, y)
	}},
	"log": {name: "math.log", minArgs: 1, maxArgs: 2, fn: func(args []Value) (Value, error) {
		x, err := args[0].AsNumber()
		if err != nil {
			return Null(), err
		}
		if x <= 0 {
			return Null(), fmt.Errorf("math domain error: log(%v)", x)
		}
		if len(args) == 1 {
			return Number(math.Log(x)), nil
		}
		base, err := args[1].AsNumber()
		if err != nil {
			return Null(), err
		}
		if base <= 0 || base == 1 {
			return Null(), fmt.Errorf("math domain error: log base %v", base)
		}
		return Number(math.Log(x) / math.Log(base)), nil
	}},
}

var mathConstants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

// IsBuiltin reports whether name refers to a built-in function or namespace
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok || name == mathNamespace
}

func numericUnary(f func(float64) float64) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		x, err := args[0].AsNumber()
		if err != nil {
			return Null(), err
		}
		return Number(f(x)), nil
	}
}

func checkedUnary(name string, f func(float64) float64) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		x, err := args[0].AsNumber()
		if err != nil {
			return Null(), err
		}
		r := f(x)
		if math.IsInf(r, 0) {
			return Null(), fmt.Errorf("%s overflow", name)
		}
		return Number(r), nil
	}
}

// spread returns the single list argument's elements, or the arguments themselves
func spread(args []Value) []Value {
	if len(args) == 1 && args[0].Kind() == KindList {
		return args[0].listVal
	}
	return args
}

func extremum(name string, better func(a, b float64) bool) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		items := spread(args)
		if len(items) == 0 {
			return Null(), fmt.Errorf("%s() arg is an empty sequence", name)
		}

		allStrings := true
		for _, it := range items {
			if it.Kind() != KindString {
				allStrings = false
				break
			}
		}
		if allStrings {
			best := items[0]
			for _, it := range items[1:] {
				if (name == "min" && it.stringVal < best.stringVal) || (name == "max" && it.stringVal > best.stringVal) {
					best = it
				}
			}
			return best, nil
		}

		best, err := items[0].AsNumber()
		if err != nil {
			return Null(), err
		}
		for _, it := range items[1:] {
			x, err := it.AsNumber()
			if err != nil {
				return Null(), err
			}
			if better(x, best) {
				best = x
			}
		}
		return Number(best), nil
	}
}

func builtinSum(args []Value) (Value, error) {
	items, err := args[0].AsList()
	if err != nil {
		return Null(), fmt.Errorf("sum() expects a list: %w", err)
	}
	total := 0.0
	if len(args) == 2 {
		if total, err = args[1].AsNumber(); err != nil {
			return Null(), err
		}
	}
	for _, it := range items {
		x, err := it.AsNumber()
		if err != nil {
			return Null(), err
		}
		total += x
	}
	return Number(total), nil
}

func builtinRound(args []Value) (Value, error) {
	x, err := args[0].AsNumber()
	if err != nil {
		return Null(), err
	}
	if len(args) == 1 || args[1].IsNull() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Null(), fmt.Errorf("cannot round non-finite value %v", x)
		}
		return Number(math.RoundToEven(x) + 0), nil
	}
	places, err := args[1].AsNumber()
	if err != nil {
		return Null(), err
	}
	if places != math.Trunc(places) {
		return Null(), fmt.Errorf("round() digits must be an integer, got %v", places)
	}
	// clamp before narrowing so huge digit counts cannot wrap
	places = math.Max(-rounding.MaxPlaces, math.Min(places, rounding.MaxPlaces))
	r, err := rounding.RoundPlaces(x, int32(places))
	if err != nil {
		return Null(), err
	}
	return Number(r), nil
}

func builtinRounding(args []Value) (Value, error) {
	x, err := args[0].AsNumber()
	if err != nil {
		return Null(), err
	}
	// a non-string method is simply an unknown method
	method, _ := args[1].AsString()
	r, err := rounding.RoundStrict(x, method)
	if err != nil {
		return Null(), err
	}
	return Number(r), nil
}

func twoNumbers(a, b Value) (float64, float64, error) {
	x, err := a.AsNumber()
	if err != nil {
		return 0, 0, err
	}
	y, err := b.AsNumber()
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func power(x, y float64) (Value, error) {
	if x == 0 && y < 0 {
		return Null(), fmt.Errorf("zero cannot be raised to a negative power")
	}
	r := math.Pow(x, y)
	if math.IsNaN(r) && !math.IsNaN(x) && !math.IsNaN(y) {
		return Null(), fmt.Errorf("%v ** %v is not a real number", x, y)
	}
	if math.IsInf(r, 0) && !math.IsInf(x, 0) && !math.IsInf(y, 0) {
		return Null(), fmt.Errorf("%v ** %v overflows", x, y)
	}
	return Number(r), nil
}
