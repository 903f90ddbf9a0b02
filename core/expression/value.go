// Package expression evaluates the arithmetic expressions used by ruleset steps.
//
// Expressions are parsed into an AST by a recursive-descent parser and walked
// by an interpreter against a per-item Environment. Nothing is ever handed to a
// host evaluator; only the built-ins registered in this package are callable.
package expression

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind represents the type of a value
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindList
)

// String returns the kind name used in error messages
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a dynamically typed variable value
type Value struct {
	kind      ValueKind
	numberVal float64
	stringVal string
	listVal   []Value
}

// Null creates a null value
func Null() Value {
	return Value{kind: KindNull}
}

// Number creates a numeric value
func Number(v float64) Value {
	return Value{kind: KindNumber, numberVal: v}
}

// String creates a string value
func String(v string) Value {
	return Value{kind: KindString, stringVal: v}
}

// List creates a list value
func List(elements ...Value) Value {
	return Value{kind: KindList, listVal: elements}
}

// FromGo converts a decoded JSON/YAML/HCL value into a Value.
// Booleans become 1 and 0, matching how they behave in arithmetic.
func FromGo(v interface{}) Value {
	if v == nil {
		return Null()
	}

	switch val := v.(type) {
	case Value:
		return val
	case bool:
		if val {
			return Number(1)
		}
		return Number(0)
	case int:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case uint64:
		return Number(float64(val))
	case float32:
		return Number(float64(val))
	case float64:
		return Number(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return String(val.String())
		}
		return Number(f)
	case string:
		return String(val)
	case []interface{}:
		elements := make([]Value, len(val))
		for i, e := range val {
			elements[i] = FromGo(e)
		}
		return List(elements...)
	default:
		return String(fmt.Sprintf("%v", v))
	}
}

// Kind returns the value kind
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull returns true if value is null
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// IsNumber returns true if value holds a number
func (v Value) IsNumber() bool {
	return v.kind == KindNumber
}

// AsNumber coerces the value to a number. Numeric strings are parsed;
// anything else is an error.
func (v Value) AsNumber() (float64, error) {
	switch v.kind {
	case KindNumber:
		return v.numberVal, nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.stringVal), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot use string %q as a number", v.stringVal)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot use %s as a number", v.kind)
	}
}

// AsString returns the string value
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("value is %v, not string", v.kind)
	}
	return v.stringVal, nil
}

// AsList returns the list elements
func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, fmt.Errorf("value is %v, not list", v.kind)
	}
	return v.listVal, nil
}

// Float returns the number, or 0 for anything that is not a number
func (v Value) Float() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.numberVal
}

// Equals compares values for equality. Numbers compare numerically and a
// number never equals a string.
func (v Value) Equals(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.numberVal == other.numberVal
	case KindString:
		return v.stringVal == other.stringVal
	case KindList:
		if len(v.listVal) != len(other.listVal) {
			return false
		}
		for i := range v.listVal {
			if !v.listVal[i].Equals(other.listVal[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToGo converts the value to a Go interface{}
func (v Value) ToGo() interface{} {
	switch v.kind {
	case KindNumber:
		return v.numberVal
	case KindString:
		return v.stringVal
	case KindList:
		result := make([]interface{}, len(v.listVal))
		for i, e := range v.listVal {
			result[i] = e.ToGo()
		}
		return result
	default:
		return nil
	}
}

// String returns a string representation
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindNumber:
		return strconv.FormatFloat(v.numberVal, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.stringVal)
	case KindList:
		parts := make([]string, len(v.listVal))
		for i, e := range v.listVal {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "(invalid)"
	}
}

// MarshalJSON encodes the value as its natural JSON form.
// Non-finite numbers have no JSON form and are written as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.numberVal) || math.IsInf(v.numberVal, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.ToGo())
}

// UnmarshalJSON decodes any JSON scalar or array into a Value
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if _, ok := raw.(map[string]interface{}); ok {
		return fmt.Errorf("objects are not valid variable values")
	}
	*v = FromGo(raw)
	return nil
}
