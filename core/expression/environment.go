package expression

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Environment is the variable environment of a single item evaluation.
// Names keep the position of their first assignment.
//
// An Environment is not safe for concurrent use; every evaluation owns its own.
type Environment struct {
	keys   []string
	values map[string]Value
}

// NewEnvironment creates an empty environment
func NewEnvironment() *Environment {
	return &Environment{
		values: make(map[string]Value),
	}
}

// EnvironmentFromMap builds an environment from decoded values.
// Go maps carry no order, so keys are inserted in the order given by keys
// when provided and any remaining ones follow in unspecified order.
func EnvironmentFromMap(values map[string]Value, keys ...string) *Environment {
	env := NewEnvironment()
	for _, k := range keys {
		if v, ok := values[k]; ok {
			env.Set(k, v)
		}
	}
	for k, v := range values {
		if !env.Has(k) {
			env.Set(k, v)
		}
	}
	return env
}

// Set assigns a variable
func (e *Environment) Set(name string, value Value) {
	if _, exists := e.values[name]; !exists {
		e.keys = append(e.keys, name)
	}
	e.values[name] = value
}

// Get retrieves a variable. A nil environment is empty.
func (e *Environment) Get(name string) (Value, bool) {
	if e == nil {
		return Null(), false
	}
	v, ok := e.values[name]
	return v, ok
}

// GetOr retrieves a variable or returns def when it is not defined
func (e *Environment) GetOr(name string, def Value) Value {
	if v, ok := e.Get(name); ok {
		return v
	}
	return def
}

// Has reports whether name is defined
func (e *Environment) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

// Merge assigns every variable of other, in other's order.
// Existing names are overwritten.
func (e *Environment) Merge(other *Environment) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		e.Set(k, other.values[k])
	}
}

// Keys returns the variable names in insertion order
func (e *Environment) Keys() []string {
	if e == nil {
		return nil
	}
	result := make([]string, len(e.keys))
	copy(result, e.keys)
	return result
}

// Len returns the number of variables
func (e *Environment) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// Range iterates in insertion order until fn returns false
func (e *Environment) Range(fn func(name string, value Value) bool) {
	if e == nil {
		return
	}
	for _, k := range e.keys {
		if !fn(k, e.values[k]) {
			return
		}
	}
}

// Clone returns an independent copy. Cloning nil gives an empty environment.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return NewEnvironment()
	}
	c := &Environment{
		keys:   make([]string, len(e.keys)),
		values: make(map[string]Value, len(e.values)),
	}
	copy(c.keys, e.keys)
	for k, v := range e.values {
		c.values[k] = v
	}
	return c
}

// ToMap converts the environment to plain Go values
func (e *Environment) ToMap() map[string]interface{} {
	if e == nil {
		return map[string]interface{}{}
	}
	result := make(map[string]interface{}, len(e.keys))
	for _, k := range e.keys {
		result[k] = e.values[k].ToGo()
	}
	return result
}

// MarshalJSON writes the environment as a JSON object in insertion order
func (e *Environment) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		b, err := json.Marshal(e.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping its key order
func (e *Environment) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("environment must be a JSON object")
	}

	*e = Environment{values: make(map[string]Value)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		e.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
