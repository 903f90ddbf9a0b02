// Package ruleset defines pricing rulesets: the declarative, versioned
// documents that drive the pricing engine.
package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"battery-pricing/core/expression"
)

// DefaultOutputs are extracted when a ruleset does not list its outputs
var DefaultOutputs = []string{"precio_publico", "markup", "rentabilidad"}

// Ruleset is an immutable pricing configuration. It is never mutated once
// loaded; the engine only reads it.
type Ruleset struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// AppliesTo is an informational filter kept verbatim
	AppliesTo map[string]interface{} `json:"appliesTo,omitempty"`

	// Globals are constants merged into every item environment
	Globals *expression.Environment `json:"globals,omitempty"`

	Steps     []Step     `json:"steps"`
	Overrides []Override `json:"overrides,omitempty"`

	// Outputs names the variables extracted as item outputs.
	// Empty means DefaultOutputs.
	Outputs []string `json:"outputs,omitempty"`
}

// OutputKeys returns the variables to extract as outputs
func (r *Ruleset) OutputKeys() []string {
	if len(r.Outputs) > 0 {
		return r.Outputs
	}
	return DefaultOutputs
}

// ID returns "name@version"
func (r *Ruleset) ID() string {
	return r.Name + "@" + r.Version
}

// UnmarshalJSON accepts the version as a string or a number
func (r *Ruleset) UnmarshalJSON(data []byte) error {
	type plain Ruleset
	aux := struct {
		*plain
		Version json.RawMessage `json:"version"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v, err := decodeVersion(aux.Version)
	if err != nil {
		return err
	}
	r.Version = v
	return nil
}

func decodeVersion(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", fmt.Errorf("version must be a string or a number, got %s", raw)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// Step assigns one variable from exactly one source. A nil field means the
// source key was absent from the document.
type Step struct {
	Var   string
	From  *string
	Value *expression.Value
	Expr  *string
}

// Sources lists the source keys present on the step, in from/value/expr order
func (s Step) Sources() []string {
	var found []string
	if s.From != nil {
		found = append(found, "from")
	}
	if s.Value != nil {
		found = append(found, "value")
	}
	if s.Expr != nil {
		found = append(found, "expr")
	}
	return found
}

// String renders the step the way it reads in a ruleset
func (s Step) String() string {
	switch {
	case s.From != nil:
		return fmt.Sprintf("%s = %s", s.Var, *s.From)
	case s.Value != nil:
		return fmt.Sprintf("%s = %s", s.Var, s.Value.String())
	case s.Expr != nil:
		return fmt.Sprintf("%s = %s", s.Var, *s.Expr)
	default:
		return s.Var + " = ?"
	}
}

// FromStep builds a copy step
func FromStep(name, from string) Step {
	return Step{Var: name, From: &from}
}

// ValueStep builds a literal step
func ValueStep(name string, v expression.Value) Step {
	return Step{Var: name, Value: &v}
}

// ExprStep builds an expression step
func ExprStep(name, expr string) Step {
	return Step{Var: name, Expr: &expr}
}

// UnmarshalJSON decodes a step tracking which source keys are present.
// "value": null is a present value source.
func (s *Step) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("step must be an object: %w", err)
	}

	*s = Step{}
	if raw, ok := fields["var"]; ok {
		if err := json.Unmarshal(raw, &s.Var); err != nil {
			return fmt.Errorf("step var: %w", err)
		}
	}
	if raw, ok := fields["from"]; ok {
		var from string
		if err := unmarshalOptionalString(raw, &from); err != nil {
			return fmt.Errorf("step %q from: %w", s.Var, err)
		}
		s.From = &from
	}
	if raw, ok := fields["value"]; ok {
		var v expression.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("step %q value: %w", s.Var, err)
		}
		s.Value = &v
	}
	if raw, ok := fields["expr"]; ok {
		var expr string
		if err := unmarshalOptionalString(raw, &expr); err != nil {
			return fmt.Errorf("step %q expr: %w", s.Var, err)
		}
		s.Expr = &expr
	}
	return nil
}

func unmarshalOptionalString(raw json.RawMessage, dst *string) error {
	if strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// MarshalJSON writes only the source keys that are present
func (s Step) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"var":`)
	name, err := json.Marshal(s.Var)
	if err != nil {
		return nil, err
	}
	buf.Write(name)

	write := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.WriteString(`,"` + key + `":`)
		buf.Write(b)
		return nil
	}
	if s.From != nil {
		if err := write("from", *s.From); err != nil {
			return nil, err
		}
	}
	if s.Value != nil {
		if err := write("value", *s.Value); err != nil {
			return nil, err
		}
	}
	if s.Expr != nil {
		if err := write("expr", *s.Expr); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Override injects Set into the environment of items whose attributes match
// every entry of When.
type Override struct {
	When *expression.Environment `json:"when"`
	Set  *expression.Environment `json:"set"`
}

// Summary is the listing view of a ruleset
type Summary struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Steps     int    `json:"steps"`
	Overrides int    `json:"overrides"`
}

// Summarize returns the listing view of r
func (r *Ruleset) Summarize() Summary {
	return Summary{
		Name:      r.Name,
		Version:   r.Version,
		Steps:     len(r.Steps),
		Overrides: len(r.Overrides),
	}
}
