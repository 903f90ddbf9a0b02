package ruleset

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"battery-pricing/core/expression"
	apperrors "battery-pricing/internal/errors"
)

var rulesetSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "name"},
		{Name: "version"},
		{Name: "appliesTo"},
		{Name: "globals"},
		{Name: "outputs"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "step", LabelNames: []string{"var"}},
		{Type: "override"},
	},
}

var overrideSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "when"},
		{Name: "set"},
	},
}

// decodeHCL reads the block form of a ruleset:
//
//	name    = "baterias"
//	version = "2024.1"
//	globals = { IVA = 0.21 }
//
//	step "neto1" { expr = "precio_lista * (1 - desc1)" }
//
//	override {
//	  when = { linea = "Pesada" }
//	  set  = { IVA = 0.105 }
//	}
//
// Only literal values are accepted; there are no variables or functions in
// the evaluation context.
func decodeHCL(src []byte, filename string) (*Ruleset, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagError(filename, diags)
	}

	content, diags := file.Body.Content(rulesetSchema)
	if diags.HasErrors() {
		return nil, diagError(filename, diags)
	}

	rs := &Ruleset{}
	var err error

	if attr, ok := content.Attributes["name"]; ok {
		if rs.Name, err = stringAttr(attr); err != nil {
			return nil, hclAttrError(filename, attr, err)
		}
	}
	if attr, ok := content.Attributes["version"]; ok {
		if rs.Version, err = versionAttr(attr); err != nil {
			return nil, hclAttrError(filename, attr, err)
		}
	}
	if attr, ok := content.Attributes["appliesTo"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diagError(filename, diags)
		}
		applies, err := ctyToGo(val)
		if err != nil {
			return nil, hclAttrError(filename, attr, err)
		}
		m, ok := applies.(map[string]interface{})
		if !ok {
			return nil, hclAttrError(filename, attr, fmt.Errorf("must be an object"))
		}
		rs.AppliesTo = m
	}
	if attr, ok := content.Attributes["globals"]; ok {
		if rs.Globals, err = environmentAttr(attr); err != nil {
			return nil, hclAttrError(filename, attr, err)
		}
	}
	if attr, ok := content.Attributes["outputs"]; ok {
		if rs.Outputs, err = stringListAttr(attr); err != nil {
			return nil, hclAttrError(filename, attr, err)
		}
	}

	// an HCL ruleset always has a steps list; Validate reports it when empty
	rs.Steps = []Step{}

	for _, block := range content.Blocks {
		switch block.Type {
		case "step":
			step, err := decodeStepBlock(block)
			if err != nil {
				return nil, apperrors.Parsing(fmt.Sprintf("%s:%d: step %q", filename, block.DefRange.Start.Line, block.Labels[0]), err)
			}
			rs.Steps = append(rs.Steps, step)

		case "override":
			ov, err := decodeOverrideBlock(block)
			if err != nil {
				return nil, apperrors.Parsing(fmt.Sprintf("%s:%d: override", filename, block.DefRange.Start.Line), err)
			}
			rs.Overrides = append(rs.Overrides, ov)
		}
	}

	return rs, nil
}

func decodeStepBlock(block *hcl.Block) (Step, error) {
	step := Step{Var: block.Labels[0]}

	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return step, diags
	}

	for name, attr := range attrs {
		switch name {
		case "from":
			s, err := stringAttr(attr)
			if err != nil {
				return step, fmt.Errorf("from: %w", err)
			}
			step.From = &s
		case "expr":
			s, err := stringAttr(attr)
			if err != nil {
				return step, fmt.Errorf("expr: %w", err)
			}
			step.Expr = &s
		case "value":
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return step, diags
			}
			v, err := ctyToValue(val)
			if err != nil {
				return step, fmt.Errorf("value: %w", err)
			}
			step.Value = &v
		default:
			return step, fmt.Errorf("unsupported attribute %q", name)
		}
	}
	return step, nil
}

func decodeOverrideBlock(block *hcl.Block) (Override, error) {
	var ov Override

	content, diags := block.Body.Content(overrideSchema)
	if diags.HasErrors() {
		return ov, diags
	}

	var err error
	if attr, ok := content.Attributes["when"]; ok {
		if ov.When, err = environmentAttr(attr); err != nil {
			return ov, fmt.Errorf("when: %w", err)
		}
	}
	if attr, ok := content.Attributes["set"]; ok {
		if ov.Set, err = environmentAttr(attr); err != nil {
			return ov, fmt.Errorf("set: %w", err)
		}
	}
	return ov, nil
}

func stringAttr(attr *hcl.Attribute) (string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	if !val.IsKnown() || val.IsNull() || val.Type() != cty.String {
		return "", fmt.Errorf("must be a string")
	}
	return val.AsString(), nil
}

func versionAttr(attr *hcl.Attribute) (string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	v, err := ctyToValue(val)
	if err != nil {
		return "", err
	}
	switch v.Kind() {
	case expression.KindString:
		s, _ := v.AsString()
		return s, nil
	case expression.KindNumber:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("must be a string or a number")
	}
}

func stringListAttr(attr *hcl.Attribute) ([]string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	v, err := ctyToValue(val)
	if err != nil {
		return nil, err
	}
	elems, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("must be a list of strings")
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		s, err := e.AsString()
		if err != nil {
			return nil, fmt.Errorf("must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// environmentAttr decodes an object attribute into an ordered environment.
// Literal object constructors keep their written order; any other object
// expression falls back to cty's sorted attribute order.
func environmentAttr(attr *hcl.Attribute) (*expression.Environment, error) {
	env := expression.NewEnvironment()

	if pairs, diags := hcl.ExprMap(attr.Expr); !diags.HasErrors() {
		for _, pair := range pairs {
			key, diags := pair.Key.Value(nil)
			if diags.HasErrors() {
				return nil, diags
			}
			if key.Type() != cty.String || key.IsNull() || !key.IsKnown() {
				return nil, fmt.Errorf("object keys must be strings")
			}
			val, diags := pair.Value.Value(nil)
			if diags.HasErrors() {
				return nil, diags
			}
			v, err := ctyToValue(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key.AsString(), err)
			}
			env.Set(key.AsString(), v)
		}
		return env, nil
	}

	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if !val.IsKnown() || val.IsNull() || !(val.Type().IsObjectType() || val.Type().IsMapType()) {
		return nil, fmt.Errorf("must be an object")
	}
	iter := val.ElementIterator()
	for iter.Next() {
		k, elem := iter.Element()
		v, err := ctyToValue(elem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.AsString(), err)
		}
		env.Set(k.AsString(), v)
	}
	return env, nil
}

// ctyToValue converts a literal cty value into an expression value.
// Unknown values and nested objects are rejected.
func ctyToValue(val cty.Value) (expression.Value, error) {
	if !val.IsKnown() {
		return expression.Null(), fmt.Errorf("value is not known")
	}
	if val.IsNull() {
		return expression.Null(), nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return expression.String(val.AsString()), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return expression.Number(f), nil
	case ty == cty.Bool:
		if val.True() {
			return expression.Number(1), nil
		}
		return expression.Number(0), nil
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		elems := make([]expression.Value, 0, val.LengthInt())
		iter := val.ElementIterator()
		for iter.Next() {
			_, elem := iter.Element()
			v, err := ctyToValue(elem)
			if err != nil {
				return expression.Null(), err
			}
			elems = append(elems, v)
		}
		return expression.List(elems...), nil
	default:
		return expression.Null(), fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
	}
}

// ctyToGo converts a literal cty value into plain Go values, objects included
func ctyToGo(val cty.Value) (interface{}, error) {
	if !val.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		out := make([]interface{}, 0, val.LengthInt())
		iter := val.ElementIterator()
		for iter.Next() {
			_, elem := iter.Element()
			v, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]interface{})
		iter := val.ElementIterator()
		for iter.Next() {
			k, elem := iter.Element()
			v, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
	}
}

func diagError(filename string, diags hcl.Diagnostics) error {
	return apperrors.Parsing(fmt.Sprintf("invalid HCL ruleset %s", filename), diags)
}

func hclAttrError(filename string, attr *hcl.Attribute, err error) error {
	return apperrors.Parsing(fmt.Sprintf("%s:%d: %s", filename, attr.Range.Start.Line, attr.Name), err)
}
