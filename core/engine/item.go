package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"battery-pricing/core/expression"
)

// Core item fields seeded into every environment, in seeding order
const (
	FieldSKU       = "sku"
	FieldMarca     = "marca"
	FieldLinea     = "linea"
	FieldBasePrice = "base_price"
	FieldCost      = "cost"
	fieldAttrs     = "attrs"
)

// Item is one product to price
type Item struct {
	SKU       string   `json:"sku"`
	Marca     string   `json:"marca"`
	Linea     string   `json:"linea"`
	BasePrice *float64 `json:"base_price,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`

	// Attrs are extra attributes visible to overrides and expressions
	Attrs *expression.Environment `json:"attrs,omitempty"`
}

// NewItem creates an item with a base price and cost
func NewItem(sku, marca, linea string, basePrice, cost float64) Item {
	return Item{
		SKU:       sku,
		Marca:     marca,
		Linea:     linea,
		BasePrice: &basePrice,
		Cost:      &cost,
	}
}

// WithAttr returns a copy of the item with one extra attribute
func (it Item) WithAttr(name string, v expression.Value) Item {
	attrs := expression.NewEnvironment()
	if it.Attrs != nil {
		attrs = it.Attrs.Clone()
	}
	attrs.Set(name, v)
	it.Attrs = attrs
	return it
}

// Environment builds a fresh environment seeded with the item's fields
// followed by its attributes. Absent prices are not seeded.
func (it Item) Environment() *expression.Environment {
	env := expression.NewEnvironment()
	env.Set(FieldSKU, expression.String(it.SKU))
	env.Set(FieldMarca, expression.String(it.Marca))
	env.Set(FieldLinea, expression.String(it.Linea))
	if it.BasePrice != nil {
		env.Set(FieldBasePrice, expression.Number(*it.BasePrice))
	}
	if it.Cost != nil {
		env.Set(FieldCost, expression.Number(*it.Cost))
	}
	env.Merge(it.Attrs)
	return env
}

// UnmarshalJSON decodes an item. Prices may be numbers or numeric strings,
// and top-level keys other than the core fields are collected into Attrs
// after any explicit attrs object.
func (it *Item) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("item must be an object: %w", err)
	}

	*it = Item{}
	var err error
	if it.SKU, err = stringField(fields, FieldSKU); err != nil {
		return err
	}
	if it.Marca, err = stringField(fields, FieldMarca); err != nil {
		return err
	}
	if it.Linea, err = stringField(fields, FieldLinea); err != nil {
		return err
	}
	if it.BasePrice, err = numberField(fields, FieldBasePrice); err != nil {
		return err
	}
	if it.Cost, err = numberField(fields, FieldCost); err != nil {
		return err
	}

	if raw, ok := fields[fieldAttrs]; ok && string(raw) != "null" {
		attrs := expression.NewEnvironment()
		if err := json.Unmarshal(raw, attrs); err != nil {
			return fmt.Errorf("item attrs: %w", err)
		}
		it.Attrs = attrs
	}

	var extra []string
	for k := range fields {
		switch k {
		case FieldSKU, FieldMarca, FieldLinea, FieldBasePrice, FieldCost, fieldAttrs:
		default:
			extra = append(extra, k)
		}
	}
	// object key order is lost in the map above
	sort.Strings(extra)
	for _, k := range extra {
		var v expression.Value
		if err := v.UnmarshalJSON(fields[k]); err != nil {
			return fmt.Errorf("item field %q: %w", k, err)
		}
		if it.Attrs == nil {
			it.Attrs = expression.NewEnvironment()
		}
		if !it.Attrs.Has(k) {
			it.Attrs.Set(k, v)
		}
	}
	return nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var v expression.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return "", fmt.Errorf("item %s: %w", name, err)
	}
	switch v.Kind() {
	case expression.KindString:
		s, _ := v.AsString()
		return s, nil
	case expression.KindNumber:
		// numeric SKUs are common in spreadsheets
		return v.String(), nil
	default:
		return "", fmt.Errorf("item %s must be a string", name)
	}
}

func numberField(fields map[string]json.RawMessage, name string) (*float64, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var v expression.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("item %s: %w", name, err)
	}
	f, err := v.AsNumber()
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", name, err)
	}
	return &f, nil
}

// PriceItem is the result of pricing one item
type PriceItem struct {
	Inputs    *expression.Environment `json:"inputs"`
	Outputs   *expression.Environment `json:"outputs"`
	Breakdown *expression.Environment `json:"breakdown"`

	// Error is set when the item could not be priced; Outputs is then empty
	Error string `json:"error,omitempty"`

	// Warnings lists steps whose evaluation failed and fell back to 0
	Warnings []string `json:"warnings,omitempty"`
}

// Failed reports whether the item carries an item-level error
func (p *PriceItem) Failed() bool {
	return p.Error != ""
}

// Number returns a finite numeric output
func (p *PriceItem) Number(name string) (float64, bool) {
	if p.Outputs == nil {
		return 0, false
	}
	v, ok := p.Outputs.Get(name)
	if !ok || !v.IsNumber() {
		return 0, false
	}
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Input returns an input field as a string for display
func (p *PriceItem) Input(name string) string {
	if p.Inputs == nil {
		return ""
	}
	v, ok := p.Inputs.Get(name)
	if !ok || v.IsNull() {
		return ""
	}
	if s, err := v.AsString(); err == nil {
		return s
	}
	return v.String()
}
