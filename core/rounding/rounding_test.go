package rounding

import (
	"math"
	"testing"
)

func TestRoundPolicies(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		method string
		want   float64
	}{
		{"ceil50 goes up", 1234, "ceil50", 1250},
		{"ceil50 keeps exact multiple", 1200, "ceil50", 1200},
		{"round50 tie goes to even quotient down", 1225, "round50", 1200},
		{"round50 tie goes to even quotient up", 1275, "round50", 1300},
		{"floor50 goes down", 1234, "floor50", 1200},
		{"ceil10", 1231, "ceil10", 1240},
		{"floor10", 1239, "floor10", 1230},
		{"round10 below half", 1234, "round10", 1230},
		{"ceil25", 1201, "ceil25", 1225},
		{"floor25", 1249, "floor25", 1225},
		{"round25", 1238, "round25", 1250},
		{"ceil100", 1201, "ceil100", 1300},
		{"floor100", 1299, "floor100", 1200},
		{"round100 tie to even", 1250, "round100", 1200},
		{"round100 tie to even upward", 1350, "round100", 1400},
		{"bare ceil", 10.1, "ceil", 11},
		{"bare floor", 10.9, "floor", 10},
		{"bare round tie to even", 2.5, "round", 2},
		{"bare round", 2.6, "round", 3},
		{"unknown method falls back to round", 1234.5, "nearest-peso", 1234},
		{"unsupported multiple falls back", 1234.7, "ceil1000", 1235},
		{"method names are case sensitive", 1234.2, "CEIL50", 1234},
		{"negative ceil", -1234, "ceil50", -1200},
		{"negative floor", -1234, "floor50", -1250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Round(tt.value, tt.method)
			if got != tt.want {
				t.Errorf("Round(%v, %q) = %v, want %v", tt.value, tt.method, got, tt.want)
			}
		})
	}
}

func TestRoundNeverReturnsNegativeZero(t *testing.T) {
	got := Round(-0.2, "ceil")
	if got != 0 || math.Signbit(got) {
		t.Errorf("expected positive zero, got %v (signbit %v)", got, math.Signbit(got))
	}
}

func TestRoundNonFinite(t *testing.T) {
	if got := Round(math.Inf(1), "ceil50"); !math.IsInf(got, 1) {
		t.Errorf("expected +Inf passthrough, got %v", got)
	}
	if _, err := RoundStrict(math.NaN(), "round"); err == nil {
		t.Error("expected error for NaN in strict mode")
	}
}

func TestKnownAndMethods(t *testing.T) {
	if !Known("round25") {
		t.Error("round25 should be known")
	}
	if Known("round30") {
		t.Error("round30 should not be known")
	}
	if got := len(Methods()); got != 15 {
		t.Errorf("expected 15 methods, got %d", got)
	}
}

func TestRoundPlaces(t *testing.T) {
	tests := []struct {
		value  float64
		places int32
		want   float64
	}{
		{2.675, 2, 2.67},
		{0.125, 2, 0.12},
		{0.375, 2, 0.38},
		{2.5, 0, 2},
		{3.5, 0, 4},
		{1234.5, -2, 1200},
		{1250, -2, 1200},
		{-2.5, 0, -2},
		{123.456, MaxPlaces - 1, 123.456},
		{2.5, math.MaxInt32, 2.5},
		{2.5, math.MinInt32, 0},
		{-2.5, -MaxPlaces, 0},
	}

	for _, tt := range tests {
		got, err := RoundPlaces(tt.value, tt.places)
		if err != nil {
			t.Fatalf("RoundPlaces(%v, %d) unexpected error: %v", tt.value, tt.places, err)
		}
		if got != tt.want {
			t.Errorf("RoundPlaces(%v, %d) = %v, want %v", tt.value, tt.places, got, tt.want)
		}
	}
}

func TestMoney(t *testing.T) {
	if got := Money(7050); got != "7050.00" {
		t.Errorf("expected 7050.00, got %s", got)
	}
	if got := Money(-0.11875); got != "-0.12" {
		t.Errorf("expected -0.12, got %s", got)
	}
}
