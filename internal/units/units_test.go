package units

import (
	"math"
	"testing"
)

func TestKmhFromCmPerSec(t *testing.T) {
	// 4cm travelled in 1s is the canonical beam-width case: 4 cm/s
	// must convert to exactly 0.144 km/h.
	got := KmhFromCmPerSec(4.0)
	if math.Abs(got-0.144) > 1e-9 {
		t.Errorf("KmhFromCmPerSec(4) = %v, want 0.144", got)
	}

	// 1000 cm/s = 10 m/s = 36 km/h.
	if got := KmhFromCmPerSec(1000); math.Abs(got-36.0) > 1e-9 {
		t.Errorf("KmhFromCmPerSec(1000) = %v, want 36", got)
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name  string
		kmh   float64
		units string
		want  float64
	}{
		{"kmh identity", 50, KMH, 50},
		{"kmph identity", 50, KMPH, 50},
		{"kph identity", 50, KPH, 50},
		{"to mps", 36, MPS, 10},
		{"to mph", 100, MPH, 62.1371192},
		{"unknown passthrough", 42, "furlongs", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.kmh, tt.units)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tt.kmh, tt.units, got, tt.want)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	if IsValid("knots") {
		t.Error(`IsValid("knots") = true, want false`)
	}
	if IsValid("") {
		t.Error(`IsValid("") = true, want false`)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{12.3456, 12.35},
		{0.144, 0.14},
		{10.006, 10.01},
		{0, 0},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
