package models

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestFlatCurve(t *testing.T) {
	c := FlatCurve(0.03)
	if got := c.Rate(2.5); got != 0.03 {
		t.Fatalf("Rate(2.5) = %g, want 0.03", got)
	}
	want := math.Exp(-0.03 * 2.5)
	if got := c.Discount(2.5); !almostEqual(got, want, 1e-15) {
		t.Fatalf("Discount(2.5) = %g, want %g", got, want)
	}
	if got := c.Discount(0); got != 1 {
		t.Fatalf("Discount(0) = %g, want 1", got)
	}
}

func TestNewZeroCurveValidation(t *testing.T) {
	cases := []struct {
		name  string
		times []float64
		rates []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []float64{1, 2}, []float64{0.01}},
		{"unsorted", []float64{2, 1}, []float64{0.01, 0.02}},
	}
	for _, tc := range cases {
		if _, err := NewZeroCurve(tc.times, tc.rates); !IsKind(err, ErrConfig) {
			t.Errorf("%s: expected config error, got %v", tc.name, err)
		}
	}
}

func TestZeroCurveInterpolation(t *testing.T) {
	c, err := NewZeroCurve([]float64{1, 2, 5}, []float64{0.01, 0.02, 0.05})
	if err != nil {
		t.Fatalf("NewZeroCurve: %v", err)
	}
	if got := c.Rate(1.5); !almostEqual(got, 0.015, 1e-15) {
		t.Errorf("Rate(1.5) = %g, want 0.015", got)
	}
	if got := c.Rate(4); !almostEqual(got, 0.04, 1e-15) {
		t.Errorf("Rate(4) = %g, want 0.04", got)
	}
	// flat extrapolation beyond both ends
	if got := c.Rate(0.25); got != 0.01 {
		t.Errorf("Rate(0.25) = %g, want 0.01", got)
	}
	if got := c.Rate(10); got != 0.05 {
		t.Errorf("Rate(10) = %g, want 0.05", got)
	}
	if got := c.Rate(2); !almostEqual(got, 0.02, 1e-15) {
		t.Errorf("Rate(2) = %g, want 0.02", got)
	}
}

func TestForward(t *testing.T) {
	got := Forward(100, FlatCurve(0.05), 1)
	want := 100 * math.Exp(0.05)
	if !almostEqual(got, want, 1e-12) {
		t.Fatalf("Forward = %g, want %g", got, want)
	}
}

func TestYearFrac(t *testing.T) {
	ref := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := YearFrac(ref, ref.Add(4380*time.Hour)); !almostEqual(got, 0.5, 1e-15) {
		t.Fatalf("YearFrac half year = %g, want 0.5", got)
	}
	if got := YearFrac(ref, ref.Add(8760*time.Hour)); !almostEqual(got, 1.0, 1e-15) {
		t.Fatalf("YearFrac full year = %g, want 1", got)
	}
	if got := YearFrac(ref, ref); got != 0 {
		t.Fatalf("YearFrac same date = %g, want 0", got)
	}
}
