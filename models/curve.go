package models

import (
	"math"
	"sort"
	"time"
)

// RateCurve exposes continuously compounded zero rates and the discount
// factors they imply. The argument is a year fraction from the curve's
// reference date.
type RateCurve interface {
	Rate(t float64) float64
	Discount(t float64) float64
}

// FlatCurve is a single continuously compounded rate applied to every
// maturity. Several solvers (the Fourier transform in particular) require
// their curve to be flat and assert for this concrete type.
type FlatCurve float64

func (c FlatCurve) Rate(t float64) float64     { return float64(c) }
func (c FlatCurve) Discount(t float64) float64 { return math.Exp(-float64(c) * t) }

// ZeroCurve interpolates zero rates linearly between pillars and
// extrapolates flat beyond both ends.
type ZeroCurve struct {
	times []float64
	rates []float64
}

func NewZeroCurve(times, rates []float64) (*ZeroCurve, error) {
	if len(times) == 0 || len(times) != len(rates) {
		return nil, Errorf(ErrConfig, "models.NewZeroCurve", "need matching non-empty pillar times and rates, got %d/%d", len(times), len(rates))
	}
	if !sort.Float64sAreSorted(times) {
		return nil, Errorf(ErrConfig, "models.NewZeroCurve", "pillar times must be ascending")
	}
	t := make([]float64, len(times))
	r := make([]float64, len(rates))
	copy(t, times)
	copy(r, rates)
	return &ZeroCurve{times: t, rates: r}, nil
}

func (c *ZeroCurve) Rate(t float64) float64 {
	n := len(c.times)
	if t <= c.times[0] {
		return c.rates[0]
	}
	if t >= c.times[n-1] {
		return c.rates[n-1]
	}
	i := sort.SearchFloat64s(c.times, t)
	t0, t1 := c.times[i-1], c.times[i]
	w := (t - t0) / (t1 - t0)
	return c.rates[i-1]*(1-w) + c.rates[i]*w
}

func (c *ZeroCurve) Discount(t float64) float64 { return math.Exp(-c.Rate(t) * t) }

// Forward is the no-arbitrage forward implied by spot and the curve.
func Forward(spot float64, curve RateCurve, t float64) float64 {
	return spot / curve.Discount(t)
}

// YearFrac is the ACT/365 year fraction between two dates.
func YearFrac(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 365
}
