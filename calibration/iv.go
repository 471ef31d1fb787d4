package calibration

import (
	"math"
	"time"

	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
)

// IVSolver inverts an observed option price into the Black-Scholes
// volatility that reproduces it. It is the one-parameter degenerate case of
// the calibration framework with a Newton fast path: vega is available in
// closed form, so Newton from the guess almost always converges in a
// handful of iterations, with a bisection bracket as the fallback.
type IVSolver struct {
	Guess   float64
	Lower   float64
	Upper   float64
	Tol     float64
	MaxIter int

	// Normalized marks targets quoted as a fraction of forward (the
	// convention on coin-settled option venues) instead of absolute
	// currency. The solver denormalizes through the discount-derived
	// forward before inverting.
	Normalized bool
}

// DefaultIVSolver matches the guess/bounds triple used across bulk runs.
func DefaultIVSolver() IVSolver {
	return IVSolver{Guess: 0.5, Lower: 1e-4, Upper: 5, Tol: 1e-10, MaxIter: 100}
}

// PriceToIV finds the volatility reproducing target under the analytic
// method. Failures surface as ErrNonConvergence (target unreachable inside
// the bounds) or ErrConfig (malformed inputs).
func (s IVSolver) PriceToIV(payoff models.Payoff, underlying, rate, target float64, ref time.Time) (float64, error) {
	const op = "calibration.PriceToIV"

	if underlying <= 0 {
		return 0, models.Errorf(models.ErrConfig, op, "underlying must be positive, got %g", underlying)
	}
	if s.Lower < 0 || s.Upper <= s.Lower {
		return 0, models.Errorf(models.ErrConfig, op, "invalid volatility bounds [%g, %g]", s.Lower, s.Upper)
	}
	t := models.YearFrac(ref, payoff.Expiry)
	if t <= 0 {
		return 0, models.Errorf(models.ErrConfig, op, "payoff must expire after the reference date")
	}

	curve := models.FlatCurve(rate)
	if s.Normalized {
		target *= models.Forward(underlying, curve, t)
	}
	if math.IsNaN(target) || target < 0 {
		return 0, models.Errorf(models.ErrConfig, op, "target price %g is not invertible", target)
	}

	priceAt := func(sigma float64) float64 {
		return pricing.BlackScholesPrice(underlying, payoff.Strike, t, rate, sigma, payoff.Type)
	}

	// Newton fast path.
	sigma := s.Guess
	if sigma <= s.Lower || sigma >= s.Upper {
		sigma = 0.5 * (s.Lower + s.Upper)
	}
	for i := 0; i < s.MaxIter; i++ {
		diff := priceAt(sigma) - target
		if math.Abs(diff) < s.Tol {
			return sigma, nil
		}
		vega := pricing.BlackScholesVega(underlying, payoff.Strike, t, rate, sigma)
		if vega < 1e-12 {
			break
		}
		next := sigma - diff/vega
		if next <= s.Lower || next >= s.Upper || math.IsNaN(next) {
			break
		}
		sigma = next
	}

	// Bisection fallback on the bounded bracket. Vanilla price is strictly
	// increasing in volatility, so a sign change is all that is needed.
	lo, hi := s.Lower, s.Upper
	fLo := priceAt(lo) - target
	fHi := priceAt(hi) - target
	if fLo > 0 || fHi < 0 {
		return 0, models.Errorf(models.ErrNonConvergence, op,
			"target %g not bracketed by vols [%g, %g] (prices %g..%g)", target, lo, hi, fLo+target, fHi+target)
	}
	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		fMid := priceAt(mid) - target
		if math.Abs(fMid) < s.Tol || hi-lo < 1e-12 {
			return mid, nil
		}
		if fMid > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0, models.Errorf(models.ErrNonConvergence, op, "bisection failed to converge on [%g, %g]", s.Lower, s.Upper)
}

// InvertOrFallback is the bulk-path wrapper: on any inversion failure it
// returns the supplied fallback (normally the previously known market vol)
// and reports that the substitution fired. Every call site repricing
// thousands of quotes goes through here so one pathological quote never
// aborts a batch, and so fallback frequency stays observable.
func (s IVSolver) InvertOrFallback(payoff models.Payoff, underlying, rate, target float64, ref time.Time, fallback float64) (float64, bool) {
	iv, err := s.PriceToIV(payoff, underlying, rate, target, ref)
	if err != nil {
		return fallback, true
	}
	return iv, false
}

// IVToPrice is the forward direction, for round-trips and for deriving a
// missing quote side from its volatility.
func IVToPrice(payoff models.Payoff, underlying, rate, sigma float64, ref time.Time) (float64, error) {
	in, err := models.NewBlackScholesInput(ref, models.FlatCurve(rate), underlying, sigma)
	if err != nil {
		return 0, err
	}
	sol, err := pricing.Analytic{}.Solve(models.PricingProblem{Payoff: payoff, Market: in})
	if err != nil {
		return 0, err
	}
	return sol.Price, nil
}

// AsProblem expresses the inversion as a one-lens calibration problem over
// the same analytic method; the dedicated Newton path and the generic
// machinery agree to within solver tolerance.
func (s IVSolver) AsProblem(payoff models.Payoff, underlying, rate, target float64, ref time.Time) (Problem, error) {
	in, err := models.NewBlackScholesInput(ref, models.FlatCurve(rate), underlying, s.Guess)
	if err != nil {
		return Problem{}, err
	}
	basket, err := models.NewBasketPricingProblem([]models.Payoff{payoff}, in)
	if err != nil {
		return Problem{}, err
	}
	if s.Normalized {
		target *= models.Forward(underlying, models.FlatCurve(rate), models.YearFrac(ref, payoff.Expiry))
	}
	return NewProblem(basket, pricing.Analytic{}, []Lens{LensBSVol},
		[]float64{target}, []float64{s.Guess}, []float64{s.Lower}, []float64{s.Upper})
}
