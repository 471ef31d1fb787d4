package models

import (
	"math"
	"math/cmplx"
	"time"
)

// MarketInput bundles the risk-neutral pricing environment one solver call
// consumes. Implementations are small value types: a calibration run never
// mutates one in place, it derives a fresh copy with updated parameters.
type MarketInput interface {
	ReferenceDate() time.Time
	Curve() RateCurve
	SpotPrice() float64
}

// CharacteristicProcess is implemented by market inputs whose log-price
// distribution has a known characteristic function. The transform solver
// requires it.
type CharacteristicProcess interface {
	MarketInput
	// LogPriceCF evaluates the characteristic function of log-price at
	// horizon t under the risk-neutral measure.
	LogPriceCF(u complex128, t float64) complex128
}

// BlackScholesInput is the lognormal market: spot, a rate curve and a
// volatility. VolSurface, when set, overrides the scalar per strike/expiry.
type BlackScholesInput struct {
	RefDate    time.Time
	Rates      RateCurve
	Spot       float64
	Vol        float64
	VolSurface func(strike, t float64) float64
}

func NewBlackScholesInput(ref time.Time, curve RateCurve, spot, vol float64) (BlackScholesInput, error) {
	if curve == nil {
		return BlackScholesInput{}, Errorf(ErrConfig, "models.NewBlackScholesInput", "rate curve is required")
	}
	if spot <= 0 {
		return BlackScholesInput{}, Errorf(ErrConfig, "models.NewBlackScholesInput", "spot must be positive, got %g", spot)
	}
	if vol < 0 || math.IsNaN(vol) {
		return BlackScholesInput{}, Errorf(ErrConfig, "models.NewBlackScholesInput", "volatility must be non-negative, got %g", vol)
	}
	return BlackScholesInput{RefDate: ref, Rates: curve, Spot: spot, Vol: vol}, nil
}

func (in BlackScholesInput) ReferenceDate() time.Time { return in.RefDate }
func (in BlackScholesInput) Curve() RateCurve         { return in.Rates }
func (in BlackScholesInput) SpotPrice() float64       { return in.Spot }

// VolFor resolves the volatility used for one payoff: the surface function
// when present, the scalar otherwise.
func (in BlackScholesInput) VolFor(strike, t float64) float64 {
	if in.VolSurface != nil {
		return in.VolSurface(strike, t)
	}
	return in.Vol
}

// LogPriceCF is the lognormal characteristic function. The scalar Vol is
// used; a strike-dependent surface has no single terminal distribution.
func (in BlackScholesInput) LogPriceCF(u complex128, t float64) complex128 {
	r := in.Rates.Rate(t)
	v := in.Vol * in.Vol
	mean := math.Log(in.Spot) + (r-0.5*v)*t
	return cmplx.Exp(complex(0, 1)*u*complex(mean, 0) - complex(0.5*v*t, 0)*u*u)
}

// HestonInput is the stochastic-variance market. The Feller condition
// (2*Kappa*Theta >= Xi*Xi) is deliberately not enforced: calibration
// routinely walks through mildly infeasible regions, and hard-failing there
// stalls the search. Violating it makes the variance process hit zero and
// is a numerical-stability risk for simulation schemes; FellerSatisfied
// lets callers police it.
type HestonInput struct {
	RefDate time.Time
	Rates   RateCurve
	Spot    float64
	V0      float64 // initial variance
	Kappa   float64 // mean-reversion speed
	Theta   float64 // long-run variance
	Xi      float64 // vol of variance
	Rho     float64 // spot/variance correlation
}

func NewHestonInput(ref time.Time, curve RateCurve, spot, v0, kappa, theta, xi, rho float64) (HestonInput, error) {
	const op = "models.NewHestonInput"
	if curve == nil {
		return HestonInput{}, Errorf(ErrConfig, op, "rate curve is required")
	}
	if spot <= 0 {
		return HestonInput{}, Errorf(ErrConfig, op, "spot must be positive, got %g", spot)
	}
	if v0 <= 0 {
		return HestonInput{}, Errorf(ErrConfig, op, "initial variance must be positive, got %g", v0)
	}
	if kappa <= 0 {
		return HestonInput{}, Errorf(ErrConfig, op, "mean-reversion speed must be positive, got %g", kappa)
	}
	if theta <= 0 {
		return HestonInput{}, Errorf(ErrConfig, op, "long-run variance must be positive, got %g", theta)
	}
	if xi <= 0 {
		return HestonInput{}, Errorf(ErrConfig, op, "vol of variance must be positive, got %g", xi)
	}
	if rho <= -1 || rho >= 1 {
		return HestonInput{}, Errorf(ErrConfig, op, "correlation must lie in (-1, 1), got %g", rho)
	}
	return HestonInput{RefDate: ref, Rates: curve, Spot: spot, V0: v0, Kappa: kappa, Theta: theta, Xi: xi, Rho: rho}, nil
}

func (in HestonInput) ReferenceDate() time.Time { return in.RefDate }
func (in HestonInput) Curve() RateCurve         { return in.Rates }
func (in HestonInput) SpotPrice() float64       { return in.Spot }

func (in HestonInput) FellerSatisfied() bool {
	return 2*in.Kappa*in.Theta >= in.Xi*in.Xi
}

// LogPriceCF is the Heston characteristic function in the branch-cut-safe
// formulation (the "little trap" variant).
func (in HestonInput) LogPriceCF(u complex128, t float64) complex128 {
	r := in.Rates.Rate(t)
	x0 := math.Log(in.Spot)
	iu := complex(0, 1) * u

	xiSq := complex(in.Xi*in.Xi, 0)
	a := complex(in.Kappa, 0) - complex(in.Rho*in.Xi, 0)*iu
	d := cmplx.Sqrt(a*a + xiSq*(iu+u*u))
	g := (a - d) / (a + d)

	expDT := cmplx.Exp(-d * complex(t, 0))
	c := complex(r*t, 0)*iu +
		complex(in.Kappa*in.Theta, 0)/xiSq*((a-d)*complex(t, 0)-2*cmplx.Log((1-g*expDT)/(1-g)))
	dd := (a - d) / xiSq * (1 - expDT) / (1 - g*expDT)

	return cmplx.Exp(c + dd*complex(in.V0, 0) + iu*complex(x0, 0))
}
