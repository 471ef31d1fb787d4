package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/skewlab/volfit/models"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Greeks are the closed-form Black-Scholes sensitivities, quoted in spot
// terms.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
	Rho   float64
}

type AnalyticDiagnostics struct {
	Vol    float64
	Greeks Greeks
}

func (AnalyticDiagnostics) Method() string { return "analytic" }

// Analytic prices European vanillas with the closed-form Black-Scholes
// formula. Requires a Black-Scholes market input.
type Analytic struct{}

func (Analytic) Solve(p models.PricingProblem) (Solution, error) {
	const op = "pricing.Analytic"

	bs, ok := p.Market.(models.BlackScholesInput)
	if !ok {
		return Solution{}, models.Errorf(models.ErrConfig, op, "requires a Black-Scholes market input, got %T", p.Market)
	}
	if p.Payoff.Style != models.European {
		return Solution{}, models.Errorf(models.ErrConfig, op, "closed form covers European exercise only")
	}
	t, err := expiryCheck(op, p)
	if err != nil {
		return Solution{}, err
	}

	sigma := bs.VolFor(p.Payoff.Strike, t)
	if sigma < 0 || math.IsNaN(sigma) {
		return Solution{}, models.Errorf(models.ErrConfig, op, "volatility must be non-negative, got %g", sigma)
	}

	df := bs.Rates.Discount(t)
	fwd := models.Forward(bs.Spot, bs.Rates, t)

	// Zero total variance collapses the distribution to a point; the d1/d2
	// formulas divide by sigma*sqrt(t), so this is priced as discounted
	// intrinsic on the forward with no CDF evaluation at all.
	if sigma == 0 || t == 0 {
		price := df * p.Payoff.Intrinsic(fwd)
		g := Greeks{}
		if p.Payoff.Type == models.Call && fwd > p.Payoff.Strike {
			g.Delta = 1
		} else if p.Payoff.Type == models.Put && fwd < p.Payoff.Strike {
			g.Delta = -1
		}
		return Solution{Price: price, Diagnostics: AnalyticDiagnostics{Vol: sigma, Greeks: g}}, nil
	}

	r := bs.Rates.Rate(t)
	price := BlackScholesPrice(bs.Spot, p.Payoff.Strike, t, r, sigma, p.Payoff.Type)
	greeks := blackScholesGreeks(bs.Spot, p.Payoff.Strike, t, r, sigma, p.Payoff.Type)

	return Solution{Price: price, Diagnostics: AnalyticDiagnostics{Vol: sigma, Greeks: greeks}}, nil
}

// BlackScholesPrice is the closed-form vanilla price. sigma and t must both
// be positive; degenerate cases belong to the caller.
func BlackScholesPrice(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	if typ == models.Call {
		return s*stdNormal.CDF(d1) - k*math.Exp(-r*t)*stdNormal.CDF(d2)
	}
	return k*math.Exp(-r*t)*stdNormal.CDF(-d2) - s*stdNormal.CDF(-d1)
}

// BlackScholesVega is dPrice/dSigma, identical for calls and puts.
func BlackScholesVega(s, k, t, r, sigma float64) float64 {
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	return s * stdNormal.Prob(d1) * math.Sqrt(t)
}

func blackScholesGreeks(s, k, t, r, sigma float64, typ models.OptionType) Greeks {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	df := math.Exp(-r * t)

	g := Greeks{
		Gamma: stdNormal.Prob(d1) / (s * sigma * sqrtT),
		Vega:  s * stdNormal.Prob(d1) * sqrtT,
	}
	if typ == models.Call {
		g.Delta = stdNormal.CDF(d1)
		g.Theta = -(s*stdNormal.Prob(d1)*sigma)/(2*sqrtT) - r*k*df*stdNormal.CDF(d2)
		g.Rho = k * t * df * stdNormal.CDF(d2)
	} else {
		g.Delta = stdNormal.CDF(d1) - 1
		g.Theta = -(s*stdNormal.Prob(d1)*sigma)/(2*sqrtT) + r*k*df*stdNormal.CDF(-d2)
		g.Rho = -k * t * df * stdNormal.CDF(-d2)
	}
	return g
}
