package pricing

import (
	"math"

	"github.com/skewlab/volfit/models"
)

// Binomial is a Cox-Ross-Rubinstein recombining lattice. It handles both
// European and American exercise; the American variant floors every node at
// immediate-exercise intrinsic during the backward sweep.
type Binomial struct {
	Steps int
}

type BinomialDiagnostics struct {
	Steps  int
	UpMove float64
	ProbUp float64
}

func (BinomialDiagnostics) Method() string { return "binomial-crr" }

func (b Binomial) Solve(p models.PricingProblem) (Solution, error) {
	const op = "pricing.Binomial"

	if b.Steps <= 0 {
		return Solution{}, models.Errorf(models.ErrConfig, op, "step count must be positive, got %d", b.Steps)
	}
	bs, ok := p.Market.(models.BlackScholesInput)
	if !ok {
		return Solution{}, models.Errorf(models.ErrConfig, op, "requires a Black-Scholes market input, got %T", p.Market)
	}
	t, err := expiryCheck(op, p)
	if err != nil {
		return Solution{}, err
	}
	sigma := bs.VolFor(p.Payoff.Strike, t)
	if sigma <= 0 || t == 0 {
		return Solution{}, models.Errorf(models.ErrConfig, op, "lattice needs positive volatility and time to expiry (vol=%g t=%g)", sigma, t)
	}

	dt := t / float64(b.Steps)
	u := math.Exp(sigma * math.Sqrt(dt))
	d := 1 / u
	r := bs.Rates.Rate(t)
	grow := math.Exp(r * dt)
	disc := 1 / grow
	q := (grow - d) / (u - d)
	if q <= 0 || q >= 1 {
		return Solution{}, models.Errorf(models.ErrDomain, op, "risk-neutral up probability %g outside (0,1); increase steps", q)
	}

	// Terminal layer, top node first.
	vals := make([]float64, b.Steps+1)
	for i := 0; i <= b.Steps; i++ {
		s := bs.Spot * math.Pow(u, float64(b.Steps-i)) * math.Pow(d, float64(i))
		vals[i] = p.Payoff.Intrinsic(s)
	}

	american := p.Payoff.Style == models.American
	for step := b.Steps - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			cont := disc * (q*vals[i] + (1-q)*vals[i+1])
			if american {
				s := bs.Spot * math.Pow(u, float64(step-i)) * math.Pow(d, float64(i))
				cont = math.Max(cont, p.Payoff.Intrinsic(s))
			}
			vals[i] = cont
		}
	}

	return Solution{
		Price:       vals[0],
		Diagnostics: BinomialDiagnostics{Steps: b.Steps, UpMove: u, ProbUp: q},
	}, nil
}
