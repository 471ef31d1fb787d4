package pricing

import (
	"github.com/skewlab/volfit/models"
)

// Solution is the output of one pricing call: the price plus a
// method-tagged diagnostics payload.
type Solution struct {
	Price       float64
	Diagnostics Diagnostics
}

// Diagnostics is whatever a concrete method wants to report about how it
// got its number.
type Diagnostics interface {
	Method() string
}

// Method is one interchangeable pricing solver. Implementations are safe
// for concurrent use; any per-call randomness is seeded explicitly so a
// run is reproducible given its seed.
type Method interface {
	Solve(p models.PricingProblem) (Solution, error)
}

func expiryCheck(op string, p models.PricingProblem) (float64, error) {
	t := p.TimeToExpiry()
	if t < 0 {
		return 0, models.Errorf(models.ErrConfig, op, "payoff expired %.4fy before the reference date", -t)
	}
	return t, nil
}
