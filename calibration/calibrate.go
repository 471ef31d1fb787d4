package calibration

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
)

const (
	// boundPenalty dominates any plausible pricing residual, so the
	// simplex is pushed straight back into the box.
	boundPenalty = 1e10
	// failResidual substitutes for one instrument whose pricing call
	// failed mid-search. Large enough to repel, finite so the optimizer
	// keeps moving.
	failResidual = 1e3
)

// Problem is one calibration: fit the lensed parameters of the basket's
// market input so that repricing the basket reproduces Targets in the
// least-squares sense.
type Problem struct {
	Basket  models.BasketPricingProblem
	Method  pricing.Method
	Lenses  []Lens
	Targets []float64
	Guess   []float64
	Lower   []float64
	Upper   []float64

	// FallbackObjective, when positive, triggers a global restart (GA
	// seeded search polished by the local optimizer) whenever the local
	// run ends above it.
	FallbackObjective float64
	// GASeed seeds the restart so runs stay reproducible.
	GASeed int64
	// OnEval, when set, observes every objective evaluation.
	OnEval func(objective float64)
}

// Result is the terminal record of one calibration call.
type Result struct {
	Params     []float64
	Objective  float64
	Status     string
	Iterations int
	FuncEvals  int
}

// NewProblem validates the bundle. Box bounds are mandatory for
// multi-parameter fits: unconstrained search walks into regions where the
// characteristic function is undefined.
func NewProblem(basket models.BasketPricingProblem, method pricing.Method, lenses []Lens, targets, guess, lower, upper []float64) (Problem, error) {
	const op = "calibration.NewProblem"
	if method == nil {
		return Problem{}, models.Errorf(models.ErrConfig, op, "pricing method is required")
	}
	if len(lenses) == 0 {
		return Problem{}, models.Errorf(models.ErrConfig, op, "at least one lens is required")
	}
	if len(guess) != len(lenses) {
		return Problem{}, models.Errorf(models.ErrConfig, op, "guess length %d does not match %d lenses", len(guess), len(lenses))
	}
	if len(targets) != len(basket.Payoffs) {
		return Problem{}, models.Errorf(models.ErrConfig, op, "target length %d does not match basket size %d", len(targets), len(basket.Payoffs))
	}
	if len(lenses) > 1 && (lower == nil || upper == nil) {
		return Problem{}, models.Errorf(models.ErrConfig, op, "box bounds are mandatory for multi-parameter fits")
	}
	if lower != nil || upper != nil {
		if len(lower) != len(lenses) || len(upper) != len(lenses) {
			return Problem{}, models.Errorf(models.ErrConfig, op, "bound lengths %d/%d do not match %d lenses", len(lower), len(upper), len(lenses))
		}
		for i := range lower {
			if lower[i] >= upper[i] {
				return Problem{}, models.Errorf(models.ErrConfig, op, "bounds for %s are inverted: [%g, %g]", lenses[i], lower[i], upper[i])
			}
			if guess[i] < lower[i] || guess[i] > upper[i] {
				return Problem{}, models.Errorf(models.ErrConfig, op, "guess %g for %s is outside [%g, %g]", guess[i], lenses[i], lower[i], upper[i])
			}
		}
	}
	// Apply every lens once up front so a kind mismatch fails here, not
	// thousands of evaluations into the optimizer.
	for i, l := range lenses {
		if _, err := l.Apply(basket.Market, guess[i]); err != nil {
			return Problem{}, err
		}
	}
	return Problem{
		Basket:  basket,
		Method:  method,
		Lenses:  lenses,
		Targets: targets,
		Guess:   guess,
		Lower:   lower,
		Upper:   upper,
	}, nil
}

// objective is the sum of squared pricing errors at a candidate parameter
// vector. The basket's market input is never mutated: each evaluation
// derives a fresh input through the lenses. A per-instrument pricing
// failure contributes a large finite residual instead of aborting, and a
// cancelled context short-circuits to the penalty value.
func (p Problem) objective(ctx context.Context, x []float64) float64 {
	obj := p.rawObjective(ctx, x)
	if p.OnEval != nil {
		p.OnEval(obj)
	}
	return obj
}

func (p Problem) rawObjective(ctx context.Context, x []float64) float64 {
	if ctx.Err() != nil {
		return boundPenalty
	}
	if p.Lower != nil {
		pen := 0.0
		for i, v := range x {
			if v < p.Lower[i] {
				pen += boundPenalty * (1 + p.Lower[i] - v)
			}
			if v > p.Upper[i] {
				pen += boundPenalty * (1 + v - p.Upper[i])
			}
		}
		if pen > 0 {
			return pen
		}
	}

	market := p.Basket.Market
	for i, l := range p.Lenses {
		var err error
		market, err = l.Apply(market, x[i])
		if err != nil {
			return boundPenalty
		}
	}

	sum := 0.0
	for i := range p.Basket.Payoffs {
		sol, err := p.Method.Solve(models.PricingProblem{Payoff: p.Basket.Payoffs[i], Market: market})
		if err != nil || math.IsNaN(sol.Price) || math.IsInf(sol.Price, 0) {
			sum += failResidual * failResidual
			continue
		}
		diff := sol.Price - p.Targets[i]
		sum += diff * diff
	}
	return sum
}

// Solve minimizes the objective from the initial guess with a Nelder-Mead
// simplex. When the local run errors out, diverges, or ends above
// FallbackObjective, a bounded genetic search re-seeds it and the better of
// the two minima wins.
func Solve(ctx context.Context, p Problem) (Result, error) {
	const op = "calibration.Solve"
	if ctx == nil {
		ctx = context.Background()
	}

	obj := func(x []float64) float64 { return p.objective(ctx, x) }
	res := Result{Params: append([]float64(nil), p.Guess...), Objective: math.Inf(1)}

	local, err := minimizeLocal(obj, p.Guess)
	if err == nil {
		res = local
	}

	needFallback := err != nil ||
		math.IsNaN(res.Objective) || math.IsInf(res.Objective, 0) ||
		(p.FallbackObjective > 0 && res.Objective > p.FallbackObjective)

	if needFallback && p.Lower != nil && ctx.Err() == nil {
		if seed, gaErr := globalSearch(obj, p.Lower, p.Upper, p.GASeed); gaErr == nil {
			if polished, perr := minimizeLocal(obj, seed); perr == nil && polished.Objective < res.Objective {
				polished.Status = "fallback:" + polished.Status
				polished.FuncEvals += res.FuncEvals
				res = polished
				err = nil
			}
		}
	}

	if ctx.Err() != nil {
		return res, models.WrapErr(models.ErrNonConvergence, op, ctx.Err())
	}
	if err != nil {
		return res, models.WrapErr(models.ErrNonConvergence, op, err)
	}
	if math.IsNaN(res.Objective) || math.IsInf(res.Objective, 0) {
		return res, models.Errorf(models.ErrNonConvergence, op, "optimizer ended on a non-finite objective")
	}
	return res, nil
}

func minimizeLocal(obj func([]float64) float64, guess []float64) (Result, error) {
	problem := optimize.Problem{Func: obj}
	settings := &optimize.Settings{
		MajorIterations: 5000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 500,
		},
	}
	r, err := optimize.Minimize(problem, append([]float64(nil), guess...), settings, &optimize.NelderMead{})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Params:     r.X,
		Objective:  r.F,
		Status:     r.Status.String(),
		Iterations: r.Stats.MajorIterations,
		FuncEvals:  r.Stats.FuncEvaluations,
	}, nil
}
