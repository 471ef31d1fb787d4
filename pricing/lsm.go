package pricing

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/skewlab/volfit/models"
)

// LongstaffSchwartz prices American claims by least-squares Monte Carlo:
// paths are simulated forward, then a backward sweep regresses realized
// discounted continuation values on the current spot level and exercises
// wherever intrinsic beats the regression estimate. The sweep keeps a
// per-path (stopping step, payoff) record rather than a global boundary;
// every path discounts from its own stopping time.
type LongstaffSchwartz struct {
	Paths   int
	Steps   int
	Degree  int
	Seed    uint64
	Workers int
}

type LSMDiagnostics struct {
	Paths          int
	Steps          int
	Degree         int
	Seed           uint64
	EarlyExercised int
}

func (LSMDiagnostics) Method() string { return "longstaff-schwartz" }

func (l LongstaffSchwartz) Solve(p models.PricingProblem) (Solution, error) {
	const op = "pricing.LongstaffSchwartz"

	if l.Paths <= 0 || l.Steps <= 0 {
		return Solution{}, models.Errorf(models.ErrConfig, op, "paths and steps must be positive, got %d/%d", l.Paths, l.Steps)
	}
	if l.Degree < 1 || l.Degree > 6 {
		return Solution{}, models.Errorf(models.ErrConfig, op, "regression degree must lie in [1,6], got %d", l.Degree)
	}
	if p.Payoff.Style != models.American {
		return Solution{}, models.Errorf(models.ErrConfig, op, "regression-based early exercise applies to American payoffs only")
	}
	t, err := expiryCheck(op, p)
	if err != nil {
		return Solution{}, err
	}
	gen, err := newPathGenerator(p.Market, t, l.Steps)
	if err != nil {
		return Solution{}, err
	}

	// Forward pass: full path matrix, one pre-drawn seed per path.
	grid := make([][]float64, l.Paths)
	seeds := drawSeeds(l.Seed, l.Paths)
	parallelPaths(l.Paths, workerCount(l.Workers), seeds, func(i int, rng *rand.Rand) {
		row := make([]float64, l.Steps+1)
		gen.Path(rng, row)
		grid[i] = row
	})

	dt := t / float64(l.Steps)
	r := p.Market.Curve().Rate(t)
	stepDF := math.Exp(-r * dt)
	spot := p.Market.SpotPrice()

	// Per-path stopping record, initialized to exercise at expiry.
	stopStep := make([]int, l.Paths)
	cash := make([]float64, l.Paths)
	for i := range grid {
		stopStep[i] = l.Steps
		cash[i] = p.Payoff.Intrinsic(grid[i][l.Steps])
	}

	// Backward sweep over interior steps. Regression is restricted to
	// in-the-money paths: out-of-the-money rows carry no exercise decision
	// and poison the fit.
	itm := make([]int, 0, l.Paths)
	for step := l.Steps - 1; step >= 1; step-- {
		itm = itm[:0]
		for i := range grid {
			if p.Payoff.Intrinsic(grid[i][step]) > 0 {
				itm = append(itm, i)
			}
		}
		if len(itm) <= l.Degree+1 {
			continue
		}

		a := mat.NewDense(len(itm), l.Degree+1, nil)
		y := mat.NewVecDense(len(itm), nil)
		for row, i := range itm {
			x := grid[i][step] / spot // normalize for conditioning
			basis := 1.0
			for d := 0; d <= l.Degree; d++ {
				a.Set(row, d, basis)
				basis *= x
			}
			y.SetVec(row, cash[i]*math.Pow(stepDF, float64(stopStep[i]-step)))
		}

		var beta mat.VecDense
		if err := beta.SolveVec(a, y); err != nil {
			// Degenerate design matrix: leave the stopping records alone
			// for this step.
			continue
		}

		for _, i := range itm {
			x := grid[i][step] / spot
			cont := 0.0
			basis := 1.0
			for d := 0; d <= l.Degree; d++ {
				cont += beta.AtVec(d) * basis
				basis *= x
			}
			exercise := p.Payoff.Intrinsic(grid[i][step])
			if exercise >= cont {
				stopStep[i] = step
				cash[i] = exercise
			}
		}
	}

	var sum float64
	early := 0
	for i := range cash {
		sum += cash[i] * math.Pow(stepDF, float64(stopStep[i]))
		if stopStep[i] < l.Steps && cash[i] > 0 {
			early++
		}
	}

	return Solution{
		Price: sum / float64(l.Paths),
		Diagnostics: LSMDiagnostics{
			Paths:          l.Paths,
			Steps:          l.Steps,
			Degree:         l.Degree,
			Seed:           l.Seed,
			EarlyExercised: early,
		},
	}, nil
}
