package pricing

import (
	"math"
	"runtime"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/skewlab/volfit/models"
)

// PathGenerator produces one underlying trajectory per call. Implementations
// pair a stochastic dynamics with a simulation scheme; dispatch over that
// pair happens in newPathGenerator.
type PathGenerator interface {
	// Terminal draws the underlying level at expiry.
	Terminal(rng *rand.Rand) float64
	// Path fills out (length steps+1, out[0] is spot) with a full
	// trajectory on the uniform time grid.
	Path(rng *rand.Rand, out []float64)
}

func newPathGenerator(m models.MarketInput, t float64, steps int) (PathGenerator, error) {
	switch in := m.(type) {
	case models.BlackScholesInput:
		return &lognormalPaths{spot: in.Spot, r: in.Rates.Rate(t), sigma: in.Vol, t: t, steps: steps}, nil
	case models.HestonInput:
		return &hestonEulerPaths{in: in, r: in.Rates.Rate(t), t: t, steps: steps}, nil
	}
	return nil, models.Errorf(models.ErrConfig, "pricing.newPathGenerator", "no path generator for market input %T", m)
}

// lognormalPaths samples geometric Brownian motion exactly, so the terminal
// draw needs a single normal regardless of the step count.
type lognormalPaths struct {
	spot, r, sigma, t float64
	steps             int
}

func (g *lognormalPaths) Terminal(rng *rand.Rand) float64 {
	z := rng.NormFloat64()
	return g.spot * math.Exp((g.r-0.5*g.sigma*g.sigma)*g.t+g.sigma*math.Sqrt(g.t)*z)
}

func (g *lognormalPaths) Path(rng *rand.Rand, out []float64) {
	dt := g.t / float64(g.steps)
	sqrtDt := math.Sqrt(dt)
	out[0] = g.spot
	for i := 0; i < g.steps; i++ {
		z := rng.NormFloat64()
		out[i+1] = out[i] * math.Exp((g.r-0.5*g.sigma*g.sigma)*dt+g.sigma*sqrtDt*z)
	}
}

// hestonEulerPaths discretizes the Heston SDE with full-truncation Euler:
// the variance argument is floored at zero inside both the drift and the
// diffusion, which keeps the scheme stable when the Feller condition fails.
type hestonEulerPaths struct {
	in    models.HestonInput
	r, t  float64
	steps int
}

func (g *hestonEulerPaths) step(rng *rand.Rand, s, v, dt, sqrtDt float64) (float64, float64) {
	z1 := rng.NormFloat64()
	z2 := g.in.Rho*z1 + math.Sqrt(1-g.in.Rho*g.in.Rho)*rng.NormFloat64()

	vPos := math.Max(v, 0)
	s *= math.Exp((g.r-0.5*vPos)*dt + math.Sqrt(vPos)*sqrtDt*z1)
	v += g.in.Kappa*(g.in.Theta-vPos)*dt + g.in.Xi*math.Sqrt(vPos)*sqrtDt*z2
	return s, v
}

func (g *hestonEulerPaths) Terminal(rng *rand.Rand) float64 {
	dt := g.t / float64(g.steps)
	sqrtDt := math.Sqrt(dt)
	s, v := g.in.Spot, g.in.V0
	for i := 0; i < g.steps; i++ {
		s, v = g.step(rng, s, v, dt, sqrtDt)
	}
	return s
}

func (g *hestonEulerPaths) Path(rng *rand.Rand, out []float64) {
	dt := g.t / float64(g.steps)
	sqrtDt := math.Sqrt(dt)
	v := g.in.V0
	out[0] = g.in.Spot
	for i := 0; i < g.steps; i++ {
		out[i+1], v = g.step(rng, out[i], v, dt, sqrtDt)
	}
}

// drawSeeds pre-draws one seed per path from a single run-level source.
// Seeds are never drawn inside workers: the ensemble must not depend on
// scheduling order.
func drawSeeds(seed uint64, n int) []uint64 {
	src := rand.New(rand.NewSource(seed))
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = src.Uint64()
	}
	return seeds
}

func workerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.GOMAXPROCS(0)
}

// parallelPaths runs fn for every path index across a worker pool. Each
// path gets its own generator seeded from the pre-drawn seed slice, so
// results land at fixed indices regardless of completion order.
func parallelPaths(paths, workers int, seeds []uint64, fn func(i int, rng *rand.Rand)) {
	var wg sync.WaitGroup
	chunk := (paths + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > paths {
			hi = paths
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				fn(i, rand.New(rand.NewSource(seeds[i])))
			}
		}(lo, hi)
	}
	wg.Wait()
}

// MonteCarlo prices European claims by averaging discounted terminal
// payoffs over simulated trajectories. The run is reproducible for a given
// Seed: per-path seeds are drawn up front and the reduction always runs in
// path order.
type MonteCarlo struct {
	Paths   int
	Steps   int
	Seed    uint64
	Workers int
}

type MonteCarloDiagnostics struct {
	Paths    int
	Steps    int
	Seed     uint64
	StdError float64
}

func (MonteCarloDiagnostics) Method() string { return "monte-carlo" }

func (m MonteCarlo) Solve(p models.PricingProblem) (Solution, error) {
	const op = "pricing.MonteCarlo"

	if m.Paths <= 0 || m.Steps <= 0 {
		return Solution{}, models.Errorf(models.ErrConfig, op, "paths and steps must be positive, got %d/%d", m.Paths, m.Steps)
	}
	if p.Payoff.Style != models.European {
		return Solution{}, models.Errorf(models.ErrConfig, op, "terminal-payoff simulation covers European exercise only; use LongstaffSchwartz for American")
	}
	t, err := expiryCheck(op, p)
	if err != nil {
		return Solution{}, err
	}
	gen, err := newPathGenerator(p.Market, t, m.Steps)
	if err != nil {
		return Solution{}, err
	}

	payoffs := make([]float64, m.Paths)
	seeds := drawSeeds(m.Seed, m.Paths)
	parallelPaths(m.Paths, workerCount(m.Workers), seeds, func(i int, rng *rand.Rand) {
		payoffs[i] = p.Payoff.Intrinsic(gen.Terminal(rng))
	})

	// Fixed-order reduction keeps the floating-point sum identical across
	// runs with the same seed.
	var sum, sumSq float64
	for _, v := range payoffs {
		sum += v
		sumSq += v * v
	}
	n := float64(m.Paths)
	df := p.Market.Curve().Discount(t)
	mean := sum / n
	variance := math.Max(sumSq/n-mean*mean, 0)
	stderr := df * math.Sqrt(variance/n)

	return Solution{
		Price:       df * mean,
		Diagnostics: MonteCarloDiagnostics{Paths: m.Paths, Steps: m.Steps, Seed: m.Seed, StdError: stderr},
	}, nil
}
