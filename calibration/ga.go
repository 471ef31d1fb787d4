package calibration

import (
	"errors"
	"math/rand"

	"github.com/MaxHalford/eaopt"
)

// paramVector is a box-constrained parameter vector evolved by the genetic
// fallback. Mutation and crossover both clamp back into the box so the
// penalty branch of the objective is never the thing being optimized.
type paramVector struct {
	x            []float64
	lower, upper []float64
	obj          func([]float64) float64
}

func (v *paramVector) Evaluate() (float64, error) {
	return v.obj(v.x), nil
}

func (v *paramVector) Mutate(rng *rand.Rand) {
	eaopt.MutNormalFloat64(v.x, 0.8, rng)
	v.clamp()
}

func (v *paramVector) Crossover(other eaopt.Genome, rng *rand.Rand) {
	o := other.(*paramVector)
	eaopt.CrossUniformFloat64(v.x, o.x, rng)
	v.clamp()
	o.clamp()
}

func (v *paramVector) Clone() eaopt.Genome {
	return &paramVector{
		x:     append([]float64(nil), v.x...),
		lower: v.lower,
		upper: v.upper,
		obj:   v.obj,
	}
}

func (v *paramVector) clamp() {
	for i := range v.x {
		if v.x[i] < v.lower[i] {
			v.x[i] = v.lower[i]
		}
		if v.x[i] > v.upper[i] {
			v.x[i] = v.upper[i]
		}
	}
}

// globalSearch runs a short genetic search over the box and returns the
// best parameter vector it found, intended as a fresh start for the local
// optimizer rather than as a final answer.
func globalSearch(obj func([]float64) float64, lower, upper []float64, seed int64) ([]float64, error) {
	cfg := eaopt.NewDefaultGAConfig()
	cfg.PopSize = 40
	cfg.NGenerations = 50
	cfg.RNG = rand.New(rand.NewSource(seed))

	ga, err := cfg.NewGA()
	if err != nil {
		return nil, err
	}

	factory := func(rng *rand.Rand) eaopt.Genome {
		x := make([]float64, len(lower))
		for i := range x {
			x[i] = lower[i] + rng.Float64()*(upper[i]-lower[i])
		}
		return &paramVector{x: x, lower: lower, upper: upper, obj: obj}
	}
	if err := ga.Minimize(factory); err != nil {
		return nil, err
	}
	if len(ga.HallOfFame) == 0 {
		return nil, errors.New("genetic search produced no candidates")
	}
	best := ga.HallOfFame[0].Genome.(*paramVector)
	return append([]float64(nil), best.x...), nil
}
