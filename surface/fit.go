package surface

import (
	"context"
	"math"
	"sync"

	"github.com/skewlab/volfit/calibration"
	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
)

// QuoteFit is the per-quote outcome of one bulk repricing pass.
type QuoteFit struct {
	Index       int
	ModelPrice  float64
	MarketPrice float64
	PriceError  float64
	ModelVol    float64
	MarketVol   float64
	VolFellBack bool
	Err         error
}

// Report summarizes a fit pass over a whole surface.
type Report struct {
	Fits        []QuoteFit
	RMSE        float64
	MaxAbsError float64
	Priced      int
	Failures    int
	Fallbacks   int
}

// Fit reprices every quote on the surface under the given market input and
// converts model prices back to implied vols for comparison. It never
// aborts the batch: a quote whose pricing call fails records its error and
// a NaN price, and a quote whose vol inversion fails falls back to its own
// market vol through the shared fallback wrapper. Work is spread over a
// worker pool but results are collected at fixed indices and reduced in
// quote order, so the summary is identical run to run.
func Fit(ctx context.Context, s MarketVolSurface, market models.MarketInput, method pricing.Method, workers int) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	if workers <= 0 {
		workers = 1
	}

	fits := make([]QuoteFit, len(s.Quotes))
	jobs := make(chan int)
	var wg sync.WaitGroup
	iv := calibration.DefaultIVSolver()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fits[i] = fitQuote(ctx, s.Quotes[i], i, market, method, iv)
			}
		}()
	}
	for i := range s.Quotes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	rep := Report{Fits: fits}
	var sumSq float64
	for _, f := range fits {
		if f.Err != nil || math.IsNaN(f.PriceError) {
			rep.Failures++
			continue
		}
		rep.Priced++
		sumSq += f.PriceError * f.PriceError
		rep.MaxAbsError = math.Max(rep.MaxAbsError, math.Abs(f.PriceError))
		if f.VolFellBack {
			rep.Fallbacks++
		}
	}
	if rep.Priced > 0 {
		rep.RMSE = math.Sqrt(sumSq / float64(rep.Priced))
	}
	return rep
}

func fitQuote(ctx context.Context, q VolQuote, idx int, market models.MarketInput, method pricing.Method, iv calibration.IVSolver) QuoteFit {
	fit := QuoteFit{
		Index:       idx,
		ModelPrice:  math.NaN(),
		MarketPrice: q.Mid.Price,
		PriceError:  math.NaN(),
		ModelVol:    math.NaN(),
		MarketVol:   q.Mid.Vol,
	}
	if err := ctx.Err(); err != nil {
		fit.Err = models.WrapErr(models.ErrNonConvergence, "surface.Fit", err)
		return fit
	}

	sol, err := method.Solve(models.PricingProblem{Payoff: q.Payoff, Market: market})
	if err != nil {
		fit.Err = err
		return fit
	}
	fit.ModelPrice = sol.Price
	if !math.IsNaN(q.Mid.Price) {
		fit.PriceError = sol.Price - q.Mid.Price
	}

	// Model price back to an implied vol comparable with the quote's own.
	// The fallback substitutes the known market vol, and the flag keeps
	// the substitution auditable.
	fallback := q.Mid.Vol
	fit.ModelVol, fit.VolFellBack = iv.InvertOrFallback(q.Payoff, q.Underlying, q.Rate, sol.Price, q.ReferenceDate(), fallback)
	return fit
}
