package surface

import (
	"context"
	"math"
	"testing"

	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
)

func bsSurface(t *testing.T, vol float64) MarketVolSurface {
	t.Helper()
	var quotes []VolQuote
	for _, strike := range []float64{80, 90, 100, 110, 120} {
		quotes = append(quotes, priceQuote(t, strike, halfYear(), vol))
	}
	s, err := NewMarketVolSurface(testRef, quotes)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFitExactModel(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.4)

	rep := Fit(context.Background(), s, in, pricing.Analytic{}, 4)
	if rep.Failures != 0 || rep.Fallbacks != 0 {
		t.Fatalf("exact model: %d failures, %d fallbacks", rep.Failures, rep.Fallbacks)
	}
	if rep.Priced != len(s.Quotes) {
		t.Fatalf("priced %d of %d", rep.Priced, len(s.Quotes))
	}
	if rep.RMSE > 1e-8 || rep.MaxAbsError > 1e-8 {
		t.Fatalf("exact model should reprice the surface: rmse %g max %g", rep.RMSE, rep.MaxAbsError)
	}
	for _, f := range rep.Fits {
		if math.Abs(f.ModelVol-0.4) > 1e-5 {
			t.Fatalf("quote %d: model vol %g, want 0.4", f.Index, f.ModelVol)
		}
	}
}

func TestFitWrongVolShowsError(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.5)

	rep := Fit(context.Background(), s, in, pricing.Analytic{}, 2)
	if rep.Failures != 0 {
		t.Fatalf("mispriced but healthy surface: %d failures", rep.Failures)
	}
	if rep.RMSE < 0.5 {
		t.Fatalf("a 10-point vol gap should show up in RMSE, got %g", rep.RMSE)
	}
	for _, f := range rep.Fits {
		// model prices under 0.5 vol sit above the 0.4-vol quotes
		if f.PriceError <= 0 {
			t.Fatalf("quote %d: price error %g, want positive", f.Index, f.PriceError)
		}
		if math.Abs(f.ModelVol-0.5) > 1e-5 {
			t.Fatalf("quote %d: model vol %g, want 0.5", f.Index, f.ModelVol)
		}
	}
}

func TestFitHestonSurface(t *testing.T) {
	truth, err := models.NewHestonInput(testRef, models.FlatCurve(0.03), 100, 0.04, 1.5, 0.04, 0.3, -0.6)
	if err != nil {
		t.Fatal(err)
	}
	cm := pricing.DefaultCarrMadan()

	var quotes []VolQuote
	for _, strike := range []float64{85, 100, 115} {
		payoff := mustPayoff(t, strike, halfYear(), models.Call)
		sol, err := cm.Solve(models.PricingProblem{Payoff: payoff, Market: truth})
		if err != nil {
			t.Fatal(err)
		}
		q, err := NewVolQuote(testRef, payoff, 100, SpotUnderlying, 0.03,
			EmptySide(), PriceSide(sol.Price), EmptySide(), testRef, "test", DefaultPolicy())
		if err != nil {
			t.Fatal(err)
		}
		quotes = append(quotes, q)
	}
	s, err := NewMarketVolSurface(testRef, quotes)
	if err != nil {
		t.Fatal(err)
	}

	rep := Fit(context.Background(), s, truth, cm, 2)
	if rep.Failures != 0 || rep.Fallbacks != 0 {
		t.Fatalf("truth parameters: %d failures, %d fallbacks", rep.Failures, rep.Fallbacks)
	}
	if rep.RMSE > 1e-8 {
		t.Fatalf("truth parameters should reprice their own surface, rmse %g", rep.RMSE)
	}
	// model vols match the quote-derived vols: same prices, same inverter
	for _, f := range rep.Fits {
		if math.Abs(f.ModelVol-f.MarketVol) > 1e-5 {
			t.Fatalf("quote %d: model vol %g vs market vol %g", f.Index, f.ModelVol, f.MarketVol)
		}
	}
}

// negPricer drives the vol inversion into its fallback branch: a negative
// price can never be inverted, so every quote substitutes its market vol.
type negPricer struct{}

func (negPricer) Solve(models.PricingProblem) (pricing.Solution, error) {
	return pricing.Solution{Price: -1}, nil
}

func TestFitFallsBackOnUninvertiblePrice(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.4)

	rep := Fit(context.Background(), s, in, negPricer{}, 3)
	if rep.Failures != 0 {
		t.Fatalf("fallbacks are not failures: %d failures", rep.Failures)
	}
	if rep.Fallbacks != len(s.Quotes) {
		t.Fatalf("fallbacks = %d, want %d", rep.Fallbacks, len(s.Quotes))
	}
	for _, f := range rep.Fits {
		if !f.VolFellBack {
			t.Fatalf("quote %d did not report its fallback", f.Index)
		}
		if f.ModelVol != f.MarketVol {
			t.Fatalf("quote %d: fallback vol %g, want market vol %g", f.Index, f.ModelVol, f.MarketVol)
		}
	}
}

type brokenPricer struct{}

func (brokenPricer) Solve(models.PricingProblem) (pricing.Solution, error) {
	return pricing.Solution{}, models.Errorf(models.ErrDomain, "test", "no price today")
}

func TestFitRecordsFailuresAndContinues(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.4)

	rep := Fit(context.Background(), s, in, brokenPricer{}, 2)
	if rep.Failures != len(s.Quotes) || rep.Priced != 0 {
		t.Fatalf("failures %d priced %d, want %d/0", rep.Failures, rep.Priced, len(s.Quotes))
	}
	if len(rep.Fits) != len(s.Quotes) {
		t.Fatalf("batch aborted early: %d of %d fits recorded", len(rep.Fits), len(s.Quotes))
	}
	for _, f := range rep.Fits {
		if !models.IsKind(f.Err, models.ErrDomain) {
			t.Fatalf("quote %d: err = %v, want the pricer's domain error", f.Index, f.Err)
		}
	}
}

func TestFitCancelledContext(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := Fit(ctx, s, in, pricing.Analytic{}, 2)
	if rep.Failures != len(s.Quotes) {
		t.Fatalf("cancelled run: failures %d, want %d", rep.Failures, len(s.Quotes))
	}
	for _, f := range rep.Fits {
		if !models.IsKind(f.Err, models.ErrNonConvergence) {
			t.Fatalf("quote %d: err = %v, want non-convergence", f.Index, f.Err)
		}
	}
}

func TestFitDeterministicAcrossWorkers(t *testing.T) {
	s := bsSurface(t, 0.4)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.03), 100, 0.45)

	one := Fit(context.Background(), s, in, pricing.Analytic{}, 1)
	eight := Fit(context.Background(), s, in, pricing.Analytic{}, 8)
	if one.RMSE != eight.RMSE || one.MaxAbsError != eight.MaxAbsError {
		t.Fatalf("summary differs by worker count: %+v vs %+v", one, eight)
	}
	for i := range one.Fits {
		if one.Fits[i].ModelPrice != eight.Fits[i].ModelPrice || one.Fits[i].ModelVol != eight.Fits[i].ModelVol {
			t.Fatalf("fit %d differs by worker count", i)
		}
	}
}
