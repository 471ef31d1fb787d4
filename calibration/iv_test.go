package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
)

var testRef = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// 0.7 years on an ACT/365 basis.
func sevenTenthsYear() time.Time { return testRef.Add(time.Duration(0.7*365*24) * time.Hour) }

func TestPriceToIVRoundTrip(t *testing.T) {
	const (
		spot = 100.0
		rate = 0.02
	)
	iv := DefaultIVSolver()
	vols := []float64{0.1, 0.3, 0.5, 1.0, 2.0}
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		for _, moneyness := range []float64{0.85, 1.0, 1.15} {
			for _, sigma := range vols {
				payoff, _ := models.NewPayoff(spot*moneyness, sevenTenthsYear(), typ, models.European)
				price, err := IVToPrice(payoff, spot, rate, sigma, testRef)
				if err != nil {
					t.Fatalf("%s K=%g sigma=%g: price: %v", typ, payoff.Strike, sigma, err)
				}
				got, err := iv.PriceToIV(payoff, spot, rate, price, testRef)
				if err != nil {
					t.Fatalf("%s K=%g sigma=%g: invert: %v", typ, payoff.Strike, sigma, err)
				}
				if math.Abs(got-sigma)/sigma > 1e-6 {
					t.Errorf("%s K=%g: round trip %g -> %g", typ, payoff.Strike, sigma, got)
				}
			}
		}
	}
}

func TestPriceToIVHighVolATM(t *testing.T) {
	payoff, _ := models.NewPayoff(100, sevenTenthsYear(), models.Call, models.European)
	price, err := IVToPrice(payoff, 100, 0.02, 2.9, testRef)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DefaultIVSolver().PriceToIV(payoff, 100, 0.02, price, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-2.9) > 1e-5 {
		t.Fatalf("high-vol round trip: got %g, want 2.9", got)
	}
}

func TestPriceToIVNormalized(t *testing.T) {
	payoff, _ := models.NewPayoff(100, sevenTenthsYear(), models.Call, models.European)
	price, err := IVToPrice(payoff, 100, 0.02, 0.4, testRef)
	if err != nil {
		t.Fatal(err)
	}
	fwd := models.Forward(100, models.FlatCurve(0.02), 0.7)

	s := DefaultIVSolver()
	s.Normalized = true
	got, err := s.PriceToIV(payoff, 100, 0.02, price/fwd, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.4) > 1e-6 {
		t.Fatalf("normalized round trip: got %g, want 0.4", got)
	}
}

func TestPriceToIVErrors(t *testing.T) {
	payoff, _ := models.NewPayoff(100, sevenTenthsYear(), models.Call, models.European)
	iv := DefaultIVSolver()

	if _, err := iv.PriceToIV(payoff, -100, 0.02, 10, testRef); !models.IsKind(err, models.ErrConfig) {
		t.Errorf("negative underlying: expected config error, got %v", err)
	}
	if _, err := iv.PriceToIV(payoff, 100, 0.02, -1, testRef); !models.IsKind(err, models.ErrConfig) {
		t.Errorf("negative target: expected config error, got %v", err)
	}
	if _, err := iv.PriceToIV(payoff, 100, 0.02, math.NaN(), testRef); !models.IsKind(err, models.ErrConfig) {
		t.Errorf("NaN target: expected config error, got %v", err)
	}

	expired, _ := models.NewPayoff(100, testRef, models.Call, models.European)
	if _, err := iv.PriceToIV(expired, 100, 0.02, 10, testRef); !models.IsKind(err, models.ErrConfig) {
		t.Errorf("expired payoff: expected config error, got %v", err)
	}

	// no volatility inside the bounds reaches a call price above spot
	if _, err := iv.PriceToIV(payoff, 100, 0.02, 110, testRef); !models.IsKind(err, models.ErrNonConvergence) {
		t.Errorf("unreachable target: expected non-convergence, got %v", err)
	}

	bad := iv
	bad.Lower, bad.Upper = 0.5, 0.1
	if _, err := bad.PriceToIV(payoff, 100, 0.02, 10, testRef); !models.IsKind(err, models.ErrConfig) {
		t.Errorf("inverted bounds: expected config error, got %v", err)
	}
}

func TestInvertOrFallback(t *testing.T) {
	payoff, _ := models.NewPayoff(100, sevenTenthsYear(), models.Call, models.European)
	iv := DefaultIVSolver()

	price, err := IVToPrice(payoff, 100, 0.02, 0.3, testRef)
	if err != nil {
		t.Fatal(err)
	}
	got, fellBack := iv.InvertOrFallback(payoff, 100, 0.02, price, testRef, 0.99)
	if fellBack {
		t.Fatal("clean inversion reported a fallback")
	}
	if math.Abs(got-0.3) > 1e-6 {
		t.Fatalf("inverted vol %g, want 0.3", got)
	}

	got, fellBack = iv.InvertOrFallback(payoff, 100, 0.02, 110, testRef, 0.99)
	if !fellBack || got != 0.99 {
		t.Fatalf("unreachable target: got (%g, %v), want (0.99, true)", got, fellBack)
	}
}

// The dedicated Newton inversion and the generic one-lens calibration road
// must land on the same volatility.
func TestPriceToIVAgreesWithCalibration(t *testing.T) {
	payoff, _ := models.NewPayoff(105, sevenTenthsYear(), models.Put, models.European)
	price, err := IVToPrice(payoff, 100, 0.02, 0.45, testRef)
	if err != nil {
		t.Fatal(err)
	}

	iv := DefaultIVSolver()
	direct, err := iv.PriceToIV(payoff, 100, 0.02, price, testRef)
	if err != nil {
		t.Fatal(err)
	}

	problem, err := iv.AsProblem(payoff, 100, 0.02, price, testRef)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Solve(context.Background(), problem)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Params[0]-direct) > 1e-4 {
		t.Fatalf("calibrated vol %g, newton vol %g", res.Params[0], direct)
	}
	if math.Abs(direct-0.45) > 1e-6 {
		t.Fatalf("newton vol %g, want 0.45", direct)
	}
}

func TestIVToPriceMatchesAnalytic(t *testing.T) {
	payoff, _ := models.NewPayoff(95, sevenTenthsYear(), models.Call, models.European)
	in, _ := models.NewBlackScholesInput(testRef, models.FlatCurve(0.02), 100, 0.3)
	want, err := pricing.Analytic{}.Solve(models.PricingProblem{Payoff: payoff, Market: in})
	if err != nil {
		t.Fatal(err)
	}
	got, err := IVToPrice(payoff, 100, 0.02, 0.3, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if got != want.Price {
		t.Fatalf("IVToPrice %g != analytic %g", got, want.Price)
	}
}
