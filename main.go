package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/cpu"
	mpb "github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"github.com/xhhuango/json"

	"github.com/skewlab/volfit/calibration"
	"github.com/skewlab/volfit/models"
	"github.com/skewlab/volfit/pricing"
	"github.com/skewlab/volfit/surface"
)

type runSummary struct {
	Truth       []float64 `json:"truth"`
	Guess       []float64 `json:"guess"`
	Calibrated  []float64 `json:"calibrated"`
	Objective   float64   `json:"objective"`
	Status      string    `json:"status"`
	FuncEvals   int       `json:"func_evals"`
	Feller      bool      `json:"feller_satisfied"`
	RMSE        float64   `json:"fit_rmse"`
	MaxAbsError float64   `json:"fit_max_abs_error"`
	Fallbacks   int       `json:"iv_fallbacks"`
	Quotes      int       `json:"quotes"`
	ElapsedSec  float64   `json:"elapsed_sec"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using defaults")
	}

	spot := envFloat("VOLFIT_SPOT", 100)
	rate := envFloat("VOLFIT_RATE", 0.03)
	timeout := time.Duration(envFloat("VOLFIT_TIMEOUT_SEC", 600)) * time.Second

	ref := time.Now().Truncate(24 * time.Hour)
	curve := models.FlatCurve(rate)

	// Synthetic ground truth: a Heston market with a pronounced skew.
	truth, err := models.NewHestonInput(ref, curve, spot, 0.04, 1.5, 0.04, 0.3, -0.6)
	if err != nil {
		log.Fatal(err)
	}

	method := pricing.DefaultCarrMadan()
	quotes := makeQuotes(ref, truth, method, spot, rate)
	fmt.Printf("Synthesized %d quotes from truth v0=%.4f kappa=%.2f theta=%.4f xi=%.2f rho=%.2f\n",
		len(quotes), truth.V0, truth.Kappa, truth.Theta, truth.Xi, truth.Rho)

	surf, err := surface.NewMarketVolSurface(ref, quotes)
	if err != nil {
		log.Fatal(err)
	}

	// Calibrate back from a deliberately perturbed guess.
	guessInput, err := models.NewHestonInput(ref, curve, spot, 0.02, 2.25, 0.02, 0.15, -0.3)
	if err != nil {
		log.Fatal(err)
	}
	basket, targets, _, err := surf.Basket(guessInput)
	if err != nil {
		log.Fatal(err)
	}

	guess := []float64{guessInput.V0, guessInput.Kappa, guessInput.Theta, guessInput.Xi, guessInput.Rho}
	lower := []float64{0.001, 0.1, 0.001, 0.05, -0.95}
	upper := []float64{0.5, 8.0, 0.5, 1.5, 0.0}

	problem, err := calibration.NewProblem(basket, method, calibration.HestonLenses(), targets, guess, lower, upper)
	if err != nil {
		log.Fatal(err)
	}
	problem.FallbackObjective = 1e-8
	problem.GASeed = 42

	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.AddBar(30000,
		mpb.PrependDecorators(decor.Name("calibrating")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	problem.OnEval = func(float64) { bar.Increment() }

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result, err := calibration.Solve(ctx, problem)
	bar.SetTotal(bar.Current(), true)
	progress.Wait()
	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}

	fmt.Printf("Calibrated in %s (%d evaluations, status %s)\n", time.Since(start).Round(time.Millisecond), result.FuncEvals, result.Status)
	names := []string{"v0", "kappa", "theta", "xi", "rho"}
	truthVals := []float64{truth.V0, truth.Kappa, truth.Theta, truth.Xi, truth.Rho}
	for i, n := range names {
		fmt.Printf("  %-6s truth=%8.4f fitted=%8.4f\n", n, truthVals[i], result.Params[i])
	}
	fmt.Printf("  objective %.3e\n", result.Objective)

	fitted, err := models.NewHestonInput(ref, curve, spot,
		result.Params[0], result.Params[1], result.Params[2], result.Params[3], result.Params[4])
	if err != nil {
		log.Fatalf("calibrated parameters rejected: %v", err)
	}
	if !fitted.FellerSatisfied() {
		log.Printf("warning: calibrated parameters violate the Feller condition (2*kappa*theta=%.4f < xi^2=%.4f); variance can hit zero in simulation",
			2*fitted.Kappa*fitted.Theta, fitted.Xi*fitted.Xi)
	}

	report := surface.Fit(ctx, surf, fitted, method, fitWorkers())
	fmt.Printf("Fit report: %d priced, RMSE %.3e, max abs error %.3e, %d vol fallbacks, %d failures\n",
		report.Priced, report.RMSE, report.MaxAbsError, report.Fallbacks, report.Failures)

	summary := runSummary{
		Truth:       truthVals,
		Guess:       guess,
		Calibrated:  result.Params,
		Objective:   result.Objective,
		Status:      result.Status,
		FuncEvals:   result.FuncEvals,
		Feller:      fitted.FellerSatisfied(),
		RMSE:        report.RMSE,
		MaxAbsError: report.MaxAbsError,
		Fallbacks:   report.Fallbacks,
		Quotes:      len(surf.Quotes),
		ElapsedSec:  time.Since(start).Seconds(),
	}
	out, err := json.Marshal(summary)
	if err != nil {
		fmt.Printf("Error marshalling summary: %s\n", err.Error())
		return
	}
	f := "calibration_results.json"
	if err := ioutil.WriteFile(f, out, 0644); err != nil {
		fmt.Printf("Error writing to file %s: %s\n", f, err.Error())
		return
	}
	fmt.Printf("Successfully wrote run summary to %s\n", f)
}

func makeQuotes(ref time.Time, truth models.HestonInput, method pricing.Method, spot, rate float64) []surface.VolQuote {
	var quotes []surface.VolQuote
	pol := surface.DefaultPolicy()
	for _, months := range []int{3, 6, 12} {
		expiry := ref.AddDate(0, months, 0)
		for _, moneyness := range []float64{0.8, 0.9, 1.0, 1.1, 1.2} {
			strike := spot * moneyness
			payoff, err := models.NewPayoff(strike, expiry, models.Call, models.European)
			if err != nil {
				log.Fatal(err)
			}
			sol, err := method.Solve(models.PricingProblem{Payoff: payoff, Market: truth})
			if err != nil {
				log.Fatalf("synthetic pricing failed at K=%g: %v", strike, err)
			}
			q, err := surface.NewVolQuote(ref, payoff, spot, surface.SpotUnderlying, rate,
				surface.EmptySide(), surface.PriceSide(sol.Price), surface.EmptySide(),
				ref, "synthetic", pol)
			if err != nil {
				log.Fatal(err)
			}
			quotes = append(quotes, q)
		}
	}
	return quotes
}

func fitWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
			return f
		}
		log.Printf("ignoring invalid %s=%q", key, v)
	}
	return def
}
