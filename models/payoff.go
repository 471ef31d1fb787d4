package models

import (
	"math"
	"time"
)

type OptionType int

const (
	Call OptionType = iota
	Put
)

func (t OptionType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

type ExerciseStyle int

const (
	European ExerciseStyle = iota
	American
)

func (s ExerciseStyle) String() string {
	if s == American {
		return "american"
	}
	return "european"
}

// Payoff describes what is being priced, independent of pricing method.
// American payoffs carry no exercise state: the boundary is the solver's
// problem, not the payoff's.
type Payoff struct {
	Strike float64
	Expiry time.Time
	Type   OptionType
	Style  ExerciseStyle
}

func NewPayoff(strike float64, expiry time.Time, typ OptionType, style ExerciseStyle) (Payoff, error) {
	if strike <= 0 || math.IsNaN(strike) {
		return Payoff{}, Errorf(ErrConfig, "models.NewPayoff", "strike must be positive, got %g", strike)
	}
	return Payoff{Strike: strike, Expiry: expiry, Type: typ, Style: style}, nil
}

// Intrinsic is the immediate-exercise value against the given underlying
// level.
func (p Payoff) Intrinsic(s float64) float64 {
	if p.Type == Call {
		return math.Max(s-p.Strike, 0)
	}
	return math.Max(p.Strike-s, 0)
}

// PricingProblem pairs one payoff with one market input. It is the atomic
// unit every pricing method consumes.
type PricingProblem struct {
	Payoff Payoff
	Market MarketInput
}

func NewPricingProblem(payoff Payoff, market MarketInput) (PricingProblem, error) {
	if market == nil {
		return PricingProblem{}, Errorf(ErrConfig, "models.NewPricingProblem", "market input is required")
	}
	return PricingProblem{Payoff: payoff, Market: market}, nil
}

// TimeToExpiry is the ACT/365 year fraction from the market reference date
// to the payoff expiry.
func (p PricingProblem) TimeToExpiry() float64 {
	return YearFrac(p.Market.ReferenceDate(), p.Payoff.Expiry)
}

// BasketPricingProblem is an ordered set of payoffs sharing one market
// input, so one calibration run prices many instruments against a single
// parameter set.
type BasketPricingProblem struct {
	Payoffs []Payoff
	Market  MarketInput
}

func NewBasketPricingProblem(payoffs []Payoff, market MarketInput) (BasketPricingProblem, error) {
	if market == nil {
		return BasketPricingProblem{}, Errorf(ErrConfig, "models.NewBasketPricingProblem", "market input is required")
	}
	if len(payoffs) == 0 {
		return BasketPricingProblem{}, Errorf(ErrConfig, "models.NewBasketPricingProblem", "basket has no payoffs")
	}
	ps := make([]Payoff, len(payoffs))
	copy(ps, payoffs)
	return BasketPricingProblem{Payoffs: ps, Market: market}, nil
}

// Problem extracts the i-th single-instrument problem.
func (b BasketPricingProblem) Problem(i int) PricingProblem {
	return PricingProblem{Payoff: b.Payoffs[i], Market: b.Market}
}
