package surface

import (
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/skewlab/volfit/calibration"
	"github.com/skewlab/volfit/models"
)

var warnLog = log.New(os.Stderr, "surface: ", log.LstdFlags)

// SetWarnOutput redirects policy warnings, mainly so tests can capture or
// silence them.
func SetWarnOutput(w io.Writer) { warnLog.SetOutput(w) }

// Action picks what a validation rule does on violation. Production
// ingestion generally warns and carries on, since real snapshots always
// contain minor noise; strict pipelines fail.
type Action int

const (
	Warn Action = iota
	Fail
)

// Policy configures, rule by rule, whether quote-validation violations warn
// or fail. One behavior is deliberately not hardcoded.
type Policy struct {
	OnMissingMid   Action
	OnInconsistent Action
	OnNonMonotone  Action
	// PriceVolTol is the relative tolerance when a side supplies both a
	// price and a vol that should agree.
	PriceVolTol float64
}

// DefaultPolicy is the warn-and-continue production posture.
func DefaultPolicy() Policy {
	return Policy{OnMissingMid: Fail, OnInconsistent: Warn, OnNonMonotone: Warn, PriceVolTol: 1e-3}
}

// StrictPolicy fails on every violation.
func StrictPolicy() Policy {
	return Policy{OnMissingMid: Fail, OnInconsistent: Fail, OnNonMonotone: Fail, PriceVolTol: 1e-3}
}

func (p Policy) violate(action Action, format string, args ...interface{}) error {
	if action == Fail {
		return models.Errorf(models.ErrMarketData, "surface.NewVolQuote", format, args...)
	}
	warnLog.Printf(format, args...)
	return nil
}

// Side is one of bid/mid/ask: an absolute price in underlying currency and
// an implied vol. A missing value is the NaN sentinel, never an omitted
// field.
type Side struct {
	Price float64
	Vol   float64
}

// EmptySide is a side with both values missing.
func EmptySide() Side {
	return Side{Price: math.NaN(), Vol: math.NaN()}
}

// PriceSide is a side quoted by price only.
func PriceSide(price float64) Side {
	return Side{Price: price, Vol: math.NaN()}
}

// VolSide is a side quoted by implied vol only.
func VolSide(vol float64) Side {
	return Side{Price: math.NaN(), Vol: vol}
}

func has(v float64) bool { return !math.IsNaN(v) }

type UnderlyingKind int

const (
	SpotUnderlying UnderlyingKind = iota
	FutureUnderlying
)

func (k UnderlyingKind) String() string {
	if k == FutureUnderlying {
		return "future"
	}
	return "spot"
}

// VolQuote is one observed market data point. It is immutable once built:
// all derivation (filling a missing price from a vol or vice versa) and all
// consistency checking happen exactly once, inside NewVolQuote. Downstream
// calibration leans on these invariants holding, which makes this
// constructor the system's main validation boundary.
type VolQuote struct {
	Payoff         models.Payoff
	Underlying     float64
	UnderlyingKind UnderlyingKind
	Rate           float64
	Bid, Mid, Ask  Side
	Timestamp      time.Time
	Source         string

	refDate time.Time
}

func NewVolQuote(ref time.Time, payoff models.Payoff, underlying float64, kind UnderlyingKind, rate float64,
	bid, mid, ask Side, ts time.Time, source string, pol Policy) (VolQuote, error) {
	const op = "surface.NewVolQuote"

	if underlying <= 0 || math.IsNaN(underlying) {
		return VolQuote{}, models.Errorf(models.ErrConfig, op, "underlying observation must be positive, got %g", underlying)
	}
	if !has(mid.Price) && !has(mid.Vol) {
		if err := pol.violate(pol.OnMissingMid, "quote %s K=%g: neither mid price nor mid vol supplied", source, payoff.Strike); err != nil {
			return VolQuote{}, err
		}
	}

	q := VolQuote{
		Payoff:         payoff,
		Underlying:     underlying,
		UnderlyingKind: kind,
		Rate:           rate,
		Timestamp:      ts,
		Source:         source,
		refDate:        ref,
	}

	var err error
	if q.Bid, err = q.completeSide(bid, "bid", pol); err != nil {
		return VolQuote{}, err
	}
	if q.Mid, err = q.completeSide(mid, "mid", pol); err != nil {
		return VolQuote{}, err
	}
	if q.Ask, err = q.completeSide(ask, "ask", pol); err != nil {
		return VolQuote{}, err
	}

	if err := q.checkMonotone(pol); err != nil {
		return VolQuote{}, err
	}
	return q, nil
}

// completeSide derives whichever of (price, vol) is missing and checks
// agreement when both were supplied.
func (q VolQuote) completeSide(s Side, name string, pol Policy) (Side, error) {
	iv := calibration.DefaultIVSolver()

	switch {
	case !has(s.Price) && !has(s.Vol):
		return s, nil
	case has(s.Price) && !has(s.Vol):
		if vol, err := iv.PriceToIV(q.Payoff, q.Underlying, q.Rate, s.Price, q.refDate); err == nil {
			s.Vol = vol
		} else {
			warnLog.Printf("quote %s K=%g: %s vol not derivable from price %g: %v", q.Source, q.Payoff.Strike, name, s.Price, err)
		}
		return s, nil
	case !has(s.Price) && has(s.Vol):
		price, err := calibration.IVToPrice(q.Payoff, q.Underlying, q.Rate, s.Vol, q.refDate)
		if err != nil {
			return s, err
		}
		s.Price = price
		return s, nil
	}

	// Both supplied: they must tell the same story within tolerance.
	implied, err := calibration.IVToPrice(q.Payoff, q.Underlying, q.Rate, s.Vol, q.refDate)
	if err != nil {
		return s, err
	}
	if math.Abs(implied-s.Price) > pol.PriceVolTol*math.Max(1, math.Abs(s.Price)) {
		if verr := pol.violate(pol.OnInconsistent,
			"quote %s K=%g: %s price %g disagrees with vol-implied price %g", q.Source, q.Payoff.Strike, name, s.Price, implied); verr != nil {
			return s, verr
		}
	}
	return s, nil
}

func (q VolQuote) checkMonotone(pol Policy) error {
	check := func(lo, hi float64, what string) error {
		if has(lo) && has(hi) && lo > hi {
			return pol.violate(pol.OnNonMonotone,
				"quote %s K=%g: %s not monotone (%g > %g)", q.Source, q.Payoff.Strike, what, lo, hi)
		}
		return nil
	}
	if err := check(q.Bid.Price, q.Mid.Price, "bid/mid price"); err != nil {
		return err
	}
	if err := check(q.Mid.Price, q.Ask.Price, "mid/ask price"); err != nil {
		return err
	}
	if err := check(q.Bid.Vol, q.Mid.Vol, "bid/mid vol"); err != nil {
		return err
	}
	return check(q.Mid.Vol, q.Ask.Vol, "mid/ask vol")
}

// ReferenceDate is the snapshot date the quote's year fractions run from.
func (q VolQuote) ReferenceDate() time.Time { return q.refDate }

// TimeToExpiry is the ACT/365 year fraction to the payoff expiry.
func (q VolQuote) TimeToExpiry() float64 {
	return models.YearFrac(q.refDate, q.Payoff.Expiry)
}
