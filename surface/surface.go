package surface

import (
	"math"
	"sort"
	"time"

	"github.com/skewlab/volfit/models"
)

// MarketVolSurface is an ordered collection of quotes sharing one reference
// date and one underlying-observation model. Spot-based and futures-based
// quotes never mix inside one surface; that is a construction error, not a
// data-noise condition.
type MarketVolSurface struct {
	RefDate time.Time
	Kind    UnderlyingKind
	Quotes  []VolQuote
}

func NewMarketVolSurface(ref time.Time, quotes []VolQuote) (MarketVolSurface, error) {
	const op = "surface.NewMarketVolSurface"
	if len(quotes) == 0 {
		return MarketVolSurface{}, models.Errorf(models.ErrConfig, op, "surface has no quotes")
	}
	kind := quotes[0].UnderlyingKind
	for i, q := range quotes {
		if q.UnderlyingKind != kind {
			return MarketVolSurface{}, models.Errorf(models.ErrConfig, op,
				"quote %d is %s-based but the surface is %s-based; mixed observation kinds are not allowed", i, q.UnderlyingKind, kind)
		}
	}

	qs := make([]VolQuote, len(quotes))
	copy(qs, quotes)
	sort.SliceStable(qs, func(i, j int) bool {
		if !qs[i].Payoff.Expiry.Equal(qs[j].Payoff.Expiry) {
			return qs[i].Payoff.Expiry.Before(qs[j].Payoff.Expiry)
		}
		return qs[i].Payoff.Strike < qs[j].Payoff.Strike
	})

	return MarketVolSurface{RefDate: ref, Kind: kind, Quotes: qs}, nil
}

// FuturesPoint is one pillar of an expiry-grouped futures curve.
type FuturesPoint struct {
	Expiry time.Time
	Price  float64
}

// FuturesCurve aggregates per-quote underlying observations by expiry.
// Quotes at the same expiry should see the same future; real snapshots are
// slightly noisy across strikes, so deviation beyond relTol warns rather
// than fails.
func (s MarketVolSurface) FuturesCurve(relTol float64) ([]FuturesPoint, error) {
	const op = "surface.FuturesCurve"
	if s.Kind != FutureUnderlying {
		return nil, models.Errorf(models.ErrConfig, op, "surface is %s-based", s.Kind)
	}

	type bucket struct {
		expiry   time.Time
		sum      float64
		min, max float64
		n        int
	}
	var buckets []*bucket
	byExpiry := map[time.Time]*bucket{}
	for _, q := range s.Quotes {
		b, ok := byExpiry[q.Payoff.Expiry]
		if !ok {
			b = &bucket{expiry: q.Payoff.Expiry, min: math.Inf(1), max: math.Inf(-1)}
			byExpiry[q.Payoff.Expiry] = b
			buckets = append(buckets, b)
		}
		b.sum += q.Underlying
		b.min = math.Min(b.min, q.Underlying)
		b.max = math.Max(b.max, q.Underlying)
		b.n++
	}

	points := make([]FuturesPoint, 0, len(buckets))
	for _, b := range buckets {
		mean := b.sum / float64(b.n)
		if (b.max-b.min)/mean > relTol {
			warnLog.Printf("futures curve %s: underlying prices at expiry %s spread %.4f%% across strikes",
				s.RefDate.Format("2006-01-02"), b.expiry.Format("2006-01-02"), 100*(b.max-b.min)/mean)
		}
		points = append(points, FuturesPoint{Expiry: b.expiry, Price: mean})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Expiry.Before(points[j].Expiry) })
	return points, nil
}

// Basket bundles the surface's payoffs with a candidate market input, in
// quote order, for the calibration framework. Mid prices come back as the
// target vector; quotes without a mid price are skipped and their indices
// reported.
func (s MarketVolSurface) Basket(market models.MarketInput) (models.BasketPricingProblem, []float64, []int, error) {
	payoffs := make([]models.Payoff, 0, len(s.Quotes))
	targets := make([]float64, 0, len(s.Quotes))
	var skipped []int
	for i, q := range s.Quotes {
		if math.IsNaN(q.Mid.Price) {
			skipped = append(skipped, i)
			continue
		}
		payoffs = append(payoffs, q.Payoff)
		targets = append(targets, q.Mid.Price)
	}
	basket, err := models.NewBasketPricingProblem(payoffs, market)
	if err != nil {
		return models.BasketPricingProblem{}, nil, nil, err
	}
	return basket, targets, skipped, nil
}
