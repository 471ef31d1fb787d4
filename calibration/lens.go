package calibration

import (
	"github.com/skewlab/volfit/models"
)

// Lens names one scalar field inside a market input. The calibrator only
// ever touches parameters through lenses: Apply derives a fresh input with
// the field replaced, the original is never written to.
type Lens int

const (
	LensBSVol Lens = iota
	LensBSSpot
	LensHestonV0
	LensHestonKappa
	LensHestonTheta
	LensHestonXi
	LensHestonRho
)

func (l Lens) String() string {
	switch l {
	case LensBSVol:
		return "bs.vol"
	case LensBSSpot:
		return "bs.spot"
	case LensHestonV0:
		return "heston.v0"
	case LensHestonKappa:
		return "heston.kappa"
	case LensHestonTheta:
		return "heston.theta"
	case LensHestonXi:
		return "heston.xi"
	case LensHestonRho:
		return "heston.rho"
	}
	return "unknown"
}

// Apply returns a copy of m with the lensed field set to v. A lens aimed at
// the wrong input kind is a configuration error.
func (l Lens) Apply(m models.MarketInput, v float64) (models.MarketInput, error) {
	const op = "calibration.Lens.Apply"
	switch in := m.(type) {
	case models.BlackScholesInput:
		switch l {
		case LensBSVol:
			in.Vol = v
			return in, nil
		case LensBSSpot:
			in.Spot = v
			return in, nil
		}
	case models.HestonInput:
		switch l {
		case LensHestonV0:
			in.V0 = v
			return in, nil
		case LensHestonKappa:
			in.Kappa = v
			return in, nil
		case LensHestonTheta:
			in.Theta = v
			return in, nil
		case LensHestonXi:
			in.Xi = v
			return in, nil
		case LensHestonRho:
			in.Rho = v
			return in, nil
		}
	}
	return nil, models.Errorf(models.ErrConfig, op, "lens %s does not apply to market input %T", l, m)
}

// Get reads the lensed field.
func (l Lens) Get(m models.MarketInput) (float64, error) {
	const op = "calibration.Lens.Get"
	switch in := m.(type) {
	case models.BlackScholesInput:
		switch l {
		case LensBSVol:
			return in.Vol, nil
		case LensBSSpot:
			return in.Spot, nil
		}
	case models.HestonInput:
		switch l {
		case LensHestonV0:
			return in.V0, nil
		case LensHestonKappa:
			return in.Kappa, nil
		case LensHestonTheta:
			return in.Theta, nil
		case LensHestonXi:
			return in.Xi, nil
		case LensHestonRho:
			return in.Rho, nil
		}
	}
	return 0, models.Errorf(models.ErrConfig, op, "lens %s does not apply to market input %T", l, m)
}

// HestonLenses is the full five-parameter lens list in its conventional
// order (v0, kappa, theta, xi, rho).
func HestonLenses() []Lens {
	return []Lens{LensHestonV0, LensHestonKappa, LensHestonTheta, LensHestonXi, LensHestonRho}
}
