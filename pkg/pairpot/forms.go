package pairpot

import (
	"math"

	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/util"
)

// mix returns the Lennard-Jones epsilon and sigma of a pair of types.
func mix(p Params, ti, tj species.AtomType) (eps, sigma float64) {
	eps = math.Sqrt(ti.Epsilon * tj.Epsilon)
	if p.mixing == Geometric {
		return eps, math.Sqrt(ti.Sigma * tj.Sigma)
	}
	return eps, 0.5 * (ti.Sigma + tj.Sigma)
}

func ljEnergy(eps, sigma, r float64) float64 {
	if eps == 0 || sigma == 0 {
		return 0
	}
	sr6 := util.Pow(sigma/r, 6)
	return 4 * eps * (sr6*sr6 - sr6)
}

func ljForce(eps, sigma, r float64) float64 {
	if eps == 0 || sigma == 0 {
		return 0
	}
	sr6 := util.Pow(sigma/r, 6)
	return 24 * eps * (2*sr6*sr6 - sr6) / r
}

func shortRangeEnergy(p Params, eps, sigma, r float64) float64 {
	rc := p.Range
	switch p.srTrunc {
	case Shifted:
		return ljEnergy(eps, sigma, r) - ljEnergy(eps, sigma, rc) + (r-rc)*ljForce(eps, sigma, rc)
	case Cosine:
		return ljEnergy(eps, sigma, r) * cosineTaper(p, r)
	}
	return ljEnergy(eps, sigma, r)
}

func shortRangeForce(p Params, eps, sigma, r float64) float64 {
	switch p.srTrunc {
	case Shifted:
		return ljForce(eps, sigma, r) - ljForce(eps, sigma, p.Range)
	case Cosine:
		// -d(U*s)/dr = F*s - U*ds/dr
		return ljForce(eps, sigma, r)*cosineTaper(p, r) - ljEnergy(eps, sigma, r)*cosineTaperDerivative(p, r)
	}
	return ljForce(eps, sigma, r)
}

// cosineTaper goes smoothly from 1 to 0 over the last TruncationWidth
// Angstroms of the range.
func cosineTaper(p Params, r float64) float64 {
	start := p.Range - p.TruncationWidth
	if r <= start {
		return 1
	}
	return 0.5 * (1 + math.Cos(math.Pi*(r-start)/p.TruncationWidth))
}

func cosineTaperDerivative(p Params, r float64) float64 {
	start := p.Range - p.TruncationWidth
	if r <= start {
		return 0
	}
	return -0.5 * math.Pi / p.TruncationWidth * math.Sin(math.Pi*(r-start)/p.TruncationWidth)
}

func coulombEnergy(p Params, qq, r float64) float64 {
	rc := p.Range
	switch p.coulTrunc {
	case Shifted:
		return Coulomb * qq * (1/r - 1/rc + (r-rc)/(rc*rc))
	case DSF:
		a := p.DSFAlpha
		shift := math.Erfc(a*rc) / rc
		slope := math.Erfc(a*rc)/(rc*rc) + 2*a/math.SqrtPi*math.Exp(-a*a*rc*rc)/rc
		return Coulomb * qq * (math.Erfc(a*r)/r - shift + slope*(r-rc))
	}
	return Coulomb * qq / r
}

func coulombForce(p Params, qq, r float64) float64 {
	rc := p.Range
	switch p.coulTrunc {
	case Shifted:
		return Coulomb * qq * (1/(r*r) - 1/(rc*rc))
	case DSF:
		a := p.DSFAlpha
		slope := math.Erfc(a*rc)/(rc*rc) + 2*a/math.SqrtPi*math.Exp(-a*a*rc*rc)/rc
		return Coulomb * qq * (math.Erfc(a*r)/(r*r) + 2*a/math.SqrtPi*math.Exp(-a*a*r*r)/r - slope)
	}
	return Coulomb * qq / (r * r)
}

func analyticEnergy(p Params, ti, tj species.AtomType, r float64) float64 {
	eps, sigma := mix(p, ti, tj)
	u := shortRangeEnergy(p, eps, sigma, r)
	if p.IncludeCoulomb {
		u += coulombEnergy(p, ti.Charge*tj.Charge, r)
	}
	return u
}

func analyticForce(p Params, ti, tj species.AtomType, r float64) float64 {
	eps, sigma := mix(p, ti, tj)
	f := shortRangeForce(p, eps, sigma, r)
	if p.IncludeCoulomb {
		f += coulombForce(p, ti.Charge*tj.Charge, r)
	}
	return f
}
