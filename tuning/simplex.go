package tuning

import "gonum.org/v1/gonum/floats"

// Point is a single Nelder-Mead vertex: (length_mm, coupling_steps).
type Point struct {
	LengthMM      float64
	CouplingSteps float64
}

func (p Point) vec() []float64 { return []float64{p.LengthMM, p.CouplingSteps} }

func fromVec(v []float64) Point { return Point{LengthMM: v[0], CouplingSteps: v[1]} }

func (p Point) add(q Point) Point {
	v := p.vec()
	floats.Add(v, q.vec())
	return fromVec(v)
}

func (p Point) sub(q Point) Point {
	v := p.vec()
	floats.SubTo(v, v, q.vec())
	return fromVec(v)
}

func (p Point) scale(s float64) Point {
	v := p.vec()
	floats.Scale(s, v)
	return fromVec(v)
}


// Bounds box-constrains the simplex: length is bounded on both sides,
// coupling is lower-bounded at zero only.
type Bounds struct {
	LengthMinMM float64
	LengthMaxMM float64
}

// project clamps p into the configured bounds.
func (b Bounds) project(p Point) Point {
	l := p.LengthMM
	if l < b.LengthMinMM {
		l = b.LengthMinMM
	}
	if l > b.LengthMaxMM {
		l = b.LengthMaxMM
	}
	c := p.CouplingSteps
	if c < 0 {
		c = 0
	}
	return Point{LengthMM: l, CouplingSteps: c}
}

// Standard Nelder-Mead reflection/expansion/contraction coefficients.
const (
	alphaReflect    = 1.0
	gammaExpand     = 2.0
	rhoContract     = 0.5
	sigmaShrink     = 0.5
	simplexTolerance = 0.01
)

// vertex pairs a point with its evaluated cost.
type vertex struct {
	p Point
	l float64
}

// simplex holds the three vertices of a 2-parameter Nelder-Mead search and
// advances them one step at a time. Bounds are enforced by projection
// rather than by reflecting through the bound, per the tuning controller's
// bounded-search requirement.
type simplex struct {
	v      [3]vertex
	bounds Bounds
}

// newSimplex builds the initial simplex around x0: x0, x0+(-0.1mm, 0), and
// x0+(0, +0.05*couplingSpan).
func newSimplex(x0 Point, couplingSpan float64, bounds Bounds, evaluate func(Point) (float64, error)) (*simplex, error) {
	pts := [3]Point{
		x0,
		bounds.project(x0.add(Point{LengthMM: -0.1})),
		bounds.project(x0.add(Point{CouplingSteps: 0.05 * couplingSpan})),
	}
	s := &simplex{bounds: bounds}
	for i, p := range pts {
		l, err := evaluate(p)
		if err != nil {
			return nil, err
		}
		s.v[i] = vertex{p: p, l: l}
	}
	s.sort()
	return s, nil
}

func (s *simplex) sort() {
	for i := 1; i < len(s.v); i++ {
		for j := i; j > 0 && s.v[j].l < s.v[j-1].l; j-- {
			s.v[j], s.v[j-1] = s.v[j-1], s.v[j]
		}
	}
}

// best returns the current best vertex (lowest cost).
func (s *simplex) best() vertex { return s.v[0] }

// worst returns the current worst vertex (highest cost).
func (s *simplex) worst() vertex { return s.v[len(s.v)-1] }

// converged reports whether the simplex has shrunk below simplexTolerance,
// measured as the spread of costs among its vertices.
func (s *simplex) converged() bool {
	return s.v[len(s.v)-1].l-s.v[0].l < simplexTolerance
}

// step performs one Nelder-Mead iteration (reflect/expand/contract/shrink),
// evaluating candidate points with evaluate and projecting every candidate
// into bounds before it is evaluated.
func (s *simplex) step(evaluate func(Point) (float64, error)) error {
	n := len(s.v)
	centroid := Point{}
	for i := 0; i < n-1; i++ {
		centroid = centroid.add(s.v[i].p)
	}
	centroid = centroid.scale(1.0 / float64(n-1))

	worst := s.v[n-1]

	reflected := s.bounds.project(centroid.add(centroid.sub(worst.p).scale(alphaReflect)))
	rl, err := evaluate(reflected)
	if err != nil {
		return err
	}

	switch {
	case rl < s.v[0].l:
		expanded := s.bounds.project(centroid.add(reflected.sub(centroid).scale(gammaExpand)))
		el, err := evaluate(expanded)
		if err != nil {
			return err
		}
		if el < rl {
			s.v[n-1] = vertex{p: expanded, l: el}
		} else {
			s.v[n-1] = vertex{p: reflected, l: rl}
		}
	case rl < s.v[n-2].l:
		s.v[n-1] = vertex{p: reflected, l: rl}
	default:
		contracted := s.bounds.project(centroid.add(worst.p.sub(centroid).scale(rhoContract)))
		cl, err := evaluate(contracted)
		if err != nil {
			return err
		}
		if cl < worst.l {
			s.v[n-1] = vertex{p: contracted, l: cl}
		} else {
			best := s.v[0]
			for i := 1; i < n; i++ {
				shrunk := s.bounds.project(best.p.add(s.v[i].p.sub(best.p).scale(sigmaShrink)))
				sl, err := evaluate(shrunk)
				if err != nil {
					return err
				}
				s.v[i] = vertex{p: shrunk, l: sl}
			}
		}
	}
	s.sort()
	return nil
}
