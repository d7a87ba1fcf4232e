package beam

import "math"

// Params describes a rotated two dimensional Gaussian clipped at Cutoff.
//
// The model value at pixel (x, y), with x the column and y the row, is
//
//	min(H + A*exp(-((u/SX)^2 + (v/SY)^2)/2), Cutoff)
//	u = (X0-x)*cos(Theta) - (Y0-y)*sin(Theta)
//	v = (X0-x)*sin(Theta) + (Y0-y)*cos(Theta)
type Params struct {
	H      float64 // asymptotic background
	A      float64 // amplitude
	X0     float64
	Y0     float64
	SX     float64
	SY     float64
	Theta  float64 // radians, [0, pi/2) once canonical
	Cutoff float64 // saturation ceiling
}

// Gauss returns the unclipped model value at (x, y).
func (p Params) Gauss(x, y float64) float64 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	dx, dy := p.X0-x, p.Y0-y
	u := (dx*c - dy*s) / p.SX
	v := (dx*s + dy*c) / p.SY
	return p.H + p.A*math.Exp(-(u*u+v*v)/2)
}

// At returns the clipped model value at (x, y).
func (p Params) At(x, y float64) float64 {
	return math.Min(p.Gauss(x, y), p.Cutoff)
}

// Canonical returns p with Theta folded into [0, pi/2) and non-negative
// widths. Folding by pi/2 swaps the axes, so the ellipse is unchanged.
func (p Params) Canonical() Params {
	p.SX, p.SY, p.Theta = Canonicalize(p.SX, p.SY, p.Theta)
	return p
}

// Canonicalize folds (sx, sy, theta) into its unique representation.
func Canonicalize(sx, sy, theta float64) (float64, float64, float64) {
	sx, sy = math.Abs(sx), math.Abs(sy)

	theta = math.Mod(theta, math.Pi)
	if theta < 0 {
		theta += math.Pi
	}
	if theta >= math.Pi {
		theta -= math.Pi
	}
	if theta >= math.Pi/2 {
		theta -= math.Pi / 2
		sx, sy = sy, sx
	}

	return sx, sy, theta
}

// Moved reports whether the centre or a width differs from prev by more
// than limit pixels.
func (p Params) Moved(prev Params, limit float64) bool {
	return math.Abs(p.X0-prev.X0) > limit ||
		math.Abs(p.Y0-prev.Y0) > limit ||
		math.Abs(p.SX-prev.SX) > limit ||
		math.Abs(p.SY-prev.SY) > limit
}
