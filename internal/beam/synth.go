package beam

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Size of generated test frames.
const (
	TestImageRows = 600
	TestImageCols = 800
)

// TestImage is a synthetic frame together with the parameters used to
// render it.
type TestImage struct {
	Image  *mat.Dense
	Params Params
	Noise  float64
}

// RandomParams draws peak parameters in the range seen on the beamline
// camera. Theta is restricted to [0, pi/2).
func RandomParams(rng *rand.Rand) Params {
	normal := distuv.Normal{Mu: 300, Sigma: 50, Src: rng}

	h := 10 * rng.Float64()
	return Params{
		H:     h,
		A:     h + 100*rng.Float64(),
		X0:    normal.Rand(),
		Y0:    normal.Rand(),
		SX:    5 + 10*rng.Float64(),
		SY:    5 + 10*rng.Float64(),
		Theta: math.Pi / 2 * rng.Float64(),
	}
}

// Render evaluates the unclipped model of p on a rows x cols grid.
func Render(p Params, rows, cols int) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	img.Apply(func(i, j int, _ float64) float64 {
		return p.Gauss(float64(j), float64(i))
	}, img)
	return img
}

// NewTestImage renders a noisy frame with dead pixels, saturated at a random
// cutoff. Without peak only the noise and dead pixels are present.
func NewTestImage(rng *rand.Rand, peak bool) TestImage {
	p := RandomParams(rng)
	cutoff := p.H + 80*rng.Float64()
	deadPixels := int(100 * rng.Float64())
	sigma := 2 * rng.Float64()

	var img *mat.Dense
	if peak {
		img = Render(p, TestImageRows, TestImageCols)
	} else {
		img = mat.NewDense(TestImageRows, TestImageCols, nil)
	}

	if sigma > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rng}
		img.Apply(func(_, _ int, v float64) float64 {
			return v + noise.Rand()
		}, img)
	}

	maxVal := mat.Max(img)

	for range deadPixels {
		img.Set(rng.IntN(TestImageRows), rng.IntN(TestImageCols), p.A*rng.Float64())
	}

	// Noise sits below the cutoff so the saturated plateau stays flat.
	img.Apply(func(_, _ int, v float64) float64 {
		return math.Min(v, cutoff)
	}, img)

	p.Cutoff = math.Min(cutoff, maxVal)

	return TestImage{Image: img, Params: p, Noise: sigma}
}
