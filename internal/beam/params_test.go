package beam_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"codeberg.org/mutker/beamlog/internal/beam"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name                   string
		sx, sy, theta          float64
		wantSX, wantSY, wantTh float64
	}{
		{"already canonical", 2, 3, 0.3, 2, 3, 0.3},
		{"negative widths", -2, -3, 0.3, 2, 3, 0.3},
		{"quarter turn swaps axes", 2, 3, math.Pi / 2, 3, 2, 0},
		{"negative angle", 2, 3, -math.Pi / 4, 3, 2, math.Pi / 4},
		{"half turn", 2, 3, math.Pi + 0.1, 2, 3, 0.1},
		{"several turns", 2, 3, -5*math.Pi + 0.2, 2, 3, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sx, sy, theta := beam.Canonicalize(tt.sx, tt.sy, tt.theta)
			assert.InDelta(t, tt.wantSX, sx, 1e-12)
			assert.InDelta(t, tt.wantSY, sy, 1e-12)
			assert.InDelta(t, tt.wantTh, theta, 1e-9)
		})
	}
}

func TestCanonicalPreservesModel(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for range 200 {
		p := beam.Params{
			H:      rng.Float64() * 10,
			A:      50 + rng.Float64()*50,
			X0:     20 + rng.Float64()*10,
			Y0:     20 + rng.Float64()*10,
			SX:     (rng.Float64()*2 - 1) * 10,
			SY:     (rng.Float64()*2 - 1) * 10,
			Theta:  (rng.Float64()*2 - 1) * 20,
			Cutoff: 1000,
		}
		if math.Abs(p.SX) < 0.5 || math.Abs(p.SY) < 0.5 {
			continue
		}

		c := p.Canonical()
		assert.GreaterOrEqual(t, c.Theta, 0.0)
		assert.Less(t, c.Theta, math.Pi/2)
		assert.GreaterOrEqual(t, c.SX, 0.0)
		assert.GreaterOrEqual(t, c.SY, 0.0)

		for _, pt := range [][2]float64{{20, 20}, {25, 23}, {31, 18}, {22, 29}} {
			assert.InDelta(t, p.At(pt[0], pt[1]), c.At(pt[0], pt[1]), 1e-9)
		}
	}
}

func TestParamsAtClipsAtCutoff(t *testing.T) {
	p := beam.Params{H: 1, A: 100, X0: 5, Y0: 5, SX: 2, SY: 2, Cutoff: 40}

	assert.InDelta(t, 40, p.At(5, 5), 1e-12)
	assert.InDelta(t, 101, p.Gauss(5, 5), 1e-12)
	assert.InDelta(t, 1+100*math.Exp(-0.5), p.At(7, 5), 1e-9)
}

func TestMoved(t *testing.T) {
	prev := beam.Params{X0: 10, Y0: 10, SX: 3, SY: 4}

	assert.False(t, prev.Moved(prev, 1))
	assert.False(t, beam.Params{X0: 10.9, Y0: 9.1, SX: 3.5, SY: 4}.Moved(prev, 1))
	assert.True(t, beam.Params{X0: 11.5, Y0: 10, SX: 3, SY: 4}.Moved(prev, 1))
	assert.True(t, beam.Params{X0: 10, Y0: 10, SX: 3, SY: 2.5}.Moved(prev, 1))
}
