package source

import (
	"context"
	"math/rand/v2"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/sample"
)

// Synthetic renders random test frames. With probability BeamOff a frame
// contains only noise and dead pixels.
type Synthetic struct {
	base
	rng     *rand.Rand
	beamOff float64
}

// NewSynthetic creates a synthetic source seeded with seed.
func NewSynthetic(seed uint64, beamOff float64, opts ...Option) *Synthetic {
	return &Synthetic{
		base:    newBase(opts),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		beamOff: beamOff,
	}
}

func (s *Synthetic) Read(ctx context.Context) sample.Sample {
	if err := ctx.Err(); err != nil {
		return s.failed(err)
	}

	peak := s.rng.Float64() >= s.beamOff
	ti := beam.NewTestImage(s.rng, peak)
	return sample.New(s.now(), sample.Frame{Pixels: ti.Image}, s.metadata)
}
