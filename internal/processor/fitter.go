// Package processor holds the pipeline stages that transform samples
// between a source and a sink.
package processor

import (
	"context"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
	"gonum.org/v1/gonum/mat"
)

// Output keys written by PeakFitter.
const (
	KeyBeamOn    = "beam_on"
	KeyMuX       = "mu_x"
	KeyMuY       = "mu_y"
	KeySigmaX    = "sigma_x"
	KeySigmaY    = "sigma_y"
	KeyRotation  = "rotation"
	KeyZOffset   = "z_offset"
	KeyAmplitude = "amplitude"
	KeyCutoff    = "cutoff"
)

// PeakFields lists the keys present after a successful fit.
var PeakFields = []string{
	KeyBeamOn, KeyMuX, KeyMuY, KeySigmaX, KeySigmaY,
	KeyRotation, KeyZOffset, KeyAmplitude, KeyCutoff,
}

// PeakFitter replaces an image by the parameters of the Gaussian peak found
// in it. Frames without a usable peak produce beam_on=false.
type PeakFitter struct {
	engine *beam.Engine
	key    string
}

type FitterOption func(*PeakFitter)

// WithImageKey makes the fitter take the image from a Fields value under key.
// The image is removed and the fit results are merged into the remaining
// fields.
func WithImageKey(key string) FitterOption {
	return func(f *PeakFitter) {
		f.key = key
	}
}

// NewPeakFitter creates a fitter owning engine. The engine must not be shared.
func NewPeakFitter(engine *beam.Engine, opts ...FitterOption) *PeakFitter {
	f := &PeakFitter{engine: engine}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *PeakFitter) Process(_ context.Context, s sample.Sample) (sample.Sample, error) {
	if s.Failed() {
		return s, nil
	}

	img, rest, err := f.image(s)
	if err != nil {
		return s, err
	}

	if img == nil {
		if rest != nil {
			return s.WithValue(rest), nil
		}
		return s, nil
	}

	out, err := f.fit(s, img)
	switch {
	case errors.HasCode(err, beam.ErrInvalidImage):
		return sample.Failed(s.Timestamp, err, s.Metadata), nil
	case err != nil:
		return s, err
	}

	if rest != nil {
		for k, v := range out {
			rest[k] = v
		}
		out = rest
	}

	return s.WithValue(out), nil
}

func (f *PeakFitter) fit(s sample.Sample, img mat.Matrix) (sample.Fields, error) {
	p, err := f.engine.Track(s.Timestamp, img)
	if err != nil {
		if !beam.IsFittingError(err) {
			return nil, err
		}
		logger.Debug().
			Time("timestamp", s.Timestamp).
			Str("reason", string(errors.CodeOf(err))).
			Msg("No beam found")
		return sample.Fields{KeyBeamOn: false}, nil
	}

	return sample.Fields{
		KeyBeamOn:    true,
		KeyMuX:       p.X0,
		KeyMuY:       p.Y0,
		KeySigmaX:    p.SX,
		KeySigmaY:    p.SY,
		KeyRotation:  p.Theta,
		KeyZOffset:   p.H,
		KeyAmplitude: p.A,
		KeyCutoff:    p.Cutoff,
	}, nil
}

// image extracts the frame to fit. With an image key the remaining fields
// are returned as well.
func (f *PeakFitter) image(s sample.Sample) (mat.Matrix, sample.Fields, error) {
	errFactory := errors.New()

	if f.key == "" || s.Value == nil {
		img, err := frameOf(s.Value)
		return img, nil, err
	}

	fields, ok := s.Value.(sample.Fields)
	if !ok {
		return nil, nil, errFactory.WithData(ErrUnexpectedValue, s.ValueKind().String())
	}

	v, ok := fields[f.key]
	if !ok {
		return nil, nil, errFactory.WithData(ErrMissingKey, f.key)
	}

	rest := fields.Clone()
	delete(rest, f.key)

	switch v := v.(type) {
	case nil:
		return nil, rest, nil
	case *mat.Dense:
		if v == nil {
			return nil, rest, nil
		}
		return v, rest, nil
	case sample.Value:
		img, err := frameOf(v)
		return img, rest, err
	default:
		return nil, nil, errFactory.WithMessage(ErrUnexpectedValue, "image field is not a frame")
	}
}

func frameOf(v sample.Value) (mat.Matrix, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case sample.Frame:
		if v.Pixels == nil {
			return nil, nil
		}
		return v.Pixels, nil
	default:
		return nil, errors.New().WithData(ErrUnexpectedValue, v.Kind().String())
	}
}
