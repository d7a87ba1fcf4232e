package processor_test

import (
	"context"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/pipeline/pipelinetest"
	"codeberg.org/mutker/beamlog/internal/processor"
	"codeberg.org/mutker/beamlog/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var ts = time.Date(2018, 8, 28, 12, 0, 0, 0, time.UTC)

func peakFrame() *mat.Dense {
	p := beam.Params{H: 4, A: 70, X0: 100, Y0: 90, SX: 6, SY: 9, Theta: 0.3}
	img := beam.Render(p, 200, 220)
	img.Apply(func(_, _ int, v float64) float64 { return math.Min(v, 60) }, img)
	return img
}

func newFitter(t *testing.T, opts ...processor.FitterOption) *processor.PeakFitter {
	t.Helper()
	e, err := beam.NewEngine(beam.DefaultConfig())
	require.NoError(t, err)
	return processor.NewPeakFitter(e, opts...)
}

func process(t *testing.T, f *processor.PeakFitter, s sample.Sample) sample.Sample {
	t.Helper()
	out, err := f.Process(context.Background(), s)
	require.NoError(t, err)
	return out
}

func TestPeakFitterPassesFailures(t *testing.T) {
	pipelinetest.AssertPassesFailures(t, newFitter(t))
	pipelinetest.AssertPassesFailures(t, newFitter(t, processor.WithImageKey("frame")))
}

func TestPeakFitterFitsFrame(t *testing.T) {
	md := sample.Metadata{"camera": "cam1"}
	out := process(t, newFitter(t), sample.New(ts, sample.Frame{Pixels: peakFrame()}, md))

	require.False(t, out.Failed())
	fields, ok := out.Value.(sample.Fields)
	require.True(t, ok)
	for _, k := range processor.PeakFields {
		assert.Contains(t, fields, k)
	}
	assert.Equal(t, true, fields[processor.KeyBeamOn])
	assert.InDelta(t, 100, fields[processor.KeyMuX], 0.5)
	assert.InDelta(t, 90, fields[processor.KeyMuY], 0.5)
	assert.InDelta(t, 60, fields[processor.KeyCutoff], 1e-6)
	assert.Equal(t, ts, out.Timestamp)
	assert.Equal(t, md, out.Metadata)

	out.Metadata["camera"] = "changed"
	assert.Equal(t, "cam1", md["camera"])
}

func TestPeakFitterNoBeam(t *testing.T) {
	out := process(t, newFitter(t), sample.New(ts, sample.Frame{Pixels: mat.NewDense(100, 100, nil)}, nil))

	require.False(t, out.Failed())
	assert.Equal(t, sample.Fields{processor.KeyBeamOn: false}, out.Value)
}

func TestPeakFitterEmptyImage(t *testing.T) {
	f := newFitter(t)

	in := sample.New(ts, nil, nil)
	assert.Equal(t, in, process(t, f, in))

	in = sample.New(ts, sample.Frame{}, nil)
	assert.Equal(t, in, process(t, f, in))
}

func TestPeakFitterInvalidImage(t *testing.T) {
	out := process(t, newFitter(t), sample.New(ts, sample.Frame{Pixels: mat.NewDense(10, 10, nil)}, sample.Metadata{"a": "b"}))

	require.True(t, out.Failed())
	assert.True(t, errors.HasCode(out.Failure, beam.ErrInvalidImage))
	assert.Equal(t, sample.Metadata{"a": "b"}, out.Metadata)
}

func TestPeakFitterUnexpectedValue(t *testing.T) {
	_, err := newFitter(t).Process(context.Background(), sample.New(ts, sample.Scalar(3), nil))
	assert.True(t, errors.HasCode(err, processor.ErrUnexpectedValue))

	_, err = newFitter(t, processor.WithImageKey("image")).Process(context.Background(), sample.New(ts, sample.Scalar(3), nil))
	assert.True(t, errors.HasCode(err, processor.ErrUnexpectedValue))
}

func TestPeakFitterImageKey(t *testing.T) {
	f := newFitter(t, processor.WithImageKey("image"))

	t.Run("merges results", func(t *testing.T) {
		in := sample.Fields{"image": sample.Frame{Pixels: peakFrame()}, "temperature": 21.5}
		out := process(t, f, sample.New(ts, in, nil))

		fields := out.Value.(sample.Fields)
		assert.NotContains(t, fields, "image")
		assert.Equal(t, 21.5, fields["temperature"])
		assert.Equal(t, true, fields[processor.KeyBeamOn])
		assert.Contains(t, in, "image", "input fields must not change")
	})

	t.Run("raw matrix", func(t *testing.T) {
		out := process(t, f, sample.New(ts, sample.Fields{"image": peakFrame()}, nil))
		assert.Equal(t, true, out.Value.(sample.Fields)[processor.KeyBeamOn])
	})

	t.Run("nil image is removed", func(t *testing.T) {
		out := process(t, f, sample.New(ts, sample.Fields{"image": nil, "id": 7}, nil))
		assert.Equal(t, sample.Fields{"id": 7}, out.Value)
	})

	t.Run("empty reply passes through", func(t *testing.T) {
		in := sample.New(ts, nil, sample.Metadata{"status": "3"})
		out := process(t, f, in)
		assert.Nil(t, out.Value)
		assert.Equal(t, "3", out.Metadata["status"])
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := f.Process(context.Background(), sample.New(ts, sample.Fields{"id": 7}, nil))
		assert.True(t, errors.HasCode(err, processor.ErrMissingKey))
	})
}
