// Package pipelinetest holds checks every pipeline.Processor must pass.
package pipelinetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"codeberg.org/mutker/beamlog/internal/pipeline"
	"codeberg.org/mutker/beamlog/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// AssertPassesFailures checks that p returns failed samples unchanged for
// every value kind.
func AssertPassesFailures(t *testing.T, p pipeline.Processor) {
	t.Helper()

	ts := time.Date(2018, 8, 28, 12, 0, 0, 0, time.UTC)
	failure := errors.New("acquisition failed")
	values := map[string]sample.Value{
		"none":   nil,
		"scalar": sample.Scalar(1),
		"frame":  sample.Frame{Pixels: mat.NewDense(3, 3, nil)},
		"fields": sample.Fields{"frame": sample.Frame{Pixels: mat.NewDense(3, 3, nil)}},
	}

	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			in := sample.Failed(ts, failure, sample.Metadata{"id": "1234"})
			in.Value = v

			out, err := p.Process(context.Background(), in)
			require.NoError(t, err)
			assert.Same(t, failure, out.Failure)
			assert.Equal(t, ts, out.Timestamp)
			assert.Equal(t, v, out.Value)
			assert.Equal(t, sample.Metadata{"id": "1234"}, out.Metadata)
		})
	}
}
