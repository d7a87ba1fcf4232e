package processor

import (
	"context"
	"fmt"
	"strconv"

	"codeberg.org/mutker/beamlog/internal/pipeline"
	"codeberg.org/mutker/beamlog/internal/sample"
	"gonum.org/v1/gonum/mat"
)

// ToString renders values as text. Fields keep their keys with each value
// rendered individually.
func ToString() pipeline.Processor {
	return pipeline.ProcessorFunc(func(_ context.Context, s sample.Sample) (sample.Sample, error) {
		switch v := s.Value.(type) {
		case nil:
			return s, nil
		case sample.Fields:
			out := make(sample.Fields, len(v))
			for k, fv := range v {
				out[k] = format(fv)
			}
			return s.WithValue(out), nil
		default:
			return s.WithValue(sample.Text(format(v))), nil
		}
	})
}

func format(v any) string {
	switch v := v.(type) {
	case sample.Text:
		return string(v)
	case sample.Scalar:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case sample.Frame:
		if v.Pixels == nil {
			return ""
		}
		return fmt.Sprintf("%v", mat.Formatted(v.Pixels, mat.Squeeze()))
	case mat.Matrix:
		return fmt.Sprintf("%v", mat.Formatted(v, mat.Squeeze()))
	default:
		return fmt.Sprint(v)
	}
}
