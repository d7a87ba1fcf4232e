package pipeline

import (
	"context"

	"codeberg.org/mutker/beamlog/internal/sample"
)

// Source produces one sample per call. Read failures are reported through
// Sample.Failure so the loop keeps running.
type Source interface {
	Read(ctx context.Context) sample.Sample
}

// Processor transforms a sample. A sample that already carries a failure must
// be returned unchanged. A returned error is not a sample failure; it aborts
// the run.
type Processor interface {
	Process(ctx context.Context, s sample.Sample) (sample.Sample, error)
}

// ProcessorFunc adapts a function to the Processor interface. The failure
// pass-through is applied before f is called.
type ProcessorFunc func(ctx context.Context, s sample.Sample) (sample.Sample, error)

func (f ProcessorFunc) Process(ctx context.Context, s sample.Sample) (sample.Sample, error) {
	if s.Failed() {
		return s, nil
	}
	return f(ctx, s)
}

// Sink persists a sample and reports whether the write is complete by the
// sink's own standard, not merely whether it returned without error.
type Sink interface {
	Write(ctx context.Context, s sample.Sample) bool
}

// Scheduler paces the loop.
type Scheduler interface {
	Wait(ctx context.Context, success bool) bool
	Cancel()
	Reset()
}
