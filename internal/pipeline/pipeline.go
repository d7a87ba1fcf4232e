// Package pipeline drives Source -> Processors -> Sink at the cadence of a
// Scheduler, feeding sink outcomes back into the scheduler.
package pipeline

import (
	"context"
	"fmt"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
)

// Driver runs the acquisition loop. Only one Run may be active at a time.
type Driver struct {
	source     Source
	processors []Processor
	sink       Sink
	scheduler  Scheduler
}

// New creates a Driver. Processors are applied in the given order.
func New(source Source, sink Sink, sched Scheduler, processors ...Processor) (*Driver, error) {
	errFactory := errors.New()

	switch {
	case source == nil:
		return nil, errFactory.WithData(ErrMissingStage, "source")
	case sink == nil:
		return nil, errFactory.WithData(ErrMissingStage, "sink")
	case sched == nil:
		return nil, errFactory.WithData(ErrMissingStage, "scheduler")
	}

	procs := make([]Processor, 0, len(processors))
	for i, p := range processors {
		if p == nil {
			return nil, errFactory.WithData(ErrMissingStage, struct {
				Stage string
				Index int
			}{
				Stage: "processor",
				Index: i,
			})
		}
		procs = append(procs, p)
	}

	return &Driver{
		source:     source,
		processors: procs,
		sink:       sink,
		scheduler:  sched,
	}, nil
}

// Run loops until the scheduler is cancelled, ctx is done, or a processor
// returns an error. Cancellation is a normal stop and returns nil. To run
// again after a stop, call Reset on the scheduler first.
func (d *Driver) Run(ctx context.Context) error {
	success := true

	for d.scheduler.Wait(ctx, success) {
		s, err := d.read(ctx)
		if err != nil {
			return err
		}

		success = d.sink.Write(ctx, s)
		logger.Debug().
			Time("timestamp", s.Timestamp).
			Str("kind", s.ValueKind().String()).
			Bool("failed", s.Failed()).
			Bool("success", success).
			Msg("Sample written")
	}

	logger.Info().Msg("Acquisition loop stopped")
	return nil
}

// Abort cancels the scheduler, releasing a pending wait immediately. It is
// safe to call from another goroutine while Run is active.
func (d *Driver) Abort() {
	d.scheduler.Cancel()
}

// Step runs a single read-process-write pass without waiting.
func (d *Driver) Step(ctx context.Context) (sample.Sample, bool, error) {
	s, err := d.read(ctx)
	if err != nil {
		return s, false, err
	}
	return s, d.sink.Write(ctx, s), nil
}

func (d *Driver) read(ctx context.Context) (sample.Sample, error) {
	s := d.source.Read(ctx)
	if s.Failed() {
		logger.Warn().Err(s.Failure).Msg("Source read failed")
	}

	for i, p := range d.processors {
		var err error
		if s, err = p.Process(ctx, s); err != nil {
			return s, errors.New().Wrap(ErrProcessorFailed, fmt.Errorf("processor %d: %w", i, err))
		}
	}
	return s, nil
}
