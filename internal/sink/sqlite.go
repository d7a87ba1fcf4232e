package sink

import (
	"context"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
	"codeberg.org/mutker/beamlog/internal/store"
	"github.com/google/uuid"
)

// SQLite writes samples into a store.Repository.
type SQLite struct {
	repo        store.Repository
	measurement string
	runID       uuid.UUID
	expected    []string
}

func NewSQLite(repo store.Repository, measurement string, runID uuid.UUID, expected []string) (*SQLite, error) {
	errFactory := errors.New()

	if repo == nil {
		return nil, errFactory.WithMessage(ErrInvalidSink, "repository is nil")
	}
	if measurement == "" {
		return nil, errFactory.WithMessage(ErrInvalidSink, "measurement is empty")
	}

	return &SQLite{
		repo:        repo,
		measurement: measurement,
		runID:       runID,
		expected:    append([]string(nil), expected...),
	}, nil
}

// Write stores s. It returns false when the sample is incomplete or the
// database write fails.
func (s *SQLite) Write(ctx context.Context, smp sample.Sample) bool {
	p := Format(s.measurement, smp)

	rec := store.Record{
		RunID:       s.runID,
		Measurement: p.Measurement,
		Timestamp:   p.Time,
		Fields:      p.Fields,
		Tags:        p.Tags,
		Error:       p.Error,
	}
	if err := s.repo.Record(ctx, rec); err != nil {
		logger.Error().Err(err).Time("timestamp", p.Time).Msg("Failed to store sample")
		return false
	}

	return Complete(p, s.expected)
}

// Close closes the underlying repository.
func (s *SQLite) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrCloseSink, err)
	}
	return nil
}
