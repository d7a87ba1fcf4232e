package scheduler

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrInvalidBounds    = errors.ErrorCode("scheduler_invalid_bounds")
	ErrInvalidPeriod    = errors.ErrorCode("scheduler_invalid_period")
	ErrInvalidTolerance = errors.ErrorCode("scheduler_invalid_tolerance")
)
