package pipeline

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrProcessorFailed = errors.ErrorCode("pipeline_processor_failed")
	ErrMissingStage    = errors.ErrorCode("pipeline_missing_stage")
)
