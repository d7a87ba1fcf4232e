package processor

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrUnexpectedValue = errors.ErrorCode("processor_unexpected_value")
	ErrMissingKey      = errors.ErrorCode("processor_missing_key")
)
