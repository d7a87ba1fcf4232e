package sink

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrInvalidSink = errors.ErrorCode("sink_invalid")
	ErrCloseSink   = errors.ErrCloseSink
)
