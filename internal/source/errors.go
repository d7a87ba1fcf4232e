package source

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrReadFailed       = errors.ErrorCode("source_read_failed")
	ErrFrameDecode      = errors.ErrorCode("frame_decode_failed")
	ErrReservedMetadata = errors.ErrorCode("source_reserved_metadata")
	ErrInvalidSource    = errors.ErrorCode("source_invalid")
)
