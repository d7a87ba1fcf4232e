package diag

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	ErrNotDirectory = errors.ErrorCode("diag_not_directory")
	ErrWriteFrame   = errors.ErrorCode("diag_write_frame_failed")
	ErrReadFrame    = errors.ErrorCode("diag_read_frame_failed")
	ErrPlot         = errors.ErrorCode("diag_plot_failed")
)
