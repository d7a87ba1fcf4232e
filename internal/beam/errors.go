package beam

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	// Fitting errors. A frame failing with one of these has no usable peak.
	ErrNoRegion    = errors.ErrorCode("beam_no_region")
	ErrSmallRegion = errors.ErrorCode("beam_small_region")
	ErrLargeNoise  = errors.ErrorCode("beam_large_noise")
	ErrLeastSquare = errors.ErrorCode("beam_least_square")

	ErrInvalidImage  = errors.ErrorCode("beam_invalid_image")
	ErrInvalidConfig = errors.ErrorCode("beam_invalid_config")
)

var fittingCodes = []errors.ErrorCode{ErrNoRegion, ErrSmallRegion, ErrLargeNoise, ErrLeastSquare}

// IsFittingError reports whether err means that no reliable peak could be
// fitted, as opposed to a malformed input or a programming error.
func IsFittingError(err error) bool {
	for _, code := range fittingCodes {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}
