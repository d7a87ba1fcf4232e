package beam

import (
	"math"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultEdgeMargin      = 20
	DefaultMedianSize      = 3
	DefaultMinRegionArea   = 10
	DefaultNoiseMultiplier = 3.0
	DefaultBBoxFactor      = 2.0
	DefaultMaxIterations   = 200
)

// Config tunes the characterization steps.
type Config struct {
	EdgeMargin      int
	MedianSize      int
	MinRegionArea   int
	NoiseMultiplier float64
	BBoxFactor      float64
	MaxIterations   int
	Connectivity    Connectivity
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		EdgeMargin:      DefaultEdgeMargin,
		MedianSize:      DefaultMedianSize,
		MinRegionArea:   DefaultMinRegionArea,
		NoiseMultiplier: DefaultNoiseMultiplier,
		BBoxFactor:      DefaultBBoxFactor,
		MaxIterations:   DefaultMaxIterations,
		Connectivity:    Connectivity8,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.EdgeMargin < 0:
		return errFactory.WithMessage(ErrInvalidConfig, "edge margin must not be negative")
	case c.MedianSize < 1:
		return errFactory.WithMessage(ErrInvalidConfig, "median size must be at least 1")
	case c.MinRegionArea < 0:
		return errFactory.WithMessage(ErrInvalidConfig, "minimum region area must not be negative")
	case c.NoiseMultiplier <= 0:
		return errFactory.WithMessage(ErrInvalidConfig, "noise multiplier must be positive")
	case c.BBoxFactor <= 0:
		return errFactory.WithMessage(ErrInvalidConfig, "bounding box factor must be positive")
	case c.MaxIterations < 1:
		return errFactory.WithMessage(ErrInvalidConfig, "max iterations must be at least 1")
	case c.Connectivity != Connectivity4 && c.Connectivity != Connectivity8:
		return errFactory.WithMessage(ErrInvalidConfig, "connectivity must be 4 or 8")
	}

	return nil
}

// Result carries the fitted parameters together with the intermediate
// estimates that produced them.
type Result struct {
	Params     Params
	Background float64
	Noise      float64
	Threshold  float64
	Region     Region
	// Window is the fitting window in trimmed image coordinates as
	// [minX, minY, maxX, maxY) .
	Window     [4]int
	Iterations int
}

// DumpFunc receives the raw frame and the new fit whenever the peak moved
// further than the tracking threshold.
type DumpFunc func(ts time.Time, img mat.Matrix, p Params) error

// Engine locates and fits a single Gaussian peak. An Engine keeps the last
// successful fit for movement tracking and must not be shared between
// goroutines.
type Engine struct {
	cfg Config

	dump          DumpFunc
	dumpThreshold float64
	last          *Params
}

type Option func(*Engine)

// WithDump installs a hook called when the peak position or width changes
// by more than threshold pixels between successful fits.
func WithDump(threshold float64, fn DumpFunc) Option {
	return func(e *Engine) {
		e.dump = fn
		e.dumpThreshold = threshold
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.dumpThreshold < 0 {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "dump threshold must not be negative")
	}

	return e, nil
}

// Last returns the previous successful fit, if any.
func (e *Engine) Last() (Params, bool) {
	if e.last == nil {
		return Params{}, false
	}
	return *e.last, true
}

// Characterize returns the canonical peak parameters of img in full image
// coordinates.
func (e *Engine) Characterize(img mat.Matrix) (Params, error) {
	res, err := e.Analyze(img)
	if err != nil {
		return Params{}, err
	}
	return res.Params, nil
}

// Track characterizes img and, on success, compares the result with the
// previous fit and calls the dump hook when the peak moved.
func (e *Engine) Track(ts time.Time, img mat.Matrix) (Params, error) {
	p, err := e.Characterize(img)
	if err != nil {
		return Params{}, err
	}

	if e.dump != nil {
		if e.last != nil && p.Moved(*e.last, e.dumpThreshold) {
			if err := e.dump(ts, img, p); err != nil {
				logger.Warn().Err(err).Msg("Failed to dump diagnostic frame")
			}
		}
	}
	e.last = &p

	return p, nil
}

// Analyze runs the full characterization and returns all intermediate
// estimates.
func (e *Engine) Analyze(img mat.Matrix) (Result, error) {
	var res Result

	trimmed, err := Trim(img, e.cfg.EdgeMargin)
	if err != nil {
		return res, err
	}

	smoothed := MedianFilter(trimmed, e.cfg.MedianSize)
	bg := EstimateBackground(smoothed)
	filtered := subtract(smoothed, bg)

	res.Background = bg
	// The median filter flattens the texture the estimator measures, so noise
	// is taken from the unfiltered frame.
	res.Noise = EstimateNoise(trimmed)
	res.Threshold = Threshold(filtered)

	if !(res.Threshold > e.cfg.NoiseMultiplier*res.Noise) {
		return res, errors.New().WithData(ErrLargeNoise, struct {
			Threshold float64
			Noise     float64
		}{
			Threshold: res.Threshold,
			Noise:     res.Noise,
		})
	}

	region, err := FindROI(filtered, res.Threshold, e.cfg.MinRegionArea, e.cfg.Connectivity)
	if err != nil {
		return res, err
	}
	res.Region = region

	rows, cols := filtered.Dims()
	hw := e.cfg.BBoxFactor / 2 * float64(region.Width())
	hh := e.cfg.BBoxFactor / 2 * float64(region.Height())
	minX := max(int(math.Floor(region.CentroidX-hw)), 0)
	maxX := min(int(math.Ceil(region.CentroidX+hw))+1, cols)
	minY := max(int(math.Floor(region.CentroidY-hh)), 0)
	maxY := min(int(math.Ceil(region.CentroidY+hh))+1, rows)
	res.Window = [4]int{minX, minY, maxX, maxY}

	if (maxX-minX)*(maxY-minY) < nParams {
		return res, leastSquareError("fitting window too small", 0, math.NaN())
	}

	win := mat.DenseCopyOf(filtered.Slice(minY, maxY, minX, maxX))
	cutoff := mat.Max(win)

	p0 := Params{
		H:      0,
		A:      2 * cutoff,
		X0:     region.CentroidX - float64(minX),
		Y0:     region.CentroidY - float64(minY),
		SX:     region.MajorAxis / 4,
		SY:     region.MinorAxis / 4,
		Theta:  -region.Orientation,
		Cutoff: cutoff,
	}
	if p0.SY < 0.5 {
		p0.SY = 0.5
	}
	if p0.SX < 0.5 {
		p0.SX = 0.5
	}

	fit, err := FitWindow(win, p0, e.cfg.MaxIterations)
	if err != nil {
		return res, err
	}
	res.Iterations = fit.Iterations

	p := fit.Params.Canonical()
	p.X0 += float64(minX + e.cfg.EdgeMargin)
	p.Y0 += float64(minY + e.cfg.EdgeMargin)
	p.H += bg
	p.Cutoff += bg
	res.Params = p

	logger.Debug().
		Float64("background", bg).
		Float64("noise", res.Noise).
		Float64("threshold", res.Threshold).
		Int("region_area", region.Area).
		Int("iterations", fit.Iterations).
		Float64("x0", p.X0).
		Float64("y0", p.Y0).
		Msg("Fitted peak")

	return res, nil
}
