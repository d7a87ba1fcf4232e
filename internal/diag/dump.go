// Package diag writes diagnostic snapshots of frames whose fitted peak moved.
package diag

import (
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"gonum.org/v1/gonum/mat"
)

const (
	frameExt    = ".bin"
	plotExt     = ".png"
	zoomSuffix  = "_zoomed"
	stampLayout = "20060102T150405.000000Z"
)

// Dumper stores the raw frame and overlay plots in a directory.
type Dumper struct {
	dir string
}

// NewDumper returns a Dumper writing into dir, which must exist.
func NewDumper(dir string) (*Dumper, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.New().Wrap(ErrNotDirectory, err)
	}
	if !info.IsDir() {
		return nil, errors.New().WithData(ErrNotDirectory, dir)
	}
	return &Dumper{dir: dir}, nil
}

// Base returns the path prefix shared by all files of a dump taken at ts.
func (d *Dumper) Base(ts time.Time) string {
	return filepath.Join(d.dir, "img_"+ts.UTC().Format(stampLayout))
}

// Dump writes the frame followed by the full and zoomed overlay plots.
func (d *Dumper) Dump(ts time.Time, img mat.Matrix, p beam.Params) error {
	base := d.Base(ts)

	if err := WriteFrame(base+frameExt, img); err != nil {
		return err
	}
	if err := SaveOverlay(base+plotExt, img, p, false); err != nil {
		return err
	}
	if err := SaveOverlay(base+zoomSuffix+plotExt, img, p, true); err != nil {
		return err
	}

	logger.Info().
		Str("path", base).
		Float64("mu_x", p.X0).
		Float64("mu_y", p.Y0).
		Msg("Peak moved, frame dumped")

	return nil
}

// WriteFrame stores img in gonum's binary matrix format.
func WriteFrame(path string, img mat.Matrix) error {
	errFactory := errors.New()

	data, err := mat.DenseCopyOf(img).MarshalBinary()
	if err != nil {
		return errFactory.Wrap(ErrWriteFrame, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errFactory.Wrap(ErrWriteFrame, err)
	}
	return nil
}

// ReadFrame loads a frame written by WriteFrame.
func ReadFrame(path string) (*mat.Dense, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadFrame, err)
	}

	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, errFactory.Wrap(ErrReadFrame, err)
	}
	return &m, nil
}
