package diag

import (
	"image/color"
	"math"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const ellipsePoints = 90

// frameGrid exposes a matrix as a heat map grid with pixel centres at
// integer coordinates.
type frameGrid struct {
	m mat.Matrix
}

func (g frameGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g frameGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g frameGrid) X(c int) float64    { return float64(c) }
func (g frameGrid) Y(r int) float64    { return float64(r) }

// Ellipse returns the one sigma contour of p.
func Ellipse(p beam.Params) plotter.XYs {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	pts := make(plotter.XYs, ellipsePoints+1)
	for i := range pts {
		t := 2 * math.Pi * float64(i) / ellipsePoints
		u, v := p.SX*math.Cos(t), p.SY*math.Sin(t)
		pts[i] = plotter.XY{
			X: p.X0 + u*c + v*s,
			Y: p.Y0 - u*s + v*c,
		}
	}
	return pts
}

// Overlay draws img with the fitted centre, principal axes and one sigma
// ellipse. A zoomed overlay is limited to the surroundings of the peak.
func Overlay(img mat.Matrix, p beam.Params, zoom bool) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = "Peak fit"
	pl.X.Label.Text = "x"
	pl.Y.Label.Text = "y"
	pl.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	pl.Add(plotter.NewHeatMap(frameGrid{m: img}, palette.Heat(32, 1)))

	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	axes := []plotter.XYs{
		{{X: p.X0, Y: p.Y0}, {X: p.X0 + c*p.SX, Y: p.Y0 - s*p.SX}},
		{{X: p.X0, Y: p.Y0}, {X: p.X0 + s*p.SY, Y: p.Y0 + c*p.SY}},
	}
	for _, pts := range axes {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.New().Wrap(ErrPlot, err)
		}
		line.Color = color.RGBA{R: 255, A: 255}
		line.Width = vg.Points(2.5)
		pl.Add(line)
	}

	ellipse, err := plotter.NewLine(Ellipse(p))
	if err != nil {
		return nil, errors.New().Wrap(ErrPlot, err)
	}
	ellipse.Color = color.Black
	ellipse.Width = vg.Points(2)
	pl.Add(ellipse)

	centre, err := plotter.NewScatter(plotter.XYs{{X: p.X0, Y: p.Y0}})
	if err != nil {
		return nil, errors.New().Wrap(ErrPlot, err)
	}
	centre.GlyphStyle.Color = color.RGBA{G: 200, A: 255}
	centre.GlyphStyle.Radius = vg.Points(4)
	pl.Add(centre)

	if zoom {
		r := math.Max(p.SX, p.SY)
		pl.X.Min, pl.X.Max = p.X0-8*r, p.X0+8*r
		pl.Y.Min, pl.Y.Max = p.Y0-6*r, p.Y0+6*r
	} else {
		rows, cols := img.Dims()
		pl.X.Min, pl.X.Max = -0.5, float64(cols)-0.5
		pl.Y.Min, pl.Y.Max = -0.5, float64(rows)-0.5
	}

	return pl, nil
}

// SaveOverlay renders Overlay to path. The format follows the extension.
func SaveOverlay(path string, img mat.Matrix, p beam.Params, zoom bool) error {
	pl, err := Overlay(img, p, zoom)
	if err != nil {
		return err
	}
	if err := pl.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.New().Wrap(ErrPlot, err)
	}
	return nil
}
