package beam

import (
	"math"

	"codeberg.org/mutker/beamlog/internal/errors"
	"gonum.org/v1/gonum/mat"
)

// Connectivity selects which neighbours join pixels into a component.
type Connectivity int

const (
	Connectivity4 Connectivity = 4
	Connectivity8 Connectivity = 8
)

// Region is a connected component of above-threshold pixels. Coordinates
// use x for columns and y for rows. The bounding box upper bounds are
// exclusive.
type Region struct {
	Label     int
	Area      int
	MinX      int
	MinY      int
	MaxX      int
	MaxY      int
	CentroidX float64
	CentroidY float64
	// MajorAxis and MinorAxis are the full lengths of the ellipse with the
	// same second moments as the region.
	MajorAxis float64
	MinorAxis float64
	// Orientation is the angle of the major axis from +x towards +y, in
	// (-pi/2, pi/2].
	Orientation float64
}

// Width returns the bounding box width.
func (r Region) Width() int { return r.MaxX - r.MinX }

// Height returns the bounding box height.
func (r Region) Height() int { return r.MaxY - r.MinY }

// Mask is a binary image stored row-major.
type Mask struct {
	Rows, Cols int
	Bits       []bool
}

// Binarize marks pixels strictly above thresh.
func Binarize(img *mat.Dense, thresh float64) Mask {
	r, c := img.Dims()
	raw := img.RawMatrix()
	m := Mask{Rows: r, Cols: c, Bits: make([]bool, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Bits[i*c+j] = raw.Data[i*raw.Stride+j] > thresh
		}
	}
	return m
}

// CenterOfMass returns the mean position of all set pixels. ok is false
// for an empty mask.
func (m Mask) CenterOfMass() (x, y float64, ok bool) {
	var n int
	for idx, set := range m.Bits {
		if !set {
			continue
		}
		n++
		x += float64(idx % m.Cols)
		y += float64(idx / m.Cols)
	}
	if n == 0 {
		return 0, 0, false
	}
	return x / float64(n), y / float64(n), true
}

// unionFind is a disjoint set over provisional labels.
type unionFind struct {
	parent []int
}

func (u *unionFind) add() int {
	u.parent = append(u.parent, len(u.parent))
	return len(u.parent) - 1
}

func (u *unionFind) find(a int) int {
	for u.parent[a] != a {
		u.parent[a] = u.parent[u.parent[a]]
		a = u.parent[a]
	}
	return a
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// Label assigns component labels 1..n to set pixels with a two pass union
// find. Labels are numbered in raster order of each component's first
// pixel, so identical masks always produce identical labelings.
func Label(m Mask, conn Connectivity) ([]int, int) {
	labels := make([]int, len(m.Bits))
	uf := &unionFind{parent: []int{0}}

	neighbours := [][2]int{{-1, 0}, {0, -1}}
	if conn == Connectivity8 {
		neighbours = append(neighbours, [2]int{-1, -1}, [2]int{-1, 1})
	}

	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			idx := i*m.Cols + j
			if !m.Bits[idx] {
				continue
			}
			for _, d := range neighbours {
				ni, nj := i+d[0], j+d[1]
				if ni < 0 || nj < 0 || nj >= m.Cols {
					continue
				}
				nl := labels[ni*m.Cols+nj]
				if nl == 0 {
					continue
				}
				if labels[idx] == 0 {
					labels[idx] = nl
				} else {
					uf.union(labels[idx], nl)
				}
			}
			if labels[idx] == 0 {
				labels[idx] = uf.add()
			}
		}
	}

	final := make(map[int]int)
	for idx, l := range labels {
		if l == 0 {
			continue
		}
		root := uf.find(l)
		id, ok := final[root]
		if !ok {
			id = len(final) + 1
			final[root] = id
		}
		labels[idx] = id
	}

	return labels, len(final)
}

type moments struct {
	n                int
	sx, sy           float64
	sxx, syy, sxy    float64
	minX, minY       int
	maxX, maxY       int
	centreX, centreY float64
	initialised      bool
}

// Regions computes the properties of every labelled component, ordered by
// label.
func Regions(labels []int, n, cols int) []Region {
	acc := make([]moments, n+1)
	for idx, l := range labels {
		if l == 0 {
			continue
		}
		x, y := idx%cols, idx/cols
		a := &acc[l]
		if !a.initialised {
			a.minX, a.maxX, a.minY, a.maxY = x, x+1, y, y+1
			a.initialised = true
		}
		a.minX, a.maxX = min(a.minX, x), max(a.maxX, x+1)
		a.minY, a.maxY = min(a.minY, y), max(a.maxY, y+1)
		a.n++
		fx, fy := float64(x), float64(y)
		a.sx += fx
		a.sy += fy
		a.sxx += fx * fx
		a.syy += fy * fy
		a.sxy += fx * fy
	}

	regions := make([]Region, 0, n)
	for l := 1; l <= n; l++ {
		regions = append(regions, acc[l].region(l))
	}
	return regions
}

func (a moments) region(label int) Region {
	nf := float64(a.n)
	cx, cy := a.sx/nf, a.sy/nf
	cxx := a.sxx/nf - cx*cx
	cyy := a.syy/nf - cy*cy
	cxy := a.sxy/nf - cx*cy

	major, minor, orientation := principalAxes(cxx, cyy, cxy)

	return Region{
		Label:       label,
		Area:        a.n,
		MinX:        a.minX,
		MinY:        a.minY,
		MaxX:        a.maxX,
		MaxY:        a.maxY,
		CentroidX:   cx,
		CentroidY:   cy,
		MajorAxis:   major,
		MinorAxis:   minor,
		Orientation: orientation,
	}
}

// principalAxes returns the axis lengths (4 sigma) and major axis angle of
// a 2x2 covariance.
func principalAxes(cxx, cyy, cxy float64) (major, minor, angle float64) {
	cov := mat.NewSymDense(2, []float64{cxx, cxy, cxy, cyy})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return 4 * math.Sqrt(math.Max(cxx, 0)), 4 * math.Sqrt(math.Max(cyy, 0)), 0
	}

	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending; the last column is the major axis.
	major = 4 * math.Sqrt(math.Max(vals[1], 0))
	minor = 4 * math.Sqrt(math.Max(vals[0], 0))
	angle = math.Atan2(vecs.At(1, 1), vecs.At(0, 1))
	if angle > math.Pi/2 {
		angle -= math.Pi
	} else if angle <= -math.Pi/2 {
		angle += math.Pi
	}
	return major, minor, angle
}

// SelectRegion picks, among regions larger than minArea, the one whose
// centroid is closest to (cx, cy). Ties go to the lowest label.
func SelectRegion(regions []Region, minArea int, cx, cy float64) (Region, error) {
	errFactory := errors.New()

	if len(regions) == 0 {
		return Region{}, errFactory.WithMessage(ErrNoRegion, "No regions of interest found")
	}

	best := -1
	bestDist := math.Inf(1)
	for i, r := range regions {
		if r.Area <= minArea {
			continue
		}
		d := math.Hypot(r.CentroidX-cx, r.CentroidY-cy)
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	if best < 0 {
		return Region{}, errFactory.WithMessage(ErrSmallRegion, "No sufficiently large regions of interest found")
	}
	return regions[best], nil
}

// FindROI binarizes img at thresh and selects the region of interest.
func FindROI(img *mat.Dense, thresh float64, minArea int, conn Connectivity) (Region, error) {
	mask := Binarize(img, thresh)
	labels, n := Label(mask, conn)
	cx, cy, _ := mask.CenterOfMass()
	return SelectRegion(Regions(labels, n, mask.Cols), minArea, cx, cy)
}
