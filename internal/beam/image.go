package beam

import (
	"math"
	"slices"

	"codeberg.org/mutker/beamlog/internal/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// laplacian is the second difference kernel used for noise estimation.
var laplacian = [3][3]float64{
	{1, -2, 1},
	{-2, 4, -2},
	{1, -2, 1},
}

// Trim returns a contiguous copy of img without a margin of the given width
// on each edge.
func Trim(img mat.Matrix, margin int) (*mat.Dense, error) {
	r, c := img.Dims()
	if margin < 0 || r-2*margin < 3 || c-2*margin < 3 {
		return nil, errors.New().WithData(ErrInvalidImage, struct {
			Rows   int
			Cols   int
			Margin int
		}{
			Rows:   r,
			Cols:   c,
			Margin: margin,
		})
	}

	out := mat.NewDense(r-2*margin, c-2*margin, nil)
	out.Copy(sliceOf(img, margin, r-margin, margin, c-margin))
	return out, nil
}

func sliceOf(m mat.Matrix, i, k, j, l int) mat.Matrix {
	if s, ok := m.(interface {
		Slice(i, k, j, l int) mat.Matrix
	}); ok {
		return s.Slice(i, k, j, l)
	}
	return mat.DenseCopyOf(m).Slice(i, k, j, l)
}

// reflect maps an out of range index back into [0, n) by mirroring about the
// edge, so -1 maps to 0 and n maps to n-1.
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// MedianFilter replaces each pixel by the median of the size x size window
// around it. For even sizes the upper median is used. Edges are mirrored.
func MedianFilter(img *mat.Dense, size int) *mat.Dense {
	r, c := img.Dims()
	out := mat.NewDense(r, c, nil)
	if size <= 1 {
		out.Copy(img)
		return out
	}

	src := img.RawMatrix()
	dst := out.RawMatrix()
	lo := -(size / 2)
	hi := lo + size - 1
	window := make([]float64, 0, size*size)
	rank := size * size / 2

	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			window = window[:0]
			for di := lo; di <= hi; di++ {
				row := reflect(i+di, r) * src.Stride
				for dj := lo; dj <= hi; dj++ {
					window = append(window, src.Data[row+reflect(j+dj, c)])
				}
			}
			insertionSort(window)
			dst.Data[i*dst.Stride+j] = window[rank]
		}
	}

	return out
}

func insertionSort(s []float64) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// values returns the matrix elements in row-major order.
func values(img *mat.Dense) []float64 {
	r, c := img.Dims()
	raw := img.RawMatrix()
	if raw.Stride == c {
		return raw.Data[:r*c]
	}
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+c]...)
	}
	return out
}

// EstimateBackground returns the median pixel value.
func EstimateBackground(img *mat.Dense) float64 {
	sorted := slices.Clone(values(img))
	slices.Sort(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// EstimateNoise estimates the standard deviation of white noise in img from
// the mean absolute response to a second difference kernel over the interior.
func EstimateNoise(img *mat.Dense) float64 {
	r, c := img.Dims()
	if r < 3 || c < 3 {
		return math.NaN()
	}

	raw := img.RawMatrix()
	var sum float64
	for i := 1; i < r-1; i++ {
		for j := 1; j < c-1; j++ {
			var acc float64
			for ki := 0; ki < 3; ki++ {
				row := (i+ki-1)*raw.Stride + j - 1
				for kj := 0; kj < 3; kj++ {
					acc += laplacian[ki][kj] * raw.Data[row+kj]
				}
			}
			sum += math.Abs(acc)
		}
	}

	return sum * math.Sqrt(math.Pi/2) / (6 * float64(c-2) * float64(r-2))
}

// Threshold returns the half maximum of a background subtracted image.
func Threshold(img *mat.Dense) float64 {
	return floats.Max(values(img)) / 2
}

// subtract returns img - v as a new matrix.
func subtract(img *mat.Dense, v float64) *mat.Dense {
	r, c := img.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, x float64) float64 { return x - v }, img)
	return out
}
