package source

import (
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/sample"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// ImageFile reads the latest camera frame from an image file on every call.
// PNG, JPEG, GIF, BMP and TIFF are supported; pixels keep the file's bit
// depth.
type ImageFile struct {
	base
	path string
}

func NewImageFile(path string, opts ...Option) (*ImageFile, error) {
	if path == "" {
		return nil, errors.New().WithMessage(ErrInvalidSource, "image path is empty")
	}
	return &ImageFile{base: newBase(opts), path: path}, nil
}

func (s *ImageFile) Read(ctx context.Context) sample.Sample {
	if err := ctx.Err(); err != nil {
		return s.failed(err)
	}

	img, err := DecodeImageFile(s.path)
	if err != nil {
		return s.failed(err)
	}
	return sample.New(s.now(), sample.Frame{Pixels: img}, s.metadata)
}

// DecodeImageFile loads path as a matrix of luminance values.
func DecodeImageFile(path string) (*mat.Dense, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadFailed, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errFactory.Wrap(ErrFrameDecode, err)
	}

	if img.Bounds().Empty() {
		return nil, errFactory.WithMessage(ErrFrameDecode, "image is empty")
	}

	return ImageToMatrix(img), nil
}

// ImageToMatrix converts img to luminance with rows as y and columns as x,
// keeping the native depth: 16 bit images yield 0..65535, all others 0..255.
// img must not be empty.
func ImageToMatrix(img image.Image) *mat.Dense {
	b := img.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)

	var luminance func(x, y int) float64
	switch m := img.(type) {
	case *image.Gray:
		luminance = func(x, y int) float64 { return float64(m.GrayAt(x, y).Y) }
	case *image.Gray16:
		luminance = func(x, y int) float64 { return float64(m.Gray16At(x, y).Y) }
	case *image.RGBA64, *image.NRGBA64:
		luminance = func(x, y int) float64 {
			return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
		}
	default:
		luminance = func(x, y int) float64 {
			return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(y-b.Min.Y, x-b.Min.X, luminance(x, y))
		}
	}
	return out
}
