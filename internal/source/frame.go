package source

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/sample"
	"gonum.org/v1/gonum/mat"
)

// StatusKey is the metadata key carrying a non-zero camera server status.
const StatusKey = "status"

// FrameHeader describes the layout of a raw camera frame. An AOI dimension
// of -1 means the area of interest is unset and the full source size applies.
type FrameHeader struct {
	SourceWidth   int `json:"sourceWidth"`
	SourceHeight  int `json:"sourceHeight"`
	AOIWidth      int `json:"aoiWidth"`
	AOIHeight     int `json:"aoiHeight"`
	BytesPerPixel int `json:"bytesPerPixel"`
}

// Width returns the width of the transmitted image.
func (h FrameHeader) Width() (int, error) {
	return dimension("width", h.AOIWidth, h.SourceWidth)
}

// Height returns the height of the transmitted image.
func (h FrameHeader) Height() (int, error) {
	return dimension("height", h.AOIHeight, h.SourceHeight)
}

func dimension(name string, aoi, src int) (int, error) {
	if aoi > 0 {
		return aoi, nil
	}
	if src > 0 {
		return src, nil
	}
	return 0, errors.New().WithMessage(ErrFrameDecode, fmt.Sprintf("invalid image %s", name))
}

// RawFrame is a camera frame with its header.
type RawFrame struct {
	Header FrameHeader `json:"frameHeader"`
	Bytes  []byte      `json:"imageBytes"`
}

// Decode converts the little endian pixel data into a matrix.
func (f RawFrame) Decode() (*mat.Dense, error) {
	errFactory := errors.New()

	w, err := f.Header.Width()
	if err != nil {
		return nil, err
	}
	h, err := f.Header.Height()
	if err != nil {
		return nil, err
	}

	bpp := f.Header.BytesPerPixel
	if bpp != 1 && bpp != 2 {
		return nil, errFactory.WithMessage(ErrFrameDecode, fmt.Sprintf("unsupported bytes per pixel: %d", bpp))
	}

	if len(f.Bytes) != w*h*bpp {
		return nil, errFactory.WithData(ErrFrameDecode, struct {
			Expected int
			Got      int
		}{
			Expected: w * h * bpp,
			Got:      len(f.Bytes),
		})
	}

	data := make([]float64, w*h)
	for i := range data {
		if bpp == 1 {
			data[i] = float64(f.Bytes[i])
		} else {
			data[i] = float64(binary.LittleEndian.Uint16(f.Bytes[2*i:]))
		}
	}
	return mat.NewDense(h, w, data), nil
}

// Reply is one response of the camera server.
type Reply struct {
	Status    int      `json:"status"`
	Timestamp float64  `json:"timestamp"`
	Data      RawFrame `json:"data"`
}

// Time converts the fractional unix timestamp of the reply.
func (r Reply) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// FrameFile reads camera server replies stored as JSON in a file that the
// acquisition daemon overwrites with every new frame. The decoded frame is
// stored under the configured property name of a Fields value.
type FrameFile struct {
	base
	path     string
	property string
}

func NewFrameFile(path, property string, opts ...Option) (*FrameFile, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.WithMessage(ErrInvalidSource, "frame path is empty")
	}
	if property == "" {
		return nil, errFactory.WithMessage(ErrInvalidSource, "frame property is empty")
	}

	s := &FrameFile{base: newBase(opts), path: path, property: property}
	if _, ok := s.metadata[StatusKey]; ok {
		return nil, errFactory.WithData(ErrReservedMetadata, StatusKey)
	}
	return s, nil
}

func (s *FrameFile) Read(ctx context.Context) sample.Sample {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return s.failed(err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return s.failed(errFactory.Wrap(ErrReadFailed, err))
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return s.failed(errFactory.Wrap(ErrReadFailed, err))
	}

	// A non-zero status is a reply without an image, not a read failure.
	if reply.Status != 0 {
		out := sample.New(s.now(), nil, s.metadata)
		out.Metadata[StatusKey] = strconv.Itoa(reply.Status)
		return out
	}

	ts := reply.Time()
	img, err := reply.Data.Decode()
	if err != nil {
		return sample.Failed(ts, err, s.metadata)
	}

	return sample.New(ts, sample.Fields{s.property: sample.Frame{Pixels: img}}, s.metadata)
}
