package source_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/sample"
	"codeberg.org/mutker/beamlog/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var now = time.Date(2019, 10, 18, 16, 43, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func arangeFrame() source.RawFrame {
	bytes := make([]byte, 15)
	for i := range bytes {
		bytes[i] = byte(i)
	}
	return source.RawFrame{
		Header: source.FrameHeader{
			AOIHeight:     -1,
			SourceHeight:  3,
			AOIWidth:      -1,
			SourceWidth:   5,
			BytesPerPixel: 1,
		},
		Bytes: bytes,
	}
}

func arange() *mat.Dense {
	m := mat.NewDense(3, 5, nil)
	m.Apply(func(i, j int, _ float64) float64 { return float64(5*i + j) }, m)
	return m
}

func TestFrameHeaderDimensions(t *testing.T) {
	tests := []struct {
		name      string
		aoi, src  int
		want      int
		wantError bool
	}{
		{"source size", -1, 1234, 1234, false},
		{"area of interest", 1234, 2468, 1234, false},
		{"invalid", -1, -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := source.FrameHeader{AOIWidth: tt.aoi, SourceWidth: tt.src, AOIHeight: tt.aoi, SourceHeight: tt.src}

			w, err := h.Width()
			if tt.wantError {
				assert.True(t, errors.HasCode(err, source.ErrFrameDecode))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, w)
			}

			ht, err := h.Height()
			if tt.wantError {
				assert.True(t, errors.HasCode(err, source.ErrFrameDecode))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, ht)
			}
		})
	}
}

func TestRawFrameDecode(t *testing.T) {
	t.Run("one byte per pixel", func(t *testing.T) {
		img, err := arangeFrame().Decode()
		require.NoError(t, err)
		assert.True(t, mat.Equal(arange(), img))
	})

	t.Run("two bytes per pixel little endian", func(t *testing.T) {
		f := source.RawFrame{
			Header: source.FrameHeader{AOIWidth: 2, AOIHeight: 1, SourceWidth: 8, SourceHeight: 8, BytesPerPixel: 2},
			Bytes:  []byte{0x01, 0x02, 0xff, 0xff},
		}
		img, err := f.Decode()
		require.NoError(t, err)
		assert.Equal(t, []float64{0x0201, 0xffff}, img.RawRowView(0))
	})

	t.Run("unknown depth", func(t *testing.T) {
		f := arangeFrame()
		f.Header.BytesPerPixel = 4
		_, err := f.Decode()
		assert.True(t, errors.HasCode(err, source.ErrFrameDecode))
	})

	t.Run("size mismatch", func(t *testing.T) {
		f := arangeFrame()
		f.Header.SourceHeight = 4
		_, err := f.Decode()
		assert.True(t, errors.HasCode(err, source.ErrFrameDecode))
	})
}

func writeReply(t *testing.T, path string, reply source.Reply) {
	t.Helper()
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestFrameFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	md := sample.Metadata{"device": "/CONTEXT/server/device"}

	s, err := source.NewFrameFile(path, "frame", source.WithMetadata(md), source.WithNow(fixedNow))
	require.NoError(t, err)

	t.Run("missing file", func(t *testing.T) {
		out := s.Read(context.Background())
		assert.True(t, errors.HasCode(out.Failure, source.ErrReadFailed))
		assert.Equal(t, now, out.Timestamp)
		assert.Nil(t, out.Value)
		assert.Equal(t, md, out.Metadata)
	})

	t.Run("success", func(t *testing.T) {
		writeReply(t, path, source.Reply{Timestamp: 1571409806.5, Data: arangeFrame()})

		out := s.Read(context.Background())
		require.NoError(t, out.Failure)
		assert.Equal(t, time.Unix(1571409806, 500000000), out.Timestamp)
		fields := out.Value.(sample.Fields)
		assert.True(t, mat.Equal(arange(), fields["frame"].(sample.Frame).Pixels))

		out.Metadata["device"] = "changed"
		assert.Equal(t, "/CONTEXT/server/device", md["device"])
		assert.Equal(t, "/CONTEXT/server/device", s.Read(context.Background()).Metadata["device"])
	})

	t.Run("bad status", func(t *testing.T) {
		writeReply(t, path, source.Reply{Status: 1})

		out := s.Read(context.Background())
		assert.NoError(t, out.Failure)
		assert.Nil(t, out.Value)
		assert.Equal(t, "1", out.Metadata[source.StatusKey])
		assert.Equal(t, now, out.Timestamp)
	})

	t.Run("corrupted data", func(t *testing.T) {
		f := arangeFrame()
		f.Bytes = []byte("bad")
		writeReply(t, path, source.Reply{Timestamp: 1571409806, Data: f})

		out := s.Read(context.Background())
		assert.True(t, errors.HasCode(out.Failure, source.ErrFrameDecode))
		assert.Equal(t, time.Unix(1571409806, 0), out.Timestamp)
		assert.Nil(t, out.Value)
	})

	t.Run("not json", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		out := s.Read(context.Background())
		assert.True(t, errors.HasCode(out.Failure, source.ErrReadFailed))
	})
}

func TestNewFrameFileRejectsStatusMetadata(t *testing.T) {
	_, err := source.NewFrameFile("frame.json", "frame", source.WithMetadata(sample.Metadata{"status": "bad"}))
	assert.True(t, errors.HasCode(err, source.ErrReservedMetadata))

	_, err = source.NewFrameFile("", "frame")
	assert.True(t, errors.HasCode(err, source.ErrInvalidSource))
}
