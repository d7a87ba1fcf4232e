package sink_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
	"codeberg.org/mutker/beamlog/internal/sink"
	"codeberg.org/mutker/beamlog/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var ts = time.Date(2018, 8, 28, 12, 0, 0, 0, time.UTC)

func TestFormat(t *testing.T) {
	md := sample.Metadata{"camera": "cam1"}

	t.Run("failure", func(t *testing.T) {
		p := sink.Format("beam", sample.Failed(ts, stderrors.New("timeout"), md))
		assert.Equal(t, "timeout", p.Error)
		assert.Empty(t, p.Fields)
		assert.Equal(t, map[string]string{"camera": "cam1"}, p.Tags)
		assert.Equal(t, ts, p.Time)
		assert.Equal(t, "beam", p.Measurement)
	})

	t.Run("fields", func(t *testing.T) {
		v := sample.Fields{
			"beam_on": true,
			"mu_x":    1.5,
			"count":   3,
			"label":   sample.Text("x"),
			"frame":   sample.Frame{Pixels: mat.NewDense(2, 2, nil)},
		}
		p := sink.Format("beam", sample.New(ts, v, md))
		assert.Equal(t, map[string]any{"beam_on": true, "mu_x": 1.5, "count": int64(3), "label": "x"}, p.Fields)
	})

	t.Run("scalar", func(t *testing.T) {
		p := sink.Format("beam", sample.New(ts, sample.Scalar(2.5), nil))
		assert.Equal(t, map[string]any{sink.ValueField: 2.5}, p.Fields)
		assert.Empty(t, p.Tags)
	})

	t.Run("tags are copied", func(t *testing.T) {
		s := sample.New(ts, nil, md)
		p := sink.Format("beam", s)
		p.Tags["camera"] = "changed"
		assert.Equal(t, "cam1", s.Metadata["camera"])
	})
}

func TestComplete(t *testing.T) {
	expected := []string{"beam_on", "mu_x"}

	tests := []struct {
		name     string
		p        sink.Point
		expected []string
		want     bool
	}{
		{"all present", sink.Point{Fields: map[string]any{"beam_on": true, "mu_x": 1.0}}, expected, true},
		{"missing field", sink.Point{Fields: map[string]any{"beam_on": false}}, expected, false},
		{"null field", sink.Point{Fields: map[string]any{"beam_on": true, "mu_x": nil}}, expected, false},
		{"failure", sink.Point{Error: "x", Fields: map[string]any{"beam_on": true, "mu_x": 1.0}}, expected, false},
		{"empty", sink.Point{Fields: map[string]any{}}, nil, false},
		{"no expectations", sink.Point{Fields: map[string]any{"value": 1.0}}, nil, true},
		{"no expectations null", sink.Point{Fields: map[string]any{"value": nil}}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sink.Complete(tt.p, tt.expected))
		})
	}
}

func TestPointString(t *testing.T) {
	p := sink.Point{
		Measurement: "beam",
		Time:        time.Unix(1, 5),
		Fields:      map[string]any{"mu_x": 1.5, "count": int64(2), "beam_on": true, "note": "ok", "gap": nil},
		Tags:        map[string]string{"hutch": "eh1", "camera": "cam1"},
	}
	assert.Equal(t, `beam,camera=cam1,hutch=eh1 beam_on=true,count=2i,gap=null,mu_x=1.5,note="ok" 1000000005`, p.String())

	p.Error = "no beam"
	p.Tags = nil
	assert.Equal(t, `beam error="no beam" 1000000005`, p.String())
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) Record(context.Context, store.Record) error {
	return stderrors.New("disk full")
}

func TestSQLite(t *testing.T) {
	repo, err := store.Open(store.Config{DBPath: filepath.Join(t.TempDir(), "samples.db"), BatchSize: 1}, logger.Default())
	require.NoError(t, err)

	runID := uuid.New()
	s, err := sink.NewSQLite(repo, "beam", runID, []string{"beam_on", "mu_x"})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	assert.True(t, s.Write(ctx, sample.New(ts, sample.Fields{"beam_on": true, "mu_x": 300.0}, sample.Metadata{"camera": "cam1"})))
	assert.False(t, s.Write(ctx, sample.New(ts.Add(time.Second), sample.Fields{"beam_on": false}, nil)))
	assert.False(t, s.Write(ctx, sample.Failed(ts.Add(2*time.Second), stderrors.New("timeout"), nil)))

	recs, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3, "incomplete samples are stored too")
	assert.Equal(t, "timeout", recs[0].Error)
	assert.Equal(t, map[string]any{"beam_on": false}, recs[1].Fields)
	assert.Equal(t, runID, recs[2].RunID)
	assert.Equal(t, map[string]string{"camera": "cam1"}, recs[2].Tags)
}

func TestSQLiteWriteError(t *testing.T) {
	s, err := sink.NewSQLite(failingRepo{}, "beam", uuid.New(), nil)
	require.NoError(t, err)
	assert.False(t, s.Write(context.Background(), sample.New(ts, sample.Scalar(1), nil)))
}

func TestNewSQLiteValidates(t *testing.T) {
	_, err := sink.NewSQLite(nil, "beam", uuid.New(), nil)
	assert.True(t, errors.HasCode(err, sink.ErrInvalidSink))

	_, err = sink.NewSQLite(failingRepo{}, "", uuid.New(), nil)
	assert.True(t, errors.HasCode(err, sink.ErrInvalidSink))
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel, true)
	t.Cleanup(func() { logger.Init(logger.InfoLevel, true) })

	c := sink.NewConsole(logger.Default(), "beam", []string{"mu_x"})

	assert.True(t, c.Write(context.Background(), sample.New(ts, sample.Fields{"mu_x": 301.25}, sample.Metadata{"camera": "cam1"})))
	assert.Contains(t, buf.String(), "mu_x=301.25")
	assert.Contains(t, buf.String(), "tag_camera=cam1")
	assert.Contains(t, buf.String(), "component=sink")

	buf.Reset()
	assert.False(t, c.Write(context.Background(), sample.Failed(ts, stderrors.New("timeout"), nil)))
	assert.Contains(t, buf.String(), "error=timeout")
}
