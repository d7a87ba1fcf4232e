// Package source provides pipeline sources producing camera frames.
package source

import (
	"time"

	"codeberg.org/mutker/beamlog/internal/sample"
)

// Option configures the common parts of a source.
type Option func(*base)

// WithMetadata attaches md to every sample. The map is copied.
func WithMetadata(md sample.Metadata) Option {
	return func(b *base) {
		b.metadata = md.Clone()
	}
}

// WithNow replaces the wall clock used for sample timestamps.
func WithNow(now func() time.Time) Option {
	return func(b *base) {
		b.now = now
	}
}

type base struct {
	metadata sample.Metadata
	now      func() time.Time
}

func newBase(opts []Option) base {
	b := base{
		metadata: sample.Metadata{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) failed(err error) sample.Sample {
	return sample.Failed(b.now(), err, b.metadata)
}
