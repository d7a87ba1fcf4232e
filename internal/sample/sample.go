// Package sample defines the envelope passed from a Source through the
// processor chain into a Sink.
package sample

import (
	"maps"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Kind identifies the shape of a Sample value.
type Kind int

const (
	KindNone Kind = iota
	KindScalar
	KindFrame
	KindFields
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindFrame:
		return "frame"
	case KindFields:
		return "fields"
	case KindText:
		return "text"
	default:
		return "none"
	}
}

// Value is one of Scalar, Frame, Fields or Text.
type Value interface {
	Kind() Kind
}

// Scalar is a single numeric reading.
type Scalar float64

func (Scalar) Kind() Kind { return KindScalar }

// Frame is a 2D intensity image, rows are y and columns are x.
type Frame struct {
	Pixels *mat.Dense
}

func (Frame) Kind() Kind { return KindFrame }

// Fields is a key to value mapping, typically the output of a processor.
type Fields map[string]any

func (Fields) Kind() Kind { return KindFields }

// Text is a value already rendered for display or storage.
type Text string

func (Text) Kind() Kind { return KindText }

// Metadata holds tags attached to every sample of a source.
type Metadata map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// Sample is a timestamped value. When Failure is set the Value carries no
// meaning for downstream consumers.
type Sample struct {
	Timestamp time.Time
	Value     Value
	Failure   error
	Metadata  Metadata
}

// New builds a successful sample. The metadata is copied.
func New(ts time.Time, v Value, md Metadata) Sample {
	return Sample{
		Timestamp: ts,
		Value:     v,
		Metadata:  md.Clone(),
	}
}

// Failed builds a sample describing an acquisition failure. The metadata is copied.
func Failed(ts time.Time, err error, md Metadata) Sample {
	return Sample{
		Timestamp: ts,
		Failure:   err,
		Metadata:  md.Clone(),
	}
}

// Failed reports whether the sample carries a failure.
func (s Sample) Failed() bool {
	return s.Failure != nil
}

// WithValue returns a copy of s holding v, with its own metadata map.
func (s Sample) WithValue(v Value) Sample {
	return Sample{
		Timestamp: s.Timestamp,
		Value:     v,
		Failure:   s.Failure,
		Metadata:  s.Metadata.Clone(),
	}
}

// ValueKind returns the kind of the held value, KindNone when empty.
func (s Sample) ValueKind() Kind {
	if s.Value == nil {
		return KindNone
	}
	return s.Value.Kind()
}

// Clone returns a copy of the fields map. Nested values are shared.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	maps.Copy(out, f)
	return out
}
