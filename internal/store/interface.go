package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists sample records.
type Repository interface {
	Record(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Flush(ctx context.Context) error
	Close() error
}

// Record is one stored sample. Field values are float64, int64, bool,
// string or nil.
type Record struct {
	RunID       uuid.UUID
	Measurement string
	Timestamp   time.Time
	Fields      map[string]any
	Tags        map[string]string
	// Error is the failure text of a failed sample.
	Error string
}

// Failed reports whether the record describes a failed sample.
func (r Record) Failed() bool {
	return r.Error != ""
}
