// Package sink holds pipeline sinks and the shared judgement of whether a
// sample was logged completely.
package sink

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
)

// ValueField is the field name used for a sample holding a single value.
const ValueField = "value"

// Point is the storage representation of a sample.
type Point struct {
	Measurement string
	Time        time.Time
	Fields      map[string]any
	Tags        map[string]string
	// Error is the failure text of a failed sample; Fields is then empty.
	Error string
}

// Format converts s into a Point. Mapping values become fields, any other
// value is stored under ValueField and metadata becomes tags. Field values
// that cannot be stored, such as frames, are dropped.
func Format(measurement string, s sample.Sample) Point {
	p := Point{
		Measurement: measurement,
		Time:        s.Timestamp,
		Fields:      map[string]any{},
		Tags:        map[string]string(s.Metadata.Clone()),
	}

	if s.Failed() {
		p.Error = s.Failure.Error()
		return p
	}

	switch v := s.Value.(type) {
	case nil:
	case sample.Fields:
		for k, fv := range v {
			if conv, ok := fieldValue(fv); ok {
				p.Fields[k] = conv
			} else {
				logger.Warn().Str("field", k).Msg("Dropping field with unsupported type")
			}
		}
	default:
		if conv, ok := fieldValue(v); ok {
			p.Fields[ValueField] = conv
		}
	}

	return p
}

func fieldValue(v any) (any, bool) {
	switch v := v.(type) {
	case nil, float64, int64, bool, string:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return int64(v), true
	case sample.Scalar:
		return float64(v), true
	case sample.Text:
		return string(v), true
	default:
		return nil, false
	}
}

// Complete reports whether p is a successful write: no failure, at least one
// field, and every expected field present and non-null. Without expected
// fields all present fields must be non-null.
func Complete(p Point, expected []string) bool {
	if p.Error != "" || len(p.Fields) == 0 {
		return false
	}

	if len(expected) == 0 {
		for _, v := range p.Fields {
			if v == nil {
				return false
			}
		}
		return true
	}

	for _, k := range expected {
		if v, ok := p.Fields[k]; !ok || v == nil {
			return false
		}
	}
	return true
}

// String renders p as a single line: measurement and tags, then fields (or
// the error) and the timestamp in nanoseconds. Keys are sorted.
func (p Point) String() string {
	var b strings.Builder
	b.WriteString(p.Measurement)
	for _, k := range sortedKeys(p.Tags) {
		fmt.Fprintf(&b, ",%s=%s", k, p.Tags[k])
	}

	b.WriteByte(' ')
	if p.Error != "" {
		fmt.Fprintf(&b, "error=%s", strconv.Quote(p.Error))
	} else {
		for i, k := range sortedKeys(p.Fields) {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%s", k, formatField(p.Fields[k]))
		}
	}

	fmt.Fprintf(&b, " %d", p.Time.UnixNano())
	return b.String()
}

func formatField(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10) + "i"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
