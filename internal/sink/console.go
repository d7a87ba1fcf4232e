package sink

import (
	"context"
	"sort"

	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/sample"
)

// Console logs every sample as a structured log line.
type Console struct {
	log         logger.Logger
	measurement string
	expected    []string
}

func NewConsole(log logger.Logger, measurement string, expected []string) *Console {
	return &Console{
		log:         log.With("sink"),
		measurement: measurement,
		expected:    append([]string(nil), expected...),
	}
}

func (c *Console) Write(_ context.Context, s sample.Sample) bool {
	p := Format(c.measurement, s)

	if p.Error != "" {
		c.log.Warn().
			Str("measurement", p.Measurement).
			Time("timestamp", p.Time).
			Str("error", p.Error).
			Fields(tagFields(p.Tags)).
			Msg("Sample failed")
		return false
	}

	c.log.Info().
		Str("measurement", p.Measurement).
		Time("timestamp", p.Time).
		Fields(p.Fields).
		Fields(tagFields(p.Tags)).
		Msg("Sample")

	return Complete(p, c.expected)
}

// tagFields prefixes tag names so they cannot shadow sample fields.
func tagFields(tags map[string]string) []any {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, "tag_"+k, tags[k])
	}
	return out
}
