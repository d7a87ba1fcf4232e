package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/beamlog/internal/config"
	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "beamlog.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "debug"
min_period = "2s"
max_period = "1m"
failure_tolerance = 5
phase_offset = "500ms"
source = "frame"
source_path = "/tmp/reply.json"
property = "image"
noise_multiplier = 4.5
connectivity = 4
sink = "console"
measurement = "bpm1"
expected_fields = ["beam_on", "sx", "sy"]

[metadata]
beamline = "p11"
`)

	// Point the loader at the test config file
	t.Setenv("BEAMLOG_CONFIG", configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.MinPeriod)
	assert.Equal(t, time.Minute, cfg.MaxPeriod)
	assert.Equal(t, 5, cfg.FailureTolerance)
	assert.Equal(t, 500*time.Millisecond, cfg.PhaseOffset)
	assert.Equal(t, config.SourceFrame, cfg.Source)
	assert.Equal(t, "/tmp/reply.json", cfg.SourcePath)
	assert.Equal(t, "image", cfg.Property)
	assert.InDelta(t, 4.5, cfg.NoiseMultiplier, 1e-12)
	assert.Equal(t, 4, cfg.Connectivity)
	assert.Equal(t, config.SinkConsole, cfg.Sink)
	assert.Equal(t, "bpm1", cfg.Measurement)
	assert.Equal(t, []string{"beam_on", "sx", "sy"}, cfg.ExpectedFields)
	assert.Equal(t, map[string]string{"beamline": "p11"}, cfg.Metadata)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BEAMLOG_CONFIG", "")

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.MinPeriod)
	assert.Equal(t, cfg.MinPeriod, cfg.MaxPeriod, "max_period defaults to min_period")
	assert.Equal(t, 3, cfg.FailureTolerance)
	assert.Equal(t, config.SourceSynthetic, cfg.Source)
	assert.Equal(t, config.SinkSQLite, cfg.Sink)
	assert.Equal(t, 20, cfg.EdgeMargin)
	assert.Equal(t, 8, cfg.Connectivity)
	assert.Equal(t, "beam", cfg.Measurement)
	assert.Empty(t, cfg.Metadata)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(nil, config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `log_level = "loud"`)

	_, err := config.Load(nil, config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestLoadPrecedence(t *testing.T) {
	configPath := writeConfig(t, `
min_period = "2s"
measurement = "from_file"
median_size = 5
`)
	t.Setenv("BEAMLOG_CONFIG", configPath)
	t.Setenv("BEAMLOG_MEASUREMENT", "from_env")
	t.Setenv("BEAMLOG_MEDIAN_SIZE", "7")

	cfg, err := config.Load([]string{"--median-size", "9", "--log-level", "warning", "--tag", "hutch=eh1"})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.MinPeriod, "file beats default")
	assert.Equal(t, "from_env", cfg.Measurement, "env beats file")
	assert.Equal(t, 9, cfg.MedianSize, "flag beats env")
	assert.Equal(t, config.LogLevelWarning, cfg.LogLevel)
	assert.Equal(t, map[string]string{"hutch": "eh1"}, cfg.Metadata)
}

func TestLoadHelp(t *testing.T) {
	_, err := config.Load([]string{"--help"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestValidate(t *testing.T) {
	t.Setenv("BEAMLOG_CONFIG", "")

	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		{"zero period", func(c *config.Config) { c.MinPeriod = 0 }, errors.ErrInvalidInterval},
		{"max below min", func(c *config.Config) { c.MaxPeriod = c.MinPeriod / 2 }, errors.ErrInvalidInterval},
		{"negative tolerance", func(c *config.Config) { c.FailureTolerance = -1 }, errors.ErrInvalidConfig},
		{"unknown source", func(c *config.Config) { c.Source = "camera" }, errors.ErrInvalidConfig},
		{"image without path", func(c *config.Config) { c.Source = config.SourceImage }, errors.ErrInvalidConfig},
		{"unknown sink", func(c *config.Config) { c.Sink = "influx" }, errors.ErrInvalidConfig},
		{"sqlite without path", func(c *config.Config) { c.DBPath = "" }, errors.ErrInvalidConfig},
		{"empty measurement", func(c *config.Config) { c.Measurement = "" }, errors.ErrInvalidConfig},
		{"beam_off above one", func(c *config.Config) { c.BeamOff = 1.5 }, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(nil)
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := &config.Config{LogLevel: config.LogLevelError}
	assert.Equal(t, logger.ErrorLevel, cfg.Level())

	cfg.Verbose = true
	assert.Equal(t, logger.InfoLevel, cfg.Level())

	cfg.Debug = true
	assert.Equal(t, logger.DebugLevel, cfg.Level())
}
