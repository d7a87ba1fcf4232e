package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "/etc/beamlog.toml"
	DefaultEnvPrefix  = "BEAMLOG"
	DefaultLogLevel   = LogLevelInfo
)

type Config struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	Debug    bool     `mapstructure:"debug"`
	Verbose  bool     `mapstructure:"verbose"`
	PIDFile  string   `mapstructure:"pid_file"`
	// History > 0 prints the most recent stored samples and exits.
	History int `mapstructure:"history"`

	MinPeriod        time.Duration `mapstructure:"min_period"`
	MaxPeriod        time.Duration `mapstructure:"max_period"`
	FailureTolerance int           `mapstructure:"failure_tolerance"`
	PhaseOffset      time.Duration `mapstructure:"phase_offset"`
	AlignToStart     bool          `mapstructure:"align_to_start"`

	Source     string            `mapstructure:"source"`
	SourcePath string            `mapstructure:"source_path"`
	Property   string            `mapstructure:"property"`
	Seed       uint64            `mapstructure:"seed"`
	BeamOff    float64           `mapstructure:"beam_off"`
	ImageKey   string            `mapstructure:"image_key"`
	Metadata   map[string]string `mapstructure:"metadata"`
	// Stringify appends the ToString processor to the chain.
	Stringify bool `mapstructure:"stringify"`

	EdgeMargin      int     `mapstructure:"edge_margin"`
	MedianSize      int     `mapstructure:"median_size"`
	MinRegionArea   int     `mapstructure:"min_region_area"`
	NoiseMultiplier float64 `mapstructure:"noise_multiplier"`
	BBoxFactor      float64 `mapstructure:"bbox_factor"`
	MaxIterations   int     `mapstructure:"max_iterations"`
	Connectivity    int     `mapstructure:"connectivity"`
	DumpDir         string  `mapstructure:"dump_dir"`
	DumpThreshold   float64 `mapstructure:"dump_threshold"`

	Sink           string        `mapstructure:"sink"`
	DBPath         string        `mapstructure:"db_path"`
	BackupDir      string        `mapstructure:"backup_dir"`
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	Measurement    string        `mapstructure:"measurement"`
	ExpectedFields []string      `mapstructure:"expected_fields"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":         "log_level",
	"debug":             "debug",
	"verbose":           "verbose",
	"pid-file":          "pid_file",
	"history":           "history",
	"min-period":        "min_period",
	"max-period":        "max_period",
	"failure-tolerance": "failure_tolerance",
	"phase-offset":      "phase_offset",
	"align-to-start":    "align_to_start",
	"source":            "source",
	"source-path":       "source_path",
	"property":          "property",
	"seed":              "seed",
	"beam-off":          "beam_off",
	"image-key":         "image_key",
	"tag":               "metadata",
	"stringify":         "stringify",
	"edge-margin":       "edge_margin",
	"median-size":       "median_size",
	"min-region-area":   "min_region_area",
	"noise-multiplier":  "noise_multiplier",
	"bbox-factor":       "bbox_factor",
	"max-iterations":    "max_iterations",
	"connectivity":      "connectivity",
	"dump-dir":          "dump_dir",
	"dump-threshold":    "dump_threshold",
	"sink":              "sink",
	"db-path":           "db_path",
	"backup-dir":        "backup_dir",
	"batch-size":        "batch_size",
	"flush-interval":    "flush_interval",
	"measurement":       "measurement",
	"expected-fields":   "expected_fields",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("pid_file", "")
	v.SetDefault("min_period", 5*time.Second)
	v.SetDefault("max_period", time.Duration(0))
	v.SetDefault("failure_tolerance", 3)
	v.SetDefault("phase_offset", time.Duration(0))
	v.SetDefault("source", SourceSynthetic)
	v.SetDefault("property", "frame")
	v.SetDefault("seed", uint64(1))
	v.SetDefault("beam_off", 0.1)
	v.SetDefault("edge_margin", 20)
	v.SetDefault("median_size", 3)
	v.SetDefault("min_region_area", 10)
	v.SetDefault("noise_multiplier", 3.0)
	v.SetDefault("bbox_factor", 2.0)
	v.SetDefault("max_iterations", 200)
	v.SetDefault("connectivity", 8)
	v.SetDefault("dump_threshold", 1.0)
	v.SetDefault("sink", SinkSQLite)
	v.SetDefault("db_path", "/var/lib/beamlog/samples.db")
	v.SetDefault("batch_size", 1)
	v.SetDefault("flush_interval", 10*time.Second)
	v.SetDefault("measurement", "beam")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("beamlog", pflag.ContinueOnError)

	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("pid-file", "", "PID file guarding against a second instance")
	fs.Int("history", 0, "Print the given number of stored samples and exit")

	fs.Duration("min-period", 5*time.Second, "Acquisition period")
	fs.Duration("max-period", 0, "Longest period reached by backoff (defaults to min-period)")
	fs.Int("failure-tolerance", 3, "Consecutive failures tolerated before backing off")
	fs.Duration("phase-offset", 0, "Offset of wakeups from whole periods")
	fs.Bool("align-to-start", false, "Align wakeups to the start time instead of phase-offset")

	fs.String("source", SourceSynthetic, "Frame source (synthetic, image, frame)")
	fs.String("source-path", "", "File read by the image and frame sources")
	fs.String("property", "frame", "Field holding the frame of a camera reply")
	fs.Uint64("seed", 1, "Seed of the synthetic source")
	fs.Float64("beam-off", 0.1, "Fraction of synthetic frames without beam")
	fs.String("image-key", "", "Field holding the image to fit")
	fs.StringToString("tag", nil, "Metadata tag attached to every sample (key=value)")
	fs.Bool("stringify", false, "Convert processed values to strings before the sink")

	fs.Int("edge-margin", 20, "Pixels trimmed from every edge before fitting")
	fs.Int("median-size", 3, "Median filter window size")
	fs.Int("min-region-area", 10, "Regions must be larger than this many pixels")
	fs.Float64("noise-multiplier", 3, "Minimum ratio of threshold to noise")
	fs.Float64("bbox-factor", 2, "Expansion of the region bounding box for fitting")
	fs.Int("max-iterations", 200, "Iteration limit of the least squares fit")
	fs.Int("connectivity", 8, "Pixel connectivity of regions (4 or 8)")
	fs.String("dump-dir", "", "Directory for diagnostic dumps of moved peaks")
	fs.Float64("dump-threshold", 1, "Peak movement in pixels that triggers a dump")

	fs.String("sink", SinkSQLite, "Sample sink (sqlite, console)")
	fs.String("db-path", "/var/lib/beamlog/samples.db", "SQLite database path")
	fs.String("backup-dir", "", "Directory for database backups before schema changes")
	fs.Int("batch-size", 1, "Samples written per transaction")
	fs.Duration("flush-interval", 10*time.Second, "Longest time a batched sample is held")
	fs.String("measurement", "beam", "Measurement name of stored samples")
	fs.StringSlice("expected-fields", nil, "Fields a complete sample must contain")

	return fs
}

// Load reads the configuration from defaults, the TOML file, environment
// variables and args, in increasing precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if cfg.MaxPeriod == 0 {
		cfg.MaxPeriod = cfg.MinPeriod
	}
	if cfg.Metadata == nil {
		cfg.Metadata = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// readConfigFile picks the file from the option, the --config flag or the
// environment. Only the default location may be missing.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	logger.Debug().Str("path", path).Bool("explicit", explicit).Msg("Config file loaded")
	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.MinPeriod <= 0 || c.MaxPeriod < c.MinPeriod {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			MinPeriod time.Duration
			MaxPeriod time.Duration
		}{
			MinPeriod: c.MinPeriod,
			MaxPeriod: c.MaxPeriod,
		})
	}

	invalid := func(msg string) error {
		return errFactory.WithMessage(errors.ErrInvalidConfig, msg)
	}

	switch {
	case c.FailureTolerance < 0:
		return invalid("failure_tolerance must not be negative")
	case c.Source != SourceSynthetic && c.Source != SourceImage && c.Source != SourceFrame:
		return invalid("source must be synthetic, image or frame")
	case c.Source != SourceSynthetic && c.SourcePath == "":
		return invalid("source_path is required for the " + c.Source + " source")
	case c.BeamOff < 0 || c.BeamOff > 1:
		return invalid("beam_off must be within [0, 1]")
	case c.Sink != SinkSQLite && c.Sink != SinkConsole:
		return invalid("sink must be sqlite or console")
	case c.Sink == SinkSQLite && c.DBPath == "":
		return invalid("db_path is required for the sqlite sink")
	case c.Measurement == "":
		return invalid("measurement must not be empty")
	case c.DumpThreshold < 0:
		return invalid("dump_threshold must not be negative")
	case c.History < 0:
		return invalid("history must not be negative")
	}

	return nil
}

// Level resolves the effective log level; --debug and --verbose win over
// log_level.
func (c *Config) Level() logger.LogLevel {
	switch {
	case c.Debug:
		return logger.DebugLevel
	case c.Verbose:
		return logger.InfoLevel
	}

	level, err := logger.ParseLevel(string(c.LogLevel))
	if err != nil {
		return logger.InfoLevel
	}
	return level
}
