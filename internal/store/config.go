package store

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/beamlog/samples.db"
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before an incompatible
	// schema is replaced. Empty means a backups directory next to DBPath.
	BackupDir string
	// BatchSize > 1 buffers records and writes them in one transaction.
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		BatchSize:     1,
		FlushInterval: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "batch size must not be negative")
	}
	if c.BatchSize > 1 && c.FlushInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "flush interval must be positive when batching")
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
