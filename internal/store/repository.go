package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config

	mu     sync.Mutex
	buffer []Record
	closed bool

	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// Open opens or creates the database at cfg.DBPath, replacing an outdated
// schema after backing it up.
func Open(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.With("store")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Sample repository initialized")

	repo := &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}

	if cfg.BatchSize > 1 {
		repo.buffer = make([]Record, 0, cfg.BatchSize)
		repo.flushTicker = time.NewTicker(cfg.FlushInterval)
		repo.shutdownChan = make(chan struct{})
		repo.flushDoneChan = make(chan struct{})
		go repo.flusher()
	}

	return repo, nil
}

// Record stores rec, or buffers it when batching is enabled.
func (r *repository) Record(ctx context.Context, rec Record) error {
	errFactory := errors.New()

	if err := validateRecord(rec); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errFactory.New(ErrClosed)
	}

	if r.flushTicker == nil {
		return r.insert(ctx, []Record{rec})
	}

	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

// Flush writes buffered records.
func (r *repository) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush(ctx)
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.flushTicker != nil {
		close(r.shutdownChan)
		r.flushTicker.Stop()
		// Wait for the flusher to finish its final flush
		<-r.flushDoneChan
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.db.Close()
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Sample repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Final flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush must be called with mu held.
func (r *repository) flush(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}

	if err := r.insert(ctx, r.buffer); err != nil {
		return err
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed samples to database")
	r.buffer = r.buffer[:0]
	return nil
}

func (r *repository) insert(ctx context.Context, recs []Record) error {
	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	sampleStmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer sampleStmt.Close()

	fieldStmt, err := tx.PrepareContext(ctx, insertFieldSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer fieldStmt.Close()

	tagStmt, err := tx.PrepareContext(ctx, insertTagSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer tagStmt.Close()

	for _, rec := range recs {
		var failure any
		if rec.Failed() {
			failure = rec.Error
		}

		res, err := sampleStmt.ExecContext(ctx,
			rec.RunID.String(),
			rec.Measurement,
			rec.Timestamp.UnixNano(),
			failure,
		)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}

		for _, name := range sortedKeys(rec.Fields) {
			kind, value, _ := encodeField(rec.Fields[name])
			if _, err := fieldStmt.ExecContext(ctx, id, name, kind, value); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}

		for _, name := range sortedKeys(rec.Tags) {
			if _, err := tagStmt.ExecContext(ctx, id, name, rec.Tags[name]); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}

// Recent returns up to limit stored records, newest first.
func (r *repository) Recent(ctx context.Context, limit int) ([]Record, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	type row struct {
		id  int64
		rec Record
	}
	var found []row
	for rows.Next() {
		var (
			id      int64
			runID   string
			ns      int64
			failure sql.NullString
			rec     Record
		)
		if err := rows.Scan(&id, &runID, &rec.Measurement, &ns, &failure); err != nil {
			rows.Close()
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		if rec.RunID, err = uuid.Parse(runID); err != nil {
			rows.Close()
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		rec.Error = failure.String
		found = append(found, row{id: id, rec: rec})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	out := make([]Record, 0, len(found))
	for _, f := range found {
		if f.rec.Fields, err = r.fields(ctx, f.id); err != nil {
			return nil, err
		}
		if f.rec.Tags, err = r.tags(ctx, f.id); err != nil {
			return nil, err
		}
		out = append(out, f.rec)
	}
	return out, nil
}

func (r *repository) fields(ctx context.Context, id int64) (map[string]any, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectFieldsSQL, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var (
			name, kind string
			value      any
		)
		if err := rows.Scan(&name, &kind, &value); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		out[name] = decodeField(kind, value)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	return out, nil
}

func (r *repository) tags(ctx context.Context, id int64) (map[string]string, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectTagsSQL, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	return out, nil
}

func validateRecord(rec Record) error {
	errFactory := errors.New()

	if rec.Measurement == "" {
		return errFactory.WithMessage(ErrInvalidRecord, "measurement is empty")
	}
	if rec.Timestamp.IsZero() {
		return errFactory.WithMessage(ErrInvalidRecord, "timestamp is zero")
	}
	for name, v := range rec.Fields {
		if _, _, ok := encodeField(v); !ok {
			return errFactory.WithData(ErrUnsupportedType, name)
		}
	}
	return nil
}

// encodeField maps a field value onto its storage kind.
func encodeField(v any) (string, any, bool) {
	switch v := v.(type) {
	case nil:
		return "null", nil, true
	case float64:
		return "real", v, true
	case float32:
		return "real", float64(v), true
	case int:
		return "integer", int64(v), true
	case int64:
		return "integer", v, true
	case bool:
		return "bool", boolToInt(v), true
	case string:
		return "text", v, true
	default:
		return "", nil, false
	}
}

func decodeField(kind string, v any) any {
	switch kind {
	case "real":
		if f, ok := v.(float64); ok {
			return f
		}
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case "integer":
		if i, ok := v.(int64); ok {
			return i
		}
	case "bool":
		if i, ok := v.(int64); ok {
			return i != 0
		}
	case "text":
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
