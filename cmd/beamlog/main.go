package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/beamlog/internal/beam"
	"codeberg.org/mutker/beamlog/internal/config"
	"codeberg.org/mutker/beamlog/internal/diag"
	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
	"codeberg.org/mutker/beamlog/internal/pid"
	"codeberg.org/mutker/beamlog/internal/pipeline"
	"codeberg.org/mutker/beamlog/internal/processor"
	"codeberg.org/mutker/beamlog/internal/sample"
	"codeberg.org/mutker/beamlog/internal/scheduler"
	"codeberg.org/mutker/beamlog/internal/sink"
	"codeberg.org/mutker/beamlog/internal/source"
	"codeberg.org/mutker/beamlog/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

type app struct {
	runID  uuid.UUID
	driver *pipeline.Driver
	repo   store.Repository
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Printf("failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.Level(), logger.IsService())
	logger.Debug().Msg("Config loaded")

	if cfg.History > 0 {
		if err := printHistory(cfg); err != nil {
			logger.Error().Err(err).Msg("Failed to read history")
			return 1
		}
		return 0
	}

	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = pid.DefaultPath()
	}
	if err := pid.Write(pidPath); err != nil {
		logger.Error().Err(err).Str("path", pidPath).Msg("Failed to write PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		logger.Error().Err(err).Str("code", string(errors.CodeOf(err))).Msg("Failed to initialize application")
		return 1
	}
	defer a.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, a.driver)

	logger.Info().
		Str("run_id", a.runID.String()).
		Str("source", cfg.Source).
		Str("sink", cfg.Sink).
		Dur("period", cfg.MinPeriod).
		Msg("Starting acquisition")

	if err := a.acquire(ctx); err != nil {
		logger.ErrorWithCode(err).Msg("Error in main loop")
		return 1
	}

	return 0
}

// acquire runs the loop until it is stopped. Only a processor error ends it
// with a failure.
func (a *app) acquire(ctx context.Context) errors.Error {
	if err := a.driver.Run(ctx); err != nil {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}
	return nil
}

func newApp(cfg *config.Config) (*app, error) {
	errFactory := errors.New()
	a := &app{runID: uuid.New()}

	src, err := newSource(cfg)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	procs, err := newProcessors(cfg)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	snk, err := a.newSink(cfg)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	sched, err := newScheduler(cfg)
	if err != nil {
		a.cleanup()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	a.driver, err = pipeline.New(src, snk, sched, procs...)
	if err != nil {
		a.cleanup()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	return a, nil
}

func newSource(cfg *config.Config) (pipeline.Source, error) {
	opts := []source.Option{source.WithMetadata(sample.Metadata(cfg.Metadata))}

	switch cfg.Source {
	case config.SourceImage:
		src, err := source.NewImageFile(cfg.SourcePath, opts...)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceFrame:
		src, err := source.NewFrameFile(cfg.SourcePath, cfg.Property, opts...)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return source.NewSynthetic(cfg.Seed, cfg.BeamOff, opts...), nil
	}
}

func newProcessors(cfg *config.Config) ([]pipeline.Processor, error) {
	var engineOpts []beam.Option
	if cfg.DumpDir != "" {
		dumper, err := diag.NewDumper(cfg.DumpDir)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, beam.WithDump(cfg.DumpThreshold, dumper.Dump))
	}

	engine, err := beam.NewEngine(beam.Config{
		EdgeMargin:      cfg.EdgeMargin,
		MedianSize:      cfg.MedianSize,
		MinRegionArea:   cfg.MinRegionArea,
		NoiseMultiplier: cfg.NoiseMultiplier,
		BBoxFactor:      cfg.BBoxFactor,
		MaxIterations:   cfg.MaxIterations,
		Connectivity:    beam.Connectivity(cfg.Connectivity),
	}, engineOpts...)
	if err != nil {
		return nil, err
	}

	// Camera replies carry the frame under the property name
	key := cfg.ImageKey
	if key == "" && cfg.Source == config.SourceFrame {
		key = cfg.Property
	}

	var fitterOpts []processor.FitterOption
	if key != "" {
		fitterOpts = append(fitterOpts, processor.WithImageKey(key))
	}

	procs := []pipeline.Processor{processor.NewPeakFitter(engine, fitterOpts...)}
	if cfg.Stringify {
		procs = append(procs, processor.ToString())
	}

	return procs, nil
}

func (a *app) newSink(cfg *config.Config) (pipeline.Sink, error) {
	if cfg.Sink == config.SinkConsole {
		return sink.NewConsole(logger.Default(), cfg.Measurement, cfg.ExpectedFields), nil
	}

	repo, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo

	snk, err := sink.NewSQLite(repo, cfg.Measurement, a.runID, cfg.ExpectedFields)
	if err != nil {
		return nil, err
	}
	return snk, nil
}

func openStore(cfg *config.Config) (store.Repository, error) {
	return store.Open(store.Config{
		DBPath:        cfg.DBPath,
		BackupDir:     cfg.BackupDir,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger.Default())
}

func newScheduler(cfg *config.Config) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.Config{
		MinPeriod:        cfg.MinPeriod,
		MaxPeriod:        cfg.MaxPeriod,
		PhaseOffset:      cfg.PhaseOffset,
		FailureTolerance: cfg.FailureTolerance,
	}

	if cfg.AlignToStart {
		return scheduler.NewAligned(schedCfg)
	}
	return scheduler.New(schedCfg)
}

func handleSignals(ctx context.Context, driver *pipeline.Driver) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
		driver.Abort()
	case <-ctx.Done():
	}
}

func (a *app) cleanup() {
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close sample store")
		}
		a.repo = nil
	}
	logger.Info().Msg("Exiting...")
}

func printHistory(cfg *config.Config) error {
	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.Recent(context.Background(), cfg.History)
	if err != nil {
		return err
	}

	for _, rec := range records {
		p := sink.Point{
			Measurement: rec.Measurement,
			Time:        rec.Timestamp,
			Fields:      rec.Fields,
			Tags:        rec.Tags,
			Error:       rec.Error,
		}
		fmt.Println(p.String())
	}

	return nil
}
