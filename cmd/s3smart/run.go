package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/s3smart/internal/config"
	"github.com/yuya-takeyama/s3smart/internal/logging"
	"github.com/yuya-takeyama/s3smart/internal/plan"
	"github.com/yuya-takeyama/s3smart/internal/progress"
	"github.com/yuya-takeyama/s3smart/internal/s3client"
	"github.com/yuya-takeyama/s3smart/internal/worker"
	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

const mib = 1024 * 1024

// remote is the object store seen by the commands.
type remote interface {
	transfer.ObjectStore
	plan.Lister
}

// app holds the process dependencies of the commands.
type app struct {
	discovery   config.Discovery
	dotEnvPath  string
	lookupEnv   func(string) (string, bool)
	progressOut io.Writer
	newRemote   func(ctx context.Context, s config.Settings, profile string, logger *logging.Logger) (remote, error)
}

func defaultApp() *app {
	return &app{
		discovery:   config.DefaultDiscovery(),
		lookupEnv:   os.LookupEnv,
		progressOut: os.Stderr,
		newRemote:   newS3Remote,
	}
}

func newS3Remote(ctx context.Context, s config.Settings, profile string, logger *logging.Logger) (remote, error) {
	awsCfg, err := s3client.LoadAWSConfig(ctx, s3client.ConfigOptions{
		Region:  s.Region,
		Profile: profile,
		MaxPool: s.MaxPool,
	})
	if err != nil {
		return nil, err
	}
	return s3client.NewFromConfig(awsCfg, s.EndpointURL,
		s3client.WithMaxRetries(s.Retries),
		s3client.WithLogger(logger.Slog()),
	), nil
}

// loadSettings merges flags over S3SMART_* variables over the config file
// over built-in defaults.
func (a *app) loadSettings(cmd *cobra.Command, g *globalOptions, t *transferOptions, logger *logging.Logger) (config.Settings, error) {
	if err := config.LoadDotEnv(a.dotEnvPath); err != nil {
		return config.Settings{}, err
	}

	file, err := config.Load(g.configPath, a.discovery)
	if err != nil {
		return config.Settings{}, err
	}
	if file.Created {
		logger.Info("Created default configuration at %s", file.Path)
	} else if file.Path != "" {
		logger.Debug("Loaded config from %s", file.Path)
	}

	cfg := file.Config
	if err := config.ApplyEnv(&cfg, a.lookupEnv); err != nil {
		return config.Settings{}, err
	}
	s := cfg.Resolve()

	flags := cmd.Flags()
	if flags.Changed("region") {
		s.Region = g.region
	}
	if flags.Changed("endpoint-url") {
		s.EndpointURL = g.endpointURL
	}
	if flags.Changed("retries") {
		s.Retries = g.retries
	}
	if flags.Changed("max-pool") {
		s.MaxPool = g.maxPool
	}
	if flags.Changed("workers") {
		s.Workers = t.workers
	}
	if flags.Changed("part-size") {
		s.PartSizeMB = t.partSizeMB
	}
	if flags.Changed("max-mbps") {
		s.MaxMBps = t.maxMBps
	}
	if flags.Changed("parallel-files") {
		s.ParallelFiles = t.parallelFiles
	}

	if s.ParallelFiles <= 0 {
		return config.Settings{}, fmt.Errorf("parallel files must be positive: %d", s.ParallelFiles)
	}
	if s.Retries < 0 {
		return config.Settings{}, fmt.Errorf("retries must not be negative: %d", s.Retries)
	}
	return s, nil
}

func engineOptions(s config.Settings, verify bool) transfer.Options {
	return transfer.Options{
		Workers:           s.Workers,
		ChunkSize:         int64(s.PartSizeMB) * mib,
		MaxBytesPerSecond: s.MaxMBps * mib,
		VerifyChecksum:    verify,
	}
}

type direction int

const (
	toRemote direction = iota
	fromRemote
)

func resolveDirection(name command, src, dest string) (direction, error) {
	srcRemote, destRemote := s3client.IsS3URI(src), s3client.IsS3URI(dest)
	switch {
	case name == commandUpload && !srcRemote && destRemote:
		return toRemote, nil
	case name == commandDownload && srcRemote && !destRemote:
		return fromRemote, nil
	case name == commandSync && !srcRemote && destRemote:
		return toRemote, nil
	case name == commandSync && srcRemote && !destRemote:
		return fromRemote, nil
	}
	return 0, fmt.Errorf("%s needs one local path and one S3 URI in the order shown by --help: got %q and %q", name, src, dest)
}

func buildPlan(ctx context.Context, p *plan.Planner, name command, dir direction, src, dest string) ([]plan.Item, error) {
	if dir == toRemote {
		bucket, key, err := s3client.ParseS3URI(dest)
		if err != nil {
			return nil, err
		}
		if name == commandSync {
			return p.PlanSyncUpload(ctx, src, bucket, key)
		}
		return p.PlanUpload(src, bucket, key)
	}

	bucket, key, err := s3client.ParseS3URI(src)
	if err != nil {
		return nil, err
	}
	if name == commandSync {
		return p.PlanSyncDownload(ctx, bucket, key, dest)
	}
	return p.PlanDownload(ctx, bucket, key, dest)
}

func (a *app) run(cmd *cobra.Command, name command, g *globalOptions, t *transferOptions, src, dest string) error {
	start := time.Now()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.NewLogger(logging.Options{
		Quiet:   g.quiet,
		Verbose: g.verbose,
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
	})

	dir, err := resolveDirection(name, src, dest)
	if err != nil {
		return err
	}

	settings, err := a.loadSettings(cmd, g, t, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	store, err := a.newRemote(ctx, settings, g.profile, logger)
	if err != nil {
		return err
	}

	engine, err := transfer.NewEngine(store, engineOptions(settings, t.checksum), logger.Slog())
	if err != nil {
		return err
	}

	planner := plan.NewPlanner(store, plan.Options{
		Checksum: t.checksum,
		Force:    t.force,
		PartSize: int64(settings.PartSizeMB) * mib,
		Excludes: t.excludes,
	}, logger.Slog())

	items, err := buildPlan(ctx, planner, name, dir, src, dest)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	var pending int
	for _, it := range items {
		if it.Action != plan.ActionSkip {
			pending++
		}
	}
	logger.Info("Plan: %d to transfer, %d up to date", pending, len(items)-pending)

	if t.dryRun {
		for _, it := range items {
			switch it.Action {
			case plan.ActionUpload:
				logger.Info("(dryrun) upload: %s to %s", it.LocalPath, it.Target())
			case plan.ActionDownload:
				logger.Info("(dryrun) download: %s to %s", it.Target(), it.LocalPath)
			case plan.ActionSkip:
				logger.Debug("(dryrun) skip: %s (%s)", it.LocalPath, it.Reason)
			}
		}
		return nil
	}

	bar := progress.New(a.progressOut, g.quiet)
	pool := worker.NewPool(engine, settings.ParallelFiles, logger, bar)
	results, stats := pool.Execute(ctx, items)

	if t.resultJSONFile != "" {
		if err := writeResult(t.resultJSONFile, buildResult(results)); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	logger.PrintSummary(stats.Summary(), time.Since(start))
	if err := stats.Err(); err != nil {
		logger.Slog().Debug("transfer finished with failures", "error", err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}
