package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/catalog"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/config"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/ingest"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/logging"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/metrics"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/notify"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/observe"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/storage"
)

type runFlags struct {
	configFile     string
	envFile        string
	output         string
	startDate      string
	endDate        string
	currencies     string
	accessKey      string
	maxDaysPerCall int
	progress       bool
}

// flagAliases maps each flag to the upper-case spelling the original job
// accepted.
var flagAliases = map[string]string{
	"output":            "S3_OUTPUT",
	"start-date":        "START_DATE",
	"end-date":          "END_DATE",
	"currencies":        "CURRENCIES",
	"access-key":        "ACCESS_KEY",
	"max-days-per-call": "MAX_DAYS_PER_CALL",
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion",
		Long: `Run one ingestion.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. YAML file (--config)
  3. .env file (--env-file, or .env in the current directory)
  4. FX_INGEST_* environment variables
  5. Command line flags

Exit status is 0 on success, 2 on invalid configuration and 1 on any other
failure, including a run in which every chunk was skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, f)
		},
	}
	addRunFlags(cmd, &f)
	cmd.SetFlagErrorFunc(flagError)

	return cmd
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "Path to YAML config file")
	fs.StringVar(&f.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	fs.StringVar(&f.output, "output", "", "Output location (s3://, gs://, minio://, file://, mem:// or a local path)")
	fs.StringVar(&f.startDate, "start-date", "", "Start date YYYY-MM-DD or TODAY (default: today)")
	fs.StringVar(&f.endDate, "end-date", "", "End date YYYY-MM-DD or TODAY (default: TODAY)")
	fs.StringVar(&f.currencies, "currencies", "", "Comma-separated currency codes (default: USD,EUR,INR)")
	fs.StringVar(&f.accessKey, "access-key", "", "exchangerate.host access key")
	fs.IntVar(&f.maxDaysPerCall, "max-days-per-call", 0, "Maximum days per API call (default: 365)")
	fs.BoolVar(&f.progress, "progress", false, "Show a progress bar on stderr")

	for name, alias := range flagAliases {
		switch name {
		case "max-days-per-call":
			fs.IntVar(&f.maxDaysPerCall, alias, 0, "")
		case "output":
			fs.StringVar(&f.output, alias, "", "")
		case "start-date":
			fs.StringVar(&f.startDate, alias, "", "")
		case "end-date":
			fs.StringVar(&f.endDate, alias, "", "")
		case "currencies":
			fs.StringVar(&f.currencies, alias, "", "")
		case "access-key":
			fs.StringVar(&f.accessKey, alias, "", "")
		}
		_ = fs.MarkHidden(alias)
	}
}

// changed reports whether the flag or its upper-case alias was set.
func changed(fs *pflag.FlagSet, name string) bool {
	return fs.Changed(name) || (flagAliases[name] != "" && fs.Changed(flagAliases[name]))
}

// apply overrides cfg with every flag set on the command line.
func (f runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if changed(fs, "output") {
		cfg.Output = f.output
	}
	if changed(fs, "start-date") {
		cfg.StartDate = f.startDate
	}
	if changed(fs, "end-date") {
		cfg.EndDate = f.endDate
	}
	if changed(fs, "currencies") {
		cfg.Currencies = f.currencies
	}
	if changed(fs, "access-key") {
		cfg.AccessKey = f.accessKey
	}
	if changed(fs, "max-days-per-call") {
		cfg.MaxDaysPerCall = f.maxDaysPerCall
	}
	if changed(fs, "progress") {
		cfg.Progress = f.progress
	}
}

func runIngest(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.LoadOptions{ConfigFile: f.configFile, EnvFile: f.envFile})
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrInvalidConfiguration, err)
	}
	f.apply(cmd.Flags(), cfg)

	logger := logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log := logging.Component(logger, "cli")
	log.Info("fx-ingest starting", "version", ingest.Version, "git_sha", ingest.GitSHA)

	req, swapped, err := cfg.Request(time.Now())
	if err != nil {
		return err
	}
	if swapped {
		log.Warn("start date after end date, swapping",
			"start_date", req.Start.Format(daterange.Layout),
			"end_date", req.End.Format(daterange.Layout),
		)
	}

	if _, err := storage.ParseLocation(cfg.Output); err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrInvalidConfiguration, err)
	}
	store, loc, err := storage.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	writer, err := ingest.NewPartitionWriter(store, cfg.WriterConfig(loc.Prefix))
	if err != nil {
		return err
	}

	m := metrics.New("")
	observers := []observe.Observer{observe.Log(logging.Component(logger, "pipeline")), m}
	var progress *observe.Progress
	if cfg.Progress {
		progress = observe.NewProgress(cmd.ErrOrStderr())
		observers = append(observers, progress)
	}
	obs := observe.Multi(observers...)

	client, err := source.NewTimeframeClient(cfg.SourceConfig(), nil, obs)
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrInvalidConfiguration, err)
	}

	meta, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer meta.Close()

	notifier, err := openNotifier(cfg, meta, logger, log)
	if err != nil {
		return err
	}
	defer notifier.Close()

	in := ingest.New(client, writer, ingest.Options{
		Catalog:       meta,
		CatalogStrict: cfg.Catalog.Strict,
		Notifier:      notifier,
		NotifyStrict:  cfg.Notify.Strict,
		Observer:      obs,
		Logger:        logger,
		NewRunID:      logging.NewRunID,
	})

	_, runErr := in.Run(ctx, req)
	if progress != nil {
		progress.Finish()
	}

	m.RecordRun(outcome(runErr), time.Now())
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.Push(pushCtx, metrics.Config{PushURL: cfg.Metrics.PushURL, Job: cfg.Metrics.Job}); err != nil {
		log.Warn("metrics push failed", "error", err)
	}

	return runErr
}

func openCatalog(ctx context.Context, cfg *config.Config, log *slog.Logger) (catalog.Writer, error) {
	meta, err := catalog.NewWriter(ctx, catalog.Config{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err == nil {
		return meta, nil
	}
	if cfg.Catalog.Strict {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	log.Warn("catalog unavailable, continuing without lineage", "error", err)
	return catalog.NoopWriter{}, nil
}

// openNotifier chains completion events through the catalog when one is
// connected, and through the backup directory otherwise.
func openNotifier(cfg *config.Config, meta catalog.Writer, logger, log *slog.Logger) (notify.Emitter, error) {
	ncfg := notify.Config{
		Endpoint:  cfg.Notify.Endpoint,
		BackupDir: cfg.Notify.BackupDir,
	}
	if _, noop := meta.(catalog.NoopWriter); !noop {
		ncfg.Heads = meta
	}

	notifier, err := notify.NewEmitter(ncfg, logging.Component(logger, "notify"))
	if err == nil {
		return notifier, nil
	}
	if cfg.Notify.Strict {
		return nil, fmt.Errorf("open notifier: %w", err)
	}
	log.Warn("notifier unavailable, continuing without completion events", "error", err)
	return notify.NoopEmitter{}, nil
}

// outcome labels a run result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case ingest.IsConfigError(err):
		return "invalid_configuration"
	case errors.Is(err, ingest.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ingest.ErrWriteRejected):
		return "write_rejected"
	case errors.Is(err, ingest.ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ingest.ErrNoDataIngested):
		return "no_data"
	default:
		return "error"
	}
}

