package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/lanternworks/stitch/adapter"
	redisadapter "github.com/lanternworks/stitch/adapter/redis"
	"github.com/lanternworks/stitch/adapter/webhook"
	"github.com/lanternworks/stitch/archive"
	"github.com/lanternworks/stitch/cli/config"
	"github.com/lanternworks/stitch/cli/render"
	"github.com/lanternworks/stitch/crm"
	"github.com/lanternworks/stitch/crm/salesforce"
	"github.com/lanternworks/stitch/engine"
	"github.com/lanternworks/stitch/errtrack"
	"github.com/lanternworks/stitch/mapping"
	"github.com/lanternworks/stitch/metrics"
	"github.com/lanternworks/stitch/source"
	"github.com/lanternworks/stitch/source/eventbrite"
	"github.com/lanternworks/stitch/source/paypal"
	"github.com/lanternworks/stitch/state"
	"github.com/lanternworks/stitch/types"
)

// Exit codes for stitch sync.
const (
	exitSuccess         = 0 // every record synced or legitimately skipped
	exitRecordFailures  = 1 // one or more records failed
	exitUpstreamFailure = 2 // fetch failed or the cycle crashed
	exitAuthFailure     = 3 // credentials rejected
)

// SyncCommand returns the sync command, the only command that pushes data.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a sync cycle: fetch, map, and forward pending records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to stitch.yaml config file",
				Value:   "stitch.yaml",
			},
			&cli.StringFlag{
				Name:     "source",
				Usage:    "Source system: paypal or eventbrite",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "org",
				Usage: "Organization slug (overrides config)",
			},
			&cli.IntFlag{
				Name:  "days",
				Usage: "Fetch window in days back from now",
			},
			&cli.TimestampFlag{
				Name:   "from",
				Usage:  "Fetch window start (RFC 3339), overrides --days",
				Layout: time.RFC3339,
			},
			&cli.TimestampFlag{
				Name:   "to",
				Usage:  "Fetch window end (RFC 3339), defaults to now",
				Layout: time.RFC3339,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Map records but push nothing and persist no state",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Concurrent push workers",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Path to the sync state database (overrides config)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Run continuously, starting a cycle every interval",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress summary output",
			},
		},
		Action: syncAction,
	}
}

// defaultWindowDays is the fetch window when neither --days nor config set one.
const defaultWindowDays = 90

// SyncReport is the rendered cycle outcome: the summary counts plus the
// collector's counters for the stages the summary folds together.
type SyncReport struct {
	CycleID   string `json:"cycle_id"`
	Source    string `json:"source"`
	Fetched   int    `json:"fetched"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Retryable int    `json:"retryable"`
	Permanent int    `json:"permanent"`
	Duration  string `json:"duration"`

	MapFailures        int64 `json:"map_failures"`
	PushesAttempted    int64 `json:"pushes_attempted"`
	PushesSucceeded    int64 `json:"pushes_succeeded"`
	StateWriteFailures int64 `json:"state_write_failures"`
	ArchiveFailures    int64 `json:"archive_failures"`
	SpoolFailures      int64 `json:"spool_failures"`
}

func newSyncReport(summary types.CycleSummary, snap metrics.Snapshot) SyncReport {
	return SyncReport{
		CycleID:   snap.CycleID,
		Source:    snap.Source,
		Fetched:   summary.Fetched,
		Synced:    summary.Synced,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Retryable: summary.Retryable,
		Permanent: summary.Permanent,
		Duration:  summary.Duration.Round(time.Millisecond).String(),

		MapFailures:        snap.MapFailure,
		PushesAttempted:    snap.PushesAttempted,
		PushesSucceeded:    snap.PushesSucceeded,
		StateWriteFailures: snap.StateWriteFailures,
		ArchiveFailures:    snap.ArchiveFailure,
		SpoolFailures:      snap.SpoolFailures,
	}
}

func syncAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitUpstreamFailure)
	}
	applyFlagOverrides(c, cfg)

	src := types.SourceSystem(c.String("source"))
	if !src.Valid() {
		return cli.Exit(fmt.Sprintf("unknown source %q (must be paypal or eventbrite)", src), exitUpstreamFailure)
	}

	reporter, err := errtrack.Init(errtrack.Config{
		Enable:      cfg.Sentry.Enable,
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error tracking init failed: %v", err), exitUpstreamFailure)
	}
	defer reporter.Flush(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	interval := c.Duration("interval")
	if interval <= 0 {
		return runOnce(ctx, c, cfg, src, reporter)
	}

	// Interval mode: a cycle every tick, each with its own identity.
	// The first cycle starts immediately.
	for {
		if err := runOnce(ctx, c, cfg, src, reporter); err != nil {
			// Auth failures will not heal without operator action.
			var exitErr cli.ExitCoder
			if errors.As(err, &exitErr) && exitErr.ExitCode() == exitAuthFailure {
				return err
			}
			fmt.Fprintf(os.Stderr, "cycle failed: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// runOnce builds a fresh cycle and runs it to completion.
func runOnce(ctx context.Context, c *cli.Context, cfg *config.Config, src types.SourceSystem, reporter *errtrack.Reporter) error {
	meta := types.CycleMeta{
		CycleID: uuid.NewString(),
		Attempt: 1,
		Source:  src,
		Org:     cfg.Org,
		DryRun:  c.Bool("dry-run"),
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open state database: %v", err), exitUpstreamFailure)
	}
	defer func() { _ = store.Close() }()

	fetcher, err := buildSource(src, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUpstreamFailure)
	}

	var pusher crm.Pusher
	if !meta.DryRun {
		pusher, err = salesforce.New(salesforce.Config{
			LoginURL:     cfg.Salesforce.LoginURL,
			ClientID:     cfg.Salesforce.ClientID,
			ClientSecret: cfg.Salesforce.ClientSecret,
			Username:     cfg.Salesforce.Username,
			Password:     cfg.Salesforce.Password,
			APIVersion:   cfg.Salesforce.APIVersion,
			Timeout:      cfg.PushTimeout.Duration,
		})
		if err != nil {
			return cli.Exit(err.Error(), exitAuthFailure)
		}
	}

	archiver, err := buildArchiver(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive init failed: %v", err), exitUpstreamFailure)
	}
	defer func() { _ = archiver.Close() }()

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("notify init failed: %v", err), exitUpstreamFailure)
	}
	defer func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}()

	collector := metrics.NewCollector(string(src), cfg.Org, meta.CycleID)

	eng, err := engine.New(engine.Config{
		Meta:        meta,
		Source:      fetcher,
		Window:      fetchWindow(c, cfg),
		Mapper:      &mapping.NPSPMapper{CampaignID: cfg.Salesforce.CampaignID},
		Pusher:      pusher,
		Store:       store,
		Archive:     archiver,
		SpoolDir:    cfg.SpoolDir,
		Concurrency: cfg.Concurrency,
		PushTimeout: cfg.PushTimeout.Duration,
		Collector:   collector,
		Reporter:    reporter,
		Adapters:    adapters,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUpstreamFailure)
	}

	summary, err := eng.RunCycle(ctx)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrAuthFailure):
			return cli.Exit(fmt.Sprintf("authentication failed: %v", err), exitAuthFailure)
		case errors.Is(err, state.ErrCycleInProgress):
			return cli.Exit(err.Error(), exitUpstreamFailure)
		default:
			return cli.Exit(fmt.Sprintf("cycle failed: %v", err), exitUpstreamFailure)
		}
	}

	if !c.Bool("quiet") {
		r, rerr := render.NewRenderer(c)
		if rerr == nil {
			_ = r.Render(newSyncReport(summary, collector.Snapshot()))
		}
	}

	if !summary.FullSuccess() {
		return cli.Exit("", exitRecordFailures)
	}
	return nil
}

// applyFlagOverrides folds CLI flags over config file defaults.
func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String("org"); v != "" {
		cfg.Org = v
	}
	if v := c.String("state"); v != "" {
		cfg.StatePath = v
	}
	if v := c.Int("concurrency"); v > 0 {
		cfg.Concurrency = v
	}
	if v := c.Int("days"); v > 0 {
		cfg.Days = v
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "stitch.db"
	}
	if cfg.Days <= 0 {
		cfg.Days = defaultWindowDays
	}
}

// fetchWindow resolves the fetch window from --from/--to or --days.
func fetchWindow(c *cli.Context, cfg *config.Config) source.Window {
	window := source.LastDays(cfg.Days)
	if from := c.Timestamp("from"); from != nil && !from.IsZero() {
		window.Start = from.UTC()
	}
	if to := c.Timestamp("to"); to != nil && !to.IsZero() {
		window.End = to.UTC()
	}
	return window
}

func buildSource(src types.SourceSystem, cfg *config.Config) (source.Source, error) {
	switch src {
	case types.SourcePayPal:
		return paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			BaseURL:      cfg.PayPal.BaseURL,
		})
	case types.SourceEventbrite:
		return eventbrite.New(eventbrite.Config{
			Token:          cfg.Eventbrite.Token,
			OrganizationID: cfg.Eventbrite.OrganizationID,
			BaseURL:        cfg.Eventbrite.BaseURL,
		})
	}
	return nil, fmt.Errorf("unknown source %q", src)
}

func buildArchiver(cfg *config.Config) (archive.Archiver, error) {
	if cfg.Archive.Dataset == "" {
		return archive.NopArchiver{}, nil
	}

	archiveCfg := archive.Config{Dataset: cfg.Archive.Dataset, Org: cfg.Org}
	switch cfg.Archive.Backend {
	case "", "fs":
		path := cfg.Archive.Path
		if path == "" {
			path = "archive"
		}
		return archive.NewFS(archiveCfg, path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(cfg.Archive.Path)
		return archive.NewS3(archiveCfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q (must be fs or s3)", cfg.Archive.Backend)
	}
}

func buildAdapters(cfg *config.Config) ([]adapter.Adapter, error) {
	if cfg.Notify.Type == "" {
		return nil, nil
	}

	retries := -1
	if cfg.Notify.Retries != nil {
		retries = *cfg.Notify.Retries
	}

	switch cfg.Notify.Type {
	case "webhook":
		wcfg := webhook.Config{
			URL:     cfg.Notify.URL,
			Headers: cfg.Notify.Headers,
			Timeout: cfg.Notify.Timeout.Duration,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		} else {
			wcfg.Retries = webhook.DefaultRetries
		}
		a, err := webhook.New(wcfg)
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	case "redis":
		rcfg := redisadapter.Config{
			URL:     cfg.Notify.URL,
			Channel: cfg.Notify.Channel,
			Timeout: cfg.Notify.Timeout.Duration,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		} else {
			rcfg.Retries = redisadapter.DefaultRetries
		}
		a, err := redisadapter.New(rcfg)
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	default:
		return nil, fmt.Errorf("unknown notify type %q (must be webhook or redis)", cfg.Notify.Type)
	}
}
