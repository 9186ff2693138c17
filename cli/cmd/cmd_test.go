package cmd

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/lanternworks/stitch/cli/config"
	"github.com/lanternworks/stitch/metrics"
	"github.com/lanternworks/stitch/spool"
	"github.com/lanternworks/stitch/state"
	"github.com/lanternworks/stitch/types"
)

func testContext(t *testing.T, args map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for k, v := range args {
		set.String(k, v, "")
		require.NoError(t, set.Set(k, v))
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := &config.Config{Org: "from-config", Days: 30, Concurrency: 2, StatePath: "/tmp/a.db"}
	c := testContext(t, map[string]string{"org": "from-flag", "state": "/tmp/b.db"})

	applyFlagOverrides(c, cfg)

	assert.Equal(t, "from-flag", cfg.Org)
	assert.Equal(t, "/tmp/b.db", cfg.StatePath)
	assert.Equal(t, 30, cfg.Days)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestApplyFlagOverridesDefaults(t *testing.T) {
	cfg := &config.Config{}
	c := testContext(t, nil)

	applyFlagOverrides(c, cfg)

	assert.Equal(t, "stitch.db", cfg.StatePath)
	assert.Equal(t, defaultWindowDays, cfg.Days)
}

func TestFetchWindowFromDays(t *testing.T) {
	cfg := &config.Config{Days: 7}
	c := testContext(t, nil)

	w := fetchWindow(c, cfg)
	assert.WithinDuration(t, time.Now().UTC(), w.End, time.Minute)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), w.Start, time.Minute)
}

func TestBuildSourceUnknown(t *testing.T) {
	_, err := buildSource(types.SourceSystem("mystery"), &config.Config{})
	assert.Error(t, err)
}

func TestBuildArchiverDisabled(t *testing.T) {
	a, err := buildArchiver(&config.Config{})
	require.NoError(t, err)
	assert.NoError(t, a.WriteRecords(context.Background(), types.CycleMeta{}, nil))
}

func TestBuildArchiverUnknownBackend(t *testing.T) {
	_, err := buildArchiver(&config.Config{
		Archive: config.ArchiveConfig{Dataset: "d", Backend: "tape"},
	})
	assert.Error(t, err)
}

func TestBuildAdaptersNone(t *testing.T) {
	adapters, err := buildAdapters(&config.Config{})
	require.NoError(t, err)
	assert.Empty(t, adapters)
}

func TestBuildAdaptersWebhook(t *testing.T) {
	adapters, err := buildAdapters(&config.Config{
		Notify: config.NotifyConfig{Type: "webhook", URL: "https://hooks.example.org/x"},
	})
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	for _, a := range adapters {
		_ = a.Close()
	}
}

func TestBuildAdaptersUnknownType(t *testing.T) {
	_, err := buildAdapters(&config.Config{Notify: config.NotifyConfig{Type: "pigeon"}})
	assert.Error(t, err)
}

func TestStatusCommandReadsState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.db")
	store, err := state.Open(statePath)
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(context.Background(), types.SourcePayPal, "TXN-1"))
	require.NoError(t, store.Close())

	app := &cli.App{Commands: []*cli.Command{StatusCommand()}}
	err = app.Run([]string{"stitch", "status", "--state", statePath, "--format", "json"})
	assert.NoError(t, err)
}

func TestInspectCommandReadsSpool(t *testing.T) {
	dir := t.TempDir()
	f, err := spool.Create(dir, "cycle-1")
	require.NoError(t, err)
	require.NoError(t, f.Write(spool.RecordEnvelope{
		CycleID:     "cycle-1",
		Source:      "paypal",
		ExternalID:  "TXN-1",
		Kind:        "donation",
		Disposition: spool.DispositionSynced,
		RecordedAt:  time.Now().UTC(),
	}))
	require.NoError(t, f.Close())

	app := &cli.App{Commands: []*cli.Command{InspectCommand()}}
	err = app.Run([]string{"stitch", "inspect", "--format", "json", spool.FileName(dir, "cycle-1")})
	assert.NoError(t, err)
}

func TestInspectCommandMissingArg(t *testing.T) {
	app := &cli.App{
		Commands:       []*cli.Command{InspectCommand()},
		ExitErrHandler: func(*cli.Context, error) {},
	}
	err := app.Run([]string{"stitch", "inspect"})
	require.Error(t, err)

	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func TestVersionCommand(t *testing.T) {
	app := &cli.App{Commands: []*cli.Command{VersionCommand("abc123")}}
	assert.NoError(t, app.Run([]string{"stitch", "version", "--format", "json"}))
}

func TestNewSyncReport(t *testing.T) {
	collector := metrics.NewCollector("paypal", "lanternworks", "cycle-7")
	collector.AddFetched(4)
	collector.IncMapFailure()
	collector.IncPushAttempted()
	collector.IncPushAttempted()
	collector.IncPushSucceeded()
	collector.IncSpoolFailure()

	summary := types.CycleSummary{
		Fetched:   4,
		Synced:    1,
		Failed:    2,
		Skipped:   1,
		Retryable: 1,
		Permanent: 1,
		Duration:  1503 * time.Millisecond,
	}

	report := newSyncReport(summary, collector.Snapshot())

	assert.Equal(t, "cycle-7", report.CycleID)
	assert.Equal(t, "paypal", report.Source)
	assert.Equal(t, 4, report.Fetched)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, "1.503s", report.Duration)
	assert.Equal(t, int64(1), report.MapFailures)
	assert.Equal(t, int64(2), report.PushesAttempted)
	assert.Equal(t, int64(1), report.PushesSucceeded)
	assert.Equal(t, int64(1), report.SpoolFailures)
}
