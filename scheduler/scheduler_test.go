package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptomonitor/config"
	"cryptomonitor/internal/metrics"
	"cryptomonitor/models"
	"cryptomonitor/writer"
)

var start = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

type fakeFetcher struct {
	calls int
	ids   []string
	err   error
}

func (f *fakeFetcher) FetchQuotes(_ context.Context, ids []string, currency string) (models.QuoteRecord, error) {
	f.calls++
	f.ids = ids
	if f.err != nil {
		return models.QuoteRecord{}, f.err
	}
	quotes := map[string]models.Quote{}
	for _, id := range ids {
		quotes[id] = models.Quote{Price: 1}
	}
	return models.QuoteRecord{Currency: currency, FetchedAt: start, Quotes: quotes}, nil
}

type fakeArchiver struct {
	name  string
	err   error
	calls int
}

func (a *fakeArchiver) Name() string { return a.name }

func (a *fakeArchiver) Archive(context.Context, models.QuoteRecord) error {
	a.calls++
	return a.err
}

type fakeFactory struct {
	fetcher   *fakeFetcher
	archivers []writer.Archiver
	tags      func(string) map[string]string
}

func (f *fakeFactory) Fetcher(*config.Settings) Fetcher { return f.fetcher }

func (f *fakeFactory) Archivers(_ context.Context, _ *config.Settings, tags func(string) map[string]string) []writer.Archiver {
	f.tags = tags
	return f.archivers
}

func writeCoins(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coins_list_usd.yml"), []byte(body), 0o644))
}

func settingsFor(dir string) SettingsLoader {
	return func() (*config.Settings, error) {
		return &config.Settings{
			SleepTime: 300,
			WorkDir:   dir,
			CoinsFile: "coins_list_usd.yml",
			Currency:  "usd",
			Logging:   config.LoggingSettings{Level: "info"},
		}, nil
	}
}

const twoCoins = `coins:
  - bitcoin:
      tags:
        tier: top
  - ethereum:
`

func newTestScheduler(loader SettingsLoader, f *fakeFactory, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return start })}, opts...)
	return New(loader, f, opts...)
}

func TestRunCycleArchivesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, twoCoins)

	file := &fakeArchiver{name: writer.SinkFile}
	influx := &fakeArchiver{name: writer.SinkInflux}
	f := &fakeFactory{fetcher: &fakeFetcher{}, archivers: []writer.Archiver{file, influx}}

	report, err := newTestScheduler(settingsFor(dir), f).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, metrics.StatusOK, report.Status)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, f.fetcher.ids)
	assert.Equal(t, []string{writer.SinkFile, writer.SinkInflux}, report.Archived)
	assert.Equal(t, 2, report.Quotes)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, map[string]string{"tier": "top"}, f.tags("bitcoin"))
}

func TestRunCycleArchiverFailureDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, twoCoins)

	failing := &fakeArchiver{
		name: writer.SinkInflux,
		err:  &writer.ArchiveError{Sink: writer.SinkInflux, Stage: writer.StageConnect, Err: errors.New("refused")},
	}
	next := &fakeArchiver{name: writer.SinkS3}
	f := &fakeFactory{fetcher: &fakeFetcher{}, archivers: []writer.Archiver{failing, next}}

	report, err := newTestScheduler(settingsFor(dir), f).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Contains(t, report.Failed, writer.SinkInflux)
	assert.Equal(t, []string{writer.SinkS3}, report.Archived)
	assert.Equal(t, metrics.StatusOK, report.Status)
}

func TestRunCycleFetchFailureSkipsArchiving(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, twoCoins)

	file := &fakeArchiver{name: writer.SinkFile}
	f := &fakeFactory{fetcher: &fakeFetcher{err: errors.New("timeout")}, archivers: []writer.Archiver{file}}

	report, err := newTestScheduler(settingsFor(dir), f).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, metrics.StatusFetchFailed, report.Status)
	assert.Zero(t, file.calls)
}

func TestRunCycleEmptyCoinList(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, "coins: []\n")

	f := &fakeFactory{fetcher: &fakeFetcher{}}
	report, err := newTestScheduler(settingsFor(dir), f).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, metrics.StatusNoCoins, report.Status)
	assert.Zero(t, f.fetcher.calls)
}

func TestRunCycleMissingWorkDirIsFatalBeforeFetch(t *testing.T) {
	f := &fakeFactory{fetcher: &fakeFetcher{}}
	_, err := newTestScheduler(settingsFor(filepath.Join(t.TempDir(), "missing")), f).RunCycle(context.Background())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "check workdir", fatal.Op)
	assert.Zero(t, f.fetcher.calls)
}

func TestRunCycleMalformedCoinListIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, "coins:\n  - bitcoin: {}\n    ethereum: {}\n")

	f := &fakeFactory{fetcher: &fakeFetcher{}}
	_, err := newTestScheduler(settingsFor(dir), f).RunCycle(context.Background())

	var parseErr *config.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 0, parseErr.Index)
	assert.Zero(t, f.fetcher.calls)
}

func TestRunCycleMissingCoinFileIsFatal(t *testing.T) {
	f := &fakeFactory{fetcher: &fakeFetcher{}}
	_, err := newTestScheduler(settingsFor(t.TempDir()), f).RunCycle(context.Background())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "load coin document", fatal.Op)
}

func TestRunCycleSettingsErrorIsFatal(t *testing.T) {
	loader := func() (*config.Settings, error) { return nil, config.ErrNoEnvFile }
	_, err := newTestScheduler(loader, &fakeFactory{fetcher: &fakeFetcher{}}).RunCycle(context.Background())

	assert.ErrorIs(t, err, config.ErrNoEnvFile)
}

func TestRunSleepsBetweenCyclesAndStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeCoins(t, dir, twoCoins)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	f := &fakeFactory{fetcher: &fakeFetcher{err: errors.New("provider down")}}
	err := newTestScheduler(settingsFor(dir), f, WithSleeper(sleeper)).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{300 * time.Second, 300 * time.Second}, waits)
	assert.Equal(t, 2, f.fetcher.calls)
}

func TestRunReturnsFatalError(t *testing.T) {
	slept := false
	sleeper := func(context.Context, time.Duration) error {
		slept = true
		return nil
	}

	f := &fakeFactory{fetcher: &fakeFetcher{}}
	err := newTestScheduler(settingsFor(filepath.Join(t.TempDir(), "missing")), f, WithSleeper(sleeper)).Run(context.Background())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.False(t, slept)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
