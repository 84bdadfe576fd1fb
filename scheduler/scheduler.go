// Package scheduler runs the fetch and archive cycle and sleeps between
// cycles until its context is cancelled or a cycle hits a fatal error.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cryptomonitor/config"
	"cryptomonitor/internal/metrics"
	"cryptomonitor/logger"
	"cryptomonitor/models"
	"cryptomonitor/writer"
)

// SettingsLoader returns the settings of the next cycle.
type SettingsLoader func() (*config.Settings, error)

// Fetcher retrieves quotes for a list of coin ids.
type Fetcher interface {
	FetchQuotes(ctx context.Context, ids []string, currency string) (models.QuoteRecord, error)
}

// Factory builds the per-cycle collaborators from the cycle's settings.
type Factory interface {
	Fetcher(s *config.Settings) Fetcher
	// Archivers returns the enabled archivers in the order file, influx, s3.
	Archivers(ctx context.Context, s *config.Settings, tags func(id string) map[string]string) []writer.Archiver
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// FatalError ends the loop. Op names the step that failed.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// CycleReport summarises one cycle.
type CycleReport struct {
	ID       string
	Status   string
	Started  time.Time
	Duration time.Duration
	Coins    int
	Quotes   int
	Archived []string
	Failed   map[string]error
	Settings *config.Settings
}

// Scheduler owns the cycle loop. Cycles never overlap.
type Scheduler struct {
	loader  SettingsLoader
	factory Factory
	now     func() time.Time
	sleep   Sleeper
	log     *logger.Log
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper replaces the context-aware timer sleep.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithLogger replaces the process logger.
func WithLogger(log *logger.Log) Option {
	return func(s *Scheduler) { s.log = log }
}

// New creates a Scheduler.
func New(loader SettingsLoader, factory Factory, opts ...Option) *Scheduler {
	s := &Scheduler{
		loader:  loader,
		factory: factory,
		now:     time.Now,
		sleep:   sleepContext,
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes cycles until ctx is cancelled, returning nil, or until a
// cycle fails fatally, returning the *FatalError.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.log.WithComponent("scheduler")
	log.Info("starting scheduler")

	for {
		report, err := s.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("scheduler stopped")
				return nil
			}
			return err
		}

		wake := report.Settings.NextRun(s.now())
		wait := wake.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		log.WithFields(logger.Fields{
			"cycle_id": report.ID,
			"status":   report.Status,
			"next_run": wake.Format(time.RFC3339),
		}).Info("sleeping until next cycle")

		if err := s.sleep(ctx, wait); err != nil {
			log.Info("scheduler stopped")
			return nil
		}
	}
}

// RunCycle performs one cycle. Settings, workdir and coin document problems
// return a *FatalError; a failed fetch or archive is reported in the
// CycleReport only.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{
		ID:      uuid.New().String(),
		Started: s.now(),
		Failed:  map[string]error{},
	}
	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"cycle_id": report.ID})

	settings, err := s.loader()
	if err != nil {
		return s.fatal(report, log, "load settings", err)
	}
	report.Settings = settings
	s.applyLogLevel(settings)

	if err := settings.CheckWorkDir(); err != nil {
		return s.fatal(report, log.WithEnv("WORKDIR"), "check workdir", err)
	}

	doc, err := config.LoadCoinDocument(settings.CoinsPath())
	if err != nil {
		return s.fatal(report, log.WithFields(logger.Fields{"path": settings.CoinsPath()}), "load coin document", err)
	}
	entries, err := doc.Entries()
	if err != nil {
		return s.fatal(report, log.WithFields(logger.Fields{"path": settings.CoinsPath()}), "parse coin document", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	report.Coins = len(ids)
	log = log.WithFields(logger.Fields{"coins": len(ids), "currency": settings.Currency})

	if len(ids) == 0 {
		log.Warn("coin list is empty, skipping fetch")
		return s.finish(report, log, metrics.StatusNoCoins), nil
	}

	record, err := s.factory.Fetcher(settings).FetchQuotes(ctx, ids, settings.Currency)
	if err != nil {
		log.WithError(err).Error("failed to fetch quotes, skipping archiving")
		logger.IncrementFetchFailure()
		return s.finish(report, log, metrics.StatusFetchFailed), nil
	}
	report.Quotes = len(record.Quotes)
	metrics.SetCoins(report.Quotes)

	for _, a := range s.factory.Archivers(ctx, settings, config.TagLookup(entries)) {
		if err := a.Archive(ctx, record); err != nil {
			stage := "unknown"
			var archiveErr *writer.ArchiveError
			if errors.As(err, &archiveErr) {
				stage = archiveErr.Stage
			}
			log.WithError(err).WithFields(logger.Fields{"sink": a.Name(), "stage": stage}).Error("archiver failed")
			metrics.RecordArchiveFailure(a.Name(), stage)
			report.Failed[a.Name()] = err
			continue
		}
		metrics.RecordArchive(a.Name())
		logger.IncrementArchiveWrite(a.Name())
		report.Archived = append(report.Archived, a.Name())
	}

	logger.IncrementCycle(report.Quotes)
	logger.LogDataFlowEntry(log, "coingecko", strings.Join(report.Archived, ","), report.Quotes, "quote")
	return s.finish(report, log, metrics.StatusOK), nil
}

func (s *Scheduler) finish(report CycleReport, log *logger.Entry, status string) CycleReport {
	report.Status = status
	report.Duration = s.now().Sub(report.Started)
	metrics.RecordCycle(status, report.Duration)
	logger.LogPerformanceEntry(log, "scheduler", "cycle", report.Duration, logger.Fields{"status": status})
	log.LogMetric("scheduler", "CycleDuration", report.Duration, "gauge", logger.Fields{"status": status})
	return report
}

func (s *Scheduler) fatal(report CycleReport, log *logger.Entry, op string, err error) (CycleReport, error) {
	report.Status = metrics.StatusFatal
	report.Duration = s.now().Sub(report.Started)
	metrics.RecordCycle(metrics.StatusFatal, report.Duration)
	log.WithError(err).WithFields(logger.Fields{"op": op}).Error("fatal error, stopping")
	return report, &FatalError{Op: op, Err: err}
}

// applyLogLevel follows LOG_LEVEL and DEBUG changes between cycles.
func (s *Scheduler) applyLogLevel(settings *config.Settings) {
	level := strings.ToLower(settings.Logging.Level)
	if level == "report" {
		level = "info"
	}
	if lvl, err := logrus.ParseLevel(level); err == nil && s.log.GetLevel() != lvl {
		s.log.SetLevel(lvl)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
