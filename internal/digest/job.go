// Package digest implements the newsfeed digest job: fetch the recent
// newsfeed, keep articles matching the configured keywords, persist them,
// drop matches already reported by the previous run and notify about the
// rest.
package digest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/metrics"
	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// ErrMalformedDate is returned when a fetched or persisted article carries
// an unparseable date. It aborts the job before anything is sent.
var ErrMalformedDate = record.ErrMalformedDate

// DefaultHistoryLimit bounds the recent-jobs summary.
const DefaultHistoryLimit = 10

// DataStoreDir is the app dir subdirectory holding per-run match files.
const DataStoreDir = "scraper-data"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates job ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config configures one job.
type Config struct {
	AppDir string
	// JobID is generated when empty.
	JobID string
	// Version is the bot version; it is part of the data file name.
	Version      string
	ScrapePeriod int
	Keywords     []string
	// HistoryLimit caps the recent-jobs summary. Zero means
	// DefaultHistoryLimit.
	HistoryLimit int
	// RecipientName greets the reader. Defaults to "User".
	RecipientName string
}

// Validate checks the job settings.
func (c Config) Validate() error {
	switch {
	case c.AppDir == "":
		return errors.New("digest.app_dir is required")
	case c.ScrapePeriod <= 0:
		return errors.New("digest.scrape_period must be > 0")
	case len(c.Keywords) == 0:
		return errors.New("digest.keywords must not be empty")
	case c.Version == "":
		return errors.New("bot version is required")
	}
	return nil
}

// Outcome is how a successful run ended.
type Outcome string

// Outcomes.
const (
	OutcomeNotified  Outcome = "notified"
	OutcomeNoMatches Outcome = "no_matches"
)

// Result describes a finished run.
type Result struct {
	JobID    string
	DataFile string
	Fetched  int
	Matched  int
	// New counts matches left after deduplication.
	New     int
	Outcome Outcome
}

// Job is one digest run. A Job runs once.
type Job struct {
	cfg      Config
	fetcher  Fetcher
	notifier Notifier
	clock    Clock
	logger   *zap.Logger
}

// New wires a job. ids may be nil when cfg.JobID is set.
func New(cfg Config, fetcher Fetcher, notifier Notifier, clock Clock, ids IDGenerator, logger *zap.Logger) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || notifier == nil || clock == nil {
		return nil, errors.New("fetcher, notifier and clock are required")
	}
	if cfg.JobID == "" {
		if ids == nil {
			return nil, errors.New("job id or id generator is required")
		}
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("job id: %w", err)
		}
		cfg.JobID = id
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{cfg: cfg, fetcher: fetcher, notifier: notifier, clock: clock, logger: logger}, nil
}

// ID returns the job id.
func (j *Job) ID() string { return j.cfg.JobID }

// Run executes FETCH, PARSE, MATCH, PERSIST, DEDUPLICATE and, if anything
// is left, NOTIFY. Zero new matches is a successful run.
func (j *Job) Run(ctx context.Context) (res Result, err error) {
	start := j.clock.Now()
	res = Result{JobID: j.cfg.JobID}
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "failed"
			j.logger.Error("Digest job failed", zap.Error(err), zap.Duration("duration", j.clock.Now().Sub(start)))
		}
		metrics.ObserveDigestRun(outcome)
	}()

	if err := os.MkdirAll(j.cfg.AppDir, 0o750); err != nil {
		return res, fmt.Errorf("create app dir: %w", err)
	}
	unlock, err := acquireLock(filepath.Join(j.cfg.AppDir, LockFileName))
	if err != nil {
		return res, err
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			j.logger.Warn("Could not release job lock", zap.Error(uerr))
		}
	}()

	store, err := NewStore(filepath.Join(j.cfg.AppDir, DataStoreDir))
	if err != nil {
		return res, err
	}
	res.DataFile = store.RunFile(j.cfg.JobID, j.cfg.Version)
	history, err := store.History(res.DataFile, j.cfg.HistoryLimit)
	if err != nil {
		return res, fmt.Errorf("read history: %w", err)
	}
	j.logger.Debug("Loaded job history", zap.Int("total_jobs", history.Total), zap.String("last_data_file", history.Last))

	scraperVersion, err := j.fetcher.Version(ctx)
	if err != nil {
		return res, err
	}

	articles, err := j.fetch(ctx)
	if err != nil {
		return res, err
	}
	res.Fetched = len(articles)

	matches := Match(j.cfg.Keywords, articles)
	res.Matched = len(matches)
	j.logger.Debug("Matched articles", zap.Int("matches", len(matches)), zap.Strings("keywords", j.cfg.Keywords))

	if err := WriteMatches(res.DataFile, matches); err != nil {
		return res, err
	}
	j.logger.Debug("Stored matches for later comparison", zap.String("path", res.DataFile))

	var previous []Article
	if history.Last != "" {
		if previous, err = ReadArticles(history.Last); err != nil {
			return res, fmt.Errorf("read last data file: %w", err)
		}
		if previous == nil {
			previous = []Article{}
		}
	} else {
		j.logger.Debug("No last data file found, skipping deduplication")
	}
	fresh := Deduplicate(matches, previous)
	res.New = len(fresh)
	j.logger.Debug("Deduplicated matches",
		zap.Int("before", len(matches)),
		zap.Int("after", len(fresh)),
	)

	if len(fresh) == 0 {
		res.Outcome = OutcomeNoMatches
		j.logger.Info("No new matches, not sending a notification", zap.Duration("duration", j.clock.Now().Sub(start)))
		return res, nil
	}

	note := Notification{
		Subject: Subject(len(fresh)),
		Body: Body(BodyData{
			Name:           j.cfg.RecipientName,
			Matches:        fresh,
			BotVersion:     j.cfg.Version,
			JobID:          j.cfg.JobID,
			JobStart:       start,
			ScraperVersion: scraperVersion,
			ScrapePeriod:   j.cfg.ScrapePeriod,
			Keywords:       j.cfg.Keywords,
			History:        history,
		}),
		JobID:   j.cfg.JobID,
		Matches: fresh,
	}
	if err := j.notifier.Notify(ctx, note); err != nil {
		return res, fmt.Errorf("send notification: %w", err)
	}
	res.Outcome = OutcomeNotified
	j.logger.Info("Notification sent", zap.Int("matches", len(fresh)), zap.Duration("duration", j.clock.Now().Sub(start)))
	return res, nil
}

// fetch crawls into a scratch file outside the data store and parses it.
// The scratch file is removed afterwards so a broken fetch never becomes
// "last state".
func (j *Job) fetch(ctx context.Context) ([]Article, error) {
	dir := filepath.Join(j.cfg.AppDir, "fetch")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create fetch dir: %w", err)
	}
	path := filepath.Join(dir, "job_"+j.cfg.JobID+".csv")
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("Could not remove fetch file", zap.String("path", path), zap.Error(err))
		}
	}()

	if err := j.fetcher.Fetch(ctx, j.cfg.ScrapePeriod, path); err != nil {
		return nil, fmt.Errorf("fetch newsfeed: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("fetched newsfeed not found at %s: %w", path, err)
	}
	articles, err := ReadArticles(path)
	if err != nil {
		return nil, err
	}
	j.logger.Debug("Parsed fetched articles", zap.Int("articles", len(articles)), zap.String("path", path))
	return articles, nil
}
