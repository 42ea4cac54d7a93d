package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/crawler"
	"github.com/JakeFAU/matricula-crawler/internal/sink"
)

// ErrIncompleteFetch means some newsfeed page could not be fetched. A
// partial feed must not become the state later runs deduplicate against.
var ErrIncompleteFetch = errors.New("newsfeed fetch incomplete")

// Fetcher writes the newsfeed of the last n days to a CSV file.
type Fetcher interface {
	Fetch(ctx context.Context, lastNDays int, dest string) error
	// Version reports the version of the crawler doing the fetch.
	Version(ctx context.Context) (string, error)
}

// CrawlFetcher runs the newsfeed crawl in process.
type CrawlFetcher struct {
	crawler *crawler.Crawler
	version string
	logger  *zap.Logger
}

// NewCrawlFetcher fetches with c and reports version.
func NewCrawlFetcher(c *crawler.Crawler, version string, logger *zap.Logger) *CrawlFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlFetcher{crawler: c, version: version, logger: logger}
}

// Fetch implements Fetcher.
func (f *CrawlFetcher) Fetch(ctx context.Context, lastNDays int, dest string) error {
	out, err := sink.OpenFile(dest, sink.FormatCSV, false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats, err := sink.Drain(ctx, f.crawler.Newsfeed(ctx, crawler.NewsfeedOptions{LastNDays: lastNDays}), out, nil, f.logger)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetch newsfeed: %w", err)
	}
	if stats.Failures > 0 {
		f.logger.Error("Newsfeed crawl had failures", zap.Int("failures", stats.Failures), zap.Int("articles", stats.Written))
		return fmt.Errorf("%w: %d failed pages", ErrIncompleteFetch, stats.Failures)
	}
	f.logger.Debug("Fetched newsfeed",
		zap.Int("articles", stats.Written),
		zap.Int("failures", stats.Failures),
		zap.String("path", dest),
	)
	return nil
}

// Version implements Fetcher.
func (f *CrawlFetcher) Version(context.Context) (string, error) {
	return f.version, nil
}

// ExecFetcher shells out to a crawler executable.
type ExecFetcher struct {
	path   string
	logger *zap.Logger
}

// NewExecFetcher resolves executable on PATH.
func NewExecFetcher(executable string, logger *zap.Logger) (*ExecFetcher, error) {
	path, err := exec.LookPath(executable)
	if err != nil {
		return nil, fmt.Errorf("find executable %q: %w", executable, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecFetcher{path: path, logger: logger}, nil
}

// Fetch runs `<exe> newsfeed fetch <dest without .csv> --format csv --last-n-days n`.
func (f *ExecFetcher) Fetch(ctx context.Context, lastNDays int, dest string) error {
	args := []string{
		"newsfeed", "fetch", strings.TrimSuffix(dest, ".csv"),
		"--format", "csv",
		"--last-n-days", strconv.Itoa(lastNDays),
	}
	f.logger.Debug("Running fetch command", zap.String("executable", f.path), zap.Strings("args", args))
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		f.logger.Error("Fetch command failed",
			zap.Int("exit_code", code),
			zap.String("stdout", stdout.String()),
			zap.String("stderr", stderr.String()),
		)
		return fmt.Errorf("run %s: %w", f.path, err)
	}
	return nil
}

// Version runs `<exe> --version`.
func (f *ExecFetcher) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("query version of %s: %w", f.path, err)
	}
	v := strings.TrimSpace(strings.ReplaceAll(string(out), "\n", ""))
	if v == "" {
		return "", fmt.Errorf("%s printed no version", f.path)
	}
	return v, nil
}
