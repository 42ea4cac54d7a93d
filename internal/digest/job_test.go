package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/matricula-crawler/internal/clock/system"
	"github.com/JakeFAU/matricula-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/matricula-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/matricula-crawler/internal/id/uuid"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

// fileFetcher copies a fixed CSV body into the destination.
type fileFetcher struct {
	body string
	err  error
}

func (f fileFetcher) Fetch(_ context.Context, _ int, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte(f.body), 0o600)
}

func (fileFetcher) Version(context.Context) (string, error) { return "0.1.0", nil }

var jobNow = time.Date(2024, 9, 10, 9, 30, 0, 0, time.UTC)

func newsItem(slug, date, preview string) string {
	return fmt.Sprintf(`<article><h3><a href="/en/nachrichten/%s/">%s</a></h3><time>%s</time><p>%s</p></article>`, slug, slug, date, preview)
}

func newsfeedServer(t *testing.T, down *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if down != nil && down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><body><div class="news-list">`+
			newsItem("online", "Sept. 10, 2024", "Scans of the parishes around aachen are online")+
			newsItem("passau", "Sept. 9, 2024", "Passau registers")+
			newsItem("wien", "Sept. 8, 2024", "Wien update")+
			newsItem("older", "Sept. 7, 2024", "Aachen, but too old")+
			`</div></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCrawlJob(t *testing.T, appDir, baseURL string, notifier Notifier) *Job {
	t.Helper()
	clk := system.Fixed(jobNow)
	c := crawler.New(crawler.Config{
		BaseURL: baseURL,
		Collector: collyfetcher.Config{
			Concurrency:    1,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     1,
		},
	}, nil, crawler.WithClock(clk))

	job, err := New(Config{
		AppDir:       appDir,
		Version:      "0.1.0",
		ScrapePeriod: 3,
		Keywords:     []string{"Aachen"},
	}, NewCrawlFetcher(c, "0.1.0", nil), notifier, clk, uuid.New(), nil)
	require.NoError(t, err)
	return job
}

func TestJobEndToEnd(t *testing.T) {
	srv := newsfeedServer(t, nil)
	appDir := t.TempDir()
	notifier := &recordingNotifier{}

	first := newCrawlJob(t, appDir, srv.URL, notifier)
	res, err := first.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, res.Outcome)
	assert.Equal(t, 3, res.Fetched, "articles older than two days before today are not fetched")
	assert.Equal(t, 1, res.New)

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "MATRICULA-BOT | New match found", sent[0].Subject)
	require.Len(t, sent[0].Matches, 1)
	assert.Equal(t, srv.URL+"/en/nachrichten/online/", sent[0].Matches[0].URL)
	assert.Contains(t, sent[0].Body, "I found one new match:")
	assert.Contains(t, sent[0].Body, "- job id: "+first.ID())
	assert.Contains(t, sent[0].Body, "Total jobs: 0\nRecent jobs: /\n")

	stored, err := ReadArticles(res.DataFile)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	// Same feed again: nothing new, nothing sent.
	second := newCrawlJob(t, appDir, srv.URL, notifier)
	res, err = second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatches, res.Outcome)
	assert.Equal(t, 1, res.Matched)
	assert.Zero(t, res.New)
	assert.Len(t, notifier.sent(), 1)

	files, err := filepath.Glob(filepath.Join(appDir, DataStoreDir, "*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	_, err = os.Stat(filepath.Join(appDir, LockFileName))
	assert.True(t, os.IsNotExist(err), "lock is released")
	leftovers, err := filepath.Glob(filepath.Join(appDir, "fetch", "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJobFailedFeedKeepsLastState(t *testing.T) {
	var down atomic.Bool
	srv := newsfeedServer(t, &down)
	appDir := t.TempDir()
	notifier := &recordingNotifier{}

	res, err := newCrawlJob(t, appDir, srv.URL, notifier).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeNotified, res.Outcome)

	down.Store(true)
	res, err = newCrawlJob(t, appDir, srv.URL, notifier).Run(context.Background())
	require.ErrorIs(t, err, ErrIncompleteFetch)
	_, statErr := os.Stat(res.DataFile)
	assert.True(t, os.IsNotExist(statErr), "a failed fetch writes no data file")
	files, err := filepath.Glob(filepath.Join(appDir, DataStoreDir, "*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Len(t, notifier.sent(), 1)

	down.Store(false)
	res, err = newCrawlJob(t, appDir, srv.URL, notifier).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatches, res.Outcome, "the article is compared against the last complete run")
	assert.Len(t, notifier.sent(), 1)
}

func newFileJob(t *testing.T, appDir string, fetcher Fetcher, notifier Notifier) *Job {
	t.Helper()
	job, err := New(Config{
		AppDir:       appDir,
		JobID:        "8c5d2a0e-4f43-4a53-9f0a-2a4f3c0f8e11",
		Version:      "0.1.0",
		ScrapePeriod: 2,
		Keywords:     []string{"wien"},
	}, fetcher, notifier, system.Fixed(jobNow), nil, nil)
	require.NoError(t, err)
	return job
}

func TestJobMalformedDateAborts(t *testing.T) {
	t.Parallel()

	appDir := t.TempDir()
	notifier := &recordingNotifier{}
	job := newFileJob(t, appDir, fileFetcher{body: "headline,date,preview,url\nWien,soon,p,https://x/w\n"}, notifier)

	res, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedDate)
	assert.Empty(t, notifier.sent())
	_, statErr := os.Stat(res.DataFile)
	assert.True(t, os.IsNotExist(statErr), "nothing is persisted")
}

func TestJobNotifyFailureKeepsState(t *testing.T) {
	t.Parallel()

	appDir := t.TempDir()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	job := newFileJob(t, appDir, fileFetcher{body: "headline,date,preview,url\nWien,\"Sept. 10, 2024\",p,https://x/w\n"}, notifier)

	res, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")

	stored, err := ReadArticles(res.DataFile)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestJobFetchFailure(t *testing.T) {
	t.Parallel()

	job := newFileJob(t, t.TempDir(), fileFetcher{err: errors.New("exit status 1")}, &recordingNotifier{})
	_, err := job.Run(context.Background())
	assert.Error(t, err)
}

func TestJobLocked(t *testing.T) {
	t.Parallel()

	appDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(appDir, LockFileName), []byte("1\n"), 0o600))

	job := newFileJob(t, appDir, fileFetcher{body: "headline,date,preview,url\n"}, &recordingNotifier{})
	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrJobLocked)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{AppDir: "d", Version: "0.1.0", ScrapePeriod: 1, Keywords: []string{"x"}}
	assert.NoError(t, valid.Validate())

	noKeywords := valid
	noKeywords.Keywords = nil
	assert.Error(t, noKeywords.Validate())

	noPeriod := valid
	noPeriod.ScrapePeriod = 0
	assert.Error(t, noPeriod.Validate())
}
