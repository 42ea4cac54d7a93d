package digest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// Article is a newsfeed article with its date parsed.
type Article struct {
	Headline string    `json:"headline"`
	URL      string    `json:"url"`
	Date     time.Time `json:"date"`
	Preview  string    `json:"preview"`
}

// SameArticle reports whether a and b are the same article.
func (a Article) SameArticle(b Article) bool { return a.URL == b.URL }

var articleColumns = []string{"headline", "date", "preview", "url"}

// ReadArticles parses a newsfeed CSV file. Columns are located by header
// name. A row whose date matches no known layout fails the whole file.
func ReadArticles(path string) ([]Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	articles, err := parseArticles(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return articles, nil
}

func parseArticles(r io.Reader) ([]Article, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range articleColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var out []Article
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		date, err := record.ParseArticleDate(row[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		out = append(out, Article{
			Headline: row[idx["headline"]],
			URL:      row[idx["url"]],
			Date:     date,
			Preview:  row[idx["preview"]],
		})
	}
}

// WriteMatches replaces the content of path with matches. Dates are
// written as ISO dates. The header is written even without matches.
func WriteMatches(path string, matches []Article) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".matches-*")
	if err != nil {
		return fmt.Errorf("create match file: %w", err)
	}
	w := csv.NewWriter(tmp)
	_ = w.Write(articleColumns)
	for _, m := range matches {
		_ = w.Write([]string{m.Headline, record.FormatISODate(m.Date), m.Preview, m.URL})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write match file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close match file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace match file: %w", err)
	}
	return nil
}

// PastJob is one earlier run found in the data store.
type PastJob struct {
	Path      string
	CreatedAt time.Time
	Matches   []Article
}

// History summarizes the data store before a run.
type History struct {
	// Recent holds up to the history limit of past runs, newest first.
	Recent []PastJob
	// Total counts every past run.
	Total int
	// Last is the newest past run's file, or "" on a first run.
	Last string
}

// Store is the directory holding one match file per run.
type Store struct {
	dir string
}

// NewStore uses dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data store: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// RunFile returns the data file of one run:
// job_<id>_v<version with dots as underscores>.csv.
func (s *Store) RunFile(jobID, version string) string {
	return filepath.Join(s.dir, fmt.Sprintf("job_%s_v%s.csv", jobID, strings.ReplaceAll(version, ".", "_")))
}

// History lists past run files newest first by modification time, skipping
// current. Only the newest limit files are parsed.
func (s *Store) History(current string, limit int) (History, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return History{}, fmt.Errorf("list data store: %w", err)
	}
	type entry struct {
		path  string
		mtime time.Time
	}
	entries := make([]entry, 0, len(paths))
	for _, p := range paths {
		if p == current {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return History{}, fmt.Errorf("stat %s: %w", p, err)
		}
		entries = append(entries, entry{path: p, mtime: info.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].mtime.After(entries[j].mtime) })

	h := History{Total: len(entries)}
	if len(entries) > 0 {
		h.Last = entries[0].path
	}
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for _, e := range entries {
		matches, err := ReadArticles(e.path)
		if err != nil {
			return History{}, err
		}
		h.Recent = append(h.Recent, PastJob{Path: e.path, CreatedAt: e.mtime, Matches: matches})
	}
	return h, nil
}
