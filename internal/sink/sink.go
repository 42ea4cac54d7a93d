// Package sink writes crawl records to their final storage.
package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// Sink stores records one at a time.
type Sink interface {
	Put(ctx context.Context, rec record.Record) error
	Close() error
}

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSONL:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported output format %q (want csv or jsonl)", s)
}

// ErrOutputExists means the output file is already there and appending was
// not requested.
var ErrOutputExists = errors.New("output file already exists")

// ErrNotTabular means a record kind has no row representation.
var ErrNotTabular = errors.New("record has no tabular form")

// OutputPath appends the format extension to name.
func OutputPath(name string, format Format) string {
	return name + "." + string(format)
}

// OpenFile opens path for writing. An existing file is refused unless
// appendMode is set; appending to a non-empty CSV file does not repeat the
// header.
func OpenFile(path string, format Format, appendMode bool) (Sink, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s (use --append to add to it)", ErrOutputExists, path)
		}
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat output %s: %w", path, err)
	}
	switch format {
	case FormatJSONL:
		return NewJSONL(f), nil
	default:
		s := NewCSV(f)
		s.headerDone = info.Size() > 0
		return s, nil
	}
}

type multiRow interface {
	Header() []string
	Rows() [][]string
}

// CSV writes records as comma separated rows. All records must share one
// header.
type CSV struct {
	closer     io.Closer
	w          *csv.Writer
	header     []string
	headerDone bool
}

// NewCSV writes to w. If w is an io.Closer it is closed by Close.
func NewCSV(w io.Writer) *CSV {
	s := &CSV{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Put implements Sink.
func (s *CSV) Put(_ context.Context, rec record.Record) error {
	var (
		header []string
		rows   [][]string
	)
	switch r := rec.(type) {
	case record.Tabular:
		header, rows = r.Header(), [][]string{r.Row()}
	case multiRow:
		header, rows = r.Header(), r.Rows()
	default:
		return fmt.Errorf("%w: %s", ErrNotTabular, rec.Kind())
	}

	if s.header == nil {
		s.header = header
	} else if !slices.Equal(s.header, header) {
		return fmt.Errorf("csv output mixes record kinds: got %s", rec.Kind())
	}
	if !s.headerDone {
		if err := s.w.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		s.headerDone = true
	}
	if err := s.w.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *CSV) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// JSONL writes one JSON object per line.
type JSONL struct {
	closer io.Closer
	buf    *bufio.Writer
	enc    *json.Encoder
}

// NewJSONL writes to w. If w is an io.Closer it is closed by Close.
func NewJSONL(w io.Writer) *JSONL {
	buf := bufio.NewWriter(w)
	s := &JSONL{buf: buf, enc: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Put implements Sink.
func (s *JSONL) Put(_ context.Context, rec record.Record) error {
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write jsonl record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *JSONL) Close() error {
	err := s.buf.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Memory collects records in order.
type Memory struct {
	Records []record.Record
}

// Put implements Sink.
func (m *Memory) Put(_ context.Context, rec record.Record) error {
	m.Records = append(m.Records, rec)
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }

// Multi fans every record out to all sinks.
type Multi []Sink

// Put implements Sink.
func (m Multi) Put(ctx context.Context, rec record.Record) error {
	for _, s := range m {
		if err := s.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
