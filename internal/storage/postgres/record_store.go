// Package postgres provides a Postgres-backed record sink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "matricula_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore writes crawl records into a single table keyed by kind and
// URL. The expected schema is
//
//	CREATE TABLE matricula_records (
//		kind       text        NOT NULL,
//		url        text        NOT NULL,
//		payload    jsonb       NOT NULL,
//		crawled_at timestamptz NOT NULL,
//		PRIMARY KEY (kind, url)
//	);
//
// Re-crawling a URL replaces its payload.
type RecordStore struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table, now: time.Now}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string, now func() time.Time) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &RecordStore{pool: pool, table: table, now: now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Put upserts one record.
func (s *RecordStore) Put(ctx context.Context, rec record.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	key, err := recordURL(rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.Kind(), err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (kind, url, payload, crawled_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (kind, url) DO UPDATE
SET payload = EXCLUDED.payload, crawled_at = EXCLUDED.crawled_at`, s.table)

	if _, err := s.pool.Exec(ctx, query, rec.Kind(), key, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Kind(), err)
	}
	return nil
}

func recordURL(rec record.Record) (string, error) {
	var u string
	switch r := rec.(type) {
	case record.Location:
		u = r.URL
	case record.ParishRegisterMetadata:
		u = r.URL
	case record.ImageManifest:
		u = r.RegisterURL
	case record.NewsfeedArticle:
		u = r.URL
	case record.EmptyParish, record.PlaceholderParish, record.Failure:
		return "", fmt.Errorf("%s records are not stored", rec.Kind())
	default:
		return "", fmt.Errorf("unhandled record kind %q", rec.Kind())
	}
	if u == "" {
		return "", fmt.Errorf("%s record has no url", rec.Kind())
	}
	return u, nil
}
