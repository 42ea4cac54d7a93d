package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
	"github.com/JakeFAU/matricula-crawler/internal/sink"
	"github.com/JakeFAU/matricula-crawler/internal/storage/postgres"
)

// outputFlags are shared by every command writing a record file.
type outputFlags struct {
	format   string
	append   bool
	postgres string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "output file format: csv or jsonl (default from config)")
	cmd.Flags().BoolVar(&o.append, "append", false, "append to an existing output file")
	cmd.Flags().StringVar(&o.postgres, "postgres-dsn", "", "also upsert records into Postgres")
}

// open returns the record sink for name plus the path it writes to.
func (o *outputFlags) open(ctx context.Context, app *App, name string) (sink.Sink, string, error) {
	raw := o.format
	if raw == "" {
		raw = app.Config.Output.Format
	}
	format, err := sink.ParseFormat(raw)
	if err != nil {
		return nil, "", err
	}
	path := sink.OutputPath(name, format)
	file, err := sink.OpenFile(path, format, o.append)
	if err != nil {
		if errors.Is(err, sink.ErrOutputExists) {
			return nil, "", fmt.Errorf("output file already exists: %s. Use the option '--append' if you want to append to the file", path)
		}
		return nil, "", err
	}
	store, err := openRecordStore(ctx, app, o.postgres)
	if err != nil {
		_ = file.Close()
		return nil, "", err
	}
	if store == nil {
		return file, path, nil
	}
	return sink.Multi{file, store}, path, nil
}

// openRecordStore connects to Postgres when a DSN is given on the command
// line or in the config. It returns nil otherwise.
func openRecordStore(ctx context.Context, app *App, dsn string) (sink.Sink, error) {
	if dsn == "" {
		dsn = app.Config.Postgres.DSN
	}
	if dsn == "" {
		return nil, nil
	}
	store, err := postgres.NewRecordStore(ctx, postgres.Config{DSN: dsn, Table: app.Config.Postgres.Table})
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	app.Logger.Info("Postgres record sink enabled", zap.String("table", app.Config.Postgres.Table))
	return store, nil
}

// drain writes recs into out, closes it and reports the outcome. With
// strict set, any failure record fails the command.
func drain(ctx context.Context, app *App, recs <-chan record.Record, out sink.Sink, path string, strict bool) error {
	stats, err := sink.Drain(ctx, recs, out, app.Reporter, app.Logger)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	app.Logger.Info("Crawl finished",
		zap.Int("written", stats.Written),
		zap.Int("empty_parishes", stats.Empty),
		zap.Int("placeholder_parishes", stats.Placeholders),
		zap.Int("failures", stats.Failures),
	)
	if err != nil {
		return err
	}
	if strict && stats.Failures > 0 {
		return fmt.Errorf("%d pages could not be fetched, output in %s is incomplete", stats.Failures, path)
	}
	app.Reporter.Success(fmt.Sprintf("Scraping completed successfully. Output saved to: %s", path))
	return nil
}

// readURLs returns args, or the non-empty lines of in when args is empty and
// in is not an interactive terminal.
func readURLs(args []string, in io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return nil, errors.New("no URLs provided. Please provide at least one URL as argument or via stdin")
	}
	var urls []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(urls) == 0 {
		return nil, errors.New("no URLs provided via stdin. Please provide at least one URL as argument or via stdin")
	}
	return urls, nil
}
