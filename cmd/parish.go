package cmd

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/crawler"
	"github.com/JakeFAU/matricula-crawler/internal/images"
	"github.com/JakeFAU/matricula-crawler/internal/matricula"
	"github.com/JakeFAU/matricula-crawler/internal/sink"
	gcsstore "github.com/JakeFAU/matricula-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/matricula-crawler/internal/storage/local"
)

func newParishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parish",
		Short: "List parishes, show their registers and download register scans",
	}
	cmd.AddCommand(newParishFetchCmd(), newParishListCmd(), newParishShowCmd())
	return cmd
}

func newParishFetchCmd() *cobra.Command {
	var (
		directory   string
		postgresDSN string
	)
	cmd := &cobra.Command{
		Use:   "fetch [register-url...]",
		Short: "Download every scan of one or more church registers",
		Long: `Downloads the scanned pages of church registers, for example
https://data.matricula-online.eu/de/deutschland/augsburg/aach/1-THS/

A '?pg=N' parameter may be part of the URL and is ignored. Without URL
arguments, URLs are read line by line from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls, err := readURLs(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			registers := validRegisterURLs(app, urls)
			if len(registers) == 0 {
				return errors.New("none of the provided URLs is a church register")
			}
			if directory != "" {
				app.Config.Images.Provider = "local"
				app.Config.Images.Dir = directory
			}
			return runParishFetch(cmd.Context(), app, registers, postgresDSN)
		},
	}
	cmd.Flags().StringVarP(&directory, "directory", "d", "", "directory to save the image files in (default from config)")
	cmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "also upsert the image manifests into Postgres")
	return cmd
}

// validRegisterURLs reports and drops URLs that are not register pages.
func validRegisterURLs(app *App, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := matricula.Parse(raw)
		if !u.IsParishRegister() {
			app.Reporter.Error(fmt.Sprintf("Invalid URL: %s - Not a church register page, skipping.", raw))
			app.Logger.Debug("Skipping URL", zap.String("url", raw), zap.Stringer("kind", u.Kind()))
			continue
		}
		out = append(out, raw)
	}
	return out
}

func runParishFetch(ctx context.Context, app *App, registers []string, postgresDSN string) error {
	store, closeStore, err := openBlobStore(ctx, app)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			app.Logger.Warn("Failed to close blob store", zap.Error(cerr))
		}
	}()

	downloader, err := images.New(images.Config{
		Collector:     app.Config.Crawler.Collector(),
		RatePerSecond: app.Config.Images.RatePerSecond,
		SkipExisting:  app.Config.Images.SkipExisting,
	}, store, app.Logger)
	if err != nil {
		return fmt.Errorf("init downloader: %w", err)
	}
	var out sink.Sink = downloader
	records, err := openRecordStore(ctx, app, postgresDSN)
	if err != nil {
		return err
	}
	if records != nil {
		out = sink.Multi{downloader, records}
	}

	recs := app.Crawler().Manifests(ctx, registers)
	stats, err := sink.Drain(ctx, recs, out, app.Reporter, app.Logger)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	dl := downloader.Stats()
	app.Logger.Info("Fetched registers",
		zap.Int("manifests", stats.Written),
		zap.Int("failures", stats.Failures),
		zap.Int("stored", dl.Stored),
		zap.Int("skipped", dl.Skipped),
		zap.Int("failed", dl.Failed),
	)
	if dl.Failed > 0 {
		app.Reporter.Warning(fmt.Sprintf("%d images could not be downloaded.", dl.Failed))
	}
	app.Reporter.Success("Finished scraping church register images.")
	return nil
}

// openBlobStore builds the configured image store and its cleanup.
func openBlobStore(ctx context.Context, app *App) (images.BlobStore, func() error, error) {
	cfg := app.Config.Images
	switch cfg.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		app.Logger.Info("Storing images in GCS", zap.String("bucket", cfg.GCSBucket), zap.String("prefix", cfg.GCSPrefix))
		return store, client.Close, nil
	default:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, err
		}
		app.Logger.Info("Storing images on disk", zap.String("dir", cfg.Dir))
		return store, func() error { return nil }, nil
	}
}

func newParishListCmd() *cobra.Command {
	var (
		out                outputFlags
		params             = crawler.DefaultSearchParams()
		dateRange          []int
		excludeCoordinates bool
	)
	cmd := &cobra.Command{
		Use:   "list [output-name]",
		Short: "List available parishes",
		Long: `Scrapes the list of all parishes Matricula holds digitized records for,
together with their metadata. Without search parameters this fetches every
location and takes a while.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			name := "matricula_locations"
			if len(args) == 1 {
				name = args[0]
			}
			if cmd.Flags().Changed("date-range") {
				if len(dateRange) != 2 {
					return errors.New("--date-range takes two years, e.g. --date-range 1600,1700")
				}
				params.DateFrom, params.DateTo = dateRange[0], dateRange[1]
			}
			if params.Place == "" && params.Diocese == "" && !params.DateFilter && !cmd.Flags().Changed("date-range") {
				app.Reporter.Warning("No search parameters provided. Fetching all available locations. This might take some time.")
			}
			s, path, err := out.open(cmd.Context(), app, name)
			if err != nil {
				return err
			}
			recs := app.Crawler().Locations(cmd.Context(), crawler.LocationOptions{
				Search:      params,
				Coordinates: !excludeCoordinates,
			})
			return drain(cmd.Context(), app, recs, s, path, false)
		},
	}
	out.register(cmd)
	cmd.Flags().StringVar(&params.Place, "place", "", "full text search for a location")
	cmd.Flags().StringVar(&params.Diocese, "diocese", "", "diocese id, see the website for the list of dioceses")
	cmd.Flags().BoolVar(&params.DateFilter, "date-filter", false, "enable the date filter")
	cmd.Flags().IntSliceVar(&dateRange, "date-range", nil, "filter by the dates of the parish registers (from,to)")
	cmd.Flags().BoolVar(&excludeCoordinates, "exclude-coordinates", false, "skip parish coordinates, which speeds up the crawl")
	return cmd
}

func newParishShowCmd() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "show <parish-url> [output-name]",
		Short: "Show the registers of a parish and their metadata",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !matricula.Parse(args[0]).IsParishPage() {
				return fmt.Errorf("invalid URL: %s - not a parish page, e.g. https://data.matricula-online.eu/de/oesterreich/kaernten-evAB/eisentratten/", args[0])
			}
			name := "matricula_registers"
			if len(args) == 2 {
				name = args[1]
			}
			s, path, err := out.open(cmd.Context(), app, name)
			if err != nil {
				return err
			}
			return drain(cmd.Context(), app, app.Crawler().Registers(cmd.Context(), args[:1]), s, path, false)
		},
	}
	out.register(cmd)
	return cmd
}
