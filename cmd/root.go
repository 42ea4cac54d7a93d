// Package cmd defines and implements the CLI commands of the matricula-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/config"
	"github.com/JakeFAU/matricula-crawler/internal/console"
	"github.com/JakeFAU/matricula-crawler/internal/crawler"
	"github.com/JakeFAU/matricula-crawler/internal/logging"
	"github.com/JakeFAU/matricula-crawler/internal/metrics"
)

// Version is the bot version. Release builds set it with -ldflags.
var Version = "0.1.0"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles what every subcommand needs.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Reporter *console.Reporter

	stopMetrics context.CancelFunc
	metricsDone chan error
}

// Crawler builds a crawler from the loaded configuration.
func (a *App) Crawler() *crawler.Crawler {
	return a.CrawlerWithLogger(a.Logger)
}

// CrawlerWithLogger is Crawler logging to logger.
func (a *App) CrawlerWithLogger(logger *zap.Logger) *crawler.Crawler {
	return crawler.New(crawler.Config{
		BaseURL:   a.Config.Crawler.BaseURL,
		MaxPages:  a.Config.Crawler.MaxPages,
		Collector: a.Config.Crawler.Collector(),
	}, logger, crawler.WithReporter(a.Reporter))
}

// Close stops the metrics server and flushes the logger.
func (a *App) Close() {
	if a.stopMetrics != nil {
		a.stopMetrics()
		if err := <-a.metricsDone; err != nil {
			a.Logger.Warn("Metrics server stopped with error", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

type rootOptions struct {
	configFile  string
	metricsAddr string
	quiet       bool
	stderr      io.Writer
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, opts rootOptions) (*App, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Reporter: console.New(opts.stderr, console.WithQuiet(opts.quiet)),
	}
	if cfg.Metrics.Addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		app.stopMetrics = cancel
		app.metricsDone = make(chan error, 1)
		go func() { app.metricsDone <- metrics.Serve(mctx, cfg.Metrics.Addr, logger.Named("metrics")) }()
	} else {
		metrics.Init()
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := rootOptions{}
	cmd := &cobra.Command{
		Use:   "matricula-crawler",
		Short: "Crawler for the Matricula Online church register portal.",
		Long: `matricula-crawler lists parishes and their registers on Matricula Online,
downloads register scans and watches the site's newsfeed for keywords.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand's RunE and injects the App.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.stderr = cmd.ErrOrStderr()
			appInstance, err := newApp(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress console messages")

	cmd.AddCommand(newParishCmd(), newNewsfeedCmd(), newDigestCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		console.New(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}
