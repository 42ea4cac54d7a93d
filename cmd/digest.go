package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/clock/system"
	"github.com/JakeFAU/matricula-crawler/internal/config"
	"github.com/JakeFAU/matricula-crawler/internal/digest"
	"github.com/JakeFAU/matricula-crawler/internal/id/uuid"
	"github.com/JakeFAU/matricula-crawler/internal/logging"
	pubsubpublisher "github.com/JakeFAU/matricula-crawler/internal/publisher/pubsub"
)

// digestLogFile is the job log inside the app dir. It is versioned by major
// version only so minor releases keep appending to the same file.
func digestLogFile(appDir, version string) string {
	major, _, _ := strings.Cut(version, ".")
	return filepath.Join(appDir, fmt.Sprintf("matricula-newsfeed-mailer.v%s.log", major))
}

func newDigestCmd() *cobra.Command {
	var (
		keywords     []string
		scrapePeriod int
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Mail newsfeed articles matching keywords",
		Long: `Fetches the newsfeed of the last scrape_period days, keeps the articles
whose headline or preview mention a keyword and sends those not reported by
the previous run. Meant to run periodically; pick a scrape period one day
longer than the interval so no article falls between two runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			settings := app.Config.Digest
			if cmd.Flags().Changed("keywords") {
				settings.Keywords = keywords
			}
			if cmd.Flags().Changed("scrape-period") {
				settings.ScrapePeriod = scrapePeriod
			}
			return runDigest(cmd.Context(), app, settings, verbose)
		},
	}
	cmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "keywords to look for (default from config)")
	cmd.Flags().IntVarP(&scrapePeriod, "scrape-period", "p", 0, "days to scrape back, today included (default from config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also write the job log to stderr")
	return cmd
}

func runDigest(ctx context.Context, app *App, settings config.DigestConfig, verbose bool) error {
	jobID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	logPath := digestLogFile(settings.AppDir, Version)
	logger, closeLog, err := logging.NewJobFile(logging.JobFileConfig{
		Path:    logPath,
		JobID:   jobID,
		Version: Version,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	if verbose {
		logger.Warn("Verbose mode enabled, logging to stderr too", zap.String("log_file", logPath))
	}

	notifier, closeNotifier, err := buildNotifier(ctx, app)
	if err != nil {
		logger.Error("Could not set up notifier", zap.Error(err))
		return err
	}
	defer func() {
		if cerr := closeNotifier(); cerr != nil {
			logger.Warn("Failed to close notifier", zap.Error(cerr))
		}
	}()

	fetcher, err := buildFetcher(app, logger)
	if err != nil {
		logger.Error("Could not set up fetcher", zap.Error(err))
		return err
	}

	job, err := digest.New(digest.Config{
		AppDir:        settings.AppDir,
		JobID:         jobID,
		Version:       Version,
		ScrapePeriod:  settings.ScrapePeriod,
		Keywords:      settings.Keywords,
		HistoryLimit:  settings.HistoryLimit,
		RecipientName: app.Config.Mail.RecipientName,
	}, fetcher, notifier, system.NewLocal(), nil, logger)
	if err != nil {
		return err
	}
	logger.Info("Digest job started", zap.Int("scrape_period", settings.ScrapePeriod), zap.Strings("keywords", settings.Keywords))
	res, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("digest job %s failed, see %s: %w", jobID, logPath, err)
	}
	switch res.Outcome {
	case digest.OutcomeNotified:
		app.Reporter.Success(fmt.Sprintf("Sent %d new matches.", res.New))
	default:
		app.Reporter.Info("No new matches.")
	}
	return nil
}

func buildNotifier(ctx context.Context, app *App) (digest.Notifier, func() error, error) {
	if app.Config.Digest.Notifier == "pubsub" {
		pub, err := pubsubpublisher.Dial(ctx, app.Config.PubSub.ProjectID, app.Config.PubSub.Topic)
		if err != nil {
			return nil, nil, err
		}
		return digest.NewPublishNotifier(pub, app.Config.PubSub.Topic), pub.Close, nil
	}
	m := app.Config.Mail
	n, err := digest.NewSMTPNotifier(digest.MailConfig{
		From:     m.From,
		Password: m.Password,
		To:       m.To,
		Server:   m.SMTPServer,
		Port:     m.SMTPPort,
		Timeout:  m.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return n, func() error { return nil }, nil
}

func buildFetcher(app *App, logger *zap.Logger) (digest.Fetcher, error) {
	if exe := app.Config.Digest.Executable; exe != "" {
		return digest.NewExecFetcher(exe, logger)
	}
	return digest.NewCrawlFetcher(app.CrawlerWithLogger(logger), Version, logger), nil
}
