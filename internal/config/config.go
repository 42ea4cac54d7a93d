// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	collyfetcher "github.com/JakeFAU/matricula-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/matricula-crawler/internal/matricula"
)

// EnvPrefix prefixes every environment override, e.g. MATRICULA_MAIL_PASSWORD.
const EnvPrefix = "MATRICULA"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Images   ImagesConfig   `mapstructure:"images"`
	Output   OutputConfig   `mapstructure:"output"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Digest   DigestConfig   `mapstructure:"digest"`
	Mail     MailConfig     `mapstructure:"mail"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CrawlerConfig governs the collectors and the crawl pipelines.
type CrawlerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Concurrency    int           `mapstructure:"concurrency"`
	Delay          time.Duration `mapstructure:"delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxPages       int           `mapstructure:"max_pages"`
}

// Collector converts the crawler settings for collyfetcher.
func (c CrawlerConfig) Collector() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:      c.UserAgent,
		Concurrency:    c.Concurrency,
		Delay:          c.Delay,
		RequestTimeout: c.RequestTimeout,
		MaxRetries:     c.MaxRetries,
		BackoffInitial: c.BackoffInitial,
		BackoffMax:     c.BackoffMax,
	}
}

// ImagesConfig selects where downloaded scans are stored.
type ImagesConfig struct {
	Provider      string  `mapstructure:"provider"`
	Dir           string  `mapstructure:"dir"`
	GCSBucket     string  `mapstructure:"gcs_bucket"`
	GCSPrefix     string  `mapstructure:"gcs_prefix"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	SkipExisting  bool    `mapstructure:"skip_existing"`
}

// OutputConfig sets the default record file format.
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// PostgresConfig enables the relational record sink when DSN is set.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// DigestConfig controls the newsfeed digest job.
type DigestConfig struct {
	AppDir       string   `mapstructure:"app_dir"`
	ScrapePeriod int      `mapstructure:"scrape_period"`
	Keywords     []string `mapstructure:"keywords"`
	HistoryLimit int      `mapstructure:"history_limit"`
	// Notifier is "smtp" or "pubsub".
	Notifier string `mapstructure:"notifier"`
	// Executable, when set, fetches by running that crawler binary instead
	// of crawling in process.
	Executable string `mapstructure:"executable"`
}

// MailConfig holds the SMTP account the digest mails from.
type MailConfig struct {
	From          string        `mapstructure:"from"`
	Password      string        `mapstructure:"password"`
	To            string        `mapstructure:"to"`
	SMTPServer    string        `mapstructure:"smtp_server"`
	SMTPPort      int           `mapstructure:"smtp_port"`
	RecipientName string        `mapstructure:"recipient_name"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PubSubConfig holds the topic digest notifications are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig enables the metrics server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	dir, err := expandHome(cfg.Digest.AppDir)
	if err != nil {
		return Config{}, err
	}
	cfg.Digest.AppDir = dir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", matricula.BaseURL)
	v.SetDefault("crawler.user_agent", "matricula-crawler/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay", 0)
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial", 500*time.Millisecond)
	v.SetDefault("crawler.backoff_max", 10*time.Second)
	v.SetDefault("crawler.max_pages", 10000)
	v.SetDefault("images.provider", "local")
	v.SetDefault("images.dir", "matricula-images")
	v.SetDefault("images.gcs_prefix", "")
	v.SetDefault("images.rate_per_second", 2.0)
	v.SetDefault("images.skip_existing", true)
	v.SetDefault("output.format", "csv")
	v.SetDefault("postgres.table", "matricula_records")
	v.SetDefault("digest.app_dir", "~/.matricula-online-scraper")
	v.SetDefault("digest.scrape_period", 1)
	v.SetDefault("digest.keywords", []string{})
	v.SetDefault("digest.history_limit", 10)
	v.SetDefault("digest.notifier", "smtp")
	v.SetDefault("digest.executable", "")
	v.SetDefault("mail.smtp_server", "")
	v.SetDefault("mail.smtp_port", 465)
	v.SetDefault("mail.recipient_name", "User")
	v.SetDefault("mail.timeout", 30*time.Second)
	v.SetDefault("pubsub.topic", "matricula-digest")
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
	// AutomaticEnv only overrides keys Viper knows about.
	for _, key := range []string{"mail.from", "mail.password", "mail.to", "pubsub.project_id", "postgres.dsn", "images.gcs_bucket"} {
		v.SetDefault(key, "")
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate enforces required values and reasonable limits. Settings needed
// by a single command only, like mail credentials, are checked where they
// are used.
func (c Config) Validate() error {
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	switch c.Images.Provider {
	case "local":
		if c.Images.Dir == "" {
			return fmt.Errorf("images.dir is required for the local provider")
		}
	case "gcs":
		if c.Images.GCSBucket == "" {
			return fmt.Errorf("images.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("images.provider must be local or gcs, got %q", c.Images.Provider)
	}
	switch c.Output.Format {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("output.format must be csv or jsonl, got %q", c.Output.Format)
	}
	if c.Digest.ScrapePeriod <= 0 {
		return fmt.Errorf("digest.scrape_period must be > 0")
	}
	if c.Digest.HistoryLimit < 0 {
		return fmt.Errorf("digest.history_limit must be >= 0")
	}
	switch c.Digest.Notifier {
	case "smtp", "pubsub":
	default:
		return fmt.Errorf("digest.notifier must be smtp or pubsub, got %q", c.Digest.Notifier)
	}
	return nil
}
