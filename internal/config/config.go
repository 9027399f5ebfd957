// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ResolverConfig bounds link resolution runs.
type ResolverConfig struct {
	MaxDepth      int      `mapstructure:"max_depth"`
	MaxLinks      int      `mapstructure:"max_links"`
	FanOut        int      `mapstructure:"fan_out"`
	Concurrency   int      `mapstructure:"concurrency"`
	SitemapPaths  []string `mapstructure:"sitemap_paths"`
	BlockedExts   []string `mapstructure:"blocked_extensions"`
	UserAgents    []string `mapstructure:"user_agents"`
	ArchiveLinks  bool     `mapstructure:"archive_links"`
	ArchivePrefix string   `mapstructure:"archive_prefix"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	MaxRedirects     int `mapstructure:"max_redirects"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateLimitConfig sets the per-host politeness limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// MailboxConfig holds OAuth and push-notification settings per provider.
type MailboxConfig struct {
	StateSecret string        `mapstructure:"state_secret"`
	EventsTopic string        `mapstructure:"events_topic"`
	Google      GoogleConfig  `mapstructure:"google"`
	Outlook     OutlookConfig `mapstructure:"outlook"`
}

// GoogleConfig configures the Gmail integration.
type GoogleConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	TopicName    string   `mapstructure:"topic_name"`
	LabelIDs     []string `mapstructure:"label_ids"`
}

// OutlookConfig configures the Microsoft Graph integration.
type OutlookConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ClientID        string   `mapstructure:"client_id"`
	ClientSecret    string   `mapstructure:"client_secret"`
	Tenant          string   `mapstructure:"tenant"`
	RedirectURL     string   `mapstructure:"redirect_url"`
	Scopes          []string `mapstructure:"scopes"`
	GraphBaseURL    string   `mapstructure:"graph_base_url"`
	NotificationURL string   `mapstructure:"notification_url"`
	ClientState     string   `mapstructure:"client_state"`
	WatchMinutes    int      `mapstructure:"watch_minutes"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory connection store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
	Migrate         bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// StorageConfig selects the blob backend for resolution snapshots.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROPSRC")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultSitemapPaths lists the well-known sitemap locations probed in order.
var DefaultSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap-index.xml",
	"/sitemap.php",
	"/sitemap.txt",
	"/sitemap.xml.gz",
	"/sitemap/",
	"/sitemap/sitemap.xml",
	"/sitemapindex.xml",
	"/sitemap/index.xml",
	"/sitemap1.xml",
	"/rss/",
	"/rss.xml",
	"/atom.xml",
	"/sitemap_index.xml",
}

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("resolver.max_depth", 3)
	v.SetDefault("resolver.max_links", 1000)
	v.SetDefault("resolver.fan_out", 5)
	v.SetDefault("resolver.concurrency", 8)
	v.SetDefault("resolver.sitemap_paths", DefaultSitemapPaths)
	v.SetDefault("resolver.blocked_extensions", []string{"pdf", "jpg", "jpeg", "png", "gif"})
	v.SetDefault("resolver.user_agents", DefaultUserAgents)
	v.SetDefault("resolver.archive_links", false)
	v.SetDefault("resolver.archive_prefix", "resolutions")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("ratelimit.rps", 10)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("mailbox.events_topic", "mailbox-connections")
	v.SetDefault("mailbox.google.scopes", []string{
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/gmail.send",
		"https://www.googleapis.com/auth/userinfo.email",
	})
	v.SetDefault("mailbox.google.label_ids", []string{"INBOX"})
	v.SetDefault("mailbox.outlook.tenant", "common")
	v.SetDefault("mailbox.outlook.scopes", []string{
		"offline_access",
		"https://graph.microsoft.com/Mail.Read",
		"https://graph.microsoft.com/Mail.Send",
		"https://graph.microsoft.com/User.Read",
	})
	v.SetDefault("mailbox.outlook.graph_base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mailbox.outlook.watch_minutes", 4230)
	v.SetDefault("db.table", "mailbox_connections")
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "data/resolutions")
	v.SetDefault("telemetry.service_name", "propsrc")
	v.SetDefault("telemetry.sample_ratio", 0.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Resolver.MaxDepth < 0 {
		return fmt.Errorf("resolver.max_depth must be >= 0")
	}
	if c.Resolver.MaxLinks <= 0 {
		return fmt.Errorf("resolver.max_links must be > 0")
	}
	if c.Resolver.FanOut <= 0 {
		return fmt.Errorf("resolver.fan_out must be > 0")
	}
	if c.Resolver.Concurrency <= 0 {
		return fmt.Errorf("resolver.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.Mailbox.Google.Enabled {
		if c.Mailbox.Google.ClientID == "" || c.Mailbox.Google.ClientSecret == "" {
			return fmt.Errorf("mailbox.google client_id and client_secret are required when enabled")
		}
		if c.Mailbox.Google.TopicName == "" {
			return fmt.Errorf("mailbox.google.topic_name is required when enabled")
		}
	}
	if c.Mailbox.Outlook.Enabled {
		if c.Mailbox.Outlook.ClientID == "" || c.Mailbox.Outlook.ClientSecret == "" {
			return fmt.Errorf("mailbox.outlook client_id and client_secret are required when enabled")
		}
		if c.Mailbox.Outlook.NotificationURL == "" {
			return fmt.Errorf("mailbox.outlook.notification_url is required when enabled")
		}
	}
	if (c.Mailbox.Google.Enabled || c.Mailbox.Outlook.Enabled) && strings.TrimSpace(c.Mailbox.StateSecret) == "" {
		return fmt.Errorf("mailbox.state_secret is required when a mailbox provider is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if _, err := c.DB.ConnLifetime(); err != nil {
		return err
	}
	return nil
}

// FetchTimeout is the ceiling for a single fetch attempt.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnLifetime parses the configured pool connection lifetime.
func (c DBConfig) ConnLifetime() (time.Duration, error) {
	if strings.TrimSpace(c.MaxConnLifetime) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MaxConnLifetime)
	if err != nil {
		return 0, fmt.Errorf("db.max_conn_lifetime: %w", err)
	}
	return d, nil
}
