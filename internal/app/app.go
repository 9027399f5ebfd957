// Package app wires configuration into long-lived services: the link
// resolver, the mailbox manager and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/v2"
	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/api"
	"github.com/JakeFAU/propsrc/internal/clock/system"
	"github.com/JakeFAU/propsrc/internal/config"
	"github.com/JakeFAU/propsrc/internal/crawler"
	collyfetcher "github.com/JakeFAU/propsrc/internal/fetcher/colly"
	"github.com/JakeFAU/propsrc/internal/fetcher/stream"
	"github.com/JakeFAU/propsrc/internal/id/uuid"
	"github.com/JakeFAU/propsrc/internal/mailbox"
	"github.com/JakeFAU/propsrc/internal/mailbox/google"
	"github.com/JakeFAU/propsrc/internal/mailbox/outlook"
	"github.com/JakeFAU/propsrc/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/propsrc/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/propsrc/internal/publisher/pubsub"
	"github.com/JakeFAU/propsrc/internal/storage/gcs"
	"github.com/JakeFAU/propsrc/internal/storage/local"
	memorystorage "github.com/JakeFAU/propsrc/internal/storage/memory"
	"github.com/JakeFAU/propsrc/internal/storage/postgres"
	"github.com/JakeFAU/propsrc/internal/telemetry"
)

// App holds the shared, long-lived services built from one Config.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	resolver  *crawler.Resolver
	mailboxes *mailbox.Manager
	server    *api.Server
	closers   []func()
}

// New builds every service described by cfg. On error, anything already
// opened is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	if a.resolver, err = a.buildResolver(ctx); err != nil {
		return nil, err
	}

	store, checks, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := buildProviders(cfg.Mailbox)
	if err != nil {
		return nil, err
	}
	a.mailboxes, err = mailbox.NewManager(
		store,
		providers,
		mailbox.NewStateCodec(cfg.Mailbox.StateSecret),
		publisher,
		uuid.New(),
		system.New(),
		mailbox.Config{EventsTopic: cfg.Mailbox.EventsTopic},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init mailbox manager: %w", err)
	}

	a.server = api.NewServer(a.resolver, a.mailboxes, cfg, logger, checks...)
	logger.Info("application services initialized",
		zap.Int("providers", len(providers)),
		zap.String("blob_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Resolver returns the link resolver.
func (a *App) Resolver() *crawler.Resolver { return a.resolver }

// Mailboxes returns the mailbox connection manager.
func (a *App) Mailboxes() *mailbox.Manager { return a.mailboxes }

// Server returns the HTTP API.
func (a *App) Server() *api.Server { return a.server }

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Resolve runs one link resolution.
func (a *App) Resolve(ctx context.Context, seedURL, mode string) (*crawler.Resolution, error) {
	return a.resolver.Resolve(ctx, seedURL, mode)
}

// Close releases services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// ResolverConfig maps service configuration onto resolver bounds.
func ResolverConfig(cfg config.Config) crawler.Config {
	rc := crawler.DefaultConfig()
	rc.MaxDepth = cfg.Resolver.MaxDepth
	rc.MaxLinks = cfg.Resolver.MaxLinks
	rc.FanOut = cfg.Resolver.FanOut
	rc.Concurrency = cfg.Resolver.Concurrency
	rc.Timeout = cfg.FetchTimeout()
	rc.MaxRetries = cfg.HTTP.MaxRetries
	if len(cfg.Resolver.SitemapPaths) > 0 {
		rc.SitemapPaths = cfg.Resolver.SitemapPaths
	}
	if len(cfg.Resolver.BlockedExts) > 0 {
		rc.BlockedExtensions = cfg.Resolver.BlockedExts
	}
	if len(cfg.Resolver.UserAgents) > 0 {
		rc.UserAgents = cfg.Resolver.UserAgents
	}
	return rc
}

func (a *App) buildResolver(ctx context.Context) (*crawler.Resolver, error) {
	cfg := a.cfg
	opts := []crawler.Option{
		crawler.WithLogger(a.logger),
		crawler.WithLimiter(ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})),
		crawler.WithRetryPolicy(crawler.NewExponentialRetryPolicy(
			cfg.HTTP.MaxRetries,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		)),
		crawler.WithClock(system.New()),
		crawler.WithIDGenerator(uuid.New()),
	}
	if cfg.Resolver.ArchiveLinks {
		blobs, err := a.buildBlobStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, crawler.WithArchive(blobs, cfg.Resolver.ArchivePrefix))
	}

	streams := stream.New(stream.Config{MaxRedirects: cfg.HTTP.MaxRedirects})
	pages := collyfetcher.New(collyfetcher.Config{
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})
	resolver, err := crawler.NewResolver(ResolverConfig(cfg), streams, pages, opts...)
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}
	return resolver, nil
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err := gcs.New(ctx, client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, VerifyBucket: true})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) buildStore(ctx context.Context) (mailbox.Store, []api.ReadinessCheck, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set; mailbox connections are kept in memory")
		return memorystorage.NewConnectionStore(), nil, nil
	}
	lifetime, err := a.cfg.DB.ConnLifetime()
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewConnectionStore(ctx, postgres.ConnectionStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: lifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	a.onClose(store.Close)
	if a.cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, err
		}
	}
	return store, []api.ReadinessCheck{store.Ping}, nil
}

func (a *App) buildPublisher(ctx context.Context) (mailbox.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsubapi.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.onClose(func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	})
	return publisher, nil
}

func buildProviders(cfg config.MailboxConfig) (map[mailbox.Provider]mailbox.ProviderClient, error) {
	providers := make(map[mailbox.Provider]mailbox.ProviderClient)
	var errs []error
	if cfg.Google.Enabled {
		client, err := google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       cfg.Google.Scopes,
			TopicName:    cfg.Google.TopicName,
			LabelIDs:     cfg.Google.LabelIDs,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("google: %w", err))
		} else {
			providers[mailbox.ProviderGoogle] = client
		}
	}
	if cfg.Outlook.Enabled {
		client, err := outlook.New(outlook.Config{
			ClientID:        cfg.Outlook.ClientID,
			ClientSecret:    cfg.Outlook.ClientSecret,
			Tenant:          cfg.Outlook.Tenant,
			RedirectURL:     cfg.Outlook.RedirectURL,
			Scopes:          cfg.Outlook.Scopes,
			GraphBaseURL:    cfg.Outlook.GraphBaseURL,
			NotificationURL: cfg.Outlook.NotificationURL,
			ClientState:     cfg.Outlook.ClientState,
			WatchMinutes:    cfg.Outlook.WatchMinutes,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("outlook: %w", err))
		} else {
			providers[mailbox.ProviderOutlook] = client
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("init mailbox providers: %w", err)
	}
	return providers, nil
}
