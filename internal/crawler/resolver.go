package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/propsrc/internal/crawler")

// Resolver turns a seed URL into a bounded set of in-scope URLs, preferring
// sitemap data and falling back to a same-origin crawl.
type Resolver struct {
	cfg           Config
	streams       StreamFetcher
	pages         PageFetcher
	limiter       Limiter
	retry         RetryPolicy
	agents        *userAgentPool
	blocked       *extensionBlocklist
	clock         Clock
	ids           IDGenerator
	blobs         BlobStore
	archivePrefix string
	logger        *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLimiter gates every attempt on a per-host limiter.
func WithLimiter(l Limiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Resolver) { r.retry = p }
}

// WithClock sets the clock used to stamp resolutions.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithIDGenerator sets the resolution ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Resolver) { r.ids = g }
}

// WithArchive stores a JSON snapshot of each resolution under prefix.
func WithArchive(store BlobStore, prefix string) Option {
	return func(r *Resolver) {
		r.blobs = store
		r.archivePrefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewResolver wires a resolver. streams serves sitemap traffic and pages
// serves HTML crawl traffic.
func NewResolver(cfg Config, streams StreamFetcher, pages PageFetcher, opts ...Option) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("resolver config: %w", err)
	}
	if streams == nil {
		return nil, errors.New("stream fetcher is required")
	}
	if pages == nil {
		return nil, errors.New("page fetcher is required")
	}
	r := &Resolver{
		cfg:     cfg,
		streams: streams,
		pages:   pages,
		retry:   NewExponentialRetryPolicy(cfg.MaxRetries, 250*time.Millisecond, 2*time.Second),
		agents:  newUserAgentPool(cfg.UserAgents),
		blocked: newExtensionBlocklist(cfg.BlockedExtensions),
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("resolver")
	return r, nil
}

// ResolveLinks returns only the link set of Resolve.
func (r *Resolver) ResolveLinks(ctx context.Context, seedURL, mode string) ([]string, error) {
	res, err := r.Resolve(ctx, seedURL, mode)
	if err != nil {
		return nil, err
	}
	return res.Links, nil
}

// Resolve produces the link set for seedURL. In page mode the seed origin is
// probed for a sitemap; in sitemap mode the seed is the sitemap itself. When
// the sitemap yields nothing, the site is crawled instead.
func (r *Resolver) Resolve(ctx context.Context, seedURL, mode string) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "crawler.Resolve", trace.WithAttributes(
		attribute.String("seed", seedURL),
		attribute.String("mode", mode),
	))
	defer span.End()

	res, err := r.resolve(ctx, seedURL, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("source", string(res.Source)),
		attribute.Int("links", len(res.Links)),
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, seedURL, mode string) (*Resolution, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	seed, err := ParseSeed(seedURL)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Seed: seed.String(), Mode: m, Source: SourceNone}
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("resolution id: %w", err)
		}
		res.ID = id
	}

	origin := Origin(seed)
	sitemapURL := seed.String()
	crawlStart := seed
	if m == ModePage {
		sitemapURL = r.discoverSitemap(ctx, origin)
	} else {
		crawlStart = seed.ResolveReference(rootRef)
	}

	if sitemapURL != "" {
		links, err := r.expandSitemap(ctx, sitemapURL, r.cfg.MaxLinks, nil)
		switch {
		case err != nil:
			r.logger.Warn("sitemap expansion failed", zap.String("sitemap", sitemapURL), zap.Error(err))
		case len(links) > 0:
			res.Source = SourceSitemap
			res.SitemapURL = sitemapURL
			res.Links = links
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", seed, err)
	}

	if res.Source == SourceNone {
		links, err := r.crawl(ctx, crawlStart)
		if err != nil {
			return nil, err
		}
		res.Source = SourceCrawl
		res.Links = links
	}

	res.ResolvedAt = r.clock.Now()
	metrics.ObserveResolution(string(res.Source), len(res.Links))
	r.logger.Info("links resolved",
		zap.String("seed", res.Seed),
		zap.String("mode", string(res.Mode)),
		zap.String("source", string(res.Source)),
		zap.Int("links", len(res.Links)),
	)

	if r.blobs != nil {
		uri, err := r.archive(ctx, res)
		if err != nil {
			r.logger.Warn("resolution archive failed", zap.String("seed", res.Seed), zap.Error(err))
		} else {
			res.ArtifactURI = uri
		}
	}
	return res, nil
}

func (r *Resolver) archive(ctx context.Context, res *Resolution) (string, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal resolution: %w", err)
	}
	name := res.ID
	if name == "" {
		name = res.ResolvedAt.Format("20060102T150405.000000000Z")
	}
	objectPath := path.Join(r.archivePrefix, res.ResolvedAt.Format("2006/01/02"), name+".json")
	return r.blobs.PutObject(ctx, objectPath, "application/json", bytes.NewReader(payload))
}
