// Package api exposes the HTTP interface for link resolution and mailbox connections.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/config"
	"github.com/JakeFAU/propsrc/internal/crawler"
	"github.com/JakeFAU/propsrc/internal/mailbox"
	"github.com/JakeFAU/propsrc/internal/metrics"
)

// LinkResolver resolves a seed URL into its in-scope links.
type LinkResolver interface {
	Resolve(ctx context.Context, seedURL, mode string) (*crawler.Resolution, error)
}

// MailboxManager owns mailbox connection lifecycles.
type MailboxManager interface {
	Providers() []mailbox.Provider
	GenerateAuthorizationURL(meta mailbox.Metadata) (string, error)
	CompleteAuthorization(ctx context.Context, provider mailbox.Provider, code, state, fallbackOrg string) (*mailbox.Authorization, error)
	Disconnect(ctx context.Context, orgID, email string) error
	MarkDisconnected(ctx context.Context, orgID, email, reason string) (mailbox.Connection, error)
	Get(ctx context.Context, orgID, email string) (mailbox.Connection, error)
	List(ctx context.Context, orgID string) ([]mailbox.Connection, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// OrganizationHeader carries the caller's organization on the OAuth callback.
const OrganizationHeader = "X-Organization-ID"

const defaultRequestTimeout = 60 * time.Second

// Server wires HTTP handlers to the resolver and the mailbox manager.
type Server struct {
	router    chi.Router
	resolver  LinkResolver
	mailboxes MailboxManager
	checks    []ReadinessCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	resolver LinkResolver,
	mailboxes MailboxManager,
	cfg config.Config,
	logger *zap.Logger,
	checks ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		resolver:  resolver,
		mailboxes: mailboxes,
		checks:    checks,
		logger:    logger.Named("api"),
	}

	timeout := defaultRequestTimeout
	if cfg.Server.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Server.RequestTimeout) * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/links/resolve", s.resolveLinks)
		r.Get("/mailboxes/providers", s.listProviders)
		r.Get("/mailboxes/{provider}/callback", s.completeAuthorization)
		r.Route("/orgs/{org_id}/mailboxes", func(r chi.Router) {
			r.Get("/", s.listConnections)
			r.Post("/authorize", s.authorize)
			r.Route("/{email}", func(r chi.Router) {
				r.Get("/", s.getConnection)
				r.Delete("/", s.disconnect)
				r.Post("/deactivate", s.deactivate)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
