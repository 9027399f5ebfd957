package mailbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/logging"
	"github.com/JakeFAU/propsrc/internal/metrics"
)

// Config holds manager settings.
type Config struct {
	// EventsTopic receives lifecycle events. Empty disables publishing.
	EventsTopic string
}

// Manager owns connection lifecycles across providers.
type Manager struct {
	store     Store
	providers map[Provider]ProviderClient
	codec     *StateCodec
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// NewManager wires a Manager. publisher may be nil.
func NewManager(
	store Store,
	providers map[Provider]ProviderClient,
	codec *StateCodec,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) (*Manager, error) {
	if store == nil {
		return nil, errors.New("mailbox store is required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if codec == nil {
		codec = NewStateCodec("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		providers: providers,
		codec:     codec,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("mailbox"),
	}, nil
}

// Providers lists the configured providers in name order.
func (m *Manager) Providers() []Provider {
	out := make([]Provider, 0, len(m.providers))
	for p := range m.providers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) client(p Provider) (ProviderClient, error) {
	c, ok := m.providers[p]
	if !ok || c == nil {
		return nil, invalidInput("provider %q is not configured", p)
	}
	return c, nil
}

// GenerateAuthorizationURL builds the consent URL for meta.Provider with meta
// embedded as state. It has no side effects.
func (m *Manager) GenerateAuthorizationURL(meta Metadata) (string, error) {
	client, err := m.client(meta.Provider)
	if err != nil {
		return "", err
	}
	if _, err := ParsePurpose(string(meta.Purpose)); err != nil {
		return "", err
	}
	if meta.Frequency != nil && *meta.Frequency <= 0 {
		return "", invalidInput("frequency must be positive minutes or unset")
	}
	state, err := m.codec.Encode(meta)
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges code, registers a watch and upserts the
// connection. The organization comes from state, else fallbackOrg. When the
// watch cannot be registered nothing is persisted.
func (m *Manager) CompleteAuthorization(ctx context.Context, provider Provider, code, state, fallbackOrg string) (auth *Authorization, err error) {
	defer func() {
		metrics.ObserveMailboxTransition(string(provider), "connect", err)
	}()

	if strings.TrimSpace(code) == "" {
		return nil, invalidInput("authorization code is required")
	}
	meta := m.codec.Decode(state)
	if provider == "" {
		provider = meta.Provider
	}
	client, err := m.client(provider)
	if err != nil {
		return nil, err
	}

	creds, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", provider, err)
	}
	m.logger.Debug("authorization code exchanged",
		zap.String("provider", string(provider)),
		zap.String("access_token", logging.Redact(creds.AccessToken)),
		zap.Time("expires_at", creds.ExpiresAt),
	)

	address, err := client.AuthenticatedAddress(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("fetch %s mailbox address: %w", provider, err)
	}
	email := NormalizeEmail(address)
	if email == "" {
		return nil, fmt.Errorf("fetch %s mailbox address: empty address", provider)
	}

	if meta.OrganizationID == "" {
		meta.OrganizationID = strings.TrimSpace(fallbackOrg)
	}
	if meta.OrganizationID == "" {
		return nil, invalidInput("organization is missing from state")
	}
	meta.Provider = provider

	watch, err := client.Watch(ctx, creds)
	if err != nil {
		return nil, watchFailure(provider, err)
	}
	connected, err := connect(creds, watch)
	if err != nil {
		return nil, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("connection id: %w", err)
	}
	now := m.clock.Now()
	stored, err := m.store.Upsert(ctx, Connection{
		ID:             id,
		OrganizationID: meta.OrganizationID,
		Email:          email,
		Provider:       provider,
		Purpose:        meta.Purpose,
		Frequency:      meta.Frequency,
		State:          connected,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		m.stopWatch(ctx, provider, client, creds, watch)
		return nil, fmt.Errorf("store connection %s: %w", email, err)
	}

	m.logger.Info("mailbox connected",
		zap.String("organization_id", stored.OrganizationID),
		zap.String("email", stored.Email),
		zap.String("provider", string(provider)),
		zap.Time("watch_expiration", watch.Expiration),
	)
	m.publish(ctx, newEvent(EventConnected, stored, now))

	return &Authorization{
		Credentials: creds,
		Email:       email,
		Metadata:    meta,
		Connection:  stored,
	}, nil
}

// RegisterWatch starts push notifications for creds with provider. It is
// exposed for re-registration by callers; nothing renews watches automatically.
func (m *Manager) RegisterWatch(ctx context.Context, provider Provider, creds Credentials) (Watch, error) {
	client, err := m.client(provider)
	if err != nil {
		return Watch{}, err
	}
	watch, err := client.Watch(ctx, creds)
	if err != nil {
		return Watch{}, watchFailure(provider, err)
	}
	if watch.Handle == "" {
		return Watch{}, watchFailure(provider, errEmptyWatchHandle)
	}
	return watch, nil
}

// Disconnect deletes the connection, then stops its watch on a best-effort
// basis with the credentials read before deletion.
func (m *Manager) Disconnect(ctx context.Context, orgID, email string) (err error) {
	var provider Provider
	defer func() {
		metrics.ObserveMailboxTransition(string(provider), "remove", err)
	}()

	orgID, email, err = keys(orgID, email)
	if err != nil {
		return err
	}
	conn, err := m.store.Get(ctx, orgID, email)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", email, err)
	}
	provider = conn.Provider

	if err := m.store.Delete(ctx, orgID, email); err != nil {
		return fmt.Errorf("delete connection %s: %w", email, err)
	}
	m.logger.Info("mailbox removed",
		zap.String("organization_id", orgID),
		zap.String("email", email),
		zap.String("provider", string(provider)),
	)

	if client, cerr := m.client(provider); cerr != nil {
		m.logger.Warn("cannot stop watch", zap.String("email", email), zap.Error(stopWatchFailure(provider, cerr)))
	} else if conn.State != nil {
		m.stopWatch(ctx, provider, client, conn.State.Credentials(), conn.State.Watch())
	}

	ev := newEvent(EventRemoved, conn, m.clock.Now())
	ev.Active = false
	m.publish(ctx, ev)
	return nil
}

// MarkDisconnected keeps the row but flips it inactive with reason. An
// already disconnected connection is returned unchanged.
func (m *Manager) MarkDisconnected(ctx context.Context, orgID, email, reason string) (conn Connection, err error) {
	defer func() {
		metrics.ObserveMailboxTransition(string(conn.Provider), "disconnect", err)
	}()

	orgID, email, err = keys(orgID, email)
	if err != nil {
		return Connection{}, err
	}
	conn, err = m.store.Get(ctx, orgID, email)
	if err != nil {
		return Connection{}, fmt.Errorf("mark disconnected %s: %w", email, err)
	}
	connected, ok := conn.State.(Connected)
	if !ok {
		return conn, nil
	}

	now := m.clock.Now()
	conn.State = connected.Disconnect(strings.TrimSpace(reason))
	conn.UpdatedAt = now
	stored, err := m.store.Upsert(ctx, conn)
	if err != nil {
		return Connection{}, fmt.Errorf("store connection %s: %w", email, err)
	}
	m.logger.Info("mailbox disconnected",
		zap.String("organization_id", orgID),
		zap.String("email", email),
		zap.String("reason", reason),
	)
	m.publish(ctx, newEvent(EventDisconnected, stored, now))
	return stored, nil
}

// Get returns one connection.
func (m *Manager) Get(ctx context.Context, orgID, email string) (Connection, error) {
	orgID, email, err := keys(orgID, email)
	if err != nil {
		return Connection{}, err
	}
	conn, err := m.store.Get(ctx, orgID, email)
	if err != nil {
		return Connection{}, fmt.Errorf("get connection %s: %w", email, err)
	}
	return conn, nil
}

// List returns every connection for orgID.
func (m *Manager) List(ctx context.Context, orgID string) ([]Connection, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, invalidInput("organization id is required")
	}
	conns, err := m.store.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

func (m *Manager) stopWatch(ctx context.Context, provider Provider, client ProviderClient, creds Credentials, watch Watch) {
	if err := client.StopWatch(ctx, creds, watch); err != nil {
		m.logger.Warn("stop watch failed",
			zap.String("provider", string(provider)),
			zap.String("watch_handle", watch.Handle),
			zap.Error(stopWatchFailure(provider, err)),
		)
	}
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.publisher == nil || m.cfg.EventsTopic == "" {
		return
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.EventsTopic, ev); err != nil {
		m.logger.Warn("publish lifecycle event failed",
			zap.String("type", ev.Type),
			zap.String("email", ev.Email),
			zap.Error(err),
		)
	}
}

func keys(orgID, email string) (string, string, error) {
	orgID = strings.TrimSpace(orgID)
	email = NormalizeEmail(email)
	if orgID == "" {
		return "", "", invalidInput("organization id is required")
	}
	if email == "" {
		return "", "", invalidInput("email is required")
	}
	return orgID, email, nil
}
