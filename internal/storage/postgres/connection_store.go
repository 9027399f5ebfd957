// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/propsrc/internal/mailbox"
)

const defaultTable = "mailbox_connections"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ConnectionStoreConfig controls the Postgres connection pool used for mailbox rows.
type ConnectionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ConnectionStore persists mailbox connections, one row per (organization, email).
type ConnectionStore struct {
	pool  querier
	table string
}

var _ mailbox.Store = (*ConnectionStore)(nil)

// NewConnectionStore creates a Postgres-backed ConnectionStore using the provided config.
func NewConnectionStore(ctx context.Context, cfg ConnectionStoreConfig) (*ConnectionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ConnectionStore{pool: pool, table: table}, nil
}

// NewConnectionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewConnectionStoreWithPool(pool querier, table string) (*ConnectionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ConnectionStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ConnectionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ConnectionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the connections table when it does not exist.
func (s *ConnectionStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	email TEXT NOT NULL,
	provider TEXT NOT NULL,
	purpose TEXT NOT NULL DEFAULT '',
	frequency INTEGER,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at BIGINT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL,
	watch_history_id TEXT,
	watch_subscription_id TEXT,
	watch_expiration BIGINT,
	disconnect_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (organization_id, email)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

const selectColumns = `id, organization_id, email, provider, purpose, frequency,
	access_token, refresh_token, expires_at, is_active,
	watch_history_id, watch_subscription_id, watch_expiration, disconnect_reason,
	created_at, updated_at`

// Get returns the connection stored for (orgID, email).
func (s *ConnectionStore) Get(ctx context.Context, orgID, email string) (mailbox.Connection, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE organization_id = $1 AND email = $2`, selectColumns, s.table)
	conn, err := scanConnection(s.pool.QueryRow(ctx, query, orgID, mailbox.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return mailbox.Connection{}, fmt.Errorf("connection %s/%s: %w", orgID, email, mailbox.ErrNotFound)
	}
	if err != nil {
		return mailbox.Connection{}, fmt.Errorf("select connection: %w", err)
	}
	return conn, nil
}

// List returns an organization's connections ordered by email.
func (s *ConnectionStore) List(ctx context.Context, orgID string) ([]mailbox.Connection, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE organization_id = $1 ORDER BY email`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []mailbox.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// Upsert writes the connection keyed by (organization, email). The existing
// row keeps its id and created_at.
func (s *ConnectionStore) Upsert(ctx context.Context, conn mailbox.Connection) (mailbox.Connection, error) {
	if conn.ID == "" {
		return mailbox.Connection{}, fmt.Errorf("connection id is required")
	}
	if conn.State == nil {
		return mailbox.Connection{}, fmt.Errorf("connection state is required")
	}
	conn.Email = mailbox.NormalizeEmail(conn.Email)
	r := toRow(conn)

	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	id,
	organization_id,
	email,
	provider,
	purpose,
	frequency,
	access_token,
	refresh_token,
	expires_at,
	is_active,
	watch_history_id,
	watch_subscription_id,
	watch_expiration,
	disconnect_reason,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (organization_id, email) DO UPDATE SET
	provider = EXCLUDED.provider,
	purpose = EXCLUDED.purpose,
	frequency = EXCLUDED.frequency,
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	is_active = EXCLUDED.is_active,
	watch_history_id = EXCLUDED.watch_history_id,
	watch_subscription_id = EXCLUDED.watch_subscription_id,
	watch_expiration = EXCLUDED.watch_expiration,
	disconnect_reason = EXCLUDED.disconnect_reason,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at`, s.table)

	args := []any{
		conn.ID,
		conn.OrganizationID,
		conn.Email,
		string(conn.Provider),
		string(conn.Purpose),
		conn.Frequency,
		r.accessToken,
		r.refreshToken,
		r.expiresAt,
		r.active,
		r.historyID,
		r.subscriptionID,
		r.watchExpiration,
		r.reason,
		conn.CreatedAt,
		conn.UpdatedAt,
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&conn.ID, &conn.CreatedAt); err != nil {
		return mailbox.Connection{}, fmt.Errorf("upsert connection: %w", err)
	}
	return conn, nil
}

// Delete removes the row for (orgID, email).
func (s *ConnectionStore) Delete(ctx context.Context, orgID, email string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE organization_id = $1 AND email = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, orgID, mailbox.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s/%s: %w", orgID, email, mailbox.ErrNotFound)
	}
	return nil
}

// row is the column form of a connection's state.
type row struct {
	accessToken     string
	refreshToken    string
	expiresAt       int64
	active          bool
	historyID       *string
	subscriptionID  *string
	watchExpiration *int64
	reason          *string
}

func toRow(conn mailbox.Connection) row {
	creds := conn.State.Credentials()
	watch := conn.State.Watch()
	r := row{
		accessToken:  creds.AccessToken,
		refreshToken: creds.RefreshToken,
		active:       conn.State.Active(),
	}
	if !creds.ExpiresAt.IsZero() {
		r.expiresAt = creds.ExpiresAt.Unix()
	}
	if watch.Handle != "" {
		handle := watch.Handle
		if conn.Provider == mailbox.ProviderOutlook {
			r.subscriptionID = &handle
		} else {
			r.historyID = &handle
		}
	}
	if !watch.Expiration.IsZero() {
		ms := watch.Expiration.UnixMilli()
		r.watchExpiration = &ms
	}
	if d, ok := conn.State.(mailbox.Disconnected); ok && d.Reason != "" {
		reason := d.Reason
		r.reason = &reason
	}
	return r
}

func scanConnection(scanner pgx.Row) (mailbox.Connection, error) {
	var (
		conn     mailbox.Connection
		provider string
		purpose  string
		r        row
	)
	err := scanner.Scan(
		&conn.ID,
		&conn.OrganizationID,
		&conn.Email,
		&provider,
		&purpose,
		&conn.Frequency,
		&r.accessToken,
		&r.refreshToken,
		&r.expiresAt,
		&r.active,
		&r.historyID,
		&r.subscriptionID,
		&r.watchExpiration,
		&r.reason,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return mailbox.Connection{}, err
	}
	conn.Provider = mailbox.Provider(provider)
	conn.Purpose = mailbox.Purpose(purpose)
	conn.State = r.state()
	return conn, nil
}

func (r row) state() mailbox.State {
	creds := mailbox.Credentials{AccessToken: r.accessToken, RefreshToken: r.refreshToken}
	if r.expiresAt > 0 {
		creds.ExpiresAt = time.Unix(r.expiresAt, 0).UTC()
	}
	var watch mailbox.Watch
	switch {
	case r.historyID != nil:
		watch.Handle = *r.historyID
	case r.subscriptionID != nil:
		watch.Handle = *r.subscriptionID
	}
	if r.watchExpiration != nil {
		watch.Expiration = time.UnixMilli(*r.watchExpiration).UTC()
	}
	if r.active {
		return mailbox.Connected{Creds: creds, Subscription: watch}
	}
	d := mailbox.Disconnected{Creds: creds, Subscription: watch}
	if r.reason != nil {
		d.Reason = *r.reason
	}
	return d
}
