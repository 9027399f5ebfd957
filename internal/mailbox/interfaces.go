package mailbox

import (
	"context"
	"time"
)

// ProviderClient wraps one provider's OAuth and push-notification APIs.
type ProviderClient interface {
	// AuthCodeURL returns a consent URL requesting offline access.
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Credentials, error)
	AuthenticatedAddress(ctx context.Context, creds Credentials) (string, error)
	Watch(ctx context.Context, creds Credentials) (Watch, error)
	StopWatch(ctx context.Context, creds Credentials, watch Watch) error
}

// Store persists connections keyed by (organization, email).
type Store interface {
	// Get returns ErrNotFound when no row exists.
	Get(ctx context.Context, orgID, email string) (Connection, error)
	List(ctx context.Context, orgID string) ([]Connection, error)
	// Upsert inserts or updates by (organization, email) and returns the
	// stored row. An existing row keeps its ID and CreatedAt.
	Upsert(ctx context.Context, conn Connection) (Connection, error)
	// Delete returns ErrNotFound when no row exists.
	Delete(ctx context.Context, orgID, email string) error
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces connection IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
