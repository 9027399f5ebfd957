package mailbox

import (
	"strings"
	"time"
)

// Provider names an external mail provider.
type Provider string

// Supported providers.
const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
)

// ParseProvider validates a provider name.
func ParseProvider(raw string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case ProviderGoogle, ProviderOutlook:
		return p, nil
	default:
		return "", invalidInput("unknown provider %q", raw)
	}
}

// Purpose describes what a connected mailbox is used for.
type Purpose string

// Mailbox purposes.
const (
	PurposeCustomerSupport Purpose = "customer_support"
	PurposeSales           Purpose = "sales"
	PurposeMultipurpose    Purpose = "multipurpose"
)

// ParsePurpose validates a purpose. An empty string is allowed and means unset.
func ParsePurpose(raw string) (Purpose, error) {
	switch p := Purpose(strings.TrimSpace(raw)); p {
	case "", PurposeCustomerSupport, PurposeSales, PurposeMultipurpose:
		return p, nil
	default:
		return "", invalidInput("unknown purpose %q", raw)
	}
}

// Metadata travels through the OAuth round trip as opaque state.
// Frequency is in minutes; nil means manual.
type Metadata struct {
	OrganizationID string   `json:"orgId,omitempty"`
	Purpose        Purpose  `json:"purpose,omitempty"`
	Frequency      *int     `json:"frequency,omitempty"`
	Provider       Provider `json:"provider,omitempty"`
}

// Credentials are the OAuth tokens for one mailbox.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Watch is a registered push-notification subscription. Handle is the Gmail
// historyId or the Graph subscription id.
type Watch struct {
	Handle     string
	Expiration time.Time
}

// Connection is one persisted mailbox connection.
type Connection struct {
	ID             string
	OrganizationID string
	Email          string
	Provider       Provider
	Purpose        Purpose
	Frequency      *int
	State          State
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the connection is currently connected.
func (c Connection) Active() bool {
	return c.State != nil && c.State.Active()
}

// Authorization is the result of a completed OAuth callback.
type Authorization struct {
	Credentials Credentials
	Email       string
	Metadata    Metadata
	Connection  Connection
}

// NormalizeEmail lowercases and trims an address for use as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
