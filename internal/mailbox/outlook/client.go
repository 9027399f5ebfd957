// Package outlook implements mailbox.ProviderClient for Microsoft 365:
// OAuth via golang.org/x/oauth2 and inbox subscriptions via Microsoft Graph.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/JakeFAU/propsrc/internal/mailbox"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	inboxResource       = "me/mailFolders('Inbox')/messages"
	// maxWatchMinutes is Graph's ceiling for message subscriptions.
	maxWatchMinutes = 4230
)

// DefaultScopes request mail read access and a refresh token.
var DefaultScopes = []string{"offline_access", "User.Read", "Mail.Read"}

// Config holds the OAuth client and subscription target.
type Config struct {
	ClientID        string
	ClientSecret    string
	Tenant          string
	RedirectURL     string
	Scopes          []string
	GraphBaseURL    string
	NotificationURL string
	ClientState     string
	WatchMinutes    int

	// AuthURL and TokenURL override the Azure AD endpoints.
	AuthURL  string
	TokenURL string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Client talks to Azure AD and Microsoft Graph.
type Client struct {
	cfg   Config
	oauth *oauth2.Config
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("outlook client id and secret are required")
	}
	if cfg.NotificationURL == "" {
		return nil, errors.New("outlook notification url is required")
	}
	if cfg.Tenant == "" {
		cfg.Tenant = "common"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = defaultGraphBaseURL
	}
	cfg.GraphBaseURL = strings.TrimRight(cfg.GraphBaseURL, "/")
	if cfg.WatchMinutes <= 0 || cfg.WatchMinutes > maxWatchMinutes {
		cfg.WatchMinutes = maxWatchMinutes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	endpoint := microsoft.AzureADEndpoint(cfg.Tenant)
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
	}, nil
}

// AuthCodeURL requests offline access and forces the consent prompt.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (mailbox.Credentials, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return mailbox.Credentials{}, fmt.Errorf("outlook token exchange: %w", err)
	}
	return mailbox.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}, nil
}

type graphUser struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// AuthenticatedAddress returns the signed-in user's mail address, falling
// back to the principal name for accounts without a mailbox alias.
func (c *Client) AuthenticatedAddress(ctx context.Context, creds mailbox.Credentials) (string, error) {
	var user graphUser
	if err := c.call(ctx, creds, http.MethodGet, "/me?$select=mail,userPrincipalName", nil, &user); err != nil {
		return "", fmt.Errorf("graph get me: %w", err)
	}
	if user.Mail != "" {
		return user.Mail, nil
	}
	return user.UserPrincipalName, nil
}

type subscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType,omitempty"`
	NotificationURL    string    `json:"notificationUrl,omitempty"`
	Resource           string    `json:"resource,omitempty"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// Watch creates a Graph subscription for new inbox messages. The handle is
// the subscription id.
func (c *Client) Watch(ctx context.Context, creds mailbox.Credentials) (mailbox.Watch, error) {
	req := subscription{
		ChangeType:         "created",
		NotificationURL:    c.cfg.NotificationURL,
		Resource:           inboxResource,
		ExpirationDateTime: c.cfg.Now().UTC().Add(time.Duration(c.cfg.WatchMinutes) * time.Minute),
		ClientState:        c.cfg.ClientState,
	}
	var created subscription
	if err := c.call(ctx, creds, http.MethodPost, "/subscriptions", req, &created); err != nil {
		return mailbox.Watch{}, fmt.Errorf("graph create subscription: %w", err)
	}
	return mailbox.Watch{Handle: created.ID, Expiration: created.ExpirationDateTime.UTC()}, nil
}

// StopWatch deletes the subscription. A subscription Graph no longer knows
// about counts as stopped.
func (c *Client) StopWatch(ctx context.Context, creds mailbox.Credentials, watch mailbox.Watch) error {
	if watch.Handle == "" {
		return errors.New("subscription id is required")
	}
	err := c.call(ctx, creds, http.MethodDelete, "/subscriptions/"+url.PathEscape(watch.Handle), nil, nil)
	var gerr *GraphError
	if errors.As(err, &gerr) && gerr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("graph delete subscription: %w", err)
	}
	return nil
}

// GraphError is a non-2xx Graph response.
type GraphError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GraphError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, creds mailbox.Credentials, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.GraphBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
		TokenType:    "Bearer",
	}
	resp, err := c.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gerr := &GraphError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope) == nil {
			gerr.Code = envelope.Error.Code
			gerr.Message = envelope.Error.Message
		}
		return gerr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
