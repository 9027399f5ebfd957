// Package google implements mailbox.ProviderClient for Gmail: OAuth via
// golang.org/x/oauth2 and watch registration via the Gmail API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/JakeFAU/propsrc/internal/mailbox"
)

const userID = "me"

// DefaultScopes request read access plus the profile address.
var DefaultScopes = []string{
	gmail.GmailReadonlyScope,
	"https://www.googleapis.com/auth/userinfo.email",
}

// Config holds the OAuth client and watch target.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// TopicName is the Pub/Sub topic receiving Gmail notifications,
	// formatted projects/{project}/topics/{topic}.
	TopicName string
	LabelIDs  []string

	// AuthURL, TokenURL and APIEndpoint override Google endpoints.
	AuthURL     string
	TokenURL    string
	APIEndpoint string
}

// Client talks to Google OAuth and the Gmail API.
type Client struct {
	cfg   Config
	oauth *oauth2.Config
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret are required")
	}
	if cfg.TopicName == "" {
		return nil, errors.New("google topic name is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if len(cfg.LabelIDs) == 0 {
		cfg.LabelIDs = []string{"INBOX"}
	}
	endpoint := googleoauth.Endpoint
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

// AuthCodeURL requests offline access and forces the consent screen so a
// refresh token is always returned.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (mailbox.Credentials, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return mailbox.Credentials{}, fmt.Errorf("google token exchange: %w", err)
	}
	return mailbox.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}, nil
}

// AuthenticatedAddress returns the Gmail profile address.
func (c *Client) AuthenticatedAddress(ctx context.Context, creds mailbox.Credentials) (string, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return "", err
	}
	profile, err := svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// Watch registers INBOX notifications to the configured topic. The handle is
// the starting historyId.
func (c *Client) Watch(ctx context.Context, creds mailbox.Credentials) (mailbox.Watch, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return mailbox.Watch{}, err
	}
	resp, err := svc.Users.Watch(userID, &gmail.WatchRequest{
		TopicName: c.cfg.TopicName,
		LabelIds:  c.cfg.LabelIDs,
	}).Context(ctx).Do()
	if err != nil {
		return mailbox.Watch{}, fmt.Errorf("gmail watch: %w", err)
	}
	return mailbox.Watch{
		Handle:     strconv.FormatUint(resp.HistoryId, 10),
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch stops all push notifications for the mailbox.
func (c *Client) StopWatch(ctx context.Context, creds mailbox.Credentials, _ mailbox.Watch) error {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return err
	}
	if err := svc.Users.Stop(userID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail stop: %w", err)
	}
	return nil
}

func (c *Client) service(ctx context.Context, creds mailbox.Credentials) (*gmail.Service, error) {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
		TokenType:    "Bearer",
	}
	httpClient := c.oauth.Client(ctx, tok)
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.cfg.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.APIEndpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return svc, nil
}
