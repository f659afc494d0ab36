// Package auth resolves the current user against the hosted auth provider.
//
// VoxPrep never stores credentials; it forwards the caller's access token to
// the provider's user endpoint and mirrors the resolved identity read-only.
// An invalid or expired token resolves to no user, which is a state, not an
// error — only transport failures surface as errors.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

// DefaultRequestTimeout bounds individual provider calls.
const DefaultRequestTimeout = 15 * time.Second

// Opts holds configuration options for the identity client.
type Opts struct {
	BaseURL string
	AnonKey string
	Client  *http.Client
}

// Option defines a configuration option for the identity client.
type Option func(*Opts)

// WithBaseURL sets the auth provider project URL.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithAnonKey sets the provider's public API key.
func WithAnonKey(key string) Option {
	return func(o *Opts) { o.AnonKey = key }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client resolves identities against the hosted auth provider.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// NewClient creates an identity client. BaseURL and AnonKey fall back to the
// AUTH_PROVIDER_URL and AUTH_PROVIDER_ANON_KEY environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("AUTH_PROVIDER_URL")
	}
	if cfg.AnonKey == "" {
		cfg.AnonKey = os.Getenv("AUTH_PROVIDER_ANON_KEY")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("Auth client config loaded", "BaseURL_set", cfg.BaseURL != "", "AnonKey_set", cfg.AnonKey != "")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("auth provider URL not set")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("auth provider anon key not set")
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		http:    cfg.Client,
	}, nil
}

// providerUser mirrors the provider's user payload shape.
type providerUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	UserMetadata struct {
		FirstName string `json:"first_name"`
	} `json:"user_metadata"`
}

// GetUser resolves the identity behind an access token. It returns
// (nil, nil) when the provider rejects the token, and an error only for
// transport or unexpected provider failures.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.UserIdentity, error) {
	if accessToken == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Auth.GetUser: request failed", "error", err)
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		slog.Debug("Auth.GetUser: token rejected", "status", resp.StatusCode)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("Auth.GetUser: unexpected provider status", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("auth provider returned status %d", resp.StatusCode)
	}

	var user providerUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		slog.Error("Auth.GetUser: invalid provider payload", "error", err)
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if user.ID == "" {
		return nil, nil
	}

	return &models.UserIdentity{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.UserMetadata.FirstName,
		Phone:     user.Phone,
	}, nil
}
