// Package voice wraps the conversational voice-agent provider API.
//
// It exposes the two stateless operations VoxPrep needs: fetching a signed
// ephemeral connection URL for a given agent, and fetching post-hoc
// conversation details by conversation ID. Upstream failures keep their HTTP
// status codes so the API layer can propagate them verbatim.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is the voice-agent provider endpoint.
const DefaultBaseURL = "https://api.elevenlabs.io"

// DefaultRequestTimeout bounds individual provider calls.
const DefaultRequestTimeout = 30 * time.Second

// apiKeyHeader is the provider's API key header name.
const apiKeyHeader = "xi-api-key"

// ProviderError carries an upstream failure with its original status code.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("voice provider error (status %d): %s", e.StatusCode, e.Message)
}

// Opts holds configuration options for the voice gateway client.
type Opts struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Option defines a configuration option for the voice gateway client.
type Option func(*Opts)

// WithAPIKey sets the server-held provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the provider endpoint, mainly for tests.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client talks to the voice-agent provider.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a voice gateway client. The API key falls back to the
// VOICE_AGENT_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("VOICE_AGENT_API_KEY")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("Voice client config loaded", "APIKey_set", cfg.APIKey != "", "baseURL", cfg.BaseURL)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voice agent API key not set")
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    cfg.Client,
	}, nil
}

// GetSignedURL requests a signed ephemeral connection URL for the given
// agent. A missing agentID is a caller error; upstream non-2xx responses are
// returned as ProviderError with the status preserved.
func (c *Client) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("agentID is required")
	}

	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get_signed_url?agent_id=%s", c.baseURL, url.QueryEscape(agentID))
	body, err := c.get(ctx, endpoint, c.apiKey)
	if err != nil {
		slog.Error("Voice.GetSignedURL failed", "error", err, "agentID", agentID)
		return "", err
	}

	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Error("Voice.GetSignedURL: invalid provider payload", "error", err, "agentID", agentID)
		return "", fmt.Errorf("failed to decode signed URL response: %w", err)
	}
	if payload.SignedURL == "" {
		return "", fmt.Errorf("provider returned an empty signed URL")
	}
	slog.Debug("Voice.GetSignedURL succeeded", "agentID", agentID)
	return payload.SignedURL, nil
}

// GetConversationDetails fetches the raw provider record for a finished
// conversation. apiKeyOverride, when non-empty, replaces the server-held key
// for this one call. The payload is returned undecoded; it is for post-hoc
// inspection only and its shape belongs to the provider.
func (c *Client) GetConversationDetails(ctx context.Context, conversationID, apiKeyOverride string) (json.RawMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID is required")
	}

	key := c.apiKey
	if apiKeyOverride != "" {
		key = apiKeyOverride
	}

	endpoint := fmt.Sprintf("%s/v1/convai/conversations/%s", c.baseURL, url.PathEscape(conversationID))
	body, err := c.get(ctx, endpoint, key)
	if err != nil {
		slog.Error("Voice.GetConversationDetails failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	slog.Debug("Voice.GetConversationDetails succeeded", "conversationID", conversationID, "bytes", len(body))
	return json.RawMessage(body), nil
}

// get performs a provider GET and converts non-2xx responses into
// ProviderError values with the upstream message when one is available.
func (c *Client) get(ctx context.Context, endpoint, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set(apiKeyHeader, apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := upstreamMessage(body)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: message}
	}
	return body, nil
}

// upstreamMessage pulls an error string out of a provider failure payload.
func upstreamMessage(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, m := range []string{payload.Detail, payload.Error, payload.Message} {
		if m != "" {
			return m
		}
	}
	return ""
}
