package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("VOICE_AGENT_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("VOICE_AGENT_API_KEY", "env-key")
	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.apiKey != "env-key" {
		t.Errorf("expected key from environment, got %q", client.apiKey)
	}
}

func TestGetSignedURL(t *testing.T) {
	var gotPath, gotAgent, gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.URL.Query().Get("agent_id")
		gotKey = r.Header.Get("xi-api-key")
		json.NewEncoder(w).Encode(map[string]string{"signed_url": "wss://agent.example/abc"})
	})

	url, err := client.GetSignedURL(context.Background(), "agent-visa")
	if err != nil {
		t.Fatalf("GetSignedURL failed: %v", err)
	}
	if url != "wss://agent.example/abc" {
		t.Errorf("unexpected signed URL %q", url)
	}
	if gotPath != "/v1/convai/conversation/get_signed_url" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAgent != "agent-visa" {
		t.Errorf("unexpected agent_id %q", gotAgent)
	}
	if gotKey != "test-key" {
		t.Errorf("expected server-held key on the request, got %q", gotKey)
	}
}

func TestGetSignedURLRequiresAgentID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called without an agent ID")
	})
	if _, err := client.GetSignedURL(context.Background(), ""); err == nil {
		t.Error("expected error for empty agent ID")
	}
}

func TestGetSignedURLUpstreamErrorPreservesStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"detail": "quota exceeded"})
	})

	_, err := client.GetSignedURL(context.Background(), "agent-visa")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", pe.StatusCode)
	}
	if pe.Message != "quota exceeded" {
		t.Errorf("expected upstream detail message, got %q", pe.Message)
	}
}

func TestGetSignedURLNonJSONErrorBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := client.GetSignedURL(context.Background(), "agent-visa")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Message != "upstream down" {
		t.Errorf("expected raw body as message, got %q", pe.Message)
	}
}

func TestGetSignedURLEmptyPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := client.GetSignedURL(context.Background(), "agent-visa"); err == nil {
		t.Error("expected error for an empty signed URL")
	}
}

func TestGetConversationDetails(t *testing.T) {
	var gotPath, gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Write([]byte(`{"conversation_id":"conv-1","status":"done"}`))
	})

	raw, err := client.GetConversationDetails(context.Background(), "conv-1", "")
	if err != nil {
		t.Fatalf("GetConversationDetails failed: %v", err)
	}
	if gotPath != "/v1/convai/conversations/conv-1" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("expected server-held key, got %q", gotKey)
	}
	// The payload passes through undecoded.
	if string(raw) != `{"conversation_id":"conv-1","status":"done"}` {
		t.Errorf("unexpected payload %s", raw)
	}
}

func TestGetConversationDetailsKeyOverride(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		w.Write([]byte(`{}`))
	})

	if _, err := client.GetConversationDetails(context.Background(), "conv-1", "caller-key"); err != nil {
		t.Fatalf("GetConversationDetails failed: %v", err)
	}
	if gotKey != "caller-key" {
		t.Errorf("expected caller-supplied key override, got %q", gotKey)
	}
}

func TestGetConversationDetailsRequiresID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called without a conversation ID")
	})
	if _, err := client.GetConversationDetails(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty conversation ID")
	}
}
