package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithBaseURL(srv.URL), WithAnonKey("anon-key"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresConfig(t *testing.T) {
	t.Setenv("AUTH_PROVIDER_URL", "")
	t.Setenv("AUTH_PROVIDER_ANON_KEY", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without a provider URL")
	}
	if _, err := NewClient(WithBaseURL("https://auth.example")); err == nil {
		t.Error("expected error without an anon key")
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("AUTH_PROVIDER_URL", "https://auth.example/")
	t.Setenv("AUTH_PROVIDER_ANON_KEY", "env-anon")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.baseURL != "https://auth.example" {
		t.Errorf("expected trimmed base URL from environment, got %q", client.baseURL)
	}
	if client.anonKey != "env-anon" {
		t.Errorf("expected anon key from environment, got %q", client.anonKey)
	}
}

func TestGetUser(t *testing.T) {
	var gotPath, gotAuth, gotAPIKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("apikey")
		w.Write([]byte(`{"id":"u1","email":"ana@example.com","phone":"+15551234567","user_metadata":{"first_name":"Ana"}}`))
	})

	user, err := client.GetUser(context.Background(), "token-abc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if gotPath != "/auth/v1/user" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	if gotAPIKey != "anon-key" {
		t.Errorf("unexpected apikey header %q", gotAPIKey)
	}
	if user == nil {
		t.Fatal("expected a resolved identity")
	}
	if user.ID != "u1" || user.Email != "ana@example.com" || user.FirstName != "Ana" || user.Phone != "+15551234567" {
		t.Errorf("unexpected identity %+v", user)
	}
}

func TestGetUserEmptyToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for an empty token")
	})

	user, err := client.GetUser(context.Background(), "")
	if err != nil {
		t.Fatalf("empty token must not error: %v", err)
	}
	if user != nil {
		t.Errorf("expected no identity, got %+v", user)
	}
}

func TestGetUserRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		user, err := client.GetUser(context.Background(), "expired-token")
		if err != nil {
			t.Errorf("status %d: rejected token must not error: %v", status, err)
		}
		if user != nil {
			t.Errorf("status %d: expected no identity, got %+v", status, user)
		}
	}
}

func TestGetUserUnexpectedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := client.GetUser(context.Background(), "token"); err == nil {
		t.Error("expected error for a 500 from the provider")
	}
}

func TestGetUserEmptyIDResolvesToNoUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email":"ghost@example.com"}`))
	})

	user, err := client.GetUser(context.Background(), "token")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user != nil {
		t.Errorf("payload without an ID must resolve to no user, got %+v", user)
	}
}
