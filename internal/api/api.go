// Package api provides HTTP handlers and the API server for VoxPrep.
//
// It exposes the intake, session, entitlement, navigation, and scoring
// endpoints consumed by the web client. Responses use a standard
// {status, message?, result?} envelope except the two voice-provider
// passthrough endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/session"
	"github.com/voxprep/VoxPrep/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// contextKey is a private type for request context values.
type contextKey string

// ContextKeyUserID carries the authenticated user's ID through the request
// context.
const ContextKeyUserID contextKey = "userID"

// IdentityResolver resolves an access token to a user identity. A rejected
// token yields (nil, nil).
type IdentityResolver interface {
	GetUser(ctx context.Context, accessToken string) (*models.UserIdentity, error)
}

// SessionController is the slice of the session controller the handlers use.
type SessionController interface {
	StartSession(ctx context.Context, userID, agentID string) (*session.StartResult, error)
	HandleUtterance(ctx context.Context, sessionID string, turn models.TranscriptTurn) (*models.InterviewSession, error)
	EndSession(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	Snapshot(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	SetConversationID(ctx context.Context, sessionID, conversationID string) error
}

// VoiceProvider is the slice of the voice client the handlers use.
type VoiceProvider interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
	GetConversationDetails(ctx context.Context, conversationID, apiKeyOverride string) (json.RawMessage, error)
}

// Entitlements reads minute balances.
type Entitlements interface {
	GetMinutes(ctx context.Context, userID, agentID string) (int, error)
}

// Navigator resolves dashboard navigation decisions.
type Navigator interface {
	Resolve(ctx context.Context, userID, path string) (models.NavigationDecision, error)
}

// Scorer turns a transcript into feedback.
type Scorer interface {
	Score(ctx context.Context, turns []models.TranscriptTurn) (models.FeedbackRecord, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP surface to the underlying services.
type Server struct {
	st           store.Store
	identity     IdentityResolver
	sessions     SessionController
	voice        VoiceProvider
	entitlements Entitlements
	navigator    Navigator
	scorer       Scorer
	addr         string
}

// NewServer creates an API server over the given services.
func NewServer(st store.Store, identity IdentityResolver, sessions SessionController, voice VoiceProvider, entitlements Entitlements, navigator Navigator, scorer Scorer, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		st:           st,
		identity:     identity,
		sessions:     sessions,
		voice:        voice,
		entitlements: entitlements,
		navigator:    navigator,
		scorer:       scorer,
		addr:         cfg.Addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/analyzeConversation", s.analyzeConversationHandler)
	mux.HandleFunc("/getSignedUrl", s.getSignedURLHandler)
	mux.HandleFunc("/conversationDetails", s.conversationDetailsHandler)

	mux.HandleFunc("/intake", s.requireUser(s.intakeHandler))
	mux.HandleFunc("/sessions/start", s.requireUser(s.startSessionHandler))
	mux.HandleFunc("/sessions/", s.requireUser(s.sessionSubrouteHandler))
	mux.HandleFunc("/entitlements", s.requireUser(s.entitlementsHandler))
	mux.HandleFunc("/usage", s.requireUser(s.usageHandler))
	mux.HandleFunc("/navigation", s.requireUser(s.navigationHandler))
	mux.HandleFunc("/flags", s.requireUser(s.flagsHandler))

	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: VoxPrep API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// requireUser resolves the Bearer token to an identity, mirrors it into the
// store, and stores the user ID in the request context. Requests without a
// valid token get 401.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			slog.Debug("Server.requireUser: missing bearer token", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Authentication required"))
			return
		}

		identity, err := s.identity.GetUser(r.Context(), token)
		if err != nil {
			slog.Error("Server.requireUser: identity resolution failed", "error", err, "path", r.URL.Path)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Authentication service unavailable"))
			return
		}
		if identity == nil {
			slog.Debug("Server.requireUser: token rejected", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid or expired token"))
			return
		}

		if err := s.st.SaveUserIdentity(*identity); err != nil {
			// Mirroring is best effort; the request proceeds.
			slog.Warn("Server.requireUser: failed to mirror identity", "error", err, "userID", identity.ID)
		}

		ctx := context.WithValue(r.Context(), ContextKeyUserID, identity.ID)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// userIDFromContext returns the authenticated user ID placed by requireUser.
func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ContextKeyUserID).(string)
	return userID
}
