// Package httpserver exposes accounts, user lookup, message history and the live WebSocket
// endpoint over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nadeko0/wschat/internal/delivery"
	"github.com/nadeko0/wschat/internal/limiter"
	"github.com/nadeko0/wschat/internal/service"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// LiveServer runs one live channel over an accepted transport.
type LiveServer interface {
	Serve(ctx context.Context, tr delivery.Transport, token string) error
}

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP surface.
type Options struct {
	// AllowedOrigins lists origins allowed for CORS and WebSocket upgrades.
	AllowedOrigins []string
	// Production selects Secure, SameSite=Strict cookies.
	Production bool
	// SessionTTL is the session cookie lifetime.
	SessionTTL time.Duration
	// ReadLimit caps one inbound WebSocket frame.
	ReadLimit int64
	// Throttle limits request rate per client IP; nil disables it.
	Throttle *limiter.Throttle
}

// Server implements the HTTP API.
type Server struct {
	auth     service.AuthService
	users    service.UserService
	chat     service.ChatService
	verifier service.TokenVerifier
	live     LiveServer
	db       Pinger
	log      *zap.Logger
	opts     Options
}

// New constructs Server.
func New(
	auth service.AuthService,
	users service.UserService,
	chat service.ChatService,
	verifier service.TokenVerifier,
	live LiveServer,
	db Pinger,
	log *zap.Logger,
	opts Options,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth:     auth,
		users:    users,
		chat:     chat,
		verifier: verifier,
		live:     live,
		db:       db,
		log:      log,
		opts:     opts,
	}
}

// Handler returns the routed handler wrapped in CORS, logging, recovery and throttling.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/check-session", s.handleCheckSession).Methods(http.MethodGet)
	r.HandleFunc("/logout", s.requireAuth(s.handleLogout)).Methods(http.MethodPost)

	r.HandleFunc("/users", s.requireAuth(s.handleSearchUsers)).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}", s.requireAuth(s.handleGetUser)).Methods(http.MethodGet)
	r.HandleFunc("/messages/{other_id:[0-9]+}", s.requireAuth(s.handleConversation)).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/ws/{user_id:[0-9]+}", s.handleWS).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.opts.Throttle != nil {
		r.Use(Throttle(s.opts.Throttle))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Type", "Set-Cookie"},
		MaxAge:           3600,
	})

	var h http.Handler = r
	h = c.Handler(h)
	h = Recover(s.log)(h)
	h = Logging(s.log)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeDetail(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
