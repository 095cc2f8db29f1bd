package adapthttp

import (
	"net/http"
	"time"

	"github.com/Tabares32/shipping-backend/internal/adapter/ws"
	"github.com/Tabares32/shipping-backend/internal/app"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

// Options configures the HTTP surface.
type Options struct {
	// CORSOrigins is the browser origin allow-list; "*" allows any origin.
	CORSOrigins []string
	// StorageRequiresAuth gates /api/storage and WebSocket writes behind a
	// bearer token.
	StorageRequiresAuth bool
	// OIDC enables single sign-on when non-nil and enabled.
	OIDC *OIDCConfig
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	auth    *app.AuthService
	sync    *app.SyncService
	storage *app.StorageService
	hub     *ws.Hub
	metrics *Metrics
	opts    Options
	log     logging.Logger
	now     func() time.Time
}

// New creates a Server wired to the given application services. metrics may
// be nil.
func New(auth *app.AuthService, sync *app.SyncService, storage *app.StorageService, hub *ws.Hub, metrics *Metrics, opts Options, log logging.Logger) *Server {
	if opts.OIDC == nil {
		opts.OIDC = &OIDCConfig{}
	}
	return &Server{
		auth:    auth,
		sync:    sync,
		storage: storage,
		hub:     hub,
		metrics: metrics,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)

	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("/api/auth/config", s.handleConfig)
	mux.HandleFunc("/api/auth/sso/login", s.handleSSOLogin)
	mux.HandleFunc("/api/auth/sso/callback", s.handleSSOCallback)

	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/users/{id}", s.requireAdmin(s.handleUser))

	mux.HandleFunc("/api/storage/{key}", s.storageAuth(s.handleStorage))

	mux.HandleFunc("/api/sync/data", s.optionalAuth(s.handleSyncData))
	mux.HandleFunc("/api/sync/upload", s.requireAuth(s.handleSyncUpload))

	mux.Handle("/api/ws", ws.NewHandler(s.hub, s.storage, ws.Options{
		CheckOrigin: func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
		CanWrite:    s.canWriteStorage,
	}, s.log.With("component", "ws")))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: codeNotFound})
	})

	var h http.Handler = withNoCache(mux)
	h = s.corsMiddleware(h)
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = s.loggingMiddleware(h)
	return s.recoveryMiddleware(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

// storageAuth applies the configured policy for the key/value endpoints.
func (s *Server) storageAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.StorageRequiresAuth {
		return s.requireAuth(next)
	}
	return next
}

func (s *Server) canWriteStorage(r *http.Request) bool {
	if !s.opts.StorageRequiresAuth {
		return true
	}
	header := r.Header.Get("Authorization")
	// Browsers cannot set headers on a WebSocket handshake.
	if header == "" && r.URL.Query().Get("token") != "" {
		header = "Bearer " + r.URL.Query().Get("token")
	}
	_, err := s.auth.Authenticate(r.Context(), header)
	return err == nil
}
