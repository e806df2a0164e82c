package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
	"github.com/nats-io/nats.go"
)

//go:embed static
var staticFiles embed.FS

// Source marks jobs enqueued over HTTP.
const Source = "web"

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

type Server struct {
	queue     *jobs.Queue
	processor *jobs.Processor
	registry  *command.Registry
	catalog   *jobs.Catalog
	workspace *mesh.WorkspaceStore
	ecosystem *mesh.EcosystemStore
	bus       *natsbus.Bus
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token → expiry
}

func NewServer(cfg config.WebConfig, q *jobs.Queue, p *jobs.Processor, reg *command.Registry, cat *jobs.Catalog, ws *mesh.WorkspaceStore, eco *mesh.EcosystemStore, bus *natsbus.Bus, version string) *Server {
	return &Server{
		queue:     q,
		processor: p,
		registry:  reg,
		catalog:   cat,
		workspace: ws,
		ecosystem: eco,
		bus:       bus,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  make(map[string]time.Time),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	s.subscribeEvents()
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	handler, err := s.handler()
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handler() (http.Handler, error) {
	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)

	mux.HandleFunc("/api/ws", s.handleWebSocket)

	// SPA static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// SPA fallback: serve index.html for non-file routes
		if !strings.Contains(r.URL.Path, ".") && r.URL.Path != "/" {
			r.URL.Path = "/"
		}
		fileServer.ServeHTTP(w, r)
	})

	return s.withMiddleware(mux), nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" {
				next.ServeHTTP(w, r)
				return
			}
			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// validSession reports whether the request carries a live session cookie,
// refreshing its expiry when it does.
func (s *Server) validSession(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	expiry, ok := s.sessions[cookie.Value]
	if ok && time.Now().Before(expiry) {
		s.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
		s.setSessionCookie(w, cookie.Value)
		return true
	}
	if ok {
		delete(s.sessions, cookie.Value)
	}
	return false
}

// checkAuth validates session cookie or Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.validSession(w, r) {
		return true
	}

	// Basic Auth for programmatic API access
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()

	return token, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Password != s.cfg.Auth {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.createSession()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	// No auth configured, the UI skips login
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.validSession(w, r) {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	// Forward every event topic to WebSocket clients
	_, _ = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var event natsbus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid NATS event payload", "error", err)
			return
		}
		s.hub.Broadcast(event)
	})
}
