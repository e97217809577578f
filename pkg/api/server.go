package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/minepanel/pkg/console"
	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/manager"
	"github.com/cuemby/minepanel/pkg/session"
)

const (
	// DefaultLoginRate is the sustained login attempts per client per second
	DefaultLoginRate = rate.Limit(0.2)

	// DefaultLoginBurst is the number of login attempts allowed at once
	DefaultLoginBurst = 5

	// maxWorldUpload bounds the compressed size of an uploaded world archive
	maxWorldUpload = 1 << 30
)

// Config holds configuration for the API server
type Config struct {
	Manager  *manager.Manager
	Sessions *session.Manager
	Relay    *console.Relay

	// AllowedOrigins lists browser origins allowed to open WebSockets. Empty
	// means same origin only; "*" allows every origin.
	AllowedOrigins []string

	LoginRate  rate.Limit
	LoginBurst int
}

// Server serves the operator HTTP API
type Server struct {
	manager  *manager.Manager
	sessions *session.Manager
	relay    *console.Relay
	limiter  *loginLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	router   chi.Router

	// baseCtx outlives requests; WebSocket sessions end when it is cancelled
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates the API server and its routes
func NewServer(cfg Config) *Server {
	if cfg.LoginRate == 0 {
		cfg.LoginRate = DefaultLoginRate
	}
	if cfg.LoginBurst == 0 {
		cfg.LoginBurst = DefaultLoginBurst
	}

	s := &Server{
		manager:  cfg.Manager,
		sessions: cfg.Sessions,
		relay:    cfg.Relay,
		limiter:  newLoginLimiter(cfg.LoginRate, cfg.LoginBurst),
		logger:   log.WithComponent("api"),
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close ends every open WebSocket session
func (s *Server) Close() {
	s.cancel()
}

// NewHTTPServer wraps the handler with the listener timeouts
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))
	r.Use(metricsMiddleware)

	s.registerHealth(r)

	r.Route("/api", func(r chi.Router) {
		r.With(bodySizeLimitMiddleware, s.limiter.middleware).Post("/auth/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.sessions))

			r.Post("/auth/logout", s.logout)

			r.Get("/events", s.streamEvents)

			// uploads carry their own size limit
			limited := r.With(bodySizeLimitMiddleware)

			limited.Get("/settings", s.getSettings)
			limited.Put("/settings", s.updateSettings)

			r.Route("/servers", func(r chi.Router) {
				limited := r.With(bodySizeLimitMiddleware)
				limited.Get("/", s.listServers)
				limited.Post("/", s.deployServer)

				r.Route("/{id}", func(r chi.Router) {
					limited := r.With(bodySizeLimitMiddleware)
					limited.Get("/", s.getServer)
					limited.Delete("/", s.deleteServer)
					limited.Get("/properties", s.getProperties)
					limited.Put("/properties", s.updateProperties)
					limited.Get("/world", s.exportWorld)
					r.Post("/world", s.importWorld)
					r.Get("/console", s.streamConsole)
					limited.Post("/{action}", s.serverAction)
				})
			})
		})
	})

	return r
}
