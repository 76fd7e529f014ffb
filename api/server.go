package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/illenko/relicwatch/api/handler"
	"github.com/illenko/relicwatch/metrics"
)

type Server struct {
	httpServer *http.Server
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Handlers struct {
	Health    *handler.HealthHandler
	Cache     *handler.CacheHandler
	Entities  *handler.EntitiesHandler
	Incidents *handler.IncidentsHandler
	Chat      *handler.ChatHandler
	Metrics   *metrics.Metrics
}

// NewRouter registers every route on a mux wrapped with the middleware chain.
func NewRouter(h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.Health)

	mux.HandleFunc("GET /api/cache/status", h.Cache.Status)
	mux.HandleFunc("POST /api/cache/refresh", h.Cache.Refresh)
	mux.HandleFunc("GET /api/cache/refreshes", h.Cache.ListRuns)

	mux.HandleFunc("GET /api/entities", h.Entities.List)
	mux.HandleFunc("GET /api/entities/{guid}", h.Entities.Get)

	mux.HandleFunc("GET /api/incidents", h.Incidents.List)

	mux.HandleFunc("POST /api/chat", h.Chat.Ask)
	mux.HandleFunc("GET /api/chat/history", h.Chat.History)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}

	return withMiddleware(mux, h.Metrics)
}

func NewServer(h Handlers, cfg ServerConfig) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// a synchronous refresh can take a while
		cfg.WriteTimeout = 6 * time.Minute
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Handler:      NewRouter(h),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
