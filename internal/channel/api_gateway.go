package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"callcenter/internal/bus"
	"callcenter/internal/conversation"
	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/metrics"
	"callcenter/internal/reporting"
	"callcenter/internal/team"
)

const apiGatewayMaxBodySize = 1 << 20 // 1MB

// apiStore is the read side the API serves directly.
type apiStore interface {
	domain.MessageReader
	domain.ConversationReader
	UpdateMessageStatus(ctx context.Context, platformMessageID, status string) (bool, error)
	Ping(ctx context.Context) error
}

type replySender interface {
	Send(ctx context.Context, req ingest.SendRequest) (*ingest.Result, error)
}

type conversationSetter interface {
	SetActive(ctx context.Context, key domain.ConversationKey, active bool) error
}

// APIGatewayConfig wires the HTTP surface to the services behind it.
type APIGatewayConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    *RateLimiter // nil disables limiting
	WebhookPath  string
	MetricsPath  string // empty disables /metrics
	Version      string

	Webhook       *Webhook
	Outbound      replySender
	Store         apiStore
	Conversations conversationSetter
	Router        *conversation.Router
	Reports       *reporting.Engine
	Team          *team.Service
	Events        *bus.EventBus
	Logger        *slog.Logger
}

// APIGateway serves the webhook, agent send, query and report endpoints.
type APIGateway struct {
	cfg    APIGatewayConfig
	logger *slog.Logger
	router chi.Router
	server *http.Server
}

func NewAPIGateway(cfg APIGatewayConfig) *APIGateway {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	g := &APIGateway{cfg: cfg, logger: cfg.Logger}
	g.router = g.routes()
	return g
}

// Handler exposes the router, mainly for tests.
func (g *APIGateway) Handler() http.Handler { return g.router }

func (g *APIGateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)

	origins := g.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/", g.handleIndex)
	r.Get("/health", g.handleHealth)
	if g.cfg.MetricsPath != "" {
		r.Get(g.cfg.MetricsPath, metrics.Collector.Handler())
	}

	r.Group(func(r chi.Router) {
		if g.cfg.RateLimit != nil {
			r.Use(g.cfg.RateLimit.Middleware)
		}

		if g.cfg.Webhook != nil {
			r.Get(g.cfg.WebhookPath, g.cfg.Webhook.Verify)
			r.Post(g.cfg.WebhookPath, g.cfg.Webhook.Receive)
		}
		r.Post("/send", g.handleSend)

		r.Get("/messages", g.handleListMessages)
		r.Get("/messages/search", g.handleSearchMessages)
		r.Put("/messages/{messageID}/status", g.handleUpdateStatus)

		r.Get("/conversations", g.handleListConversations)
		r.Route("/conversations/{platform}/{recipient}", func(r chi.Router) {
			r.Get("/", g.handleGetConversation)
			r.Get("/agent", g.handleResolveAgent)
			r.Put("/active", g.handleSetActive)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily", g.handleDailyReport)
			r.Get("/agent-daily-excel", g.handleDailyWorkbook(reporting.SheetSummary))
			r.Get("/agent-handled-daily-excel", g.handleDailyWorkbook(reporting.SheetHandled))
			r.Get("/agent-replies", g.handleReplies)
			r.Get("/statistics", g.handleStatistics)
			r.Get("/performance", g.handlePerformance)
		})

		r.Route("/team", func(r chi.Router) {
			r.Get("/agents", g.handleListAgents)
			r.Post("/agents", g.handleAddAgent)
			r.Get("/schedules", g.handleListSchedules)
			r.Get("/schedules/availability", g.handleAvailability)
			r.Post("/schedules/import", g.handleImportSchedules)
			r.Get("/schedules/export", g.handleExportSchedules)
			r.Get("/leaves", g.handleListLeaves)
			r.Post("/leaves", g.handleCreateLeave)
			r.Get("/escalations", g.handleListEscalations)
			r.Post("/escalations", g.handleCreateEscalation)
		})

		r.Get("/events", g.handleEvents)
	})

	r.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		writeError(rw, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (g *APIGateway) Start(ctx context.Context) error {
	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       g.cfg.ReadTimeout,
		WriteTimeout:      g.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g.logger.Info("API gateway started", "addr", addr, "webhook", g.cfg.WebhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("API gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("api gateway: %w", err)
	}
}

func (g *APIGateway) Stop() error {
	if g.server != nil {
		return g.server.Close()
	}
	return nil
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level := slog.LevelInfo
			if ww.Status() >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// --- JSON helpers ---

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// writeErr maps service errors onto HTTP statuses.
func (g *APIGateway) writeErr(rw http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *domain.ValidationError
		ue *domain.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		writeError(rw, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(rw, http.StatusNotFound, "not found")
	case errors.As(err, &ue):
		g.logger.Warn("upstream failure", "path", r.URL.Path, "err", err)
		writeJSON(rw, http.StatusBadGateway, map[string]any{"error": "send_failed", "details": ue.Error()})
	default:
		g.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(rw, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(rw http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, apiGatewayMaxBodySize))
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("body", "invalid JSON")
	}
	return nil
}
