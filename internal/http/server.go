package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"taxos/internal/core"
	"taxos/internal/log"
	"taxos/internal/middleware/ratelimit"
	"taxos/internal/middleware/security"
	"taxos/internal/middleware/trace"
	"taxos/internal/repository"
)

// ReceiptAPI is the receipt service as the handlers use it
type ReceiptAPI interface {
	Create(ctx context.Context, tenant core.TenantID, in core.ReceiptInput) (core.Receipt, error)
	Update(ctx context.Context, tenant core.TenantID, id core.ReceiptID, patch core.ReceiptPatch) (core.Receipt, error)
	Delete(ctx context.Context, tenant core.TenantID, id core.ReceiptID) (bool, error)
	Get(ctx context.Context, tenant core.TenantID, id core.ReceiptID) (core.Receipt, error)
	List(ctx context.Context, tenant core.TenantID, filter core.ListFilter) ([]core.Receipt, error)
	Unallocated(ctx context.Context, tenant core.TenantID, months []core.MonthKey) ([]core.UnallocatedReceipt, error)
	Dashboard(ctx context.Context, tenant core.TenantID, months []core.MonthKey) (core.Dashboard, error)
	Vendors(ctx context.Context, tenant core.TenantID) ([]string, error)
	Rebuild(ctx context.Context, tenant core.TenantID) (*repository.Repository, error)
}

// ReadyCheck reports whether the server can serve traffic
type ReadyCheck func(ctx context.Context) error

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr string

	// RateLimitPerMinute caps requests per client IP; 0 disables limiting
	RateLimitPerMinute int

	// Ready backs /readyz; nil means always ready
	Ready ReadyCheck
}

type appMetrics struct {
	uptime time.Time
}

type Server struct {
	http.Server
	receipts ReceiptAPI
	ready    ReadyCheck
	logger   *log.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       appMetrics

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg ServerConfig, receipts ReceiptAPI, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		receipts:         receipts,
		ready:            cfg.Ready,
		logger:           logger,
		securityDetector: security.NewDetector(),
		appMetrics:       appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)
	if cfg.RateLimitPerMinute > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/receipts", s.withTenant(s.handleCreateReceipt))
	mux.HandleFunc("GET /api/receipts", s.withTenant(s.handleListReceipts))
	mux.HandleFunc("GET /api/receipts/{id}", s.withTenant(s.handleGetReceipt))
	mux.HandleFunc("PATCH /api/receipts/{id}", s.withTenant(s.handleUpdateReceipt))
	mux.HandleFunc("DELETE /api/receipts/{id}", s.withTenant(s.handleDeleteReceipt))
	mux.HandleFunc("GET /api/unallocated", s.withTenant(s.handleUnallocated))
	mux.HandleFunc("GET /api/dashboard", s.withTenant(s.handleDashboard))
	mux.HandleFunc("GET /api/vendors", s.withTenant(s.handleVendors))
	mux.HandleFunc("POST /api/index/rebuild", s.withTenant(s.handleRebuild))

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// middleware builds the chain: trace, logger, security headers, rate limit.
func (s *Server) middleware(next http.Handler) http.Handler {
	h := next
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimited)(h)
	}
	h = s.flagSuspicious(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(trace.FromRequest)(h)
	h = log.Middleware(s.logger)(h)
	return s.traceMiddleware.Middleware(h)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	status := http.StatusTooManyRequests
	NewJSONResponse().Status(status).Body(errorBody{Error: "rate limit exceeded", Status: status}).Write(w)
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// tenantHandler receives the tenant parsed from X-Tenant-ID
type tenantHandler func(w http.ResponseWriter, r *http.Request, tenant core.TenantID)

func (s *Server) withTenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := ParseTenant(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		ctx := log.NewContext(r.Context(), log.FromContext(r.Context()).WithTenant(tenant))
		next(w, r.WithContext(ctx), tenant)
	}
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
