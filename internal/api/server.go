// Package api serves the relay and ledger read surface over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/deploy"
	"github.com/modlnet/modl/internal/fees"
	"github.com/modlnet/modl/internal/forwarder"
	"github.com/modlnet/modl/internal/logging"
	"github.com/modlnet/modl/internal/metrics"
	"github.com/modlnet/modl/internal/paymaster"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/stake"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/tier"
	"github.com/modlnet/modl/internal/token"
	"github.com/modlnet/modl/internal/util"
	"github.com/modlnet/modl/pkg/types"
)

// Backend is the ledger world the server exposes.
type Backend interface {
	State() *chain.State
	ChainID() *big.Int
	Modl() *token.Ledger
	Stakes() *stake.Manager
	Hub() *relayhub.Hub
	Forwarder() *forwarder.Forwarder
	Tiers() *tier.System
	Paymaster() *paymaster.Paymaster
	Audits() *audit.Registry
	Templates() *template.Registry
	Deploy() *deploy.Manager
	Fees() *fees.Manager
	Worker() common.Address

	Relay(req *types.RelayRequest, sig, approvalData []byte) (*relayhub.RelayResult, error)
	SweepRevenue() (*big.Int, error)
	AdvanceTime(d time.Duration) time.Time
}

// AddressHeader names the account a client acts for. It only selects the
// rate limit tier; nothing is authorized by it.
const AddressHeader = "X-Modl-Address"

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRequestSize int64

	// MaxConnections caps concurrent connections. Zero means no cap.
	MaxConnections int

	// RateLimit enables per-client limits taken from Tiers.
	RateLimit bool
	Tiers     []*types.TierConfig

	// AdminToken guards /v1/admin routes. Empty disables them.
	AdminToken string

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return ServerConfigFrom(config.DefaultConfig())
}

// ServerConfigFrom builds the server settings from the app config.
func ServerConfigFrom(cfg *config.Config) *ServerConfig {
	sc := &ServerConfig{
		Addr:           cfg.API.Listen,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxRequestSize: cfg.API.MaxRequestSize,
		MaxConnections: cfg.API.MaxConnections,
		RateLimit:      cfg.API.RateLimit,
		Tiers:          cfg.Tier.Levels,
		AdminToken:     cfg.API.AdminToken,
	}
	if cfg.Metrics.Enabled {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc
}

// Server is the external HTTP API server
type Server struct {
	config  *ServerConfig
	backend Backend
	metrics *metrics.PrometheusCollector
	stream  *eventStream

	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	done       sync.WaitGroup
	startTime  time.Time

	limitsMu     sync.RWMutex
	tierLimits   []tierLimit
	rateLimiters sync.Map
}

type tierLimit struct {
	rps   rate.Limit
	burst int
}

// rateLimiterEntry holds a rate limiter and the last time it was used
type rateLimiterEntry struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	tier     uint8
	lastSeen time.Time
}

// NewServer creates a server over backend. pc may be nil.
func NewServer(cfg *ServerConfig, backend Backend, pc *metrics.PrometheusCollector) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	s := &Server{
		config:    cfg,
		backend:   backend,
		metrics:   pc,
		stream:    newEventStream(pc),
		startTime: time.Now(),
	}
	s.SetRateLimits(cfg.Tiers)
	return s
}

// SetRateLimits replaces the per-tier request limits. Existing clients pick
// up the new limits on their next request.
func (s *Server) SetRateLimits(levels []*types.TierConfig) {
	limits := make([]tierLimit, len(levels))
	for _, lvl := range levels {
		if int(lvl.Level) >= len(limits) {
			continue
		}
		limits[lvl.Level] = tierLimit{rps: rate.Limit(lvl.RequestsPerSecond), burst: lvl.Burst}
	}
	s.limitsMu.Lock()
	s.tierLimits = limits
	s.limitsMu.Unlock()
	s.rateLimiters.Clear()

	logging.Debug("rate limits updated", "tiers", len(limits), logging.Component("api"))
}

func (s *Server) limitFor(t uint8) (tierLimit, bool) {
	s.limitsMu.RLock()
	defer s.limitsMu.RUnlock()
	if len(s.tierLimits) == 0 {
		return tierLimit{}, false
	}
	if int(t) >= len(s.tierLimits) {
		t = uint8(len(s.tierLimits) - 1)
	}
	return s.tierLimits[t], true
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on the configured address and serves until Stop or ctx
// is done. The event stream runs for the same lifetime.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.listener = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: s.config.ReadTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
	s.running = true

	s.done.Add(3)
	util.SafeGoWithName("api-event-stream", func() {
		defer s.done.Done()
		s.stream.run(ctx, s.backend.State())
	})
	util.SafeGoWithName("api-rate-limit-cleanup", func() {
		defer s.done.Done()
		s.cleanupLoop(ctx)
	})
	util.SafeGoWithName("api-http", func() {
		defer s.done.Done()
		logging.Info("HTTP API server starting", "addr", ln.Addr().String(), logging.Component("api"))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error", logging.Err(err), logging.Component("api"))
		}
	})
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for its goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	s.done.Wait()

	logging.Info("API server stopped", logging.Component("api"))
	if err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealthCheck)

	mux.HandleFunc("GET /v1/status", s.withMiddleware("status", s.handleStatus))
	mux.HandleFunc("GET /v1/relay/config", s.withMiddleware("relay_config", s.handleRelayConfig))
	mux.HandleFunc("GET /v1/relay/nonce/{address}", s.withMiddleware("relay_nonce", s.handleNonce))
	mux.HandleFunc("POST /v1/relay", s.withMiddleware("relay", s.handleRelay))
	mux.HandleFunc("GET /v1/hub/balance/{address}", s.withMiddleware("hub_balance", s.handleHubBalance))
	mux.HandleFunc("GET /v1/stake/{manager}", s.withMiddleware("stake", s.handleStake))
	mux.HandleFunc("GET /v1/tier/{address}", s.withMiddleware("tier", s.handleTier))
	mux.HandleFunc("GET /v1/paymaster/{address}", s.withMiddleware("paymaster", s.handlePaymasterAccount))
	mux.HandleFunc("GET /v1/audits", s.withMiddleware("audit_templates", s.handleAuditTemplates))
	mux.HandleFunc("GET /v1/audits/{template}", s.withMiddleware("audits", s.handleAudits))
	mux.HandleFunc("GET /v1/audits/{template}/{index}", s.withMiddleware("audit", s.handleAudit))
	mux.HandleFunc("GET /v1/templates", s.withMiddleware("templates", s.handleTemplates))
	mux.HandleFunc("GET /v1/templates/{template}", s.withMiddleware("template", s.handleTemplate))
	mux.HandleFunc("GET /v1/projects/{address}", s.withMiddleware("projects", s.handleProjects))
	mux.HandleFunc("GET /v1/events", s.withMiddleware("events", s.handleEvents))
	mux.HandleFunc("GET /v1/events/ws", s.withMiddleware("events_ws", s.handleWebSocket))

	mux.HandleFunc("POST /v1/admin/time/advance", s.withAdminMiddleware("admin_time", s.handleAdvanceTime))
	mux.HandleFunc("POST /v1/admin/revenue/sweep", s.withAdminMiddleware("admin_sweep", s.handleSweepRevenue))
	mux.HandleFunc("GET /v1/admin/metrics", s.withAdminMiddleware("admin_metrics", s.handleMetricsJSON))

	if s.config.MetricsPath != "" && s.metrics != nil {
		mux.Handle("GET "+s.config.MetricsPath, s.metrics.PrometheusHandler())
	}
	return mux
}

// withMiddleware applies rate limiting and request metrics.
func (s *Server) withMiddleware(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.RecordRequest(route)
			defer func() { s.metrics.RecordLatency(route, time.Since(start)) }()
		}

		if s.config.RateLimit {
			ip := s.extractClientIP(r)
			if !s.allow(ip, r.Header.Get(AddressHeader)) {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
					logging.Component("api"))
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}

		if s.config.WriteTimeout > 0 {
			// the event stream sets its own per-message deadlines
			_ = http.NewResponseController(w).SetWriteDeadline(start.Add(s.config.WriteTimeout))
		}
		if r.Body != nil && s.config.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		}
		handler(w, r)
	}
}

// withAdminMiddleware additionally requires the admin bearer token.
func (s *Server) withAdminMiddleware(route string, handler http.HandlerFunc) http.HandlerFunc {
	return s.withMiddleware(route, func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" {
			s.writeError(w, http.StatusNotFound, "admin endpoints are disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
			logging.Warn("admin request rejected",
				"ip", s.extractClientIP(r),
				"path", r.URL.Path,
				logging.Component("api"))
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		handler(w, r)
	})
}

// allow charges one request to the client's limiter. The limiter follows
// the tier of the account named in AddressHeader.
func (s *Server) allow(ip, account string) bool {
	var t uint8
	if common.IsHexAddress(account) {
		addr := common.HexToAddress(account)
		s.backend.State().View(func() { t = s.backend.Tiers().GetTier(addr) })
	}
	limit, ok := s.limitFor(t)
	if !ok {
		return true
	}

	key := ip + "|" + strings.ToLower(account)
	now := time.Now()
	val, _ := s.rateLimiters.LoadOrStore(key, &rateLimiterEntry{
		limiter: rate.NewLimiter(limit.rps, limit.burst),
		tier:    t,
	})
	entry := val.(*rateLimiterEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.tier != t {
		entry.limiter = rate.NewLimiter(limit.rps, limit.burst)
		entry.tier = t
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// extractClientIP extracts the client IP address from the request.
// Proxy headers are only trusted when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanupRateLimiters(now.Add(-10 * time.Minute))
		}
	}
}

// cleanupRateLimiters removes limiters not used since staleBefore.
func (s *Server) cleanupRateLimiters(staleBefore time.Time) int {
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		entry.mu.Lock()
		stale := entry.lastSeen.Before(staleBefore)
		entry.mu.Unlock()
		if stale {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
	return cleaned
}
