package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/bondings/bondings/internal/ledger"
	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/metrics"
	"github.com/bondings/bondings/internal/policy"
	"github.com/ethereum/go-ethereum/common"
)

// Server is the external HTTP API server
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool

	ledger  *ledger.Ledger
	policy  *policy.Store
	metrics *metrics.PrometheusCollector

	walletAuth *WalletAuth
	wsHub      *WebSocketHub

	unsubscribe func()

	// Per-IP rate limiters
	rateLimiters sync.Map

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// rateLimiterEntry holds a rate limiter and the last time it was used.
// lastSeen is unix nanos, touched by request goroutines and the cleanup loop.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	HTTPAddr string

	// Requests per minute per client IP; 0 disables limiting.
	RateLimit      int
	RateLimitBurst int

	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	EnableCORS     bool
	AllowedOrigins []string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// MaxConnections caps concurrently accepted connections, websocket
	// subscribers included. 0 means unlimited.
	MaxConnections int

	EnableWebSocket bool

	// AuthWindow bounds the age of an inline wallet auth message.
	AuthWindow time.Duration

	// MetricsPath serves Prometheus metrics when a collector is set.
	MetricsPath string

	MaxBodyBytes int64
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPAddr:          ":8080",
		RateLimit:         120,
		RateLimitBurst:    20,
		EnableCORS:        true,
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxConnections:    1024,
		EnableWebSocket:   true,
		AuthWindow:        5 * time.Minute,
		MetricsPath:       "/metrics",
		MaxBodyBytes:      1 << 20,
	}
}

// NewServer creates a new HTTP API server over l and store. m may be nil.
func NewServer(cfg *ServerConfig, l *ledger.Ledger, store *policy.Store, m *metrics.PrometheusCollector) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	s := &Server{
		config:     cfg,
		ledger:     l,
		policy:     store,
		metrics:    m,
		walletAuth: NewWalletAuth(cfg.AuthWindow),
	}
	if cfg.EnableWebSocket {
		s.wsHub = NewWebSocketHub()
	}
	return s
}

// Start binds the listener and serves in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.HTTPAddr, err)
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.listener = ln

	ctx, s.cancel = context.WithCancel(ctx)

	if s.config.RateLimit > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rateLimiterCleanup(ctx)
		}()
	}

	if s.wsHub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.wsHub.Run(ctx)
		}()
		s.unsubscribe = s.ledger.Subscribe(s.broadcastEvent)
	}

	// ReadHeaderTimeout rather than ReadTimeout so event streams stay open.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logging.Info("HTTP API server starting",
			"addr", ln.Addr().String(),
			logging.Component("api"))

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error",
				logging.Err(err),
				logging.Component("api"))
		}
	}()

	s.running = true
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

// Stop stops the HTTP API server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()

	logging.Info("API server stopped", logging.Component("api"))
	if err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// Handler builds the HTTP router with all handlers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public reads
	s.handle(mux, "GET /healthz", s.handleHealthz)
	s.handle(mux, "GET /v1/bondings", s.withRateLimit(s.handleListBondings))
	s.handle(mux, "GET /v1/bondings/{name}", s.withRateLimit(s.handleGetBonding))
	s.handle(mux, "GET /v1/bondings/{name}/shares/{address}", s.withRateLimit(s.handleUserShare))
	s.handle(mux, "GET /v1/bondings/{name}/quote", s.withRateLimit(s.handleQuote))
	s.handle(mux, "GET /v1/admin/policy", s.withRateLimit(s.handleGetPolicy))

	// Signed writes; the caller is the verified wallet
	s.handle(mux, "POST /v1/bondings", s.withAuth(s.handleLaunch))
	s.handle(mux, "POST /v1/bondings/{name}/buy", s.withAuth(s.handleBuy))
	s.handle(mux, "POST /v1/bondings/{name}/sell", s.withAuth(s.handleSell))
	s.handle(mux, "POST /v1/bondings/{name}/transfer", s.withAuth(s.handleTransfer))
	s.handle(mux, "POST /v1/bondings/{name}/retrieve", s.withAuth(s.handleRetrieve))
	s.handle(mux, "POST /v1/admin/policy", s.withAuth(s.handleUpdatePolicy))
	s.handle(mux, "POST /v1/admin/operators", s.withAuth(s.handleSetOperator))

	if s.wsHub != nil {
		mux.HandleFunc("GET /v1/events", s.withRateLimit(s.handleWebSocket))
	}
	if s.metrics != nil && s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, s.metrics.PrometheusHandler())
	}

	// Wrap the entire mux so preflights and 404s still carry CORS headers.
	if s.config.EnableCORS {
		return s.globalCORSMiddleware(mux)
	}
	return mux
}

// handle registers h and records its latency under the route pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if s.metrics == nil {
		mux.HandleFunc(pattern, h)
		return
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.RecordRequest(pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// globalCORSMiddleware wraps an entire handler tree with CORS headers.
func (s *Server) globalCORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on the response
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}

	allowed := false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", HeaderWalletAddress, HeaderWalletSignature, HeaderWalletMessage,
		}, ", "))
		w.Header().Set("Access-Control-Max-Age", "86400")
	}
}

// withRateLimit applies the per-IP limiter.
func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit > 0 {
			ip := s.extractClientIP(r)
			if !s.getRateLimiter(ip).Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
					logging.Component("api"))
				w.Header().Set("Retry-After", "60")
				s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
				return
			}
		}
		handler(w, r)
	}
}

// withAuth rate limits, then requires inline wallet auth headers and stores
// the verified caller in the request context. Rate limiting runs first so
// signature recovery cannot be used to burn CPU.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return s.withRateLimit(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.walletAuth.VerifyInlineAuth(
			r.Header.Get(HeaderWalletAddress),
			r.Header.Get(HeaderWalletSignature),
			r.Header.Get(HeaderWalletMessage),
		)
		if err != nil {
			logging.Debug("wallet inline auth failed",
				"address", r.Header.Get(HeaderWalletAddress),
				logging.Err(err),
				logging.Component("api"))
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		if s.config.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		handler(w, r.WithContext(context.WithValue(r.Context(), ctxCallerKey, caller)))
	})
}

type contextKey string

const ctxCallerKey contextKey = "caller"

// callerFrom returns the wallet verified by withAuth.
func callerFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(ctxCallerKey).(common.Address)
	return addr
}

// getRateLimiter returns the rate limiter for the given IP address,
// creating one on first use.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen.Store(now.UnixNano())
		return entry.limiter
	}

	// Convert requests per minute to requests per second
	rps := rate.Limit(float64(s.config.RateLimit) / 60.0)
	entry := &rateLimiterEntry{
		limiter: rate.NewLimiter(rps, s.config.RateLimitBurst),
	}
	entry.lastSeen.Store(now.UnixNano())
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP only trusts proxy headers when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
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

// rateLimiterCleanup periodically removes stale rate limiters
func (s *Server) rateLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRateLimiters(time.Now().Add(-10 * time.Minute))
		}
	}
}

func (s *Server) cleanupRateLimiters(staleBefore time.Time) int {
	var cleaned int
	cutoff := staleBefore.UnixNano()
	s.rateLimiters.Range(func(key, value any) bool {
		if value.(*rateLimiterEntry).lastSeen.Load() < cutoff {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters",
			"count", cleaned,
			logging.Component("api"))
	}
	return cleaned
}

// broadcastEvent forwards a ledger event to stream clients on the bonding's
// channel. It runs inside ledger.publish and must not block.
func (s *Server) broadcastEvent(ev ledger.Event) {
	s.wsHub.BroadcastToChannel(ev.Name, string(ev.Type), ev)
}
