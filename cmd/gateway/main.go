package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Krishanhkr/SwiftHost/pkg/audit"
	"github.com/Krishanhkr/SwiftHost/pkg/engine"
	"github.com/Krishanhkr/SwiftHost/pkg/fingerprint"
	"github.com/Krishanhkr/SwiftHost/pkg/hardening"
	"github.com/Krishanhkr/SwiftHost/pkg/httpx"
	"github.com/Krishanhkr/SwiftHost/pkg/lockout"
	"github.com/Krishanhkr/SwiftHost/pkg/metrics"
	"github.com/Krishanhkr/SwiftHost/pkg/ratelimit"
	"github.com/Krishanhkr/SwiftHost/pkg/store"
	"github.com/Krishanhkr/SwiftHost/pkg/telemetry"
	"github.com/Krishanhkr/SwiftHost/pkg/token"
	"github.com/Krishanhkr/SwiftHost/pkg/users"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Server holds the wired components behind the HTTP boundary.
type Server struct {
	Engine              *engine.Engine
	Metrics             *metrics.Registry
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	CookieName          string
	CookieMaxAge        int
	MaxRequestBodyBytes int64
}

type auditDBCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayOpenDBFunc func(ctx context.Context) (auditDBCloser, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openRedisFnG   = store.NewRedis
	openDBFnG      = func(ctx context.Context) (auditDBCloser, error) {
		return pgxpool.New(ctx, env("DATABASE_URL", ""))
	}
	listenFnG     = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG = func(s *Server) {
		go s.gaugeLoop(envDurationSec("GAUGE_REFRESH_SEC", 30))
	}
)

func main() {
	if err := runGateway(initTelemetryG, openRedisFnG, openDBFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openRedis gatewayOpenRedisFunc,
	openDB gatewayOpenDBFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	secret := env("TOKEN_SECRET", "")
	if secret == "" {
		secret = randomSecret()
		log.Printf("TOKEN_SECRET not set, generated an ephemeral secret; sessions will not survive restarts")
	}
	networkPolicy := env("NETWORK_POLICY", "permissive")
	enforceDevice := env("ENFORCE_DEVICE_VERIFICATION", "false") == "true"
	allowedNetworks, err := parseCIDRs(env("ALLOWED_NETWORKS", "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"))
	if err != nil {
		return fmt.Errorf("ALLOWED_NETWORKS: %w", err)
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:             "gateway",
		Environment:         env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:  env("STRICT_PROD_SECURITY", "true"),
		TokenSecret:         env("TOKEN_SECRET", ""),
		NetworkPolicy:       networkPolicy,
		EnforceDeviceVerify: env("ENFORCE_DEVICE_VERIFICATION", ""),
		CORSAllowedOrigins:  env("CORS_ALLOWED_ORIGINS", ""),
	}); err != nil {
		return err
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	tokenTTL := envDurationSec("TOKEN_TTL_SEC", 3600)
	tokens, err := token.NewService(secret, tokenTTL, cache)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	userStore := users.NewStore()
	if err := users.SeedDefaults(userStore, map[string]string{
		"admin":   env("ADMIN_PASSWORD", ""),
		"analyst": env("ANALYST_PASSWORD", ""),
		"hunter":  env("HUNTER_PASSWORD", ""),
	}); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	sink, cleanup, err := buildAuditSink(ctx, openDB)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	auditLog := audit.NewLog(sink, envInt("AUDIT_FLUSH_THRESHOLD", 100))

	reg := metrics.NewRegistry()
	eng := &engine.Engine{
		Devices:  fingerprint.NewRegistry(envInt("FINGERPRINT_MAX_ENTRIES", 10000)),
		Lockouts: lockout.NewTracker(envInt("MAX_FAILED_ATTEMPTS", 5), envDurationSec("LOCKOUT_DURATION_SEC", 1800)),
		Tokens:   tokens,
		Users:    userStore,
		Audit:    auditLog,
		Metrics:  reg,
		Config: engine.Config{
			PublicPaths:               engine.DefaultPublicPaths(),
			StaticPrefix:              "/static/",
			CookieName:                engine.DefaultCookieName,
			EnforceDeviceVerification: enforceDevice,
			TrustThreshold:            envFloat("DEVICE_TRUST_THRESHOLD", 0.5),
			AllowedNetworks:           allowedNetworks,
			StrictNetworkPolicy:       strings.EqualFold(networkPolicy, "strict"),
			ServiceMeshEnabled:        env("SERVICE_MESH_ENABLED", "true") == "true",
		},
		Logf: log.Printf,
	}

	s := &Server{
		Engine:              eng,
		Metrics:             reg,
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		CookieName:          engine.DefaultCookieName,
		CookieMaxAge:        int(tokenTTL / time.Second),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.RateLimitEnabled {
		limit := envInt("LOGIN_RATE_LIMIT_PER_MINUTE", 30)
		window := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, limit, window)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(limit, window)
		}
	}

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(s),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// buildAuditSink selects the audit destination: local JSON batch files by
// default, postgres when AUDIT_SINK=postgres and DATABASE_URL is set.
func buildAuditSink(ctx context.Context, openDB gatewayOpenDBFunc) (audit.Sink, func(), error) {
	switch strings.ToLower(env("AUDIT_SINK", "file")) {
	case "postgres":
		if openDB == nil {
			return nil, nil, errors.New("postgres audit sink requires a database")
		}
		pool, err := openDB(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("audit db: %w", err)
		}
		sink := &audit.PostgresSink{DB: pool}
		if err := sink.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("audit schema: %w", err)
		}
		return sink, pool.Close, nil
	default:
		sink, err := audit.NewFileSink(env("AUDIT_LOG_DIR", "security/ztna_logs"))
		if err != nil {
			return nil, nil, fmt.Errorf("audit dir: %w", err)
		}
		return sink, nil, nil
	}
}

func newRouter(s *Server) chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})
	r.Post("/api/login", s.handleLogin)

	r.Group(func(pr chi.Router) {
		pr.Use(s.Engine.Middleware)
		pr.Post("/api/logout", s.handleLogout)
		pr.Post("/api/refresh-token", s.handleRefreshToken)
		pr.Get("/api/user", s.handleWhoami)
		pr.Post("/api/check-access", s.handleCheckAccess)
		pr.Get("/api/users", s.withRoles(s.handleListUsers, "admin"))
		pr.Get("/metrics", s.withRoles(s.Metrics.Handler(), "admin"))
		pr.Get("/metrics/prometheus", s.withRoles(s.Metrics.PrometheusHandler(), "admin"))
		pr.HandleFunc("/*", s.handleProtectedResource)
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		// Key by the matched route pattern, not the raw path: the
		// catch-all accepts arbitrary paths and a per-path series would
		// grow without bound.
		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		srv.Metrics.Observe(r.Method+" "+endpoint, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// withRoles gates an already-authenticated route on role membership. The
// pipeline middleware runs first, so absent claims mean an internal wiring
// mistake rather than a missing login.
func (s *Server) withRoles(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := engine.ClaimsFromContext(r.Context())
		if !ok {
			httpx.Error(w, http.StatusUnauthorized, "Authentication required", "AUTHENTICATION_REQUIRED")
			return
		}
		if !claims.HasAnyRole(roles...) {
			httpx.Error(w, http.StatusForbidden, "Insufficient permissions", "AUTHORIZATION_FAILED")
			return
		}
		h(w, r)
	}
}

func (s *Server) gaugeLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.Metrics.SetGauge("device_fingerprints", float64(s.Engine.Devices.Len()))
		s.Metrics.SetGauge("audit_buffer", float64(s.Engine.Audit.Len()))
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// parseCIDRs accepts a comma-separated list of CIDRs or bare addresses.
// A malformed entry is a configuration error: silently dropping it would
// shrink the allow-list and lock legitimate clients out under a strict
// network policy.
func parseCIDRs(raw string) ([]*net.IPNet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]*net.IPNet, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			_, cidr, err := net.ParseCIDR(part)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", part, err)
			}
			out = append(out, cidr)
			continue
		}
		ip := net.ParseIP(part)
		if ip == nil {
			return nil, fmt.Errorf("invalid network %q", part)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
