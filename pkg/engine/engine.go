package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Krishanhkr/SwiftHost/pkg/audit"
	"github.com/Krishanhkr/SwiftHost/pkg/fingerprint"
	"github.com/Krishanhkr/SwiftHost/pkg/httpx"
	"github.com/Krishanhkr/SwiftHost/pkg/lockout"
	"github.com/Krishanhkr/SwiftHost/pkg/token"
	"github.com/Krishanhkr/SwiftHost/pkg/users"
)

// RouteRule maps a path prefix to the roles allowed through it. Rules are
// checked in order; the first matching prefix wins.
type RouteRule struct {
	Prefix string
	Roles  []string
}

// ServiceRoute attaches a logical routing tag to a path prefix for
// downstream micro-segmentation. Routing never denies.
type ServiceRoute struct {
	Prefix  string
	Service string
}

type Config struct {
	PublicPaths               []string
	StaticPrefix              string
	CookieName                string
	EnforceDeviceVerification bool
	TrustThreshold            float64
	AllowedNetworks           []*net.IPNet
	StrictNetworkPolicy       bool
	ServiceMeshEnabled        bool
	Rules                     []RouteRule
	ServiceRoutes             []ServiceRoute
}

const DefaultCookieName = "ztna_token"

func DefaultPublicPaths() []string {
	return []string{"/", "/login", "/api/login", "/healthz"}
}

func DefaultRules() []RouteRule {
	return []RouteRule{
		{Prefix: "/admin", Roles: []string{"admin"}},
		{Prefix: "/analytics", Roles: []string{"security_analyst", "admin"}},
		{Prefix: "/threat-intel", Roles: []string{"security_analyst", "admin"}},
		{Prefix: "/deception", Roles: []string{"threat_hunter", "admin"}},
		{Prefix: "/services", Roles: []string{"threat_hunter", "admin"}},
	}
}

func DefaultServiceRoutes() []ServiceRoute {
	return []ServiceRoute{
		{Prefix: "/api", Service: "api-gateway"},
		{Prefix: "/admin", Service: "admin-service"},
		{Prefix: "/services", Service: "deception-service"},
		{Prefix: "/analytics", Service: "analytics-service"},
	}
}

// Engine evaluates every inbound request against device trust, network
// origin, token validity and role policy, and owns the credential flow. All
// shared mutable state lives in the injected components.
type Engine struct {
	Devices  *fingerprint.Registry
	Lockouts *lockout.Tracker
	Tokens   *token.Service
	Users    *users.Store
	Audit    *audit.Log
	Metrics  DecisionRecorder
	Config   Config

	Logf func(format string, args ...any)
}

// DecisionRecorder receives one call per evaluated decision.
type DecisionRecorder interface {
	RecordDecision(allowed bool, code string)
}

// Decision is the verdict for one request. Not persisted beyond the audit
// entry it generates.
type Decision struct {
	Allow        bool
	Status       int
	Message      string
	Code         string
	ServiceTag   string
	Claims       *token.Claims
	NeedsRefresh bool
	Fingerprint  string
	TrustScore   float64

	auditReason string
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

// Bypassed reports whether the path skips the whole pipeline: explicitly
// public paths and static assets.
func (e *Engine) Bypassed(path string) bool {
	for _, p := range e.Config.PublicPaths {
		if path == p {
			return true
		}
	}
	return e.Config.StaticPrefix != "" && strings.HasPrefix(path, e.Config.StaticPrefix)
}

// Evaluate runs the decision pipeline for the request. Stages execute in
// strict order and short-circuit on the first deny.
func (e *Engine) Evaluate(r *http.Request) Decision {
	chars := fingerprint.FromRequest(r)
	fp := fingerprint.Identify(chars)
	e.Devices.Observe(fp, chars)

	d := Decision{Allow: true, Status: http.StatusOK, Fingerprint: fp}

	// Device trust.
	if e.Config.EnforceDeviceVerification {
		d.TrustScore = e.Devices.EvaluateTrust(fp)
		threshold := e.Config.TrustThreshold
		if threshold <= 0 {
			threshold = 0.5
		}
		if d.TrustScore < threshold {
			return e.deny(d, http.StatusForbidden, "Device verification failed", "DEVICE_VERIFICATION_FAILED", "Low device trust score")
		}
	}

	// Network context.
	if !e.networkAllowed(chars["ip"]) {
		return e.deny(d, http.StatusForbidden, "Access denied from your network location", "NETWORK_VERIFICATION_FAILED", "Network context verification failed")
	}

	// Token verification. Absence means anonymous, not a deny.
	if tok := ExtractToken(r, e.Config.CookieName); tok != "" {
		claims, err := e.Tokens.Verify(r.Context(), tok)
		switch {
		case err == nil:
			d.Claims = &claims
			d.NeedsRefresh = e.Tokens.NeedsRefresh(claims)
			if claims.Fingerprint != "" && claims.Fingerprint != fp {
				// Token presented from a different device than it was
				// issued to; flag the device rather than deny.
				e.Devices.MarkSuspicious(fp)
				e.logf("ztna: token fingerprint mismatch for %s on %s", claims.Username, r.URL.Path)
			}
		case errors.Is(err, token.ErrExpired):
			return e.deny(d, http.StatusUnauthorized, "Authentication token expired", "TOKEN_EXPIRED", "Expired token")
		case errors.Is(err, token.ErrRevoked):
			return e.deny(d, http.StatusForbidden, "Authentication token revoked", "TOKEN_REVOKED", "Using revoked token")
		default:
			return e.deny(d, http.StatusUnauthorized, "Invalid authentication token", "TOKEN_INVALID", "Invalid token")
		}
	}

	// Authorization.
	if allowed, code := e.authorize(r.URL.Path, d.Claims); !allowed {
		if code == "AUTHENTICATION_REQUIRED" {
			return e.deny(d, http.StatusUnauthorized, "Authentication required", code, "Unauthorized access attempt")
		}
		return e.deny(d, http.StatusForbidden, "Insufficient permissions", code, "Unauthorized access attempt")
	}

	// Micro-segmentation routing tag.
	if e.Config.ServiceMeshEnabled {
		d.ServiceTag = e.serviceTag(r.URL.Path)
	}
	return d
}

func (e *Engine) deny(d Decision, status int, msg, code, auditReason string) Decision {
	d.Allow = false
	d.Status = status
	d.Message = msg
	d.Code = code
	d.auditReason = auditReason
	return d
}

func (e *Engine) networkAllowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed != nil && parsed.IsLoopback() {
		return true
	}
	if parsed != nil {
		for _, cidr := range e.Config.AllowedNetworks {
			if cidr.Contains(parsed) {
				return true
			}
		}
	}
	return !e.Config.StrictNetworkPolicy
}

func (e *Engine) authorize(path string, claims *token.Claims) (bool, string) {
	if e.Bypassed(path) {
		return true, ""
	}
	if claims == nil {
		return false, "AUTHENTICATION_REQUIRED"
	}
	for _, rule := range e.rules() {
		if strings.HasPrefix(path, rule.Prefix) {
			if claims.HasAnyRole(rule.Roles...) {
				return true, ""
			}
			return false, "AUTHORIZATION_FAILED"
		}
	}
	// Authenticated principals default-allow on unmatched paths.
	return true, ""
}

func (e *Engine) rules() []RouteRule {
	if len(e.Config.Rules) > 0 {
		return e.Config.Rules
	}
	return DefaultRules()
}

func (e *Engine) serviceTag(path string) string {
	routes := e.Config.ServiceRoutes
	if len(routes) == 0 {
		routes = DefaultServiceRoutes()
	}
	for _, route := range routes {
		if strings.HasPrefix(path, route.Prefix) {
			return route.Service
		}
	}
	return ""
}

// CheckAccess answers whether the authenticated principal may reach the
// resource path, via the same table the pipeline enforces.
func (e *Engine) CheckAccess(claims token.Claims, resource string) bool {
	allowed, _ := e.authorize(resource, &claims)
	return allowed
}

// Middleware composes the pipeline in front of the protected application.
// Every non-bypassed request produces exactly one audit entry.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.Bypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		d := e.Evaluate(r)
		e.record(r, d)
		if !d.Allow {
			httpx.Error(w, d.Status, d.Message, d.Code)
			return
		}
		if d.NeedsRefresh {
			w.Header().Set("X-Token-Refresh-Required", "true")
		}
		if d.ServiceTag != "" {
			w.Header().Set("X-Routed-Service", d.ServiceTag)
		}
		ctx := WithFingerprint(r.Context(), d.Fingerprint)
		if d.Claims != nil {
			ctx = WithClaims(ctx, *d.Claims)
		}
		if d.NeedsRefresh {
			ctx = withRefreshHint(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (e *Engine) record(r *http.Request, d Decision) {
	principal := "anonymous"
	if d.Claims != nil && d.Claims.Username != "" {
		principal = d.Claims.Username
	}
	e.Audit.Append(audit.Entry{
		ClientIP:    fingerprint.FromRequest(r)["ip"],
		Path:        r.URL.Path,
		Method:      r.Method,
		UserAgent:   r.Header.Get("User-Agent"),
		Success:     d.Allow,
		Reason:      d.auditReason,
		Principal:   principal,
		Fingerprint: d.Fingerprint,
		TrustScore:  d.TrustScore,
	})
	if e.Metrics != nil {
		e.Metrics.RecordDecision(d.Allow, d.Code)
	}
	if !d.Allow {
		e.logf("ztna access denied: %s for %s %s from %s", d.auditReason, r.Method, r.URL.Path, r.RemoteAddr)
	} else if strings.HasPrefix(r.URL.Path, "/admin") {
		e.logf("ztna admin access granted to %s for %s", principal, r.URL.Path)
	}
}

// Credential flow errors.
var (
	ErrMissingCredentials = errors.New("username and password required")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// LockedError reports a lockout denial together with its expiry.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// LoginResult is returned to the boundary layer for cookie/header delivery.
type LoginResult struct {
	User   users.User
	Token  string
	Claims token.Claims
}

// Login validates credentials, enforcing lockout before the password check
// so locked accounts reveal nothing about credential validity.
func (e *Engine) Login(ctx context.Context, username, password, fingerprintID string) (LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return LoginResult{}, ErrMissingCredentials
	}
	if locked, until := e.Lockouts.IsLocked(username); locked {
		return LoginResult{}, &LockedError{Until: until}
	}
	u, ok := e.Users.Authenticate(username, password)
	if !ok {
		e.Lockouts.RecordFailure(username)
		return LoginResult{}, ErrInvalidCredentials
	}
	e.Lockouts.Reset(username)
	tok, claims, err := e.Tokens.Issue(username, username, u.Roles, fingerprintID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("engine: issue token: %w", err)
	}
	return LoginResult{User: u, Token: tok, Claims: claims}, nil
}

// Logout revokes the presented token. Idempotent.
func (e *Engine) Logout(ctx context.Context, tok string) error {
	return e.Tokens.Revoke(ctx, tok)
}

// Refresh revokes the old token and issues a replacement with identical
// principal, roles and fingerprint.
func (e *Engine) Refresh(ctx context.Context, oldToken string, claims token.Claims) (string, token.Claims, error) {
	return e.Tokens.Refresh(ctx, oldToken, claims)
}

// ExtractToken pulls the bearer credential from the request: Authorization
// header first, then the session cookie, then a query parameter.
func ExtractToken(r *http.Request, cookieName string) string {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
