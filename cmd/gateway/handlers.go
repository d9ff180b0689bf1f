package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Krishanhkr/SwiftHost/pkg/audit"
	"github.com/Krishanhkr/SwiftHost/pkg/engine"
	"github.com/Krishanhkr/SwiftHost/pkg/fingerprint"
	"github.com/Krishanhkr/SwiftHost/pkg/httpx"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type checkAccessRequest struct {
	Resource string `json:"resource"`
}

type userView struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	chars := fingerprint.FromRequest(r)
	clientIP := chars["ip"]

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Username and password required", "MISSING_CREDENTIALS")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.Error(w, http.StatusBadRequest, "Username and password required", "MISSING_CREDENTIALS")
		return
	}

	if s.RateLimitEnabled && s.RateLimiter != nil {
		if d := s.RateLimiter.Allow("login:" + clientIP); !d.Allowed {
			retry := d.RetryAfter(time.Now())
			w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
			httpx.Error(w, http.StatusTooManyRequests, "Too many login attempts", "RATE_LIMITED")
			return
		}
	}

	res, err := s.Engine.Login(r.Context(), req.Username, req.Password, fingerprint.Identify(chars))
	if err != nil {
		s.auditAuth(r, req.Username, false, authFailureReason(err))
		var locked *engine.LockedError
		switch {
		case errors.Is(err, engine.ErrMissingCredentials):
			httpx.Error(w, http.StatusBadRequest, "Username and password required", "MISSING_CREDENTIALS")
		case errors.As(err, &locked):
			httpx.WriteJSON(w, http.StatusForbidden, map[string]any{
				"error":         "Account temporarily locked",
				"code":          "ACCOUNT_LOCKED",
				"lockout_until": locked.Until.UTC().Format(time.RFC3339),
			})
		case errors.Is(err, engine.ErrInvalidCredentials):
			httpx.Error(w, http.StatusUnauthorized, "Invalid username or password", "INVALID_CREDENTIALS")
		default:
			httpx.Error(w, http.StatusInternalServerError, "Login failed", "INTERNAL_ERROR")
		}
		return
	}

	s.auditAuth(r, req.Username, true, "")
	s.setSessionCookie(w, r, res.Token)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user": userView{
			Username: res.User.Username,
			Email:    res.User.Email,
			Roles:    res.User.Roles,
		},
	})
}

func authFailureReason(err error) string {
	var locked *engine.LockedError
	switch {
	case errors.As(err, &locked):
		return "Account locked"
	case errors.Is(err, engine.ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, engine.ErrMissingCredentials):
		return "Missing credentials"
	default:
		return "Login error"
	}
}

// auditAuth records login outcomes alongside the pipeline's per-request
// entries; /api/login bypasses the pipeline so it audits itself.
func (s *Server) auditAuth(r *http.Request, username string, success bool, reason string) {
	chars := fingerprint.FromRequest(r)
	s.Engine.Audit.Append(audit.Entry{
		ClientIP:    chars["ip"],
		Path:        r.URL.Path,
		Method:      r.Method,
		UserAgent:   r.Header.Get("User-Agent"),
		Success:     success,
		Reason:      reason,
		Principal:   username,
		Fingerprint: fingerprint.Identify(chars),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := engine.ExtractToken(r, s.CookieName); tok != "" {
		if err := s.Engine.Logout(r.Context(), tok); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Logout failed", "INTERNAL_ERROR")
			return
		}
	}
	s.clearSessionCookie(w, r)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := engine.ClaimsFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "Authentication required", "AUTHENTICATION_REQUIRED")
		return
	}
	oldToken := engine.ExtractToken(r, s.CookieName)
	newToken, newClaims, err := s.Engine.Refresh(r.Context(), oldToken, claims)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "Token refresh failed", "INTERNAL_ERROR")
		return
	}
	s.setSessionCookie(w, r, newToken)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "Token refreshed",
		"expires_at": time.Unix(newClaims.Exp, 0).UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	claims, ok := engine.ClaimsFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "Authentication required", "AUTHENTICATION_REQUIRED")
		return
	}
	view := userView{Username: claims.Username, Roles: claims.Roles}
	if u, ok := s.Engine.Users.Get(claims.Username); ok {
		view.Email = u.Email
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user":                view,
		"token_needs_refresh": engine.RefreshHintFromContext(r.Context()),
	})
}

func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := engine.ClaimsFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "Authentication required", "AUTHENTICATION_REQUIRED")
		return
	}
	var req checkAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		httpx.Error(w, http.StatusBadRequest, "Resource path required", "MISSING_RESOURCE")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"resource": req.Resource,
		"allowed":  s.Engine.CheckAccess(claims, req.Resource),
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	all := s.Engine.Users.List()
	out := make([]userView, 0, len(all))
	for _, u := range all {
		out = append(out, userView{Username: u.Username, Email: u.Email, Roles: u.Roles})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"users": out})
}

// handleProtectedResource answers for every path the pipeline admitted that
// no explicit route claims. In a full deployment this is where the request
// would be proxied to the service named by the routing tag.
func (s *Server) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"path":    r.URL.Path,
		"service": w.Header().Get("X-Routed-Service"),
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   s.CookieMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}
