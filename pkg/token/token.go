package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Krishanhkr/SwiftHost/pkg/store"
)

// Verification failure kinds. Callers distinguish these with errors.Is so an
// expired token can be treated differently from a forged or revoked one.
var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
	ErrRevoked          = errors.New("token revoked")
)

// Claims are the signed assertions carried by a session token. Roles have
// set semantics; comparisons are case-insensitive.
type Claims struct {
	Sub         string   `json:"sub"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Fingerprint string   `json:"fingerprint"`
	Iat         int64    `json:"iat"`
	Exp         int64    `json:"exp"`
}

// HasAnyRole reports whether the claims carry at least one of the required
// roles. No required roles means access is not role-restricted.
func (c Claims) HasAnyRole(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		set[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[strings.ToLower(strings.TrimSpace(r))]; ok {
			return true
		}
	}
	return false
}

// Service issues, verifies and revokes HS256-signed session tokens. The
// revocation set lives in the shared cache keyed by token digest with TTL
// equal to the remaining token lifetime, so revoked entries prune themselves
// at expiry.
type Service struct {
	secret  []byte
	ttl     time.Duration
	revoked store.Cache
	now     func() time.Time
}

const refreshWindow = 10 * time.Minute

func NewService(secret string, ttl time.Duration, revoked store.Cache) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if revoked == nil {
		revoked = store.NewMemoryCache()
	}
	return &Service{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: revoked,
		now:     time.Now,
	}, nil
}

// Issue signs a token for the principal. An empty subject falls back to a
// generated id. The fingerprint binds the token to the issuing device.
func (s *Service) Issue(subject, username string, roles []string, fingerprint string) (string, Claims, error) {
	if subject == "" {
		subject = uuid.NewString()
	}
	now := s.now().UTC()
	claims := Claims{
		Sub:         subject,
		Username:    username,
		Roles:       roles,
		Fingerprint: fingerprint,
		Iat:         now.Unix(),
		Exp:         now.Add(s.ttl).Unix(),
	}
	tok, err := signHS256(claims, s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return tok, claims, nil
}

// Verify checks signature, expiry and revocation, in that order.
func (s *Service) Verify(ctx context.Context, tok string) (Claims, error) {
	claims, err := parseHS256(tok, s.secret)
	if err != nil {
		return Claims{}, err
	}
	if claims.Exp == 0 || s.now().UTC().Unix() >= claims.Exp {
		return Claims{}, ErrExpired
	}
	if _, err := s.revoked.Get(ctx, revocationKey(tok)); err == nil {
		return Claims{}, ErrRevoked
	} else if !errors.Is(err, store.ErrNotFound) {
		return Claims{}, fmt.Errorf("token: revocation lookup: %w", err)
	}
	return claims, nil
}

// Revoke adds the token to the revocation set. Idempotent; revoking an
// already-revoked or unparseable token is not an error.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	ttl := s.ttl
	if claims, err := parseHS256(tok, s.secret); err == nil {
		if remaining := time.Unix(claims.Exp, 0).Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.revoked.Set(ctx, revocationKey(tok), "1", ttl); err != nil {
		return fmt.Errorf("token: revoke: %w", err)
	}
	return nil
}

// NeedsRefresh reports whether the token is close enough to expiry that the
// caller should request a new one. A renewal hint, not an error.
func (s *Service) NeedsRefresh(claims Claims) bool {
	return time.Unix(claims.Exp, 0).Sub(s.now()) < refreshWindow
}

// Refresh revokes the old token and issues a replacement with identical
// principal, roles and fingerprint.
func (s *Service) Refresh(ctx context.Context, oldToken string, claims Claims) (string, Claims, error) {
	if err := s.Revoke(ctx, oldToken); err != nil {
		return "", Claims{}, err
	}
	return s.Issue(claims.Sub, claims.Username, claims.Roles, claims.Fingerprint)
}

func revocationKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return "revoked:" + hex.EncodeToString(sum[:])
}

func signHS256(claims Claims, secret []byte) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadRaw)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig, nil
}

func parseHS256(tok string, secret []byte) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformed
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return Claims{}, ErrMalformed
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return Claims{}, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Claims{}, ErrInvalidSignature
	}
	var claims Claims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return Claims{}, ErrMalformed
	}
	if claims.Exp <= claims.Iat {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}
