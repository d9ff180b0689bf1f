package hardening

import (
	"fmt"
	"strings"
)

// Options carries the configuration inspected at startup. Validation is only
// enforced in production-like environments with strict security enabled.
type Options struct {
	Service             string
	Environment         string
	StrictProdSecurity  string
	TokenSecret         string
	NetworkPolicy       string
	EnforceDeviceVerify string
	CORSAllowedOrigins  string
}

const minSecretLength = 32

// ValidateProduction rejects configurations that would undermine the access
// control model when deployed for real: missing or short signing secrets,
// permissive network policy, wildcard or plaintext CORS origins.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	secret := strings.TrimSpace(o.TokenSecret)
	if secret == "" {
		return fmt.Errorf("%s: strict production hardening requires TOKEN_SECRET", service)
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("%s: strict production hardening requires TOKEN_SECRET of at least %d characters", service, minSecretLength)
	}
	// An unset policy defaults to permissive, which is equally unacceptable.
	policy := strings.ToLower(strings.TrimSpace(o.NetworkPolicy))
	if policy == "" || policy == "permissive" {
		return fmt.Errorf("%s: strict production hardening forbids NETWORK_POLICY=permissive", service)
	}
	if err := validateCORSOrigins(o.CORSAllowedOrigins, service); err != nil {
		return err
	}
	return nil
}

func validateCORSOrigins(raw, service string) error {
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
		}
		if strings.HasPrefix(lower, "http://") {
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, o)
		}
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	}
	return false
}
