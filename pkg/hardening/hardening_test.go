package hardening

import (
	"strings"
	"testing"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestNonProductionSkipsValidation(t *testing.T) {
	err := ValidateProduction(Options{Environment: "development"})
	if err != nil {
		t.Fatalf("expected no validation outside production, got %v", err)
	}
}

func TestStrictSecurityOptOut(t *testing.T) {
	err := ValidateProduction(Options{Environment: "production", StrictProdSecurity: "false"})
	if err != nil {
		t.Fatalf("expected opt-out to skip validation, got %v", err)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	err := ValidateProduction(Options{Service: "gateway", Environment: "production", NetworkPolicy: "strict"})
	if err == nil || !strings.Contains(err.Error(), "TOKEN_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	err = ValidateProduction(Options{Service: "gateway", Environment: "production", TokenSecret: "short", NetworkPolicy: "strict"})
	if err == nil || !strings.Contains(err.Error(), "at least") {
		t.Fatalf("expected short secret error, got %v", err)
	}
}

func TestProductionForbidsPermissiveNetworkPolicy(t *testing.T) {
	err := ValidateProduction(Options{
		Service:     "gateway",
		Environment: "prod",
		TokenSecret: strongSecret,
	})
	if err == nil || !strings.Contains(err.Error(), "NETWORK_POLICY") {
		t.Fatalf("expected permissive policy rejected (empty defaults to permissive check), got %v", err)
	}
}

func TestProductionCORSRules(t *testing.T) {
	base := Options{
		Service:       "gateway",
		Environment:   "production",
		TokenSecret:   strongSecret,
		NetworkPolicy: "strict",
	}
	opt := base
	opt.CORSAllowedOrigins = "*"
	if err := ValidateProduction(opt); err == nil || !strings.Contains(err.Error(), "wildcard") {
		t.Fatalf("expected wildcard rejected, got %v", err)
	}
	opt = base
	opt.CORSAllowedOrigins = "http://ops.example.com"
	if err := ValidateProduction(opt); err == nil || !strings.Contains(err.Error(), "HTTPS") {
		t.Fatalf("expected plaintext origin rejected, got %v", err)
	}
	opt = base
	opt.CORSAllowedOrigins = "https://ops.example.com"
	if err := ValidateProduction(opt); err != nil {
		t.Fatalf("expected valid config accepted, got %v", err)
	}
}
