package server

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy is the single origin rule shared by the CORS middleware and
// the realtime upgrader. Both are fed from the same value so the two checks
// can never diverge.
type OriginPolicy struct {
	allowed          string
	allowAll         bool
	AllowCredentials bool
}

// NewOriginPolicy builds a policy for one configured origin. "*" allows any
// origin; anything else must parse as scheme://host.
func NewOriginPolicy(origin string, allowCredentials bool) (*OriginPolicy, error) {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return nil, fmt.Errorf("allowed origin is empty")
	}
	if trimmed == "*" {
		return &OriginPolicy{allowAll: true, AllowCredentials: allowCredentials}, nil
	}

	normalized, ok := normalizeOrigin(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid allowed origin %q", origin)
	}
	return &OriginPolicy{allowed: normalized, AllowCredentials: allowCredentials}, nil
}

// AllowedOrigin returns the normalized configured origin, or "*" when every
// origin is allowed.
func (p *OriginPolicy) AllowedOrigin() string {
	if p.allowAll {
		return "*"
	}
	return p.allowed
}

// Allows reports whether the given Origin header value is acceptable.
func (p *OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}
	return normalized == p.allowed
}

// CheckRequest applies the policy to a realtime handshake request.
func (p *OriginPolicy) CheckRequest(r *http.Request) bool {
	if p.Allows(r.Header.Get("Origin")) {
		return true
	}

	log.Printf("Blocked realtime connection from disallowed origin: %q", r.Header.Get("Origin"))
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}
