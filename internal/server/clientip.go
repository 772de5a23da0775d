package server

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the best-effort client identity for a request, for use
// as a rate-limit key. With trustProxy set it honors the first hop of
// X-Forwarded-For, then X-Real-IP; otherwise the raw socket address. It
// never fails: on a totally unparseable address it returns "", which the
// limiter maps to one shared low-priority bucket.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return ""
}
