package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"chatedge/internal/apperr"
)

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	// Match net/http default behavior: implicit 200 on first write.
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// Hijack forwards to the wrapped writer so connection upgrades (WebSocket)
// still work behind this middleware.
func (w *statusCapturingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

// errorLoggerMiddleware records every 5xx with its method, path, and request
// id for operator visibility.
func errorLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusCapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status >= 500 {
			logMsg(r.Context(), fmt.Sprintf("http %s %s -> %d", r.Method, r.URL.Path, sw.status))
		}
	})
}

// recoverMiddleware is the last line of defense: a panicking handler turns
// into an INTERNAL envelope instead of tearing down the connection.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				apperr.Write(w, r, apperr.Internal(fmt.Errorf("panic: %v", rec)), s.cfg.DevMode())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware gates every request through the fixed-window store and
// exposes the remaining quota on each response.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The socket is long-lived and carries its own connection-level
		// limits; the fixed-window gate does not apply to it.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		res := s.store.Allow(ClientIP(r, s.cfg.TrustProxy))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			apperr.Write(w, r, apperr.RateLimited("too many requests: limit is "+s.store.Policy()), s.cfg.DevMode())
			return
		}

		next.ServeHTTP(w, r)
	})
}
