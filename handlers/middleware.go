/*
# Module: handlers/middleware.go
Access logging, per-IP rate limiting, origin role checks and queue routing.

## Linked Modules
- [alerts/hub](../alerts/hub.go) - Origin classification
- [handlers/auth](./auth.go) - Admin session check

## Tags
http, middleware, rate-limiting, security

## Exports
(None - package internal middleware)

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/middleware.go" ;
    code:description "Access logging, per-IP rate limiting, origin role checks and queue routing" ;
    code:linksTo [
        code:name "alerts/hub" ;
        code:path "../alerts/hub.go" ;
        code:relationship "Origin classification"
    ], [
        code:name "handlers/auth" ;
        code:path "./auth.go" ;
        code:relationship "Admin session check"
    ] ;
    code:tags "http", "middleware", "rate-limiting", "security" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"donation-alerts/alerts"
	"donation-alerts/types"
)

type ctxKey string

const queueKindKey ctxKey = "queue_kind"

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// getClientIP extracts the client IP from request headers
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter hands out one token bucket per client IP
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &ipRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	// drop idle visitors while we hold the lock
	for key, other := range l.visitors {
		if now.Sub(other.lastSeen) > 10*time.Minute {
			delete(l.visitors, key)
		}
	}
	return v.limiter
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(getClientIP(r)).Allow() {
			writeMessage(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestOrigin prefers the Origin header and falls back to the Referer's origin
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

func roleAllowed(role alerts.Role, allowed []alerts.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// requireOrigin only checks that the caller's origin maps to one of roles
func requireOrigin(hub *alerts.Hub, roles ...alerts.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := hub.Classify(requestOrigin(r))
			if !ok || !roleAllowed(role, roles) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireRole checks the origin role; admin callers also need a valid session
func requireRole(hub *alerts.Hub, auth *AdminAuth, roles ...alerts.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := hub.Classify(requestOrigin(r))
			if !ok || !roleAllowed(role, roles) {
				forbidden(w)
				return
			}
			if role == alerts.RoleAdmin && !auth.Valid(r) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// queueKind resolves the {queue} route segment
func queueKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := types.ParseQueueKind(chi.URLParam(r, "queue"))
		if err != nil {
			writeMessage(w, http.StatusNotFound, "not found")
			return
		}
		ctx := context.WithValue(r.Context(), queueKindKey, kind)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func kindFrom(r *http.Request) types.QueueKind {
	kind, _ := r.Context().Value(queueKindKey).(types.QueueKind)
	return kind
}
