package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nubster/egide/interfaces"
	"golang.org/x/time/rate"
)

// TokenHeader carries the caller token. "Authorization: Bearer" is accepted
// as well.
const TokenHeader = "X-Egide-Token"

// TokenFromRequest extracts the caller token, or "" when none was sent.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get(TokenHeader)); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireToken authenticates every request through auth and attaches the
// resulting AuthContext to the request context. Requests without a token get
// 401, requests with a rejected token get the status of the returned error.
func RequireToken(auth interfaces.Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error: "missing token",
					Kind:  interfaces.ErrorKind(interfaces.ErrUnauthorized),
				})
				return
			}
			caller, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(interfaces.WithAuthContext(r.Context(), caller)))
		})
	}
}

// ClientLimiter applies a token bucket per client address and evicts idle
// buckets.
type ClientLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter returns nil, which allows everything, when perSecond or
// burst is not positive.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	return &ClientLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow consumes one token of key at now.
func (l *ClientLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Middleware rejects requests over the limit with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r), time.Now()) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", l.retryAfter()))
			WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error: "too many requests",
				Kind:  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ClientLimiter) retryAfter() int {
	if l == nil || l.limit <= 0 {
		return 1
	}
	secs := int(1 / float64(l.limit))
	if secs < 1 {
		return 1
	}
	return secs
}

// clientKey is the host part of RemoteAddr. chi's RealIP middleware, when
// installed, has already rewritten it from the forwarding headers.
func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
