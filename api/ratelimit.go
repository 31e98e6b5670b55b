package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/inkwell/ratelimit"
)

// Limiter settings. Each guarded step has its own counter.
var (
	LoginLimit = ratelimit.Options{
		Name: "login", Points: 3, Duration: time.Hour, BlockDuration: 15 * time.Minute,
	}
	RegisterRequestLimit = ratelimit.Options{
		Name: "register_request", Points: 5, Duration: time.Hour, BlockDuration: time.Hour,
	}
	RegisterAttemptLimit = ratelimit.Options{
		Name: "register_attempt", Points: 5, Duration: 5 * time.Minute, BlockDuration: 5 * time.Minute,
	}
	ResetRequestLimit = ratelimit.Options{
		Name: "reset_request", Points: 3, Duration: time.Hour, BlockDuration: time.Hour,
	}
	VerifyCodeLimit = ratelimit.Options{
		Name: "verify_code", Points: 3, Duration: 15 * time.Minute, BlockDuration: 15 * time.Minute,
	}
)

// Limiters groups the limiter of every guarded step.
type Limiters struct {
	// Login is keyed by email and counts failed logins.
	Login ratelimit.Limiter
	// RegisterRequest is keyed by client IP.
	RegisterRequest ratelimit.Limiter
	// RegisterAttempt is keyed by registration token id.
	RegisterAttempt ratelimit.Limiter
	// ResetRequest is keyed by email.
	ResetRequest ratelimit.Limiter
	// VerifyCode is keyed by email.
	VerifyCode ratelimit.Limiter
}

// NewMemoryLimiters returns process-local limiters.
func NewMemoryLimiters() Limiters {
	return Limiters{
		Login:           ratelimit.NewMemory(LoginLimit),
		RegisterRequest: ratelimit.NewMemory(RegisterRequestLimit),
		RegisterAttempt: ratelimit.NewMemory(RegisterAttemptLimit),
		ResetRequest:    ratelimit.NewMemory(ResetRequestLimit),
		VerifyCode:      ratelimit.NewMemory(VerifyCodeLimit),
	}
}

// NewRedisLimiters returns limiters shared through Redis.
func NewRedisLimiters(client redis.UniversalClient) Limiters {
	return Limiters{
		Login:           ratelimit.NewRedis(client, LoginLimit),
		RegisterRequest: ratelimit.NewRedis(client, RegisterRequestLimit),
		RegisterAttempt: ratelimit.NewRedis(client, RegisterAttemptLimit),
		ResetRequest:    ratelimit.NewRedis(client, ResetRequestLimit),
		VerifyCode:      ratelimit.NewRedis(client, VerifyCodeLimit),
	}
}

// Sweep drops expired counters from in-memory limiters. It is a no-op for
// limiters that expire keys on their own.
func (l Limiters) Sweep() {
	for _, lim := range []ratelimit.Limiter{l.Login, l.RegisterRequest, l.RegisterAttempt, l.ResetRequest, l.VerifyCode} {
		if s, ok := lim.(interface{ Sweep() }); ok {
			s.Sweep()
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l Limiters) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msgRateLimited)
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// consume spends a point for key. It writes 429 or 500 and returns false
// when the request must stop.
func (a *API) consume(w http.ResponseWriter, r *http.Request, lim ratelimit.Limiter, key string) bool {
	_, err := lim.Consume(r.Context(), key)
	if err == nil {
		return true
	}
	if rej, ok := ratelimit.IsRejected(err); ok {
		writeRateLimited(w, rej.RetryAfter)
		return false
	}
	writeInternalError(w, "consuming rate limit", err)
	return false
}

// peekStatus is the result of inspecting a counter without spending.
type peekStatus int

const (
	peekFailed peekStatus = iota
	// peekMissing: the precursor step was never requested.
	peekMissing
	peekExhausted
	peekOK
)

// peek inspects the counter for key and writes 428, 429 or 500 for anything
// but peekOK.
func (a *API) peek(w http.ResponseWriter, r *http.Request, lim ratelimit.Limiter, key string) peekStatus {
	st, err := lim.Get(r.Context(), key)
	switch {
	case err != nil:
		writeInternalError(w, "reading rate limit", err)
		return peekFailed
	case st == nil:
		writeError(w, http.StatusPreconditionRequired, msgPrecondition)
		return peekMissing
	case st.Exhausted():
		writeRateLimited(w, st.ResetAfter)
		return peekExhausted
	}
	return peekOK
}

// refuseExhausted writes 429 and returns true when key is exhausted. A
// missing counter is fine: nothing has been spent yet.
func (a *API) refuseExhausted(w http.ResponseWriter, r *http.Request, lim ratelimit.Limiter, key string) bool {
	st, err := lim.Get(r.Context(), key)
	if err != nil {
		writeInternalError(w, "reading rate limit", err)
		return true
	}
	if st != nil && st.Exhausted() {
		writeRateLimited(w, st.ResetAfter)
		return true
	}
	return false
}

// reset clears a counter after a successful step. Failure only costs the
// user a slower next attempt, so it is logged.
func (a *API) reset(r *http.Request, lim ratelimit.Limiter, key string) {
	if err := lim.Delete(r.Context(), key); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("clearing rate limit counter", "error", err)
	}
}

// extractClientIP returns the client IP, honouring forwarding headers only
// from configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the client IP. Proxy headers
// (X-Forwarded-For, Forwarded, X-Real-IP) are only honoured when the direct
// peer falls inside one of trustedProxies.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for part := range strings.SplitSeq(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for elem := range strings.SplitSeq(fwd, ",") {
				for param := range strings.SplitSeq(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					if ip, ok := parseIPCandidate(param[4:]); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
