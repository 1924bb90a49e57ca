package httpx

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// RateLimitConfig is a token bucket per caller. A zero RequestsPerSecond
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RPS" envDefault:"50" yaml:"rps" json:"rps"`
	Burst             int     `env:"BURST" envDefault:"100" yaml:"burst" json:"burst"`

	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means
	// callers are keyed by their remote address only.
	TrustedProxies []string `env:"TRUSTED_PROXIES" yaml:"trusted_proxies" json:"trusted_proxies"`
}

// Enabled reports whether the config limits anything.
func (c RateLimitConfig) Enabled() bool { return c.RequestsPerSecond > 0 }

// Validate rejects trusted proxies that are neither an address nor a prefix.
func (c RateLimitConfig) Validate() error {
	_, err := parseProxies(c.TrustedProxies)
	return err
}

// ClientIPKey returns [IPKey], or [ProxyIPKey] over TrustedProxies when
// any are configured. Entries that do not parse are skipped; run Validate
// first.
func (c RateLimitConfig) ClientIPKey() KeyFunc {
	trusted, _ := parseProxies(c.TrustedProxies)
	if len(trusted) == 0 {
		return IPKey
	}
	return ProxyIPKey(trusted)
}

func parseProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, sserr.Newf(sserr.CodeValidation, "httpx: trusted proxy %q is not an address or CIDR range", v)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

// KeyFunc returns the bucket key of a request. An empty key is not limited.
type KeyFunc func(*http.Request) string

// IPKey keys by the host of the remote address. Forwarding headers are
// ignored.
func IPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxyIPKey keys by the forwarded client address when the request comes
// from one of trusted. X-Forwarded-For is read right to left and the first
// hop outside trusted wins; X-Real-IP is used when there is no
// X-Forwarded-For. Requests from other peers are keyed like [IPKey].
func ProxyIPKey(trusted []netip.Prefix) KeyFunc {
	isTrusted := func(s string) bool {
		a, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return false
		}
		a = a.Unmap()
		for _, p := range trusted {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		remote := IPKey(r)
		if !isTrusted(remote) {
			return remote
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if hop != "" && !isTrusted(hop) {
					return hop
				}
			}
			return strings.TrimSpace(hops[0])
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return remote
	}
}

// CallerKey keys by the verified token subject, falling back to ip for
// public routes.
func CallerKey(ip KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
			return "sub:" + claims.Subject
		}
		return "ip:" + ip(r)
	}
}

// idleSweep is how often buckets that have refilled are dropped.
const idleSweep = 5 * time.Minute

type limiterSet struct {
	limiters sync.Map // string -> *rate.Limiter
	limit    rate.Limit
	burst    int

	mu        sync.Mutex
	lastSweep time.Time
}

func (s *limiterSet) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := s.limiters.LoadOrStore(key, rate.NewLimiter(s.limit, s.burst))
	s.maybeSweep()
	return l.(*rate.Limiter)
}

func (s *limiterSet) maybeSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastSweep) < idleSweep {
		return
	}
	s.lastSweep = time.Now()
	s.limiters.Range(func(k, v any) bool {
		if v.(*rate.Limiter).Tokens() >= float64(s.burst) {
			s.limiters.Delete(k)
		}
		return true
	})
}

// RateLimit rejects requests over cfg with 429 and a Retry-After header.
func RateLimit(cfg RateLimitConfig, key KeyFunc) Middleware {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	set := &limiterSet{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			l := set.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Reserve()
			delay := res.Delay()
			res.Cancel()
			retryAfter := max(int(delay.Seconds()), 1)

			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			WriteJSON(w, http.StatusTooManyRequests, ErrorBody{
				Code:    "RATE_LIMITED",
				Message: "too many requests",
			})
		})
	}
}
