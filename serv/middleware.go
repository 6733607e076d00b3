package serv

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks a per-client rate limiter and when it was last seen
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterSweepEvery = 5 * time.Minute
	limiterStaleAfter = 10 * time.Minute
)

// rateLimiter enforces a per-client token bucket. Clients over the limit get
// a 429 with a Retry-After hint. Stale entries are swept opportunistically on
// the request path, so the middleware owns no background goroutine.
func rateLimiter(conf RateLimiter) func(http.Handler) http.Handler {
	var (
		clients   sync.Map // map[string]*clientLimiter
		sweepMu   sync.Mutex
		lastSweep = time.Now()
	)

	sweep := func() {
		sweepMu.Lock()
		if time.Since(lastSweep) < limiterSweepEvery {
			sweepMu.Unlock()
			return
		}
		lastSweep = time.Now()
		sweepMu.Unlock()

		clients.Range(func(key, value any) bool {
			cl := value.(*clientLimiter)
			if time.Since(cl.lastSeen) > limiterStaleAfter {
				clients.Delete(key)
			}
			return true
		})
	}

	getLimiter := func(ip string) *rate.Limiter {
		if v, ok := clients.Load(ip); ok {
			cl := v.(*clientLimiter)
			cl.lastSeen = time.Now()
			return cl.limiter
		}
		limiter := rate.NewLimiter(rate.Limit(conf.Rate), conf.Bucket)
		clients.Store(ip, &clientLimiter{limiter: limiter, lastSeen: time.Now()})
		return limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sweep()
			limiter := getLimiter(clientIP(r, conf.IPHeader))

			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeTooManyRequests(w, 0)
				return
			}

			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeTooManyRequests(w, int(delay.Seconds())+1)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, preferring the configured header when
// the service runs behind a proxy
func clientIP(r *http.Request, ipHeader string) string {
	if ipHeader != "" {
		if v := r.Header.Get(ipHeader); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
