package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/studycrew-go/internal/logging"
)

// Per-client defaults for the ask and upload routes. Each ask fans out to
// several model calls, so the sustained rate is kept low.
const (
	defaultRateLimit = 2
	defaultRateBurst = 5
)

// limiterTTL is how long an idle client keeps its bucket.
const limiterTTL = 5 * time.Minute

// clientBucket is one client's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles expensive routes per client IP.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger
	// onReject is called for every rejected request. Optional.
	onReject func(r *http.Request)
}

// newRateLimiter constructs a rateLimiter and starts its eviction loop,
// which runs until the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	var once sync.Once
	return rl, func() { once.Do(func() { close(stopCh) }) }
}

// bucket returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// evict drops buckets idle for longer than limiterTTL.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-limiterTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After header giving the whole seconds until a token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)
		limiter := rl.bucket(ip, now)

		if limiter.AllowN(now, 1) {
			next.ServeHTTP(w, r)
			return
		}

		retry := retryAfter(limiter, now)
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
			slog.Int("retry_after_s", retry),
		)
		if rl.onReject != nil {
			rl.onReject(r)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:   "rate_limited",
			Message: "too many requests, retry after " + strconv.Itoa(retry) + "s",
		})
	})
}

// retryAfter returns the whole seconds until limiter has a token, at least 1.
func retryAfter(limiter *rate.Limiter, now time.Time) int {
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return 1
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return max(1, int(math.Ceil(delay.Seconds())))
}

// clientIP returns the request's remote IP without the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
