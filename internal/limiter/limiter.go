package limiter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/itstheanurag/grader/internal/metrics"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

type RateLimiter struct {
	globalLimiter *rate.Limiter
	perIPLimiters *xsync.MapOf[string, *ipLimiter]
	ipRate        rate.Limit
	ipBurst       int
	maxConcurrent int64
	currentConc   int64
	mu            sync.Mutex
	trusted       []netip.Prefix
	now           func() time.Time
}

func NewRateLimiter(globalRPS float64, perIPRPS float64, perIPBurst int, maxConcurrent int) *RateLimiter {
	globalBurst := int(globalRPS) * 2
	if globalBurst < 1 {
		globalBurst = 1
	}
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		perIPLimiters: xsync.NewMapOf[string, *ipLimiter](),
		ipRate:        rate.Limit(perIPRPS),
		ipBurst:       perIPBurst,
		maxConcurrent: int64(maxConcurrent),
		now:           time.Now,
	}
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	l, _ := rl.perIPLimiters.LoadOrCompute(ip, func() *ipLimiter {
		return &ipLimiter{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
	})
	l.lastSeen.Store(rl.now().UnixNano())
	return l.limiter
}

// Allow admits a request and reserves a concurrency slot that must be
// returned with Done.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.globalLimiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	if !rl.getIPLimiter(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	if rl.currentConc >= rl.maxConcurrent {
		rl.mu.Unlock()
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.currentConc++
	rl.mu.Unlock()

	return true
}

func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.currentConc > 0 {
		rl.currentConc--
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()

		next(w, r)
	}
}

// TrustProxies lists the proxies whose X-Forwarded-For header is believed.
// Entries are CIDRs or single addresses.
func (rl *RateLimiter) TrustProxies(cidrs []string) error {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			addr, addrErr := netip.ParseAddr(c)
			if addrErr != nil {
				return fmt.Errorf("invalid trusted proxy %q: %w", c, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		prefixes = append(prefixes, p.Masked())
	}
	rl.trusted = prefixes
	return nil
}

func (rl *RateLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP keys a request by its peer address. X-Forwarded-For is read only
// when the peer is a trusted proxy, right to left, stopping at the first hop
// that is not itself trusted; hops further left are client-supplied.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(client); err == nil {
		client = host
	}
	if !rl.isTrusted(client) {
		return client
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		client = hop
		if !rl.isTrusted(hop) {
			break
		}
	}
	return client
}

// Cleanup drops per-IP limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle).UnixNano()
	removed := 0
	rl.perIPLimiters.Range(func(ip string, l *ipLimiter) bool {
		if l.lastSeen.Load() < cutoff {
			rl.perIPLimiters.Delete(ip)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}
