package admin

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const throttleIdle = 10 * time.Minute

// loginThrottle keeps one token bucket per login key.
type loginThrottle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*loginBucket
	swept   time.Time
}

type loginBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLoginThrottle(limit rate.Limit, burst int) *loginThrottle {
	if burst < 1 {
		burst = 1
	}
	return &loginThrottle{limit: limit, burst: burst, buckets: make(map[string]*loginBucket)}
}

// allow spends one attempt for key. When the bucket is empty it reports how
// long until the next attempt would be admitted.
func (t *loginThrottle) allow(key string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.swept) > throttleIdle {
		for k, b := range t.buckets {
			if now.Sub(b.seen) > throttleIdle {
				delete(t.buckets, k)
			}
		}
		t.swept = now
	}
	b, ok := t.buckets[key]
	if !ok {
		b = &loginBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return throttleIdle, false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}
