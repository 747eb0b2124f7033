package license

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"auria.dev/core/auria"
)

// Limiters holds one token bucket per rate-limited license. A license whose
// terms change gets a fresh bucket.
type Limiters struct {
	mu      sync.Mutex
	buckets map[auria.LicenseID]*bucket
}

type bucket struct {
	terms RateLimit
	lim   *rate.Limiter
}

func NewLimiters() *Limiters {
	return &Limiters{buckets: make(map[auria.LicenseID]*bucket)}
}

// Allow reports whether lic may be used at now and, if so, spends one
// request from its bucket. Licenses without a RateLimit are always allowed.
func (ls *Limiters) Allow(lic *License, now time.Time) bool {
	if lic.RateLimit == nil {
		return true
	}
	terms := *lic.RateLimit

	ls.mu.Lock()
	b, ok := ls.buckets[lic.ID]
	if !ok || b.terms != terms {
		b = &bucket{terms: terms, lim: rate.NewLimiter(rate.Limit(terms.RequestsPerSecond), int(terms.Burst))}
		ls.buckets[lic.ID] = b
	}
	ls.mu.Unlock()

	return b.lim.AllowN(now, 1)
}
