package network

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxSources = 4096
	sourceIdleTTL     = 5 * time.Minute
)

// SourceLimiter applies one token bucket per source ip:port. Every node of a
// loopback mesh shares 127.0.0.1, so the port is what tells them apart.
type SourceLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	maxSources int
	sources    map[netip.AddrPort]*sourceBucket
}

type sourceBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewSourceLimiter allows perSecond events per source with the given burst.
// A non-positive rate disables limiting.
func NewSourceLimiter(perSecond float64, burst int) *SourceLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SourceLimiter{
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxSources: defaultMaxSources,
		sources:    make(map[netip.AddrPort]*sourceBucket),
	}
}

func (l *SourceLimiter) Allow(from netip.AddrPort) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.sources[from]
	if !ok {
		if len(l.sources) >= l.maxSources {
			l.sweepLocked(now)
		}
		b = &sourceBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.sources[from] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (l *SourceLimiter) sweepLocked(now time.Time) {
	for src, b := range l.sources {
		if now.Sub(b.lastSeen) > sourceIdleTTL {
			delete(l.sources, src)
		}
	}
	if len(l.sources) < l.maxSources {
		return
	}
	// Everyone is active; start over rather than grow without bound.
	l.sources = make(map[netip.AddrPort]*sourceBucket)
}
