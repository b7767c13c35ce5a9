package peer

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCandidateCap = 512
	DefaultCandidateTTL = 10 * time.Minute
)

// Probe is an address that was sent a PING (after an introduction or a
// refresh) and has not answered with a PONG yet.
type Probe struct {
	Addr      netip.AddrPort
	FirstSent time.Time
	LastSent  time.Time
	Attempts  int
}

// CandidatePool is the set of outstanding probes. Entries expire ttl after
// the last PING so an address that never answers does not linger.
type CandidatePool struct {
	mu     sync.Mutex
	cap    int
	ttl    time.Duration
	probes map[netip.AddrPort]*Probe
}

func NewCandidatePool(capacity int, ttl time.Duration) *CandidatePool {
	if capacity <= 0 {
		capacity = DefaultCandidateCap
	}
	if ttl <= 0 {
		ttl = DefaultCandidateTTL
	}
	return &CandidatePool{
		cap:    capacity,
		ttl:    ttl,
		probes: make(map[netip.AddrPort]*Probe),
	}
}

// Add records one more PING sent to addr.
func (c *CandidatePool) Add(addr netip.AddrPort) {
	if !addr.IsValid() {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(now)
	if p, ok := c.probes[addr]; ok {
		p.LastSent = now
		p.Attempts++
		return
	}
	if len(c.probes) >= c.cap {
		c.dropOldestLocked()
	}
	c.probes[addr] = &Probe{Addr: addr, FirstSent: now, LastSent: now, Attempts: 1}
}

// Remove settles the probe for addr and reports whether one was outstanding.
func (c *CandidatePool) Remove(addr netip.AddrPort) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.probes[addr]; !ok {
		return false
	}
	delete(c.probes, addr)
	return true
}

// List returns the outstanding probes, oldest first. Node status reports
// them through the metrics snapshot.
func (c *CandidatePool) List() []Probe {
	c.mu.Lock()
	c.expireLocked(time.Now())
	out := make([]Probe, 0, len(c.probes))
	for _, p := range c.probes {
		out = append(out, *p)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstSent.Before(out[j].FirstSent)
	})
	return out
}

func (c *CandidatePool) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(time.Now())
	return len(c.probes)
}

func (c *CandidatePool) expireLocked(now time.Time) {
	for addr, p := range c.probes {
		if now.Sub(p.LastSent) >= c.ttl {
			delete(c.probes, addr)
		}
	}
}

func (c *CandidatePool) dropOldestLocked() {
	var (
		oldest netip.AddrPort
		at     time.Time
	)
	for addr, p := range c.probes {
		if !oldest.IsValid() || p.FirstSent.Before(at) {
			oldest, at = addr, p.FirstSent
		}
	}
	if oldest.IsValid() {
		delete(c.probes, oldest)
	}
}
