package peer

import (
	"container/list"
	"errors"
	"net/netip"
	"sync"
	"time"

	"pulsar/internal/crypto"
)

const DefaultCap = 1024

// Record is what the node knows about one remote peer. The shared key is
// recomputable from (local private key, PubKey) and is never persisted.
type Record struct {
	PubKey    crypto.PublicKey
	Addr      netip.AddrPort
	SharedKey crypto.SharedKey
	SeenAt    time.Time
}

// Registry holds one slot per remote public key. Its lock is only held to
// read or replace entries; callers perform network I/O on the copies
// returned by Snapshot and Reset.
type Registry struct {
	mu    sync.Mutex
	cap   int
	hot   map[crypto.PublicKey]*list.Element
	order *list.List
}

var ErrInvalidAddr = errors.New("invalid peer addr")

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Registry{
		cap:   capacity,
		hot:   make(map[crypto.PublicKey]*list.Element),
		order: list.New(),
	}
}

// Upsert derives the shared key for pub and stores it under pub, replacing
// any previous address. The least recently refreshed peer is evicted when
// the registry is full.
func (r *Registry) Upsert(self crypto.PrivateKey, addr netip.AddrPort, pub crypto.PublicKey) (Record, error) {
	if !addr.IsValid() {
		return Record{}, ErrInvalidAddr
	}
	key, err := crypto.DeriveSharedKey(self, pub)
	if err != nil {
		return Record{}, err
	}
	rec := Record{PubKey: pub, Addr: addr, SharedKey: key, SeenAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.hot[pub]; ok {
		el.Value = rec
		r.order.MoveToFront(el)
		return rec, nil
	}
	if len(r.hot) >= r.cap {
		r.evictLocked(len(r.hot) - r.cap + 1)
	}
	r.hot[pub] = r.order.PushFront(rec)
	return rec, nil
}

func (r *Registry) Get(pub crypto.PublicKey) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.hot[pub]
	if !ok {
		return Record{}, false
	}
	return el.Value.(Record), true
}

// Snapshot copies the current entries, most recently seen first.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listRecords(r.order)
}

// Reset swaps in an empty generation and returns the previous entries.
// Peers admitted after Reset land in the new generation.
func (r *Registry) Reset() []Record {
	r.mu.Lock()
	prev := r.order
	r.hot = make(map[crypto.PublicKey]*list.Element)
	r.order = list.New()
	r.mu.Unlock()
	return listRecords(prev)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hot)
}

func (r *Registry) evictLocked(n int) {
	for n > 0 {
		el := r.order.Back()
		if el == nil {
			return
		}
		delete(r.hot, el.Value.(Record).PubKey)
		r.order.Remove(el)
		n--
	}
}

func listRecords(l *list.List) []Record {
	out := make([]Record, 0, l.Len())
	for el := l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Record))
	}
	return out
}
