package daemon

import (
	"net/netip"
	"sync"

	"pulsar/internal/crypto"
	"pulsar/internal/proto"
)

// SenderContext identifies who sent a delivered message and carries the key
// needed to answer it without a registry lookup.
type SenderContext struct {
	Addr      netip.AddrPort
	PubKey    crypto.PublicKey
	SharedKey crypto.SharedKey
}

type Delivery struct {
	Message proto.Message
	Sender  SenderContext
}

// deliveryQueue never blocks the producer: a full queue drops the newest
// message.
type deliveryQueue struct {
	ch   chan Delivery
	once sync.Once
}

func newDeliveryQueue(size int) *deliveryQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &deliveryQueue{ch: make(chan Delivery, size)}
}

func (q *deliveryQueue) push(d Delivery) bool {
	select {
	case q.ch <- d:
		return true
	default:
		return false
	}
}

// close must only be called by the goroutine that pushes.
func (q *deliveryQueue) close() {
	q.once.Do(func() { close(q.ch) })
}
