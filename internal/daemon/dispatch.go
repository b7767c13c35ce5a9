package daemon

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"pulsar/internal/crypto"
	"pulsar/internal/debuglog"
	"pulsar/internal/metrics"
	"pulsar/internal/proto"
)

const rejectLogInterval = 10 * time.Second

// dispatch handles one datagram. It never returns an error: every failure is
// a drop with a metric, and malformed input is also logged.
func (r *Runner) dispatch(ctx context.Context, from netip.AddrPort, data []byte) {
	tag, body, err := proto.SplitTag(data)
	if err != nil {
		if errors.Is(err, proto.ErrUnknownTag) {
			r.Metrics.IncDropByReason(metrics.DropUnknownType)
			debuglog.RateLimitedf(r.log, "unknown:"+from.Addr().String(), rejectLogInterval,
				"pulsar: unknown tag %d from %s", byte(tag), from)
			return
		}
		r.malformed(from, "datagram", err)
		return
	}
	r.Metrics.IncRecvByType(tag.String())

	switch tag {
	case proto.TagJoin:
		r.handleJoin(ctx, from, body)
	case proto.TagIntroduce:
		r.handleIntroduce(from, body)
	case proto.TagPing:
		r.handleHello(from, body, true)
	case proto.TagPong:
		r.handleHello(from, body, false)
	case proto.TagData:
		r.handleData(from, body)
	}
	r.updateGauges()
}

func (r *Runner) malformed(from netip.AddrPort, what string, err error) {
	r.Metrics.IncDropByReason(metrics.DropMalformed)
	debuglog.RateLimitedf(r.log, "malformed:"+from.Addr().String(), rejectLogInterval,
		"pulsar: malformed %s from %s: %v", what, from, err)
}

func (r *Runner) drop(reason string) {
	r.Metrics.IncDropByReason(reason)
}

// handleJoin answers a joiner with a PING and then one INTRODUCE per known
// peer. Nothing is sent back when the route differs. Introductions past the
// pacing budget are skipped, never waited for.
func (r *Runner) handleJoin(ctx context.Context, from netip.AddrPort, body []byte) {
	route, err := proto.DecodeJoin(body)
	if err != nil {
		r.malformed(from, "join", err)
		return
	}
	if route != r.Self.Route {
		r.drop(metrics.DropRouteMismatch)
		return
	}
	if !r.joinLimiter.Allow(from) {
		r.drop(metrics.DropJoinRate)
		return
	}
	r.log.Debugf("pulsar: join from %s", from)
	r.send(proto.EncodePing(r.Self.Route, r.Self.PublicKey), from)

	introduced := 0
	for _, rec := range r.Registry.Snapshot() {
		if introduced >= r.maxIntro {
			break
		}
		if rec.Addr == from {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if !r.introLimiter.Allow() {
			r.Metrics.IncIntroSkipped()
			r.log.Debugf("pulsar: introduction budget spent, %d sent to %s", introduced, from)
			return
		}
		r.send(proto.EncodeIntroduce(rec.Addr), from)
		introduced++
	}
}

func (r *Runner) handleIntroduce(from netip.AddrPort, body []byte) {
	addr, err := proto.DecodeIntroduce(body)
	if err != nil {
		r.malformed(from, "introduce", err)
		return
	}
	if addr == r.LocalAddr() {
		r.drop(metrics.DropSelf)
		return
	}
	r.log.Debugf("pulsar: introduced to %s by %s", addr, from)
	r.Pending.Add(addr)
	r.send(proto.EncodePing(r.Self.Route, r.Self.PublicKey), addr)
}

// handleHello admits the sender of a PING or PONG and answers a PING with a
// PONG.
func (r *Runner) handleHello(from netip.AddrPort, body []byte, isPing bool) {
	hello, err := proto.DecodeHello(body)
	if err != nil {
		r.malformed(from, "hello", err)
		return
	}
	if hello.Route != r.Self.Route {
		r.drop(metrics.DropRouteMismatch)
		return
	}
	if hello.PubKey == r.Self.PublicKey {
		r.drop(metrics.DropSelf)
		return
	}
	if _, err := r.Registry.Upsert(r.Self.PrivateKey, from, hello.PubKey); err != nil {
		r.malformed(from, "hello", err)
		return
	}
	r.Pending.Remove(from)
	if isPing {
		r.send(proto.EncodePong(r.Self.Route, r.Self.PublicKey), from)
	}
}

// handleData derives the key from the embedded public key rather than the
// registry, so delivery keeps working across a refresh.
func (r *Runner) handleData(from netip.AddrPort, body []byte) {
	pub, sealed, err := proto.DecodeData(body)
	if err != nil {
		r.malformed(from, "data", err)
		return
	}
	key, err := crypto.DeriveSharedKey(r.Self.PrivateKey, pub)
	if err != nil {
		r.malformed(from, "data", err)
		return
	}
	plain, err := crypto.Open(key, sealed)
	if err != nil {
		r.drop(metrics.DropDecrypt)
		return
	}
	msg, err := proto.DecodeMessage(plain)
	if err != nil {
		r.malformed(from, "message", err)
		return
	}
	d := Delivery{
		Message: msg,
		Sender:  SenderContext{Addr: from, PubKey: pub, SharedKey: key},
	}
	if !r.queue.push(d) {
		r.drop(metrics.DropQueueFull)
		return
	}
	r.Metrics.IncDelivered()
}
