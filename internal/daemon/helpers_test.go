package daemon

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulsar/internal/debuglog"
	"pulsar/internal/metrics"
	"pulsar/internal/node"
	"pulsar/internal/proto"
)

type packet struct {
	data []byte
	addr netip.AddrPort
}

// fakeConn is an in-memory PacketConn: tests push inbound datagrams on in
// and inspect everything the runner wrote.
type fakeConn struct {
	local  netip.AddrPort
	in     chan packet
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []packet
}

func newFakeConn(local string) *fakeConn {
	return &fakeConn{
		local:  netip.MustParseAddrPort(local),
		in:     make(chan packet, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	select {
	case p := <-c.in:
		return copy(buf, p.data), p.addr, nil
	case <-ctx.Done():
		return 0, netip.AddrPort{}, ctx.Err()
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, addr netip.AddrPort) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, packet{data: append([]byte(nil), b...), addr: addr})
	return nil
}

func (c *fakeConn) LocalAddr() netip.AddrPort {
	return c.local
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Sent() []packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]packet(nil), c.sent...)
}

func (c *fakeConn) SentTags() []proto.Tag {
	var tags []proto.Tag
	for _, p := range c.Sent() {
		tags = append(tags, proto.Tag(p.data[0]))
	}
	return tags
}

func quietLogger(t testing.TB) debuglog.Logger {
	t.Helper()
	l, err := debuglog.New(io.Discard, "error")
	require.NoError(t, err)
	return l
}

func newTestIdentity(t testing.TB, route proto.Route) node.Identity {
	t.Helper()
	id, err := node.NewIdentity(route)
	require.NoError(t, err)
	return id
}

// newTestRunner builds a runner over a fake conn at 127.0.0.1:40000 with
// route 1 unless opts says otherwise.
func newTestRunner(t testing.TB, opts Options) (*Runner, *fakeConn) {
	t.Helper()
	conn := newFakeConn("127.0.0.1:40000")
	opts.Conn = conn
	if opts.Logger == nil {
		opts.Logger = quietLogger(t)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	r, err := NewRunner(newTestIdentity(t, 1), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, conn
}

func startRunner(t testing.TB, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- r.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(3 * time.Second):
		}
	})
	return cancel, done
}

func addr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func dropCount(r *Runner, reason string) uint64 {
	return r.Metrics.Snapshot().DropByReason[reason]
}

func pending(r *Runner, a netip.AddrPort) bool {
	for _, p := range r.Pending.List() {
		if p.Addr == a {
			return true
		}
	}
	return false
}
