package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"time"
)

const (
	DefaultHost        = "127.0.0.1"
	DefaultPortMin     = 49152
	DefaultPortMax     = 65535
	defaultBindAttempt = 16
)

type Options struct {
	// Addr binds an exact "ip:port" when set; otherwise a random port in
	// [PortMin, PortMax) on Host is used.
	Addr    string
	Host    string
	PortMin int
	PortMax int
}

// Listener owns the node's single UDP socket.
type Listener struct {
	conn  *net.UDPConn
	local netip.AddrPort
}

func Listen(opts Options) (*Listener, error) {
	if opts.Addr != "" {
		ap, err := netip.ParseAddrPort(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("bad listen addr: %w", err)
		}
		return bind(ap)
	}
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("bad listen host: %w", err)
	}
	lo, hi := opts.PortMin, opts.PortMax
	if lo <= 0 {
		lo = DefaultPortMin
	}
	if hi <= 0 {
		hi = DefaultPortMax
	}
	if lo >= hi {
		return nil, fmt.Errorf("bad port range [%d, %d)", lo, hi)
	}
	var lastErr error
	for i := 0; i < defaultBindAttempt; i++ {
		port := lo + rand.IntN(hi-lo)
		l, err := bind(netip.AddrPortFrom(ip, uint16(port)))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in [%d, %d): %w", lo, hi, lastErr)
}

func bind(ap netip.AddrPort) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &Listener{
		conn:  conn,
		local: netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
	}, nil
}

func (l *Listener) LocalAddr() netip.AddrPort {
	return l.local
}

// ReadFrom blocks for one datagram until ctx is done. A context deadline
// bounds the wait and surfaces as context.DeadlineExceeded.
func (l *Listener) ReadFrom(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	if err := ctx.Err(); err != nil {
		return 0, netip.AddrPort{}, err
	}
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return 0, netip.AddrPort{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := l.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, netip.AddrPort{}, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, context.DeadlineExceeded
		}
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

func (l *Listener) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := l.conn.WriteToUDPAddrPort(b, addr)
	return err
}

func (l *Listener) Close() error {
	return l.conn.Close()
}
