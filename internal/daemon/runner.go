package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pulsar/internal/config"
	"pulsar/internal/crypto"
	"pulsar/internal/debuglog"
	"pulsar/internal/metrics"
	"pulsar/internal/network"
	"pulsar/internal/node"
	"pulsar/internal/peer"
	"pulsar/internal/proto"
)

const (
	DefaultRefreshInterval = config.DefaultRefreshInterval
	DefaultReadTimeout     = config.DefaultReadTimeout
	DefaultRecvBufferSize  = config.DefaultRecvBufferSize
	DefaultQueueSize       = config.DefaultQueueSize
	DefaultMaxIntroduce    = config.DefaultMaxIntroduce

	sendWarnInterval = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("runner already running")

// PacketConn is the datagram socket the runner drives. *network.Listener
// implements it; tests substitute an in-memory conn.
type PacketConn interface {
	ReadFrom(ctx context.Context, buf []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

type Options struct {
	// Conn is used as is when set; otherwise a UDP socket is bound from
	// ListenAddr or a random port in [PortMin, PortMax).
	Conn       PacketConn
	ListenAddr string
	PortMin    int
	PortMax    int

	// BootstrapAddr receives a JOIN when Run starts. Empty disables joining.
	BootstrapAddr string

	RefreshInterval  time.Duration
	ReadTimeout      time.Duration
	RecvBufferSize   int
	QueueSize        int
	RegistryCap      int
	// MaxIntroductions caps the INTRODUCEs sent per JOIN. Zero selects
	// DefaultMaxIntroduce; a negative value disables introductions.
	MaxIntroductions int
	IntroduceRate    float64
	IntroduceBurst   int
	JoinRate         float64
	JoinBurst        int

	Logger  debuglog.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps a loaded config onto runner options.
func OptionsFromConfig(cfg *config.Config) Options {
	maxIntro := cfg.MaxIntroduce
	if maxIntro == 0 {
		maxIntro = -1
	}
	return Options{
		ListenAddr:       cfg.ListenAddr,
		PortMin:          cfg.PortMin,
		PortMax:          cfg.PortMax,
		BootstrapAddr:    cfg.BootstrapAddr,
		RefreshInterval:  cfg.RefreshInterval.D(),
		ReadTimeout:      cfg.ReadTimeout.D(),
		RecvBufferSize:   cfg.RecvBufferSize,
		QueueSize:        cfg.QueueSize,
		RegistryCap:      cfg.RegistryCap,
		MaxIntroductions: maxIntro,
		IntroduceRate:    cfg.IntroduceRate,
		IntroduceBurst:   cfg.IntroduceBurst,
		JoinRate:         cfg.JoinRate,
		JoinBurst:        cfg.JoinBurst,
	}
}

// Runner is one pulsar node: a single event loop owning the socket, the peer
// registry and the delivery queue.
type Runner struct {
	Self     node.Identity
	Metrics  *metrics.Metrics
	Registry *peer.Registry
	Pending  *peer.CandidatePool

	conn      PacketConn
	log       debuglog.Logger
	bootstrap netip.AddrPort
	queue     *deliveryQueue

	refreshEvery time.Duration
	readTimeout  time.Duration
	recvBufSize  int
	maxIntro     int
	introLimiter *rate.Limiter
	joinLimiter  *network.SourceLimiter

	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewRunner(id node.Identity, opts Options) (*Runner, error) {
	if !id.Route.Valid() {
		return nil, node.ErrBadRoute
	}
	var bootstrap netip.AddrPort
	if opts.BootstrapAddr != "" {
		ap, err := netip.ParseAddrPort(opts.BootstrapAddr)
		if err != nil {
			return nil, fmt.Errorf("bad bootstrap addr: %w", err)
		}
		bootstrap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	conn := opts.Conn
	if conn == nil {
		l, err := network.Listen(network.Options{
			Addr:    opts.ListenAddr,
			PortMin: opts.PortMin,
			PortMax: opts.PortMax,
		})
		if err != nil {
			return nil, fmt.Errorf("bind: %w", err)
		}
		conn = l
	}
	log := opts.Logger
	if log == nil {
		log = debuglog.For("daemon")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	refreshEvery := opts.RefreshInterval
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshInterval
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	recvBufSize := opts.RecvBufferSize
	if recvBufSize <= 0 {
		recvBufSize = DefaultRecvBufferSize
	}
	maxIntro := opts.MaxIntroductions
	switch {
	case maxIntro == 0:
		maxIntro = DefaultMaxIntroduce
	case maxIntro < 0:
		maxIntro = 0
	}
	introLimit := rate.Inf
	if opts.IntroduceRate > 0 {
		introLimit = rate.Limit(opts.IntroduceRate)
	}
	introBurst := opts.IntroduceBurst
	if introBurst <= 0 {
		introBurst = max(maxIntro, 1)
	}
	return &Runner{
		Self:         id,
		Metrics:      m,
		Registry:     peer.NewRegistry(opts.RegistryCap),
		Pending:      peer.NewCandidatePool(0, 0),
		conn:         conn,
		log:          log,
		bootstrap:    bootstrap,
		queue:        newDeliveryQueue(opts.QueueSize),
		refreshEvery: refreshEvery,
		readTimeout:  readTimeout,
		recvBufSize:  recvBufSize,
		maxIntro:     maxIntro,
		introLimiter: rate.NewLimiter(introLimit, introBurst),
		joinLimiter:  network.NewSourceLimiter(opts.JoinRate, opts.JoinBurst),
	}, nil
}

func (r *Runner) LocalAddr() netip.AddrPort {
	return r.conn.LocalAddr()
}

// Messages yields decrypted application messages. The channel is closed
// when Run returns.
func (r *Runner) Messages() <-chan Delivery {
	return r.queue.ch
}

// Close releases the socket. Run closes it on return as well.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}

// Run drives the node until ctx is done. It returns nil on cancellation and
// an error only when the socket fails for good.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.queue.close()
	defer r.Close()

	r.log.Infof("pulsar: node %s listening on %s (%s)", r.Self.PublicKey, r.LocalAddr(), r.Self.Route)
	r.join()

	buf := make([]byte, r.recvBufSize)
	lastRefresh := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastRefresh) >= r.refreshEvery {
			r.refresh()
			lastRefresh = time.Now()
		}
		wait := r.readTimeout
		if left := r.refreshEvery - time.Since(lastRefresh); left < wait {
			wait = left
		}
		if wait <= 0 {
			continue
		}
		readCtx, cancel := context.WithTimeout(ctx, wait)
		n, from, err := r.conn.ReadFrom(readCtx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			debuglog.RateLimitedf(r.log, "recv-err", sendWarnInterval, "pulsar: recv: %v", err)
			continue
		}
		r.dispatch(ctx, from, buf[:n])
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Runner) join() {
	if !r.bootstrap.IsValid() || r.bootstrap == r.LocalAddr() {
		return
	}
	r.log.Debugf("pulsar: join via %s", r.bootstrap)
	r.send(proto.EncodeJoin(r.Self.Route), r.bootstrap)
}

// refresh drops every peer and re-pings the previous addresses. Peers that
// answer are admitted again by the PONG handler.
func (r *Runner) refresh() {
	prev := r.Registry.Reset()
	r.Metrics.IncRefresh()
	r.log.Debugf("pulsar: refresh, re-pinging %d peers", len(prev))
	ping := proto.EncodePing(r.Self.Route, r.Self.PublicKey)
	for _, rec := range prev {
		r.Pending.Add(rec.Addr)
		r.send(ping, rec.Addr)
	}
	r.updateGauges()
}

// send is the fire-and-forget path used by the loop; failures are counted
// and never abort.
func (r *Runner) send(b []byte, addr netip.AddrPort) {
	if err := r.conn.WriteTo(b, addr); err != nil {
		r.Metrics.IncSendFail()
		debuglog.RateLimitedf(r.log, "send:"+addr.String(), sendWarnInterval, "pulsar: send to %s: %v", addr, err)
	}
}

// Send seals msg under key and writes it to addr as one DATA datagram.
func (r *Runner) Send(ctx context.Context, addr netip.AddrPort, key crypto.SharedKey, msg proto.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plain, err := proto.EncodeMessage(msg)
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(key, plain)
	if err != nil {
		return err
	}
	data, err := proto.EncodeData(r.Self.PublicKey, sealed)
	if err != nil {
		return err
	}
	if err := r.conn.WriteTo(data, addr); err != nil {
		r.Metrics.IncSendFail()
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

func (r *Runner) Reply(d Delivery, msg proto.Message) error {
	return r.Send(context.Background(), d.Sender.Addr, d.Sender.SharedKey, msg)
}

// Broadcast sends msg to every peer currently in the registry and reports
// how many datagrams went out.
func (r *Runner) Broadcast(ctx context.Context, msg proto.Message) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, rec := range r.Registry.Snapshot() {
		if err := r.Send(ctx, rec.Addr, rec.SharedKey, msg); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (r *Runner) updateGauges() {
	r.Metrics.SetPeers(r.Registry.Len())
	probes := r.Pending.List()
	infos := make([]metrics.ProbeInfo, 0, len(probes))
	for _, p := range probes {
		infos = append(infos, metrics.ProbeInfo{
			Addr:      p.Addr.String(),
			Attempts:  p.Attempts,
			FirstSent: p.FirstSent,
			LastSent:  p.LastSent,
		})
	}
	r.Metrics.SetProbes(infos)
}
