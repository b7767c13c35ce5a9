package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pulsar/internal/config"
	"pulsar/internal/daemon"
	"pulsar/internal/debuglog"
	"pulsar/internal/metrics"
	"pulsar/internal/node"
	"pulsar/internal/pprofutil"
	"pulsar/internal/proto"
)

const (
	snapshotInterval   = 5 * time.Second
	defaultMetricsPath = "/metrics"
)

type runFlags struct {
	route       uint8
	listen      string
	bootstrap   string
	topic       string
	metricsAddr string
	noStdin     bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node",
		Long: `Run a node: join the mesh through the bootstrap address, print every
message delivered to this node and broadcast each stdin line to all peers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			applyRunFlags(cmd, flags, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			var stdin io.Reader
			if !flags.noStdin {
				stdin = cmd.InOrStdin()
			}
			return runNode(ctx, root, cfg, flags.topic, stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Uint8Var(&flags.route, "route", 1, "route id (1-255); only nodes on the same route peer")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "exact listen addr ip:port (default random loopback port)")
	cmd.Flags().StringVar(&flags.bootstrap, "bootstrap", "", "rendezvous addr (default "+config.DefaultBootstrapAddr+")")
	cmd.Flags().StringVar(&flags.topic, "topic", "", "topic attached to broadcast lines")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this addr")
	cmd.Flags().BoolVar(&flags.noStdin, "no-stdin", false, "do not broadcast stdin lines")
	return cmd
}

// applyRunFlags lets explicitly set flags override the config file.
func applyRunFlags(cmd *cobra.Command, flags *runFlags, cfg *config.Config) {
	if cmd.Flags().Changed("route") {
		cfg.Route = flags.route
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = flags.listen
	}
	if cmd.Flags().Changed("bootstrap") {
		cfg.BootstrapAddr = flags.bootstrap
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
}

func runNode(ctx context.Context, root *rootOptions, cfg *config.Config, topic string, stdin io.Reader, stdout io.Writer) error {
	if !root.debug {
		if err := debuglog.SetLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("bad log_level: %w", err)
		}
	}
	log := debuglog.For("pulsar-node")
	if err := os.MkdirAll(root.homeDir(), 0700); err != nil {
		return err
	}

	id, created, err := node.LoadIdentity(cfg.KeyDir, proto.Route(cfg.Route))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if created {
		log.Infof("generated new keypair in %s", cfg.KeyDir)
	}

	m := metrics.New()
	opts := daemon.OptionsFromConfig(cfg)
	opts.Metrics = m
	opts.Logger = debuglog.For("daemon")
	r, err := daemon.NewRunner(id, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "node %s listening on %s (%s)\n", id.NodeID()[:16], r.LocalAddr(), id.Route)

	if _, err := pprofutil.Start(pprofutil.AddrFromEnv(cfg.PprofAddr), log); err != nil {
		log.Warnf("pprof: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.Run(ctx)
	})
	group.Go(func() error {
		printDeliveries(r.Messages(), stdout)
		return nil
	})
	group.Go(func() error {
		return writeSnapshots(ctx, m, root.metricsPath(), r.LocalAddr().String())
	})
	if cfg.MetricsAddr != "" {
		path := cfg.MetricsPath
		if path == "" {
			path = defaultMetricsPath
		}
		serveMetrics(ctx, group, m, cfg.MetricsAddr, path, log)
	}
	if stdin != nil {
		// Not part of the group: a blocked stdin read cannot be cancelled.
		go broadcastLines(ctx, r, stdin, topic, log)
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printDeliveries(msgs <-chan daemon.Delivery, w io.Writer) {
	for d := range msgs {
		topic := d.Message.Topic
		if topic == "" {
			topic = "-"
		}
		fmt.Fprintf(w, "[%s] %s %s: %s\n", topic, d.Sender.Addr, d.Sender.PubKey, d.Message.Body)
	}
}

func broadcastLines(ctx context.Context, r *daemon.Runner, in io.Reader, topic string, log debuglog.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n, err := r.Broadcast(ctx, proto.NewMessage(topic, []byte(line)))
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warnf("broadcast: %v", err)
		}
		log.Debugf("broadcast to %d peers", n)
	}
}

func writeSnapshots(ctx context.Context, m *metrics.Metrics, path, localAddr string) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		if err := m.WriteSnapshot(path, localAddr); err != nil {
			debuglog.Warnf("metrics snapshot: %v", err)
		}
		select {
		case <-ctx.Done():
			// One last write so status reflects the final counters.
			if err := m.WriteSnapshot(path, localAddr); err != nil {
				debuglog.Warnf("metrics snapshot: %v", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, group *errgroup.Group, m *metrics.Metrics, addr, path string, log debuglog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	group.Go(func() error {
		log.Infof("metrics on http://%s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
