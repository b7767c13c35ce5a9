package pprofutil

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"

	"pulsar/internal/debuglog"
)

const DefaultAddr = "127.0.0.1:6060"

var (
	startOnce sync.Once
	startAddr string
	startErr  error
)

// AddrFromEnv resolves the pprof bind address: PULSAR_PPROF=1 enables the
// endpoint on PULSAR_PPROF_ADDR (or DefaultAddr) when addr is empty.
func AddrFromEnv(addr string) string {
	if addr != "" {
		return addr
	}
	if strings.TrimSpace(os.Getenv("PULSAR_PPROF")) != "1" {
		return ""
	}
	if env := strings.TrimSpace(os.Getenv("PULSAR_PPROF_ADDR")); env != "" {
		return env
	}
	return DefaultAddr
}

// Start serves net/http/pprof on addr once per process and returns the bound
// address. An empty addr is a no-op. Non-loopback binds need
// PULSAR_PPROF_ALLOW_PUBLIC=1.
func Start(addr string, log debuglog.Logger) (string, error) {
	if addr == "" {
		return "", nil
	}
	startOnce.Do(func() {
		allowPublic := strings.TrimSpace(os.Getenv("PULSAR_PPROF_ALLOW_PUBLIC")) == "1"
		if !allowPublic && !isLoopbackBind(addr) {
			startErr = fmt.Errorf("pprof addr must be loopback unless PULSAR_PPROF_ALLOW_PUBLIC=1: %s", addr)
			return
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			startErr = fmt.Errorf("pprof listen failed: %w", err)
			return
		}
		startAddr = ln.Addr().String()
		if log != nil {
			log.Infof("pprof enabled: http://%s/debug/pprof/", startAddr)
		}
		srv := &http.Server{
			Addr:              startAddr,
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			_ = srv.Serve(ln)
		}()
	})
	return startAddr, startErr
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
