package pprofutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsLoopbackBind(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{addr: "127.0.0.1:6060", ok: true},
		{addr: "localhost:6060", ok: true},
		{addr: "[::1]:6060", ok: true},
		{addr: "0.0.0.0:6060", ok: false},
		{addr: "192.168.1.10:6060", ok: false},
		{addr: "bad-addr", ok: false},
	}
	for _, tc := range cases {
		if got := isLoopbackBind(tc.addr); got != tc.ok {
			t.Fatalf("isLoopbackBind(%q)=%v want %v", tc.addr, got, tc.ok)
		}
	}
}

func TestAddrFromEnv(t *testing.T) {
	t.Setenv("PULSAR_PPROF", "")
	require.Equal(t, "", AddrFromEnv(""))
	require.Equal(t, "127.0.0.1:7070", AddrFromEnv("127.0.0.1:7070"))

	t.Setenv("PULSAR_PPROF", "1")
	require.Equal(t, DefaultAddr, AddrFromEnv(""))
	t.Setenv("PULSAR_PPROF_ADDR", "127.0.0.1:7071")
	require.Equal(t, "127.0.0.1:7071", AddrFromEnv(""))
}

func TestStartEmptyAddrIsNoop(t *testing.T) {
	addr, err := Start("", nil)
	require.NoError(t, err)
	require.Empty(t, addr)
}
