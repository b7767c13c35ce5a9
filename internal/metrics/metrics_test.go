package metrics

import (
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncRecvByType("ping")
	m.IncRecvByType("ping")
	m.IncRecvByType("data")
	m.IncDropByReason(DropDecrypt)
	m.IncSendFail()
	m.IncRefresh()
	m.IncDelivered()
	m.SetPeers(3)
	m.IncIntroSkipped()
	m.SetProbes([]ProbeInfo{{Addr: "127.0.0.1:50001", Attempts: 1}, {Addr: "127.0.0.1:50002", Attempts: 3}})

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.RecvByType["ping"])
	require.Equal(t, uint64(1), snap.RecvByType["data"])
	require.Equal(t, uint64(1), snap.DropByReason[DropDecrypt])
	require.Equal(t, uint64(1), snap.SendFail)
	require.Equal(t, uint64(1), snap.Refreshes)
	require.Equal(t, uint64(1), snap.Delivered)
	require.Equal(t, 3, snap.Peers)
	require.Equal(t, uint64(1), snap.IntroSkipped)
	require.Equal(t, 2, snap.Pending)
	require.Len(t, snap.Probes, 2)
	require.Equal(t, 3, snap.Probes[1].Attempts)
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.IncRefresh()
	require.Equal(t, uint64(1), a.Snapshot().Refreshes)
	require.Equal(t, uint64(0), b.Snapshot().Refreshes)
}

func TestWriteReadSnapshot(t *testing.T) {
	m := New()
	m.IncDelivered()
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, m.WriteSnapshot(path, "127.0.0.1:50000"))
	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.Delivered)
	require.Equal(t, "127.0.0.1:50000", snap.LocalAddr)
	require.NoError(t, m.WriteSnapshot("", ""))
}

func TestSnapshotCarriesProbes(t *testing.T) {
	m := New()
	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.SetProbes([]ProbeInfo{{Addr: "127.0.0.1:50001", Attempts: 2, FirstSent: sent, LastSent: sent.Add(time.Minute)}})

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, m.WriteSnapshot(path, ""))
	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Pending)
	require.Len(t, snap.Probes, 1)
	require.Equal(t, "127.0.0.1:50001", snap.Probes[0].Addr)
	require.Equal(t, 2, snap.Probes[0].Attempts)
	require.True(t, sent.Equal(snap.Probes[0].FirstSent))

	m.SetProbes(nil)
	require.Zero(t, m.Snapshot().Pending)
	require.Empty(t, m.Snapshot().Probes)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.IncRecvByType("join")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `pulsar_datagrams_received_total{type="join"} 1`))
}
