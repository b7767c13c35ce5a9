package metrics

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "pulsar"

// Drop reasons.
const (
	DropMalformed     = "malformed"
	DropUnknownType   = "unknown_type"
	DropRouteMismatch = "route_mismatch"
	DropDecrypt       = "decrypt"
	DropSelf          = "self"
	DropJoinRate      = "join_rate"
	DropQueueFull     = "queue_full"
)

// ProbeInfo describes one address that was pinged and has not answered.
type ProbeInfo struct {
	Addr      string    `json:"addr"`
	Attempts  int       `json:"attempts"`
	FirstSent time.Time `json:"first_sent"`
	LastSent  time.Time `json:"last_sent"`
}

type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	RecvByType   map[string]uint64 `json:"recv_by_type"`
	DropByReason map[string]uint64 `json:"drop_by_reason"`
	SendFail     uint64            `json:"send_fail"`
	Refreshes    uint64            `json:"refreshes"`
	Delivered    uint64            `json:"delivered"`
	IntroSkipped uint64            `json:"introductions_skipped"`
	Peers        int               `json:"peers"`
	Pending      int               `json:"pending"`
	Probes       []ProbeInfo       `json:"probes,omitempty"`
	LocalAddr    string            `json:"local_addr,omitempty"`
}

// Metrics owns its own prometheus registry so several nodes can live in one
// process.
type Metrics struct {
	reg          *prometheus.Registry
	recv         *prometheus.CounterVec
	drop         *prometheus.CounterVec
	sendFail     prometheus.Counter
	refreshes    prometheus.Counter
	delivered    prometheus.Counter
	introSkipped prometheus.Counter
	peers        prometheus.Gauge
	pending      prometheus.Gauge

	mu     sync.Mutex
	probes []ProbeInfo
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		recv: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams received, by message type",
		}, []string{"type"}),
		drop: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped without effect, by reason",
		}, []string{"reason"}),
		sendFail: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Datagram writes that returned an error",
		}),
		refreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Liveness refresh cycles run",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Decrypted messages handed to the application",
		}),
		introSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "introductions_skipped_total",
			Help:      "JOIN answers cut short because the introduction budget was spent",
		}),
		peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers in the current registry generation",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_probes",
			Help:      "Addresses pinged that have not answered yet",
		}),
	}
}

func (m *Metrics) IncRecvByType(msgType string) {
	m.recv.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncDropByReason(reason string) {
	m.drop.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSendFail() {
	m.sendFail.Inc()
}

func (m *Metrics) IncRefresh() {
	m.refreshes.Inc()
}

func (m *Metrics) IncDelivered() {
	m.delivered.Inc()
}

func (m *Metrics) SetPeers(n int) {
	m.peers.Set(float64(n))
}

func (m *Metrics) IncIntroSkipped() {
	m.introSkipped.Inc()
}

// SetProbes replaces the outstanding probe list; the pending gauge follows
// its length.
func (m *Metrics) SetProbes(probes []ProbeInfo) {
	m.mu.Lock()
	m.probes = probes
	m.mu.Unlock()
	m.pending.Set(float64(len(probes)))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		GeneratedAt:  time.Now().UTC(),
		RecvByType:   make(map[string]uint64),
		DropByReason: make(map[string]uint64),
	}
	families, err := m.reg.Gather()
	if err != nil {
		return snap
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case namespace + "_datagrams_received_total":
				snap.RecvByType[label(metric, "type")] = counter(metric)
			case namespace + "_datagrams_dropped_total":
				snap.DropByReason[label(metric, "reason")] = counter(metric)
			case namespace + "_send_failures_total":
				snap.SendFail = counter(metric)
			case namespace + "_refreshes_total":
				snap.Refreshes = counter(metric)
			case namespace + "_messages_delivered_total":
				snap.Delivered = counter(metric)
			case namespace + "_introductions_skipped_total":
				snap.IntroSkipped = counter(metric)
			case namespace + "_peers":
				snap.Peers = int(metric.GetGauge().GetValue())
			case namespace + "_pending_probes":
				snap.Pending = int(metric.GetGauge().GetValue())
			}
		}
	}
	m.mu.Lock()
	snap.Probes = append([]ProbeInfo(nil), m.probes...)
	m.mu.Unlock()
	return snap
}

func (m *Metrics) WriteSnapshot(path string, localAddr string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	snap.LocalAddr = localAddr
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func counter(m *dto.Metric) uint64 {
	return uint64(m.GetCounter().GetValue())
}
