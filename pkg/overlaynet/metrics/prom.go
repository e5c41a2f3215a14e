package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom holds the overlay's Prometheus collectors on an isolated registry
// so they never collide with the process default registry; each test
// gets its own instance.
type Prom struct {
	Registry *prometheus.Registry

	PeerLatencyMs       *prometheus.HistogramVec
	PeerStatus          *prometheus.GaugeVec
	BandwidthBytesTotal *prometheus.CounterVec
	CPUPercent          prometheus.Gauge
	QualityScore        prometheus.Gauge
	BuildInfo           *prometheus.GaugeVec
}

// NewProm creates a Prom instance with every collector registered.
// version and goVersion are recorded as labels on the overlaynet_info
// gauge.
func NewProm(version, goVersion string) *Prom {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &Prom{
		Registry: reg,

		PeerLatencyMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlaynet_peer_latency_ms",
				Help:    "Observed round-trip latency to a peer, in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"peer_id"},
		),
		PeerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overlaynet_peer_status",
				Help: "Peer connection status as a gauge (1 for the active status label, 0 otherwise).",
			},
			[]string{"peer_id", "status"},
		),
		BandwidthBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlaynet_bandwidth_bytes_total",
				Help: "Cumulative bytes transferred per peer and direction.",
			},
			[]string{"peer_id", "direction"},
		),
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlaynet_cpu_percent",
			Help: "Most recently sampled system CPU utilization percentage.",
		}),
		QualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlaynet_quality_score",
			Help: "Overall network quality score in [0, 100].",
		}),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overlaynet_info",
				Help: "Build information for the running overlaynet instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		p.PeerLatencyMs,
		p.PeerStatus,
		p.BandwidthBytesTotal,
		p.CPUPercent,
		p.QualityScore,
		p.BuildInfo,
	)
	p.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return p
}

// Handler serves the Prometheus exposition format for this registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

var allStatuses = []Status{StatusConnected, StatusDegraded, StatusDisconnected}

func (p *Prom) observeLatency(peerID string, ms *float64) {
	if ms != nil {
		p.PeerLatencyMs.WithLabelValues(peerID).Observe(*ms)
	}
}

func (p *Prom) setPeerStatus(peerID, status string) {
	for _, s := range allStatuses {
		v := 0.0
		if string(s) == status {
			v = 1.0
		}
		p.PeerStatus.WithLabelValues(peerID, string(s)).Set(v)
	}
}

func (p *Prom) addBandwidth(peerID string, sent, received uint64) {
	if sent > 0 {
		p.BandwidthBytesTotal.WithLabelValues(peerID, "sent").Add(float64(sent))
	}
	if received > 0 {
		p.BandwidthBytesTotal.WithLabelValues(peerID, "received").Add(float64(received))
	}
}

func (p *Prom) setCPUPercent(pct float64) {
	p.CPUPercent.Set(pct)
}

func (p *Prom) setQualityScore(score float64) {
	p.QualityScore.Set(score)
}
