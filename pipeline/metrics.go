package pipeline

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the router's Prometheus collectors. Registered once by
// NewRouter; cmd/router exposes them on a /metrics endpoint. The
// natMappings and arpPendingQueue gauges are registered but nothing in
// this package sets them, so they always read 0.
type metrics struct {
	framesHandled   *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	icmpEmitted     *prometheus.CounterVec
	natMappings     prometheus.Gauge
	arpPendingQueue prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		framesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "srouter_frames_handled_total",
			Help: "Frames accepted by HandleFrame, labeled by ethertype.",
		}, []string{"ethertype"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "srouter_frames_dropped_total",
			Help: "Frames dropped, labeled by error kind.",
		}, []string{"reason"}),
		icmpEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "srouter_icmp_emitted_total",
			Help: "ICMP messages emitted by the router, labeled by type.",
		}, []string{"type"}),
		natMappings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srouter_nat_mappings",
			Help: "Current number of live NAT mappings.",
		}),
		arpPendingQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srouter_arp_pending_requests",
			Help: "Current number of in-flight ARP resolutions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesHandled, m.framesDropped, m.icmpEmitted, m.natMappings, m.arpPendingQueue)
	}
	return m
}
