package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Collector collects DMR-Nexus metrics as real Prometheus instruments,
// registered against a private Registry so multiple Collectors (e.g. one
// per test) never collide on prometheus.DefaultRegisterer.
type Collector struct {
	registry *prometheus.Registry

	peersTotal  prometheus.Counter
	peersActive prometheus.Gauge

	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	bytesReceived   prometheus.Counter
	bytesSent       prometheus.Counter

	streamsActive prometheus.Gauge
	bridgeRoutes  prometheus.Counter

	talkgroupsActive prometheus.Gauge

	mu               sync.RWMutex
	activePeerSet    map[uint32]bool
	activeStreamSet  map[uint32]bool
	activeTGSet      map[string]bool
}

// NewCollector creates a metrics collector with its own Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		peersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmr_peers_total",
			Help: "Total number of peer connections accepted.",
		}),
		peersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmr_peers_active",
			Help: "Number of currently connected peers.",
		}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmr_packets_received_total",
			Help: "Total HBP packets received, by packet type.",
		}, []string{"type"}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmr_packets_sent_total",
			Help: "Total HBP packets sent, by packet type.",
		}, []string{"type"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmr_bytes_received_total",
			Help: "Total bytes received across all systems.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmr_bytes_sent_total",
			Help: "Total bytes sent across all systems.",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmr_streams_active",
			Help: "Number of active voice call streams.",
		}),
		bridgeRoutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmr_bridge_routes_total",
			Help: "Total bursts forwarded across a bridge.",
		}),
		talkgroupsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmr_talkgroups_active",
			Help: "Number of talkgroups with a call currently in progress.",
		}),

		activePeerSet:   make(map[uint32]bool),
		activeStreamSet: make(map[uint32]bool),
		activeTGSet:     make(map[string]bool),
	}

	c.registry.MustRegister(
		c.peersTotal, c.peersActive,
		c.packetsReceived, c.packetsSent,
		c.bytesReceived, c.bytesSent,
		c.streamsActive, c.bridgeRoutes,
		c.talkgroupsActive,
	)

	return c
}

// Registry returns the collector's private Prometheus registry, for mounting
// under a /metrics HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// PeerConnected records a peer connection
func (c *Collector) PeerConnected(peerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peersTotal.Inc()
	c.activePeerSet[peerID] = true
	c.peersActive.Set(float64(len(c.activePeerSet)))
}

// PeerDisconnected records a peer disconnection
func (c *Collector) PeerDisconnected(peerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activePeerSet, peerID)
	c.peersActive.Set(float64(len(c.activePeerSet)))
}

// PacketReceived records a received packet
func (c *Collector) PacketReceived(packetType string) {
	c.packetsReceived.WithLabelValues(packetType).Inc()
}

// PacketSent records a sent packet
func (c *Collector) PacketSent(packetType string) {
	c.packetsSent.WithLabelValues(packetType).Inc()
}

// BytesReceived records received bytes
func (c *Collector) BytesReceived(bytes uint64) {
	c.bytesReceived.Add(float64(bytes))
}

// BytesSent records sent bytes
func (c *Collector) BytesSent(bytes uint64) {
	c.bytesSent.Add(float64(bytes))
}

// StreamStarted records a stream start
func (c *Collector) StreamStarted(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreamSet[streamID] = true
	c.streamsActive.Set(float64(len(c.activeStreamSet)))
}

// StreamEnded records a stream end
func (c *Collector) StreamEnded(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.activeStreamSet, streamID)
	c.streamsActive.Set(float64(len(c.activeStreamSet)))
}

// BridgeRouted records a bridge routing event
func (c *Collector) BridgeRouted(bridgeName, system string, tgid uint32) {
	c.bridgeRoutes.Inc()
}

// TalkgroupActive records a talkgroup becoming active
func (c *Collector) TalkgroupActive(tgid uint32, timeslot uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := talkgroupKey(tgid, timeslot)
	c.activeTGSet[key] = true
	c.talkgroupsActive.Set(float64(len(c.activeTGSet)))
}

// TalkgroupInactive records a talkgroup becoming inactive
func (c *Collector) TalkgroupInactive(tgid uint32, timeslot uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := talkgroupKey(tgid, timeslot)
	delete(c.activeTGSet, key)
	c.talkgroupsActive.Set(float64(len(c.activeTGSet)))
}

// Reset clears the gauges tracking currently-active sets (peers, streams,
// talkgroups). Cumulative counters are untouched, matching Prometheus
// counter semantics: they never go backwards.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activePeerSet = make(map[uint32]bool)
	c.activeStreamSet = make(map[uint32]bool)
	c.activeTGSet = make(map[string]bool)
	c.peersActive.Set(0)
	c.streamsActive.Set(0)
	c.talkgroupsActive.Set(0)
}

// Getters for metrics, used by the web dashboard API.

// GetTotalPeers returns total peer connections
func (c *Collector) GetTotalPeers() uint64 {
	return uint64(counterValue(c.peersTotal))
}

// GetActivePeers returns the number of active peers
func (c *Collector) GetActivePeers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activePeerSet)
}

// GetPacketsReceived returns total packets received across all types
func (c *Collector) GetPacketsReceived() uint64 {
	return sumCounterVec(c.packetsReceived)
}

// GetPacketsSent returns total packets sent across all types
func (c *Collector) GetPacketsSent() uint64 {
	return sumCounterVec(c.packetsSent)
}

// GetBytesReceived returns total bytes received
func (c *Collector) GetBytesReceived() uint64 {
	return uint64(counterValue(c.bytesReceived))
}

// GetBytesSent returns total bytes sent
func (c *Collector) GetBytesSent() uint64 {
	return uint64(counterValue(c.bytesSent))
}

// GetActiveStreams returns the number of active streams
func (c *Collector) GetActiveStreams() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activeStreamSet)
}

// GetBridgeRoutes returns total bridge routing events
func (c *Collector) GetBridgeRoutes() uint64 {
	return uint64(counterValue(c.bridgeRoutes))
}

// GetActiveTalkgroups returns the number of active talkgroups
func (c *Collector) GetActiveTalkgroups() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activeTGSet)
}

// counterValue reads back the current value of a Prometheus counter or
// gauge without going through the registry's scrape path.
func counterValue(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}

// sumCounterVec totals every label combination of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) uint64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	var total float64
	for m := range ch {
		total += counterValue(m)
	}
	return uint64(total)
}

func talkgroupKey(tgid uint32, timeslot uint8) string {
	return string([]byte{
		byte(tgid >> 24),
		byte(tgid >> 16),
		byte(tgid >> 8),
		byte(tgid),
		timeslot,
	})
}
