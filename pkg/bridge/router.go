package bridge

import (
	"sync"
	"time"

	"github.com/dbehnke/dmr-nexus/pkg/logger"
	"github.com/dbehnke/dmr-nexus/pkg/protocol"
)

// PeerSubscriptionChecker is a function that checks if a peer has a subscription
type PeerSubscriptionChecker func(peerID uint32, tgid uint32, timeslot int) bool

// Forwarder delivers a rewritten DMRD burst to a named endpoint. Supplied
// by pkg/network so the router stays transport-agnostic.
type Forwarder interface {
	ForwardDMRD(endpoint string, packet *protocol.DMRDPacket)
}

// Router manages conference bridge routing between systems
type Router struct {
	bridges             map[string]*BridgeRuleSet
	streamTracker       *StreamTracker
	callStreams         *CallStreamTracker
	subscriptionChecker PeerSubscriptionChecker
	peerIDToSystemName  map[uint32]string // Maps peer IDs to system names
	forwarder           Forwarder
	txLogger            *TransmissionLogger
	callEventHandler    CallEventHandler
	log                 *logger.Logger
	mu                  sync.RWMutex
}

// CallEventHandler is notified when a call-stream starts or ends on any
// endpoint, so an observer (e.g. the monitor sink) can publish it without
// the router depending on that observer's package.
type CallEventHandler func(endpoint string, p *protocol.DMRDPacket, event string)

// NewRouter creates a new router instance
func NewRouter() *Router {
	return &Router{
		bridges:            make(map[string]*BridgeRuleSet),
		streamTracker:      NewStreamTracker(),
		callStreams:        NewCallStreamTracker(),
		peerIDToSystemName: make(map[uint32]string),
		log:                logger.New(logger.Config{}).WithComponent("router"),
	}
}

// SetForwarder wires the transport-level sender used to deliver rewritten
// bursts to forwarding targets.
func (r *Router) SetForwarder(f Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarder = f
}

// SetTransmissionLogger wires the database transmission logger. Once set,
// HandleDMRD feeds every ingested burst to it so completed calls are
// persisted the same way regardless of which dialect originated them.
func (r *Router) SetTransmissionLogger(tl *TransmissionLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txLogger = tl
}

// SetCallEventHandler wires a callback invoked on every call-start and
// call-end detected by HandleDMRD's ingest step.
func (r *Router) SetCallEventHandler(h CallEventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callEventHandler = h
}

// RegisterRepeaterEndpoint registers a repeater-dialect endpoint's
// per-slot call-stream tracker with the given group-hangtime, so it can
// act as a contention-arbitrated forwarding target (§4.F).
func (r *Router) RegisterRepeaterEndpoint(name string, groupHangtime time.Duration) {
	r.callStreams.RegisterEndpoint(name, groupHangtime)
}

// RegisterOpenBridgeEndpoint registers an OpenBridge-dialect endpoint as a
// forwarding target. Targets registered this way bypass contention
// arbitration entirely and are tracked per-stream-id rather than per-slot
// (§4.F: "OpenBridge is effectively one slot").
func (r *Router) RegisterOpenBridgeEndpoint(name string) {
	r.callStreams.RegisterOpenBridgeEndpoint(name)
}

// TrimOpenBridgeStreams sweeps stale per-stream-id OpenBridge TX records.
// Intended to run on a 5-second ticker (§4.D).
func (r *Router) TrimOpenBridgeStreams(now time.Time) {
	r.callStreams.TrimOpenBridgeStreams(now)
}

// TickBridges runs the 60-second rule timer (§4.E) across every bridge.
func (r *Router) TickBridges(now time.Time) {
	r.mu.RLock()
	bridges := make([]*BridgeRuleSet, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()

	for _, b := range bridges {
		b.Tick(now)
	}
}

// HandleDMRD implements §4.D ingest and §4.F routing for one incoming DMRD
// burst from sourceEndpoint. It updates the source's call-stream tracker,
// runs in-band triggers at voice-terminator time, and forwards to every
// bridged target via the configured Forwarder, applying contention
// arbitration for repeater-dialect targets.
func (r *Router) HandleDMRD(sourceEndpoint string, p *protocol.DMRDPacket, now time.Time) {
	ingest := r.callStreams.Ingest(sourceEndpoint, p, now)
	if ingest.Collision {
		r.log.Warn("call-stream collision", logger.String("endpoint", sourceEndpoint), logger.Uint32("stream_id", p.StreamID))
		return
	}

	r.mu.RLock()
	txLogger := r.txLogger
	callEventHandler := r.callEventHandler
	r.mu.RUnlock()

	if txLogger != nil {
		isTerminator := p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceTerminator
		txLogger.LogPacket(p.StreamID, p.SourceID, p.DestinationID, p.RepeaterID, p.Timeslot, isTerminator)
	}

	if callEventHandler != nil {
		if ingest.CallStart {
			callEventHandler(sourceEndpoint, p, "start")
		}
		if ingest.CallEnd {
			callEventHandler(sourceEndpoint, p, "end")
		}
	}

	if p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceTerminator && ingest.CallEnd {
		r.mu.RLock()
		bridges := make([]*BridgeRuleSet, 0, len(r.bridges))
		for _, b := range r.bridges {
			bridges = append(bridges, b)
		}
		r.mu.RUnlock()
		for _, b := range bridges {
			b.ProcessInBandTrigger(sourceEndpoint, p.DestinationID, p.Timeslot, now)
		}
	}

	r.mu.RLock()
	forwarder := r.forwarder
	bridges := make([]*BridgeRuleSet, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()
	if forwarder == nil {
		return
	}

	for _, b := range bridges {
		b.mu.RLock()
		sourceMatched := false
		for _, m := range b.Rules {
			m.mu.RLock()
			if m.System == sourceEndpoint && m.Timeslot == p.Timeslot && uint32(m.TGID) == p.DestinationID && m.Active {
				sourceMatched = true
			}
			m.mu.RUnlock()
			if sourceMatched {
				break
			}
		}
		if !sourceMatched {
			b.mu.RUnlock()
			continue
		}

		type target struct {
			system string
			tgid   uint32
			slot   int
		}
		targets := make([]target, 0, len(b.Rules))
		for _, t := range b.Rules {
			t.mu.RLock()
			if t.System != sourceEndpoint && t.Active {
				targets = append(targets, target{t.System, uint32(t.TGID), t.Timeslot})
			}
			t.mu.RUnlock()
		}
		b.mu.RUnlock()

		for _, tgt := range targets {
			r.forwardTo(forwarder, tgt.system, tgt.tgid, tgt.slot, sourceEndpoint, p, ingest, now)
		}
	}
}

// forwardTo rewrites and forwards one burst to a single target endpoint at
// the given talkgroup/slot, applying contention arbitration when the
// target is a registered repeater-dialect endpoint, or the distinct
// OpenBridge target rule (§4.F) when it is an OpenBridge-dialect endpoint.
func (r *Router) forwardTo(f Forwarder, targetEndpoint string, targetTGID uint32, targetSlot int, sourceEndpoint string, p *protocol.DMRDPacket, ingest IngestResult, now time.Time) {
	if r.callStreams.IsOpenBridgeEndpoint(targetEndpoint) {
		r.forwardToOpenBridge(f, targetEndpoint, targetTGID, p, ingest, now)
		return
	}

	if r.callStreams.ContentionReject(targetEndpoint, targetSlot, targetTGID, p.SourceID, p.StreamID, now) {
		if r.log != nil && r.callStreams.ShouldLogContention(sourceEndpoint, p.Timeslot, targetEndpoint) {
			r.log.Warn("routing rejected by contention", logger.String("target", targetEndpoint), logger.Uint32("tgid", targetTGID))
		}
		return
	}

	tx := r.callStreams.UpdateTX(targetEndpoint, targetSlot, targetTGID, p.SourceID, p.StreamID, ingest.RXLC, now)

	out := *p
	out.DestinationID = targetTGID
	out.Timeslot = targetSlot
	payload := make([]byte, 33)
	copy(payload, p.Payload)

	switch {
	case p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceHeader:
		copy(payload, tx.HeaderWire[:])
	case p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceTerminator:
		copy(payload, tx.TermWire[:])
	case p.FrameType == protocol.FrameTypeVoice &&
		p.DataType >= protocol.VoiceBurstB && p.DataType <= protocol.VoiceBurstE:
		protocol.InsertEmbeddedLCBurst(payload, tx.EmbLC[p.DataType-protocol.VoiceBurstB])
	}
	out.Payload = payload

	f.ForwardDMRD(targetEndpoint, &out)
}

// forwardToOpenBridge rewrites and forwards one burst to an OpenBridge-
// dialect target. Unlike forwardTo's repeater-dialect path, there is no
// contention check and the slot bit (byte 15 bit 7) is always cleared,
// regardless of the source or configured target slot; the target's
// transport stamps a fresh HMAC on send.
func (r *Router) forwardToOpenBridge(f Forwarder, targetEndpoint string, targetTGID uint32, p *protocol.DMRDPacket, ingest IngestResult, now time.Time) {
	tx := r.callStreams.UpdateOpenBridgeTX(targetEndpoint, targetTGID, p.SourceID, p.StreamID, ingest.RXLC, now)

	out := *p
	out.DestinationID = targetTGID
	out.Timeslot = protocol.Timeslot1
	payload := make([]byte, 33)
	copy(payload, p.Payload)

	switch {
	case p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceHeader:
		copy(payload, tx.HeaderWire[:])
	case p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceTerminator:
		copy(payload, tx.TermWire[:])
	case p.FrameType == protocol.FrameTypeVoice &&
		p.DataType >= protocol.VoiceBurstB && p.DataType <= protocol.VoiceBurstE:
		protocol.InsertEmbeddedLCBurst(payload, tx.EmbLC[p.DataType-protocol.VoiceBurstB])
	}
	out.Payload = payload

	f.ForwardDMRD(targetEndpoint, &out)
}

// SetSubscriptionChecker sets the function to check peer subscriptions
func (r *Router) SetSubscriptionChecker(checker PeerSubscriptionChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptionChecker = checker
}

// RegisterPeer registers a peer ID to system name mapping
func (r *Router) RegisterPeer(peerID uint32, systemName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerIDToSystemName[peerID] = systemName
}

// UnregisterPeer removes a peer ID to system name mapping
func (r *Router) UnregisterPeer(peerID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peerIDToSystemName, peerID)
}

// AddBridge adds a bridge rule set to the router
func (r *Router) AddBridge(bridge *BridgeRuleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[bridge.Name] = bridge
}

// GetBridge retrieves a bridge by name
func (r *Router) GetBridge(name string) *BridgeRuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bridges[name]
}

// RoutePacket routes a DMR packet based on bridge rules and peer subscriptions
// Returns a list of target systems to forward the packet to
func (r *Router) RoutePacket(packet *protocol.DMRDPacket, sourceSystem string) []string {
	// Check if this is a terminator frame - end the stream after processing
	isTerminator := packet.FrameType == protocol.FrameTypeDataSync &&
		packet.DataType == protocol.DataTypeVoiceTerminator
	defer func() {
		if isTerminator {
			r.streamTracker.EndStream(packet.StreamID)
		}
	}()

	// Check for stream deduplication
	if !r.streamTracker.TrackStream(packet.StreamID, sourceSystem) {
		// Duplicate stream from this system - don't forward
		return []string{}
	}

	// Find matching bridge rules across all bridges
	targets := make([]string, 0)
	targetSet := make(map[string]bool) // Use set to avoid duplicates

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Check static bridge rules
	for _, bridge := range r.bridges {
		matches := bridge.GetMatchingRules(packet.DestinationID, packet.Timeslot, sourceSystem)
		for _, rule := range matches {
			targetSet[rule.System] = true
		}
	}

	// Check dynamic peer subscriptions
	if r.subscriptionChecker != nil {
		for peerID, systemName := range r.peerIDToSystemName {
			// Skip the source system
			if systemName == sourceSystem {
				continue
			}

			// Check if this peer has a subscription for this talkgroup/timeslot
			if r.subscriptionChecker(peerID, packet.DestinationID, packet.Timeslot) {
				targetSet[systemName] = true
			}
		}
	}

	// Convert set to slice
	for target := range targetSet {
		targets = append(targets, target)
	}

	return targets
}

// ProcessActivation processes activation for the given TGID across all bridges
// Returns a map of bridge names to lists of activated rules
func (r *Router) ProcessActivation(tgid uint32) map[string][]*BridgeRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]*BridgeRule)

	for name, bridge := range r.bridges {
		activated := bridge.ProcessActivation(tgid)
		if len(activated) > 0 {
			result[name] = activated
		}
	}

	return result
}

// ProcessDeactivation processes deactivation for the given TGID across all bridges
// Returns a map of bridge names to lists of deactivated rules
func (r *Router) ProcessDeactivation(tgid uint32) map[string][]*BridgeRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]*BridgeRule)

	for name, bridge := range r.bridges {
		deactivated := bridge.ProcessDeactivation(tgid)
		if len(deactivated) > 0 {
			result[name] = deactivated
		}
	}

	return result
}

// GetActiveBridges returns all bridges that have at least one active rule
func (r *Router) GetActiveBridges() []*BridgeRuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*BridgeRuleSet, 0)

	for _, bridge := range r.bridges {
		hasActive := false
		bridge.mu.RLock()
		for _, rule := range bridge.Rules {
			rule.mu.RLock()
			if rule.Active {
				hasActive = true
				rule.mu.RUnlock()
				break
			}
			rule.mu.RUnlock()
		}
		bridge.mu.RUnlock()

		if hasActive {
			result = append(result, bridge)
		}
	}

	return result
}

// CleanupStreams removes old streams from the tracker
func (r *Router) CleanupStreams(maxAge time.Duration) {
	r.streamTracker.CleanupOldStreams(maxAge)
}
