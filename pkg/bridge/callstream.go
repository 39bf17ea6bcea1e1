package bridge

import (
	"sync"
	"time"

	"github.com/dbehnke/dmr-nexus/pkg/protocol"
)

// StreamTimeout (STREAM_TO) bounds how long a stream may go silent before a
// same-slot transmission from a different source is no longer considered a
// collision.
const StreamTimeout = 2 * time.Second

// OpenBridgeTrim is how often idle OpenBridge stream records are swept.
const OpenBridgeTrim = 5 * time.Second

// RXState is the receive side of a per-slot call-stream record (§4.D).
type RXState struct {
	StreamID uint32
	RFS      uint32
	TGID     uint32
	IsTerm   bool
	Time     time.Time
	Start    time.Time
	LC       [9]byte

	// contentionLogged remembers which target endpoints have already had a
	// rejection logged for the current stream, so repeated bursts of the
	// same rejected stream don't re-log.
	contentionLogged map[string]bool
}

// TXState is the transmit side of a per-slot call-stream record, cached so
// repeated bursts of the same forwarded stream reuse one rewritten LC.
type TXState struct {
	TGID       uint32
	StreamID   uint32
	RFS        uint32
	Time       time.Time
	HeaderWire [33]byte
	TermWire   [33]byte
	EmbLC      [4][4]byte // indices 0..3 = bursts B, C, D, E
	haveLC     bool
}

// SlotTracker holds the RX and TX state for one timeslot of one endpoint.
type SlotTracker struct {
	mu sync.Mutex
	RX RXState
	TX TXState
}

// EndpointTracker holds the two timeslot trackers for a repeater-dialect
// endpoint, plus the group-hangtime this endpoint's targets are arbitrated
// against (§4.F).
type EndpointTracker struct {
	GroupHangtime time.Duration
	Slots         [3]*SlotTracker // index by timeslot 1 or 2; index 0 unused
}

func newEndpointTracker(groupHangtime time.Duration) *EndpointTracker {
	return &EndpointTracker{
		GroupHangtime: groupHangtime,
		Slots: [3]*SlotTracker{
			1: {RX: RXState{contentionLogged: make(map[string]bool)}},
			2: {RX: RXState{contentionLogged: make(map[string]bool)}},
		},
	}
}

// CallStreamTracker implements the per-slot, per-endpoint call-stream
// tracker (§4.D) plus the target-side bookkeeping §4.F's contention
// arbitration reads and writes.
type CallStreamTracker struct {
	mu          sync.RWMutex
	endpoints   map[string]*EndpointTracker
	obEndpoints map[string]*OpenBridgeEndpointTracker
}

// NewCallStreamTracker creates an empty tracker.
func NewCallStreamTracker() *CallStreamTracker {
	return &CallStreamTracker{
		endpoints:   make(map[string]*EndpointTracker),
		obEndpoints: make(map[string]*OpenBridgeEndpointTracker),
	}
}

// RegisterEndpoint initialises the per-slot table for a repeater-dialect
// endpoint with the given group-hangtime, used by contention arbitration
// when this endpoint is a forwarding target.
func (t *CallStreamTracker) RegisterEndpoint(name string, groupHangtime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.endpoints[name]; !exists {
		t.endpoints[name] = newEndpointTracker(groupHangtime)
	}
}

func (t *CallStreamTracker) slot(endpoint string, slot int) *SlotTracker {
	t.mu.RLock()
	ep, ok := t.endpoints[endpoint]
	t.mu.RUnlock()
	if !ok {
		t.RegisterEndpoint(endpoint, 0)
		t.mu.RLock()
		ep = t.endpoints[endpoint]
		t.mu.RUnlock()
	}
	if slot != 1 && slot != 2 {
		return nil
	}
	return ep.Slots[slot]
}

// IngestResult describes the outcome of observing one incoming DMRD burst
// on the source endpoint's per-slot RX tracker (§4.D step 1-2).
type IngestResult struct {
	Collision bool
	NewStream bool
	CallStart bool
	CallEnd   bool
	Duration  time.Duration
	RXLC      [9]byte
}

// Ingest applies §4.D to one incoming burst: collision detection, late-entry
// LC synthesis, and RX-state bookkeeping. now is passed in rather than
// computed internally so callers (and tests) can drive it deterministically.
func (t *CallStreamTracker) Ingest(endpoint string, p *protocol.DMRDPacket, now time.Time) IngestResult {
	st := t.slot(endpoint, p.Timeslot)
	if st == nil {
		return IngestResult{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	isVoiceHeader := p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceHeader
	isTerminator := p.FrameType == protocol.FrameTypeDataSync && p.DataType == protocol.DataTypeVoiceTerminator

	var res IngestResult

	if p.StreamID != st.RX.StreamID {
		if !st.RX.IsTerm && now.Before(st.RX.Time.Add(StreamTimeout)) && p.SourceID != st.RX.RFS {
			res.Collision = true
			return res
		}

		st.RX.Start = now
		res.NewStream = true
		res.CallStart = true

		if isVoiceHeader {
			if src, dst, flco, ok := protocol.ParseVoiceLCHeader(p.Payload); ok {
				st.RX.LC = protocol.BuildLC(src, dst, flco)
			} else {
				st.RX.LC = protocol.BuildLateEntryLC(p.SourceID, p.DestinationID)
			}
		} else {
			st.RX.LC = protocol.BuildLateEntryLC(p.SourceID, p.DestinationID)
		}
		st.RX.contentionLogged = make(map[string]bool)
	}

	st.RX.RFS = p.SourceID
	st.RX.TGID = p.DestinationID
	st.RX.StreamID = p.StreamID
	st.RX.Time = now
	wasTerm := st.RX.IsTerm
	st.RX.IsTerm = isTerminator

	if isTerminator && !wasTerm {
		res.CallEnd = true
		res.Duration = now.Sub(st.RX.Start)
	}

	res.RXLC = st.RX.LC
	return res
}

// ContentionReject applies §4.F's four rejection conditions for forwarding
// a group-voice burst to target endpoint/slot t with talkgroup tgid, source
// rf_src, at time now. sourceStreamID is accepted but not consulted; the
// one-shot logging of a rejection is handled by ShouldLogContention.
func (t *CallStreamTracker) ContentionReject(targetEndpoint string, targetSlot int, tgid, rfSrc, sourceStreamID uint32, now time.Time) bool {
	st := t.slot(targetEndpoint, targetSlot)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	t.mu.RLock()
	ep := t.endpoints[targetEndpoint]
	t.mu.RUnlock()
	hangtime := time.Duration(0)
	if ep != nil {
		hangtime = ep.GroupHangtime
	}

	_ = sourceStreamID
	return (tgid != st.RX.TGID && now.Sub(st.RX.Time) < hangtime) ||
		(tgid != st.TX.TGID && now.Sub(st.TX.Time) < hangtime) ||
		(tgid == st.RX.TGID && now.Sub(st.RX.Time) < StreamTimeout) ||
		(tgid == st.TX.TGID && rfSrc != st.TX.RFS && now.Sub(st.TX.Time) < StreamTimeout)
}

// ShouldLogContention reports whether a contention rejection forwarding the
// source endpoint/slot's current stream to targetEndpoint should be logged,
// marking it logged so repeated bursts of the same rejected stream don't
// re-log (§4.F).
func (t *CallStreamTracker) ShouldLogContention(sourceEndpoint string, sourceSlot int, targetEndpoint string) bool {
	st := t.slot(sourceEndpoint, sourceSlot)
	if st == nil {
		return true
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.RX.contentionLogged[targetEndpoint] {
		return false
	}
	st.RX.contentionLogged[targetEndpoint] = true
	return true
}

// UpdateTX records that a forward to targetEndpoint/targetSlot succeeded,
// refreshing TX_TIME and, if the stream/source/talkgroup changed, caching a
// freshly rewritten destination LC (header, terminator, embedded fragments)
// via §4.A.
func (t *CallStreamTracker) UpdateTX(targetEndpoint string, targetSlot int, tgid, rfSrc, streamID uint32, sourceLC [9]byte, now time.Time) TXState {
	st := t.slot(targetEndpoint, targetSlot)
	if st == nil {
		return TXState{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.TX.Time = now

	if !st.TX.haveLC || st.TX.StreamID != streamID || st.TX.RFS != rfSrc || st.TX.TGID != tgid {
		st.TX.TGID = tgid
		st.TX.StreamID = streamID
		st.TX.RFS = rfSrc

		_, _, flco := protocol.ParseLC(sourceLC)
		copy(st.TX.HeaderWire[:], protocol.BuildVoiceLCHeader(rfSrc, tgid, flco))
		copy(st.TX.TermWire[:], protocol.BuildVoiceTerminatorPayload(rfSrc, tgid, flco))
		b, c, d, e := protocol.BuildEmbeddedLCBursts(rfSrc, tgid, flco)
		st.TX.EmbLC = [4][4]byte{b, c, d, e}
		st.TX.haveLC = true
	}

	return st.TX
}

// OpenBridgeEndpointTracker holds per-stream-id TX state for one
// OpenBridge-dialect forwarding target. OpenBridge has no timeslot concept
// ("OpenBridge is effectively one slot", §4.F), so state is keyed directly
// by stream_id rather than by (endpoint, slot).
type OpenBridgeEndpointTracker struct {
	mu      sync.Mutex
	streams map[uint32]*TXState
}

func newOpenBridgeEndpointTracker() *OpenBridgeEndpointTracker {
	return &OpenBridgeEndpointTracker{streams: make(map[uint32]*TXState)}
}

// RegisterOpenBridgeEndpoint initialises per-stream-id TX state for an
// OpenBridge-dialect endpoint, used when this endpoint is a forwarding
// target. Unlike RegisterEndpoint, no contention arbitration applies.
func (t *CallStreamTracker) RegisterOpenBridgeEndpoint(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.obEndpoints == nil {
		t.obEndpoints = make(map[string]*OpenBridgeEndpointTracker)
	}
	if _, exists := t.obEndpoints[name]; !exists {
		t.obEndpoints[name] = newOpenBridgeEndpointTracker()
	}
}

// IsOpenBridgeEndpoint reports whether name was registered as an
// OpenBridge-dialect forwarding target.
func (t *CallStreamTracker) IsOpenBridgeEndpoint(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.obEndpoints[name]
	return ok
}

// UpdateOpenBridgeTX records a forward of streamID to an OpenBridge target,
// caching a freshly rewritten destination LC (header, terminator, embedded
// fragments) the same way UpdateTX does for repeater-dialect targets, but
// with no contention arbitration and no timeslot.
func (t *CallStreamTracker) UpdateOpenBridgeTX(targetEndpoint string, tgid, rfSrc, streamID uint32, sourceLC [9]byte, now time.Time) TXState {
	t.mu.RLock()
	ep, ok := t.obEndpoints[targetEndpoint]
	t.mu.RUnlock()
	if !ok {
		t.RegisterOpenBridgeEndpoint(targetEndpoint)
		t.mu.RLock()
		ep = t.obEndpoints[targetEndpoint]
		t.mu.RUnlock()
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	st, ok := ep.streams[streamID]
	if !ok {
		st = &TXState{}
		ep.streams[streamID] = st
	}
	st.Time = now

	if !st.haveLC || st.TGID != tgid || st.RFS != rfSrc {
		st.TGID = tgid
		st.StreamID = streamID
		st.RFS = rfSrc

		_, _, flco := protocol.ParseLC(sourceLC)
		copy(st.HeaderWire[:], protocol.BuildVoiceLCHeader(rfSrc, tgid, flco))
		copy(st.TermWire[:], protocol.BuildVoiceTerminatorPayload(rfSrc, tgid, flco))
		b, c, d, e := protocol.BuildEmbeddedLCBursts(rfSrc, tgid, flco)
		st.EmbLC = [4][4]byte{b, c, d, e}
		st.haveLC = true
	}

	return *st
}

// TrimOpenBridgeStreams sweeps every OpenBridge endpoint's per-stream-id
// records, removing any not updated within OpenBridgeTrim. Intended to run
// on a 5-second ticker.
func (t *CallStreamTracker) TrimOpenBridgeStreams(now time.Time) {
	t.mu.RLock()
	eps := make([]*OpenBridgeEndpointTracker, 0, len(t.obEndpoints))
	for _, ep := range t.obEndpoints {
		eps = append(eps, ep)
	}
	t.mu.RUnlock()

	for _, ep := range eps {
		ep.mu.Lock()
		for id, st := range ep.streams {
			if now.Sub(st.Time) > OpenBridgeTrim {
				delete(ep.streams, id)
			}
		}
		ep.mu.Unlock()
	}
}
