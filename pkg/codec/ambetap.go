package codec

// AMBETap extracts the three AMBE voice frames embedded in a DMR voice
// burst payload and forwards them to an optional sink. It is the "optional
// AMBE-audio side export" collaborator: a no-op unless a sink is attached,
// and never called from the routing hot path — the router only reads
// link-control bits, never voice payload, so wiring a tap never touches
// forwarding latency.
//
// The bit-position tables are adapted from the teacher's DMR<->YSF AMBE
// transcoder (DMR_A_TABLE/DMR_B_TABLE/DMR_C_TABLE, itself ported from
// MMDVM_CM's ModeConv.cpp): each DMR voice payload carries 3 AMBE frames
// of 72 coded bits (24-bit A, 23-bit B and 25-bit C fields) scattered
// across fixed bit offsets; the tables below cover the first of them
// (payload bits 0..71). The YSF-side interleave/whitening tables that
// accompanied them in the teacher are dropped entirely; this tap only
// ever produces DMR-side AMBE frames, it does not transcode to YSF.

// dmrAFrameBits, dmrBFrameBits and dmrCFrameBits map each AMBE frame's
// bits to their fixed positions in a 33-byte DMR voice payload.
var (
	dmrAFrameBits = []uint{
		0, 4, 8, 12, 16, 20, 24, 28, 32, 36, 40, 44,
		48, 52, 56, 60, 64, 68, 1, 5, 9, 13, 17, 21,
	}
	dmrBFrameBits = []uint{
		25, 29, 33, 37, 41, 45, 49, 53, 57, 61, 65, 69,
		2, 6, 10, 14, 18, 22, 26, 30, 34, 38, 42,
	}
	dmrCFrameBits = []uint{
		46, 50, 54, 58, 62, 66, 70, 3, 7, 11, 15, 19, 23,
		27, 31, 35, 39, 43, 47, 51, 55, 59, 63, 67, 71,
	}
)

func readPayloadBit(data []byte, pos uint) bool {
	bytePos := pos >> 3
	bitPos := pos & 7
	if int(bytePos) >= len(data) {
		return false
	}
	return data[bytePos]&(0x80>>bitPos) != 0
}

// AMBEFrame is one 72-bit AMBE voice frame (24-bit A, 23-bit B and 25-bit
// C fields) extracted from a DMR voice burst, one bool per bit.
type AMBEFrame struct {
	A []bool
	B []bool
	C []bool
}

// ExtractAMBEFrame reads the first of the three AMBE frames carried by one
// 33-byte DMR voice burst payload.
func ExtractAMBEFrame(payload [33]byte) AMBEFrame {
	frame := AMBEFrame{
		A: make([]bool, len(dmrAFrameBits)),
		B: make([]bool, len(dmrBFrameBits)),
		C: make([]bool, len(dmrCFrameBits)),
	}
	for i, pos := range dmrAFrameBits {
		frame.A[i] = readPayloadBit(payload[:], pos)
	}
	for i, pos := range dmrBFrameBits {
		frame.B[i] = readPayloadBit(payload[:], pos)
	}
	for i, pos := range dmrCFrameBits {
		frame.C[i] = readPayloadBit(payload[:], pos)
	}
	return frame
}

// AMBESink receives extracted AMBE frames, tagged by the stream they came
// from. Implementations might write to a file, a UDP socket for an
// external vocoder, or a test recorder.
type AMBESink interface {
	WriteAMBEFrame(streamID uint32, slot uint8, frame AMBEFrame)
}

// AMBETap forwards AMBE frames from forwarded voice bursts to an
// optionally configured sink. A nil Sink makes the tap a no-op.
type AMBETap struct {
	Sink AMBESink
}

// Observe extracts and forwards the AMBE frame in payload if a sink is
// configured; it is always safe to call unconditionally from the voice
// path.
func (t *AMBETap) Observe(streamID uint32, slot uint8, payload [33]byte) {
	if t == nil || t.Sink == nil {
		return
	}
	t.Sink.WriteAMBEFrame(streamID, slot, ExtractAMBEFrame(payload))
}
