package protocol

import "github.com/dbehnke/dmr-nexus/pkg/codec"

// FLCO is the Full Link Control Opcode, the low 6 bits of LC byte 0. Only
// the two forms relevant to this system are named; unit calls carry other
// opcodes and are passed through untouched (§ Non-goals: no private-call
// processing beyond forwarding).
type FLCO byte

const (
	FLCOGroup    FLCO = 0x00
	FLCOUserUser FLCO = 0x03
)

// LCOpt is the fixed LC-opcode prefix used when synthesising a late-entry
// LC: a plain group-voice opcode with no emergency/privacy/broadcast bits
// set.
var LCOpt = FLCOGroup

// BuildLC assembles the 9-byte LC payload: byte 0 is FLCO, bytes 1-3 the
// destination id, bytes 4-6 the source id, bytes 7-8 reserved.
func BuildLC(srcID, dstID uint32, flco FLCO) [9]byte {
	var lc [9]byte
	lc[0] = byte(flco) & 0x3F
	lc[1] = byte(dstID >> 16)
	lc[2] = byte(dstID >> 8)
	lc[3] = byte(dstID)
	lc[4] = byte(srcID >> 16)
	lc[5] = byte(srcID >> 8)
	lc[6] = byte(srcID)
	return lc
}

// ParseLC extracts FLCO, destination and source ids from a 9-byte LC.
func ParseLC(lc [9]byte) (srcID, dstID uint32, flco FLCO) {
	flco = FLCO(lc[0] & 0x3F)
	dstID = uint32(lc[1])<<16 | uint32(lc[2])<<8 | uint32(lc[3])
	srcID = uint32(lc[4])<<16 | uint32(lc[5])<<8 | uint32(lc[6])
	return srcID, dstID, flco
}

// BuildLateEntryLC synthesises an LC when a stream's voice header was
// never seen, as LC_OPT ‖ dst_id ‖ rf_src, so the first audible burst
// forwarded to a bridged destination is still usable.
func BuildLateEntryLC(srcID, dstID uint32) [9]byte {
	return BuildLC(srcID, dstID, LCOpt)
}

// BuildVoiceLCHeader builds the 33-byte voice-header burst payload: the
// 9-byte LC plus its RS(12,9) check, BPTC(196,96)-encoded. Bytes 13-19
// and the sync-reserved bits of bytes 12/20 are left zero for the caller
// to overlay with InsertVoiceSync.
func BuildVoiceLCHeader(srcID, dstID uint32, flco FLCO) []byte {
	wire := codec.EncodeHeaderLC(BuildLC(srcID, dstID, flco))
	payload := make([]byte, 33)
	copy(payload, wire[:])
	return payload
}

// BuildVoiceTerminatorPayload builds the 33-byte voice-terminator burst;
// its LC layout is identical to the header's.
func BuildVoiceTerminatorPayload(srcID, dstID uint32, flco FLCO) []byte {
	return BuildVoiceLCHeader(srcID, dstID, flco)
}

// ParseVoiceLCHeader fast-decodes the 9-byte LC carried by a voice-header
// or voice-terminator burst payload.
func ParseVoiceLCHeader(payload []byte) (srcID, dstID uint32, flco FLCO, ok bool) {
	if len(payload) != 33 {
		return 0, 0, 0, false
	}
	var wire [33]byte
	copy(wire[:], payload)
	srcID, dstID, flco = ParseLC(codec.FastDecodeLC(wire))
	return srcID, dstID, flco, true
}

// RewriteFullLC re-encodes a voice-header/terminator payload with a new
// source/destination/FLCO, preserving every bit the BPTC codec doesn't
// own: bytes 13-19 in full, and the sync-reserved bits of bytes 12 and 20.
func RewriteFullLC(payload []byte, srcID, dstID uint32, flco FLCO) []byte {
	wire := codec.EncodeHeaderLC(BuildLC(srcID, dstID, flco))
	out := make([]byte, 33)
	copy(out, payload)
	for i := 0; i < 12; i++ {
		out[i] = wire[i]
	}
	out[12] = (out[12] & 0x3F) | (wire[12] & 0xC0)
	out[20] = (out[20] & 0xFC) | (wire[20] & 0x03)
	for i := 21; i < 33; i++ {
		out[i] = wire[i]
	}
	return out
}

// BuildEmbeddedLCBursts encodes the four embedded-LC voice-frame
// fragments (B, C, D, E) for srcID/dstID/flco.
func BuildEmbeddedLCBursts(srcID, dstID uint32, flco FLCO) (b, c, d, e [4]byte) {
	return codec.EncodeEmbeddedLC(BuildLC(srcID, dstID, flco))
}

// InsertEmbeddedLCBurst writes one 32-bit embedded-LC burst into bits
// 116..147 of a 33-byte voice-frame payload (burst index dtype_vseq ∈
// {1,2,3,4} selects B, C, D or E), leaving every other bit untouched.
func InsertEmbeddedLCBurst(frame []byte, burst [4]byte) {
	if len(frame) < 33 {
		return
	}
	writeBitsBE(frame, 116, burst[:], 32)
}

// ParseEmbeddedLCBursts fast-decodes the four embedded-LC bursts back
// into a 9-byte LC (checksum and Hamming parity are not verified, per the
// fast-decode design).
func ParseEmbeddedLCBursts(b, c, d, e [4]byte) (srcID, dstID uint32, flco FLCO) {
	return ParseLC(codec.DecodeEmbeddedLC(b, c, d, e))
}

// ExtractEmbeddedLCBurst reads the 32-bit embedded-LC burst out of bits
// 116..147 of a 33-byte voice-frame payload.
func ExtractEmbeddedLCBurst(frame []byte) [4]byte {
	var out [4]byte
	if len(frame) < 33 {
		return out
	}
	readBitsBE(frame, 116, out[:], 32)
	return out
}

// writeBitsBE writes n bits from src (MSB-first, packed into bytes) into
// dst starting at bit offset startBit (dst bit 0 is the MSB of dst[0]),
// leaving every other bit of dst untouched.
func writeBitsBE(dst []byte, startBit int, src []byte, n int) {
	for i := 0; i < n; i++ {
		bit := src[i/8]&(0x80>>uint(i%8)) != 0
		pos := startBit + i
		byteIdx, bitIdx := pos/8, uint(pos%8)
		if bit {
			dst[byteIdx] |= 0x80 >> bitIdx
		} else {
			dst[byteIdx] &^= 0x80 >> bitIdx
		}
	}
}

// readBitsBE is the inverse of writeBitsBE.
func readBitsBE(src []byte, startBit int, dst []byte, n int) {
	for i := 0; i < n; i++ {
		pos := startBit + i
		byteIdx, bitIdx := pos/8, uint(pos%8)
		bit := src[byteIdx]&(0x80>>bitIdx) != 0
		if bit {
			dst[i/8] |= 0x80 >> uint(i%8)
		} else {
			dst[i/8] &^= 0x80 >> uint(i%8)
		}
	}
}
