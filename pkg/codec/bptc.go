package codec

// BPTC(196,96) implements the Block Product Turbo Code used to protect DMR
// full link control (header/terminator). The 196-bit codeword is a 9x15
// matrix of 11-bit data rows + Hamming(15,11,3) row parity, with
// Hamming(13,9,3) column parity folded in, interleaved by the fixed
// permutation P[i] = (i*181) mod 196.
//
// Ported from the Go CBPTC19696 port (itself a port of the C++ MMDVM
// CBPTC19696), trimmed to the two operations this system needs: a full
// encode (for building outbound header/terminator LC) and a fast decode
// that skips iterative error correction and reads the 72 LC bits straight
// out of the deinterleaved matrix, per the original HBlink bptc.py
// decode_full_lc, which explicitly discards the trailing 24 RS1293 bits.

const (
	bptcTotalBits  = 196
	bptcInfoBits   = 96
	bptcInputBytes = 12 // 9 bytes LC + 3 bytes RS check
	bptcWireBytes  = 33 // packed payload on the wire
	bptcCols       = 15
	bptcDataRows   = 9
)

// infoBitRanges are the contiguous matrix-bit ranges (inclusive) that hold
// the 96 information bits row-major, skipping the 4 parity bits in each
// 15-bit row and the reserved bits 0..3.
var infoBitRanges = [][2]int{
	{4, 11}, {16, 26}, {31, 41}, {46, 56}, {61, 71}, {76, 86}, {91, 101}, {106, 116}, {121, 131},
}

// EncodeFullLC encodes a 12-byte (96-bit) header/terminator LC codeword
// (9 bytes of LC followed by the 3-byte RS check) into the 33-byte BPTC
// wire payload.
func EncodeFullLC(payload [bptcInputBytes]byte) [bptcWireBytes]byte {
	var info [bptcInfoBits]bool
	for i := 0; i < bptcInputBytes; i++ {
		ByteToBitsBE(payload[i], info[i*8:i*8+8])
	}

	var matrix [bptcTotalBits]bool
	pos := 0
	for _, r := range infoBitRanges {
		for a := r[0]; a <= r[1] && pos < bptcInfoBits; a++ {
			matrix[a] = info[pos]
			pos++
		}
	}

	for row := 0; row < bptcDataRows; row++ {
		start := row*bptcCols + 1
		EncodeHamming15_11(matrix[start : start+bptcCols])
	}

	var col [13]bool
	for c := 0; c < bptcCols; c++ {
		p := c + 1
		for a := 0; a < 13; a++ {
			if p < bptcTotalBits {
				col[a] = matrix[p]
			}
			p += bptcCols
		}
		EncodeHamming13_9(col[:])
		p = c + 1
		for a := 0; a < 13; a++ {
			if p < bptcTotalBits {
				matrix[p] = col[a]
			}
			p += bptcCols
		}
	}

	var interleaved [bptcTotalBits]bool
	for a := 0; a < bptcTotalBits; a++ {
		interleaved[(a*181)%bptcTotalBits] = matrix[a]
	}

	return packBPTCWire(interleaved)
}

// EncodeHeaderLC is the convenience entry point for header/terminator LC:
// it appends the 3-byte RS check to the 9-byte LC and runs the full BPTC
// encode.
func EncodeHeaderLC(lc [9]byte) [bptcWireBytes]byte {
	check := RSCheck(lc)
	var payload [bptcInputBytes]byte
	copy(payload[:9], lc[:])
	copy(payload[9:], check[:])
	return EncodeFullLC(payload)
}

// FastDecodeLC extracts the 72-bit (9-byte) LC payload from a 33-byte BPTC
// wire payload without running Hamming error correction — the receiver
// trusts the link and only needs the LC fields for routing, not a
// bit-perfect reconstruction of the 24-bit RS check that follows it.
func FastDecodeLC(wire [bptcWireBytes]byte) [9]byte {
	raw := unpackBPTCWire(wire)

	var matrix [bptcTotalBits]bool
	for a := 0; a < bptcTotalBits; a++ {
		matrix[a] = raw[(a*181)%bptcTotalBits]
	}

	var info [bptcInfoBits]bool
	pos := 0
	for _, r := range infoBitRanges {
		for a := r[0]; a <= r[1] && pos < bptcInfoBits; a++ {
			info[pos] = matrix[a]
			pos++
		}
	}

	var out [9]byte
	for i := 0; i < 9; i++ {
		out[i] = BitsToByteBE(info[i*8 : i*8+8])
	}
	return out
}

// packBPTCWire lays the 196-bit interleaved matrix into the 33-byte voice
// payload using the real DMR burst layout: bits 0..97 occupy bytes 0..11
// plus the top two bits of byte 12 (bits 96..97), bits 98..99 occupy the
// bottom two bits of byte 20, and bits 100..195 occupy bytes 21..32.
// The bottom six bits of byte 12, bytes 13..19 and the top six bits of
// byte 20 are the sync/slot-type field (the §3 invariant's "preserved"
// half); they are left zero here and the caller overlays sync separately.
func packBPTCWire(bits [bptcTotalBits]bool) [bptcWireBytes]byte {
	var out [bptcWireBytes]byte
	for i := 0; i < 12; i++ {
		out[i] = BitsToByteBE(bits[i*8 : i*8+8])
	}
	tail := BitsToByteBE(bits[96:104])
	out[12] = (out[12] & 0x3F) | (tail & 0xC0)
	out[20] = (out[20] & 0xFC) | ((tail >> 4) & 0x03)
	for i := 0; i < 12; i++ {
		start := 100 + i*8
		out[21+i] = BitsToByteBE(bits[start : start+8])
	}
	return out
}

func unpackBPTCWire(wire [bptcWireBytes]byte) [bptcTotalBits]bool {
	var bits [bptcTotalBits]bool
	for i := 0; i < 13; i++ {
		ByteToBitsBE(wire[i], bits[i*8:i*8+8])
	}
	var tail [8]bool
	ByteToBitsBE(wire[20], tail[:])
	bits[98] = tail[6]
	bits[99] = tail[7]
	for i := 0; i < 12; i++ {
		start := 100 + i*8
		ByteToBitsBE(wire[21+i], bits[start:start+8])
	}
	return bits
}
