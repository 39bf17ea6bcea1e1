package codec

// Embedded link control (embedded-LC) carries the same 72-bit LC as full LC,
// but spread across the four voice frames (B/C/D/E) of a DMR superframe
// instead of the header/terminator burst. Each frame's 32-bit embedded-LC
// field is built from a 128-bit matrix: the 72 LC bits plus a 5-bit
// checksum split across 7 rows of 11 data bits, each row protected by
// Hamming(16,11,4) parity, plus 16 column-parity bits.
//
// Ported from original_source/bptc.py's encode_emblc/decode_emblc. The
// fast decode path mirrors decode_emblc: it never runs Hamming correction
// or verifies the checksum, it just reads the 72 data bits back out of
// their known matrix positions.

const (
	emblcDataBits   = 72
	emblcCsumBits   = 5
	emblcRowBits    = 77 // 72 data + 5 checksum, split into 7 rows of 11
	emblcRows       = 7
	emblcRowWidth   = 16 // 11 data/checksum bits + 5 Hamming parity bits
	emblcMatrixBits = emblcRows*emblcRowWidth + 16 // 112 row bits + 16 column parity = 128

	// csumBitPos are the positions, in the 77-bit (data+checksum) array,
	// where the 5 checksum bits were spliced in between the 72 LC bits.
)

var csumBitPos = [emblcCsumBits]int{32, 43, 54, 65, 76}

// burstGroup identifies which of the four embedded-LC voice-frame fields
// (B, C, D, E) a 32-bit slice belongs to; each covers a 4-column stripe of
// the 128-bit matrix's 8 sixteen-bit blocks.
type burstGroup int

const (
	burstB burstGroup = 0
	burstC burstGroup = 1
	burstD burstGroup = 2
	burstE burstGroup = 3
)

// EncodeEmbeddedLC encodes a 9-byte (72-bit) LC payload into the four
// 32-bit embedded-LC bursts (B, C, D, E) carried in voice frames 1-4 of a
// superframe.
func EncodeEmbeddedLC(lc [9]byte) (b, c, d, e [4]byte) {
	var data [emblcDataBits]bool
	for i := 0; i < 9; i++ {
		ByteToBitsBE(lc[i], data[i*8:i*8+8])
	}

	csum := csum5(lc)

	var merged [emblcRowBits]bool
	csumIdx := 0
	dataIdx := 0
	for i := 0; i < emblcRowBits; i++ {
		if csumIdx < emblcCsumBits && i == csumBitPos[csumIdx] {
			merged[i] = csum[csumIdx]
			csumIdx++
			continue
		}
		merged[i] = data[dataIdx]
		dataIdx++
	}

	var matrix [emblcMatrixBits]bool
	for row := 0; row < emblcRows; row++ {
		var r [emblcRowWidth]bool
		copy(r[:11], merged[row*11:row*11+11])
		EncodeHamming16_11(r[:])
		copy(matrix[row*emblcRowWidth:row*emblcRowWidth+emblcRowWidth], r[:])
	}

	for col := 0; col < 16; col++ {
		matrix[112+col] = xorBits(
			matrix[col], matrix[col+16], matrix[col+32], matrix[col+48],
			matrix[col+64], matrix[col+80], matrix[col+96],
		)
	}

	return packEmbeddedBurst(matrix, burstB), packEmbeddedBurst(matrix, burstC),
		packEmbeddedBurst(matrix, burstD), packEmbeddedBurst(matrix, burstE)
}

// packEmbeddedBurst extracts the 32 matrix bits belonging to one 4-column
// stripe and packs them MSB-first into 4 bytes.
func packEmbeddedBurst(matrix [emblcMatrixBits]bool, g burstGroup) [4]byte {
	var bits [32]bool
	for j := 0; j < 32; j++ {
		blockIdx := j % 8
		sub := j / 8
		bits[j] = matrix[blockIdx*16+int(g)*4+sub]
	}
	var out [4]byte
	for i := 0; i < 4; i++ {
		out[i] = BitsToByteBE(bits[i*8 : i*8+8])
	}
	return out
}

// DecodeEmbeddedLC performs the fast-decode path: it reassembles the 72 LC
// data bits directly from their known positions in the four embedded-LC
// bursts, without running Hamming correction or checking the checksum.
func DecodeEmbeddedLC(b, c, d, e [4]byte) [9]byte {
	var matrix [emblcMatrixBits]bool
	unpackEmbeddedBurst(&matrix, b, burstB)
	unpackEmbeddedBurst(&matrix, c, burstC)
	unpackEmbeddedBurst(&matrix, d, burstD)
	unpackEmbeddedBurst(&matrix, e, burstE)

	var data [emblcDataBits]bool
	pos := 0
	for row := 0; row < emblcRows; row++ {
		width := 11
		if row >= 2 {
			width = 10 // drop the checksum bit spliced into rows 2-6
		}
		start := row * emblcRowWidth
		copy(data[pos:pos+width], matrix[start:start+width])
		pos += width
	}

	var out [9]byte
	for i := 0; i < 9; i++ {
		out[i] = BitsToByteBE(data[i*8 : i*8+8])
	}
	return out
}

func unpackEmbeddedBurst(matrix *[emblcMatrixBits]bool, burst [4]byte, g burstGroup) {
	var bits [32]bool
	for i := 0; i < 4; i++ {
		ByteToBitsBE(burst[i], bits[i*8:i*8+8])
	}
	for j := 0; j < 32; j++ {
		blockIdx := j % 8
		sub := j / 8
		matrix[blockIdx*16+int(g)*4+sub] = bits[j]
	}
}
