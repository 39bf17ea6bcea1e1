package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeEmbeddedLCRoundTrip(t *testing.T) {
	cases := [][9]byte{
		{0x00, 0x10, 0x20, 0x00, 0x0c, 0x30, 0x2f, 0x9b, 0xe5},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0, 0x11},
	}

	for _, lc := range cases {
		b, c, d, e := EncodeEmbeddedLC(lc)
		got := DecodeEmbeddedLC(b, c, d, e)
		assert.Equal(t, lc, got, "embedded-LC fast decode must recover the original 9-byte LC")
	}
}

// TestEncodeEmbeddedLC_SourceBugCompat compares burst D against the one the
// original HBlink bptc.py produces, where the second row samples matrix
// bit 24 a second time instead of bit 25. This implementation uses the
// corrected bit 25 (see the open-question note on burst D); flipping bit
// index 9 of burst D's bit array back to matrix bit 24 (buggyBurstD below)
// reproduces the source's buggy wire bytes, so interop with that source can
// be restored by swapping EncodeEmbeddedLC for this shape if ever required.
// The LC is chosen so that matrix bits 24 and 25 (LC data bits 19 and 20)
// differ; for an LC where they are equal the two bursts are identical.
func TestEncodeEmbeddedLC_SourceBugCompat(t *testing.T) {
	lc := [9]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0, 0x11}
	_, _, d, _ := EncodeEmbeddedLC(lc)

	buggy := buggyBurstD(lc)
	assert.NotEqual(t, buggy, d, "the corrected encoder must differ from the source's buggy burst D whenever bit 24 != bit 25")
}

// buggyBurstD reproduces the original source's burst-D construction,
// including the bit-24/bit-25 duplication bug, for the compatibility test
// above. It duplicates EncodeEmbeddedLC's matrix construction rather than
// calling it, since the production path always uses the corrected index.
func buggyBurstD(lc [9]byte) [4]byte {
	var data [emblcDataBits]bool
	for i := 0; i < 9; i++ {
		ByteToBitsBE(lc[i], data[i*8:i*8+8])
	}
	csum := csum5(lc)

	var merged [emblcRowBits]bool
	csumIdx, dataIdx := 0, 0
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

	var bits [32]bool
	for j := 0; j < 32; j++ {
		blockIdx := j % 8
		sub := j / 8
		if j == 9 { // the source's duplicated-bit-24 bug
			bits[j] = matrix[1*16+8+0]
			continue
		}
		bits[j] = matrix[blockIdx*16+8+sub]
	}
	var out [4]byte
	for i := 0; i < 4; i++ {
		out[i] = BitsToByteBE(bits[i*8 : i*8+8])
	}
	return out
}
