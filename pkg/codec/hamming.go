package codec

// Hamming error-correcting codes used by the BPTC(196,96) matrix and by
// embedded link control. Row parity is Hamming(15,11,3) (variant 2), column
// parity is Hamming(13,9,3), and embedded-LC rows use Hamming(16,11,4), the
// Hamming(15,11,3) parity equations extended with one overall-parity bit to
// raise the minimum distance to 4.

func xorBits(values ...bool) bool {
	result := false
	for _, v := range values {
		result = result != v
	}
	return result
}

// EncodeHamming15_11 writes the 4 parity bits (indices 11..14) of a 15-bit
// row given its 11 data bits (indices 0..10).
func EncodeHamming15_11(d []bool) {
	if len(d) < 15 {
		return
	}
	d[11] = xorBits(d[0], d[1], d[2], d[3], d[5], d[7], d[8])
	d[12] = xorBits(d[1], d[2], d[3], d[4], d[6], d[8], d[9])
	d[13] = xorBits(d[2], d[3], d[4], d[5], d[7], d[9], d[10])
	d[14] = xorBits(d[0], d[1], d[2], d[4], d[6], d[7], d[10])
}

// DecodeHamming15_11 checks and corrects a single-bit error in a 15-bit row.
// Returns true if a correction was applied.
func DecodeHamming15_11(d []bool) bool {
	if len(d) < 15 {
		return false
	}

	c0 := xorBits(d[0], d[1], d[2], d[3], d[5], d[7], d[8])
	c1 := xorBits(d[1], d[2], d[3], d[4], d[6], d[8], d[9])
	c2 := xorBits(d[2], d[3], d[4], d[5], d[7], d[9], d[10])
	c3 := xorBits(d[0], d[1], d[2], d[4], d[6], d[7], d[10])

	var n uint8
	if c0 != d[11] {
		n |= 0x01
	}
	if c1 != d[12] {
		n |= 0x02
	}
	if c2 != d[13] {
		n |= 0x04
	}
	if c3 != d[14] {
		n |= 0x08
	}

	switch n {
	case 0x01:
		d[11] = !d[11]
	case 0x02:
		d[12] = !d[12]
	case 0x04:
		d[13] = !d[13]
	case 0x08:
		d[14] = !d[14]
	case 0x09:
		d[0] = !d[0]
	case 0x0B:
		d[1] = !d[1]
	case 0x0F:
		d[2] = !d[2]
	case 0x07:
		d[3] = !d[3]
	case 0x0E:
		d[4] = !d[4]
	case 0x05:
		d[5] = !d[5]
	case 0x0A:
		d[6] = !d[6]
	case 0x0D:
		d[7] = !d[7]
	case 0x03:
		d[8] = !d[8]
	case 0x06:
		d[9] = !d[9]
	case 0x0C:
		d[10] = !d[10]
	default:
		return false
	}
	return true
}

// EncodeHamming13_9 writes the 4 parity bits (indices 9..12) of a 13-bit
// column given its 9 data bits (indices 0..8).
func EncodeHamming13_9(d []bool) {
	if len(d) < 13 {
		return
	}
	d[9] = xorBits(d[0], d[1], d[3], d[5], d[6])
	d[10] = xorBits(d[0], d[1], d[2], d[4], d[6], d[7])
	d[11] = xorBits(d[0], d[1], d[2], d[3], d[5], d[7], d[8])
	d[12] = xorBits(d[0], d[2], d[4], d[5], d[8])
}

// DecodeHamming13_9 checks and corrects a single-bit error in a 13-bit
// column. Returns true if a correction was applied.
func DecodeHamming13_9(d []bool) bool {
	if len(d) < 13 {
		return false
	}

	c0 := xorBits(d[0], d[1], d[3], d[5], d[6])
	c1 := xorBits(d[0], d[1], d[2], d[4], d[6], d[7])
	c2 := xorBits(d[0], d[1], d[2], d[3], d[5], d[7], d[8])
	c3 := xorBits(d[0], d[2], d[4], d[5], d[8])

	var n uint8
	if c0 != d[9] {
		n |= 0x01
	}
	if c1 != d[10] {
		n |= 0x02
	}
	if c2 != d[11] {
		n |= 0x04
	}
	if c3 != d[12] {
		n |= 0x08
	}

	switch n {
	case 0x01:
		d[9] = !d[9]
	case 0x02:
		d[10] = !d[10]
	case 0x04:
		d[11] = !d[11]
	case 0x08:
		d[12] = !d[12]
	case 0x0F:
		d[0] = !d[0]
	case 0x07:
		d[1] = !d[1]
	case 0x0E:
		d[2] = !d[2]
	case 0x05:
		d[3] = !d[3]
	case 0x0A:
		d[4] = !d[4]
	case 0x0D:
		d[5] = !d[5]
	case 0x03:
		d[6] = !d[6]
	case 0x06:
		d[7] = !d[7]
	case 0x0C:
		d[8] = !d[8]
	default:
		return false
	}
	return true
}

// EncodeHamming16_11 writes the 5 parity bits (indices 11..15) of a 16-bit
// embedded-LC row given its 11 data bits (indices 0..10): the four
// Hamming(15,11,3) parity checks plus one overall parity bit over all 15
// preceding bits, giving the code distance-4 behaviour its name promises.
func EncodeHamming16_11(d []bool) {
	if len(d) < 16 {
		return
	}
	EncodeHamming15_11(d[:15])
	d[15] = xorBits(d[0], d[1], d[2], d[3], d[4], d[5], d[6], d[7], d[8], d[9], d[10], d[11], d[12], d[13], d[14])
}

// ByteToBitsBE unpacks a byte into 8 big-endian bits (bits[0] is the MSB).
func ByteToBitsBE(b uint8, bits []bool) {
	if len(bits) < 8 {
		return
	}
	for i := 0; i < 8; i++ {
		bits[i] = b&(0x80>>uint(i)) != 0
	}
}

// BitsToByteBE packs 8 big-endian bits into a byte (bits[0] is the MSB).
func BitsToByteBE(bits []bool) uint8 {
	if len(bits) < 8 {
		return 0
	}
	var b uint8
	for i := 0; i < 8; i++ {
		if bits[i] {
			b |= 0x80 >> uint(i)
		}
	}
	return b
}
