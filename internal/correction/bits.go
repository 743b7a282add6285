package correction

// CRC-24Q (Qualcomm), polynomial 0x1864CFB, zero initial value. Used by SBAS,
// L1S, L5 DFMC and RTCM3 framing.
const crc24qPoly = 0x864CFB

var crc24qTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		crc := uint32(i) << 16
		for b := 0; b < 8; b++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24qPoly
			}
		}
		t[i] = crc & 0xFFFFFF
	}
	return t
}()

// CRC24Q computes the checksum over whole bytes.
func CRC24Q(buf []byte) uint32 {
	var crc uint32
	for _, b := range buf {
		crc = ((crc << 8) & 0xFFFFFF) ^ crc24qTable[byte(crc>>16)^b]
	}
	return crc
}

// CRC24QBits computes the checksum over the first nbits bits of buf, MSB
// first. Equivalent to CRC24Q over the bits right-aligned with leading zeros.
func CRC24QBits(buf []byte, nbits int) uint32 {
	var crc uint32
	for i := 0; i < nbits; i++ {
		bit := uint32(buf[i/8]>>(7-uint(i%8))) & 1
		top := (crc >> 23) & 1
		crc = (crc << 1) & 0xFFFFFF
		if top^bit != 0 {
			crc ^= crc24qPoly
		}
	}
	return crc
}

// getBits extracts an unsigned field of n bits (n <= 32) starting at bit pos.
func getBits(buf []byte, pos, n int) uint32 {
	var v uint32
	for i := pos; i < pos+n; i++ {
		v = v<<1 | uint32(buf[i/8]>>(7-uint(i%8)))&1
	}
	return v
}

// setBits writes the low n bits of v at bit pos.
func setBits(buf []byte, pos, n int, v uint32) {
	for i := 0; i < n; i++ {
		p := pos + i
		mask := byte(1) << (7 - uint(p%8))
		if v>>(uint(n-1-i))&1 != 0 {
			buf[p/8] |= mask
		} else {
			buf[p/8] &^= mask
		}
	}
}

// copyBits appends n bits of src starting at srcPos into dst at dstPos.
// dst must be large enough.
func copyBits(dst []byte, dstPos int, src []byte, srcPos, n int) {
	for n > 0 {
		k := min(n, 32)
		setBits(dst, dstPos, k, getBits(src, srcPos, k))
		dstPos += k
		srcPos += k
		n -= k
	}
}
