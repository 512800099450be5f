package quic

// consumeVarint decodes a QUIC variable-length integer (RFC 9000 §16) from
// the front of b, returning the value, the number of bytes consumed, and
// whether decoding succeeded.
func consumeVarint(b []byte) (v uint64, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	switch b[0] >> 6 {
	case 0:
		return uint64(b[0] & 0x3f), 1, true
	case 1:
		if len(b) < 2 {
			return 0, 0, false
		}
		return uint64(b[0]&0x3f)<<8 | uint64(b[1]), 2, true
	case 2:
		if len(b) < 4 {
			return 0, 0, false
		}
		return uint64(b[0]&0x3f)<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]), 4, true
	default:
		if len(b) < 8 {
			return 0, 0, false
		}
		v = uint64(b[0]&0x3f) << 56
		for i := 1; i < 8; i++ {
			v |= uint64(b[i]) << uint(8*(7-i))
		}
		return v, 8, true
	}
}

// parseInitialToken extracts the Retry token carried in an Initial
// packet's payload, per spec §4.6: "Validate the full long-header v1 form,
// extract the Retry token." rest is the bytes immediately following the
// Source Connection ID field (invariantHeader.rest for an Initial packet).
func parseInitialToken(rest []byte) (token []byte, ok bool) {
	tokenLen, n, ok := consumeVarint(rest)
	if !ok {
		return nil, false
	}
	rest = rest[n:]
	if uint64(len(rest)) < tokenLen {
		return nil, false
	}
	return rest[:tokenLen], true
}
