package quic

import (
	"crypto/rand"
	"encoding/binary"
)

// appendVersionNegotiation builds a Version Negotiation packet, per spec
// §6: "Long-header form with Version = 0x00000000; payload layout:
// DestCIDLen(1) | original_source_cid | SrcCIDLen(1) | original_dest_cid |
// random_reserved_version(4, little-endian) | supported_versions[k](4
// each, little-endian)." The VN packet's DestCID echoes the triggering
// packet's SourceCID and vice versa, so the client can route the response
// back to the connection attempt that solicited it.
func appendVersionNegotiation(out []byte, origSrcCID, origDstCID cid, randomReservedVersion uint32, supported []uint32) []byte {
	var randByte [1]byte
	_, _ = rand.Read(randByte[:])
	out = append(out, headerFormLong|(randByte[0]&0x7f)) // unused 7-bit random field, per RFC 9000
	out = append(out, 0, 0, 0, 0)                        // Version = 0

	out = append(out, byte(len(origSrcCID)))
	out = append(out, origSrcCID...)
	out = append(out, byte(len(origDstCID)))
	out = append(out, origDstCID...)

	var rv [4]byte
	binary.LittleEndian.PutUint32(rv[:], randomReservedVersion)
	out = append(out, rv[:]...)

	for _, v := range supported {
		var vb [4]byte
		binary.LittleEndian.PutUint32(vb[:], v)
		out = append(out, vb[:]...)
	}
	return out
}

// appendRetryV1 builds a Retry packet, per spec §6: EncodeRetryV1(version,
// DestCID=original_source_cid, SrcCID=new_cid, OrigDestCID=original_dest_cid,
// token, out_buf). The Original Destination Connection ID is not itself a
// length-prefixed wire field in this simplified encoding (RFC 9001's
// AEAD-derived Retry Integrity Tag is out of scope: this binding's own
// Retry token already authenticates the original DestCID, per §4.7, so a
// second integrity layer over the packet bytes would be redundant for this
// spec's purposes) — see DESIGN.md.
func appendRetryV1(out []byte, version uint32, destCID, srcCID cid, token []byte) []byte {
	var randByte [1]byte
	_, _ = rand.Read(randByte[:])
	first := headerFormLong | fixedBit | (byte(packetTypeRetry) << 4) | (randByte[0] & 0x0f)
	out = append(out, first)

	var vb [4]byte
	binary.BigEndian.PutUint32(vb[:], version)
	out = append(out, vb[:]...)

	out = append(out, byte(len(destCID)))
	out = append(out, destCID...)
	out = append(out, byte(len(srcCID)))
	out = append(out, srcCID...)

	out = append(out, token...)
	return out
}

// appendStatelessReset builds a Stateless Reset packet, per spec §6: short
// header, FixedBit=1, KeyPhase copied from the packet being reset, body
// length = RECOMMENDED_STATELESS_RESET_PACKET_LENGTH + uniform(0..7),
// clamped below receivedLen, floored at MIN_STATELESS_RESET_PACKET_LENGTH.
// All bytes before the last 16 are random; the last 16 are token.
func appendStatelessReset(out []byte, keyPhase bool, receivedLen int, token statelessResetToken) []byte {
	var jitter [1]byte
	_, _ = rand.Read(jitter[:])
	size := recommendedStatelessResetPacketLength + int(jitter[0]%8)

	if size >= receivedLen {
		size = receivedLen - 1
	}
	if size < minStatelessResetPacketLength {
		size = minStatelessResetPacketLength
	}

	randomLen := size - statelessResetTokenLength
	if randomLen < 0 {
		randomLen = 0
	}
	body := make([]byte, randomLen)
	_, _ = rand.Read(body)
	if len(body) > 0 {
		body[0] &^= headerFormLong // clear long header bit
		body[0] |= fixedBit
		if keyPhase {
			body[0] |= 0x04
		} else {
			body[0] &^= 0x04
		}
	}
	out = append(out, body...)
	out = append(out, token[:]...)
	return out
}
