package quic

// Header-byte bit masks, RFC 9000 §17.2/§17.3.
const (
	headerFormLong = 0x80
	fixedBit       = 0x40
	longTypeMask   = 0x30
)

// packetType enumerates the long-header packet types plus a sentinel for
// short-header (1-RTT) packets. Grounded on the teacher's packetType /
// packetTypeInitial naming (chargeco-net/internal/quic).
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetType0RTT
	packetTypeHandshake
	packetTypeRetry
	packetType1RTT // short header; not a real wire value, used as a sentinel
)

func longHeaderType(b byte) packetType {
	switch (b & longTypeMask) >> 4 {
	case 0:
		return packetTypeInitial
	case 1:
		return packetType0RTT
	case 2:
		return packetTypeHandshake
	default:
		return packetTypeRetry
	}
}

// isHandshakePacketType reports whether ptype is one of the types spec §4.5
// step 4 says "QuicPacketIsHandshake returns true for": Initial, Handshake,
// 0-RTT, or Retry. These are reordered to the front of a subchain because
// only the head of a subchain can create a new connection.
func isHandshakePacketType(t packetType) bool {
	return t == packetTypeInitial || t == packetTypeHandshake || t == packetType0RTT || t == packetTypeRetry
}

func isLongHeader(b byte) bool {
	return b&headerFormLong != 0
}

// invariantHeader is the result of parsing the version-independent prefix
// of a QUIC packet: enough to demultiplex without understanding the rest of
// the wire format for unsupported versions. Mirrors spec §3's RecvPacket
// scratch fields.
type invariantHeader struct {
	short   bool
	version uint32
	dcid    cid
	scid    cid // empty for short header
	ptype   packetType
	rest    []byte // bytes following the parsed prefix
}

// parseInvariantHeader validates and extracts the invariant fields of a
// packet without requiring version support, per spec §4.5 step 2
// ("QuicBindingPreprocessDatagram ... call packet invariant validation").
func parseInvariantHeader(b []byte) (invariantHeader, bool) {
	var h invariantHeader
	if len(b) < 1 {
		return h, false
	}
	first := b[0]
	if !isLongHeader(first) {
		// Short header: 1 byte header + connection ID of a length the
		// endpoint alone knows (not carried on the wire). The invariant
		// parse can't recover the DestCID length for an unknown
		// connection, so callers extract it by convention (cidTotalLength)
		// when looking for the binding's own short-header packets; for
		// invariant validation purposes we only require the fixed bit be
		// set, per RFC 9000 §17.2.
		if first&fixedBit == 0 {
			return h, false
		}
		h.short = true
		h.rest = b[1:]
		return h, true
	}
	if len(b) < 5 {
		return h, false
	}
	version := uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	off := 5
	if off >= len(b) {
		return h, false
	}
	dcidLen := int(b[off])
	off++
	if dcidLen > 20 || off+dcidLen > len(b) {
		return h, false
	}
	dcid := b[off : off+dcidLen]
	off += dcidLen
	if off >= len(b) {
		return h, false
	}
	scidLen := int(b[off])
	off++
	if scidLen > 20 || off+scidLen > len(b) {
		return h, false
	}
	scid := b[off : off+scidLen]
	off += scidLen

	h.version = version
	h.dcid = cloneCID(dcid)
	h.scid = cloneCID(scid)
	h.ptype = longHeaderType(first)
	h.rest = b[off:]
	return h, true
}

// shortHeaderDestCID extracts the DestCID from a short-header packet, given
// the fixed connection ID length this library's server side uses. Spec
// §4.6 "no-match path" relies on this for stateless reset dispatch.
func shortHeaderDestCID(b []byte, cidLen int) (cid, bool) {
	if len(b) < 1+cidLen {
		return nil, false
	}
	return cloneCID(b[1 : 1+cidLen]), true
}
