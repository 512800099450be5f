package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLongHeader(ptype packetType, version uint32, dcid, scid []byte, rest []byte) []byte {
	var first byte = headerFormLong | fixedBit | (byte(ptype) << 4)
	out := []byte{first}
	out = append(out, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	out = append(out, byte(len(dcid)))
	out = append(out, dcid...)
	out = append(out, byte(len(scid)))
	out = append(out, scid...)
	out = append(out, rest...)
	return out
}

func TestParseInvariantHeaderLong(t *testing.T) {
	t.Parallel()

	dcid := []byte{1, 2, 3, 4}
	scid := []byte{5, 6}
	pkt := buildLongHeader(packetTypeInitial, quicVersion1, dcid, scid, []byte{0x00, 0xff})

	h, ok := parseInvariantHeader(pkt)
	require.True(t, ok)
	assert.False(t, h.short)
	assert.Equal(t, uint32(quicVersion1), h.version)
	assert.True(t, cid(dcid).equal(h.dcid))
	assert.True(t, cid(scid).equal(h.scid))
	assert.Equal(t, packetTypeInitial, h.ptype)
	assert.Equal(t, []byte{0x00, 0xff}, h.rest)
}

func TestParseInvariantHeaderShort(t *testing.T) {
	t.Parallel()

	pkt := []byte{fixedBit, 1, 2, 3, 4, 5, 6, 7, 8}
	h, ok := parseInvariantHeader(pkt)
	require.True(t, ok)
	assert.True(t, h.short)
}

func TestParseInvariantHeaderRejectsMissingFixedBit(t *testing.T) {
	t.Parallel()

	pkt := []byte{0x00, 1, 2, 3}
	_, ok := parseInvariantHeader(pkt)
	assert.False(t, ok)
}

func TestParseInvariantHeaderRejectsTruncated(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		nil,
		{headerFormLong | fixedBit},
		{headerFormLong | fixedBit, 0, 0, 0, 1, 20}, // dcidLen claims 20 bytes, none present
	}
	for _, pkt := range cases {
		_, ok := parseInvariantHeader(pkt)
		assert.False(t, ok)
	}
}

func TestLongHeaderTypeMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, packetTypeInitial, longHeaderType(0x00<<4))
	assert.Equal(t, packetType0RTT, longHeaderType(0x01<<4))
	assert.Equal(t, packetTypeHandshake, longHeaderType(0x02<<4))
	assert.Equal(t, packetTypeRetry, longHeaderType(0x03<<4))
}

func TestIsHandshakePacketType(t *testing.T) {
	t.Parallel()

	assert.True(t, isHandshakePacketType(packetTypeInitial))
	assert.True(t, isHandshakePacketType(packetTypeHandshake))
	assert.True(t, isHandshakePacketType(packetType0RTT))
	assert.True(t, isHandshakePacketType(packetTypeRetry))
	assert.False(t, isHandshakePacketType(packetType1RTT))
}

func TestShortHeaderDestCID(t *testing.T) {
	t.Parallel()

	pkt := []byte{fixedBit, 1, 2, 3, 4, 5, 6, 7, 8, 0xff}
	got, ok := shortHeaderDestCID(pkt, cidTotalLength)
	require.True(t, ok)
	assert.Equal(t, cid{1, 2, 3, 4, 5, 6, 7, 8}, got)

	_, ok = shortHeaderDestCID(pkt[:3], cidTotalLength)
	assert.False(t, ok, "too short to contain a full CID")
}
