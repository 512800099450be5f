package quic

import (
	"bytes"
	"crypto/rand"
)

// cidTotalLength is the number of bytes of randomness the binding uses for
// connection IDs it mints itself (server-chosen Retry CIDs, for instance).
// Exposed per spec §6's "compile-time constants" requirement.
const cidTotalLength = 8

// CidTotalLength is the exported form of cidTotalLength for callers that
// need to size buffers without importing internal details.
const CidTotalLength = cidTotalLength

// statelessResetTokenLength is the fixed size of a stateless reset token.
// Exposed per spec §6.
const statelessResetTokenLength = 16

// StatelessResetTokenLength is the exported form of statelessResetTokenLength.
const StatelessResetTokenLength = statelessResetTokenLength

// statelessResetToken is the last 16 bytes of a Stateless Reset packet.
type statelessResetToken [statelessResetTokenLength]byte

// cid is an opaque connection identifier, 0-20 bytes per RFC 9000 §17.2.
type cid []byte

// equal reports whether two CIDs have identical length and bytes.
func (c cid) equal(other []byte) bool {
	return bytes.Equal(c, other)
}

func cloneCID(b []byte) cid {
	n := make([]byte, len(b))
	copy(n, b)
	return n
}

// newRandomCID mints a cidTotalLength-byte connection ID.
//
// It is not necessary for connection IDs to be cryptographically secure,
// but it doesn't hurt, and the binding has a crypto/rand read in hand
// already for reset-token salts.
func newRandomCID() (cid, error) {
	id := make([]byte, cidTotalLength)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return id, nil
}
