package quic

import (
	"crypto/cipher"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAEAD(t *testing.T) cipher.AEAD {
	t.Helper()
	var key [chacha20poly1305.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	aead, err := chacha20poly1305.New(key[:])
	require.NoError(t, err)
	return aead
}

func TestRetryTokenRoundTrip(t *testing.T) {
	t.Parallel()

	aead := testAEAD(t)
	remote := netip.MustParseAddrPort("203.0.113.7:5555")
	origDst := cid{1, 2, 3, 4, 5, 6, 7, 8}
	newCID, err := newRandomCID()
	require.NoError(t, err)

	token := GenerateRetryToken(aead, time.Now(), remote, newCID, origDst)
	assert.Len(t, token, retryTokenSize)

	got, ok := ValidateRetryToken(aead, token, newCID, remote)
	require.True(t, ok)
	assert.True(t, origDst.equal(got))
}

func TestRetryTokenRejectsWrongRemote(t *testing.T) {
	t.Parallel()

	aead := testAEAD(t)
	origDst := cid{9, 9}
	newCID, _ := newRandomCID()
	token := GenerateRetryToken(aead, time.Now(), netip.MustParseAddrPort("198.51.100.1:1"), newCID, origDst)

	_, ok := ValidateRetryToken(aead, token, newCID, netip.MustParseAddrPort("198.51.100.2:1"))
	assert.False(t, ok, "token minted for one remote must not validate for another")
}

func TestRetryTokenRejectsTamperedBytes(t *testing.T) {
	t.Parallel()

	aead := testAEAD(t)
	remote := netip.MustParseAddrPort("198.51.100.1:1")
	newCID, _ := newRandomCID()
	token := GenerateRetryToken(aead, time.Now(), remote, newCID, cid{1})

	tampered := append([]byte(nil), token...)
	tampered[len(tampered)-1] ^= 0xff

	_, ok := ValidateRetryToken(aead, tampered, newCID, remote)
	assert.False(t, ok)
}

func TestRetryTokenRejectsWrongSize(t *testing.T) {
	t.Parallel()

	aead := testAEAD(t)
	_, ok := ValidateRetryToken(aead, []byte{1, 2, 3}, cid{1}, netip.AddrPort{})
	assert.False(t, ok)
}

func TestRetryTokenRejectsWrongNonceCID(t *testing.T) {
	t.Parallel()

	aead := testAEAD(t)
	remote := netip.MustParseAddrPort("198.51.100.1:1")
	newCID, _ := newRandomCID()
	token := GenerateRetryToken(aead, time.Now(), remote, newCID, cid{1})

	otherCID, _ := newRandomCID()
	_, ok := ValidateRetryToken(aead, token, otherCID, remote)
	assert.False(t, ok, "validating with a different new-CID changes the derived nonce")
}
