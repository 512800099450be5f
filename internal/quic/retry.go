package quic

import (
	"crypto/cipher"
	"encoding/binary"
	"net/netip"
	"time"
)

// Retry token wire layout, per spec §4.7:
//
//	authenticated: { timestamp_ms int64 }              (AAD, 8 bytes)
//	encrypted:     { remote_address, orig_conn_id,      (AEAD plaintext)
//	                 orig_conn_id_len }
//	tag:           AEAD authentication tag
const (
	retryAuthLen       = 8  // timestamp, big-endian, AAD
	retryAddrLen       = 18 // 16-byte (v4-in-v6) address + 2-byte port
	retryMaxOrigCIDLen = 20
	retryAEADOverhead  = 16 // chacha20poly1305.Overhead / AES-GCM tag size

	// retryTokenSize is the fixed size validated tokens must equal, per
	// spec §4.7: "require the received token length equal the fixed token
	// size."
	retryTokenSize = retryAuthLen + retryAddrLen + 1 + retryMaxOrigCIDLen + retryAEADOverhead
)

// deriveRetryNonce builds the 12-byte AEAD nonce from a CID, per spec §4.7:
// "derives the AEAD nonce by copying new-CID bytes into a 12-byte IV (if
// CID longer than IV, XOR-fold the tail; if shorter, pad right with
// zero)".
func deriveRetryNonce(newCID cid) [12]byte {
	var iv [12]byte
	n := copy(iv[:], newCID)
	if len(newCID) > 12 {
		for i, b := range newCID[12:] {
			iv[i%12] ^= b
		}
	}
	_ = n
	return iv
}

func encodeAddrPort(addr netip.AddrPort) [retryAddrLen]byte {
	var out [retryAddrLen]byte
	ip16 := addr.Addr().As16()
	copy(out[:16], ip16[:])
	binary.BigEndian.PutUint16(out[16:18], addr.Port())
	return out
}

func decodeAddrPort(b [retryAddrLen]byte) netip.AddrPort {
	addr := netip.AddrFrom16([16]byte(b[:16])).Unmap()
	port := binary.BigEndian.Uint16(b[16:18])
	return netip.AddrPortFrom(addr, port)
}

func encodeRetryPlaintext(remote netip.AddrPort, origDstConnID cid) []byte {
	addrBytes := encodeAddrPort(remote)
	plain := make([]byte, 0, retryAddrLen+1+retryMaxOrigCIDLen)
	plain = append(plain, addrBytes[:]...)
	plain = append(plain, byte(len(origDstConnID)))
	var cidBuf [retryMaxOrigCIDLen]byte
	copy(cidBuf[:], origDstConnID)
	plain = append(plain, cidBuf[:]...)
	return plain
}

// GenerateRetryToken seals a Retry token for remote/origDstConnID under
// aead, using newCID to derive the nonce, per spec §4.7.
func GenerateRetryToken(aead cipher.AEAD, now time.Time, remote netip.AddrPort, newCID, origDstConnID cid) []byte {
	var auth [retryAuthLen]byte
	binary.BigEndian.PutUint64(auth[:], uint64(now.UnixMilli()))

	nonce := deriveRetryNonce(newCID)
	plain := encodeRetryPlaintext(remote, origDstConnID)
	ciphertext := aead.Seal(nil, nonce[:], plain, auth[:])

	token := make([]byte, 0, retryTokenSize)
	token = append(token, auth[:]...)
	token = append(token, ciphertext...)
	return token
}

// ValidateRetryToken opens a Retry token, per spec §4.7: rejects tokens of
// the wrong size, tokens that fail AEAD, tokens whose OrigConnIdLength
// exceeds its buffer, and tokens whose encrypted remote address doesn't
// match the datagram's current remote address.
func ValidateRetryToken(aead cipher.AEAD, token []byte, newCID cid, currentRemote netip.AddrPort) (origDstConnID cid, ok bool) {
	if len(token) != retryTokenSize {
		return nil, false
	}
	auth := token[:retryAuthLen]
	ciphertext := token[retryAuthLen:]

	nonce := deriveRetryNonce(newCID)
	plain, err := aead.Open(nil, nonce[:], ciphertext, auth)
	if err != nil {
		return nil, false
	}
	if len(plain) != retryAddrLen+1+retryMaxOrigCIDLen {
		return nil, false
	}
	var addrBytes [retryAddrLen]byte
	copy(addrBytes[:], plain[:retryAddrLen])
	remote := decodeAddrPort(addrBytes)

	origLen := int(plain[retryAddrLen])
	if origLen > retryMaxOrigCIDLen {
		return nil, false
	}
	if remote != currentRemote {
		return nil, false
	}
	orig := plain[retryAddrLen+1 : retryAddrLen+1+origLen]
	return cloneCID(orig), true
}
