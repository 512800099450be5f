package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumeVarint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      []byte
		wantV   uint64
		wantN   int
		wantOK  bool
	}{
		{"1-byte", []byte{0x25}, 37, 1, true},
		{"2-byte", []byte{0x7b, 0xbd}, 0x3bbd, 2, true},
		{"4-byte", []byte{0x9d, 0x7f, 0x3e, 0x7d}, 0x1d7f3e7d, 4, true},
		{"8-byte", []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 0x0219_7c5e_ff14_e88c, 8, true},
		{"empty", nil, 0, 0, false},
		{"truncated 2-byte", []byte{0x7b}, 0, 0, false},
		{"truncated 4-byte", []byte{0x9d, 0x7f}, 0, 0, false},
		{"truncated 8-byte", []byte{0xc2, 0x19}, 0, 0, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, n, ok := consumeVarint(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantV, v)
				assert.Equal(t, tc.wantN, n)
			}
		})
	}
}

func TestParseInitialToken(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()
		token := []byte{0xaa, 0xbb, 0xcc}
		rest := append([]byte{byte(len(token))}, token...)
		rest = append(rest, 0x01, 0x02) // trailing packet payload
		got, ok := parseInitialToken(rest)
		assert.True(t, ok)
		assert.Equal(t, token, got)
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()
		rest := []byte{0x00, 0x01, 0x02}
		got, ok := parseInitialToken(rest)
		assert.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("length exceeds buffer", func(t *testing.T) {
		t.Parallel()
		rest := []byte{0x05, 0x01}
		_, ok := parseInitialToken(rest)
		assert.False(t, ok)
	})

	t.Run("no varint", func(t *testing.T) {
		t.Parallel()
		_, ok := parseInitialToken(nil)
		assert.False(t, ok)
	})
}
