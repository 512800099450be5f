package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCIDEqual(t *testing.T) {
	t.Parallel()

	a := cid{1, 2, 3}
	b := cloneCID([]byte{1, 2, 3})
	c := cid{1, 2, 4}

	assert.True(t, a.equal(b))
	assert.False(t, a.equal(c))
	assert.False(t, a.equal(cid{1, 2}))
}

func TestCloneCIDIsIndependent(t *testing.T) {
	t.Parallel()

	src := []byte{9, 9, 9}
	c := cloneCID(src)
	src[0] = 0
	assert.Equal(t, cid{9, 9, 9}, c, "cloneCID must copy, not alias, the source bytes")
}

func TestNewRandomCIDLength(t *testing.T) {
	t.Parallel()

	id, err := newRandomCID()
	require.NoError(t, err)
	assert.Len(t, id, cidTotalLength)

	id2, err := newRandomCID()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2, "two draws should not collide in practice")
}
