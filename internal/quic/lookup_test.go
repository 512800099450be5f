package quic

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection() *Connection {
	return newConnection(serverSide, netip.AddrPort{}, netip.AddrPort{}, nil, nil)
}

func TestLookupAddAndFindLocalCID(t *testing.T) {
	t.Parallel()

	l := newLookup()
	c := newTestConnection()
	id := cid{1, 2, 3}

	require.True(t, l.AddLocalCID(c, id))
	assert.False(t, l.AddLocalCID(c, id), "re-adding the same local CID must fail")

	found := l.FindByLocalCID(id)
	require.NotNil(t, found)
	assert.Equal(t, int32(1), found.lookupRefs.Load())

	l.RemoveLocalCID(c, id)
	assert.Nil(t, l.FindByLocalCID(id))
}

func TestLookupRemoveLocalCIDs(t *testing.T) {
	t.Parallel()

	l := newLookup()
	c := newTestConnection()
	ids := []cid{{1}, {2}, {3}}
	for _, id := range ids {
		require.True(t, l.AddLocalCID(c, id))
	}

	l.RemoveLocalCIDs(c)
	for _, id := range ids {
		assert.Nil(t, l.FindByLocalCID(id))
	}
}

func TestLookupMoveLocalCIDs(t *testing.T) {
	t.Parallel()

	l := newLookup()
	src := newTestConnection()
	dst := newTestConnection()
	id := cid{7, 7}
	require.True(t, l.AddLocalCID(src, id))

	l.MoveLocalCIDs(src, dst)

	found := l.FindByLocalCID(id)
	require.NotNil(t, found)
	assert.Same(t, dst, found)
}

func TestLookupAddRemoteHashCollisionReturnsExisting(t *testing.T) {
	t.Parallel()

	l := newLookup()
	remote := netip.MustParseAddrPort("203.0.113.5:4433")
	scid := cid{9, 9}

	first := newTestConnection()
	inserted, existing := l.AddRemoteHash(first, remote, scid)
	assert.True(t, inserted)
	assert.Nil(t, existing)

	second := newTestConnection()
	inserted, existing = l.AddRemoteHash(second, remote, scid)
	assert.False(t, inserted)
	require.NotNil(t, existing)
	assert.Same(t, first, existing)
	assert.Equal(t, int32(1), existing.lookupRefs.Load(), "collision path must acquire a LOOKUP_RESULT ref on the winner")
}

func TestLookupFindByRemoteAddr(t *testing.T) {
	t.Parallel()

	l := newLookup()
	remote := netip.MustParseAddrPort("203.0.113.9:1")
	c := newTestConnection()
	_, _ = l.AddRemoteHash(c, remote, cid{1})

	found := l.FindByRemoteAddr(remote)
	require.NotNil(t, found)
	assert.Same(t, c, found)

	assert.Nil(t, l.FindByRemoteAddr(netip.MustParseAddrPort("203.0.113.10:1")))
}

func TestLookupMaximizePartitioningPreservesEntries(t *testing.T) {
	t.Parallel()

	l := newLookup()
	c := newTestConnection()
	ids := make([]cid, 0, 32)
	for i := 0; i < 32; i++ {
		id := cid{byte(i), byte(i >> 8)}
		ids = append(ids, id)
		require.True(t, l.AddLocalCID(c, id))
	}

	require.True(t, l.MaximizePartitioning(8))
	assert.Equal(t, 8, l.partitionCount())

	for _, id := range ids {
		found := l.FindByLocalCID(id)
		assert.NotNil(t, found, "entries must survive a partition-count change")
	}

	// Growing again to a smaller or equal count is a no-op success.
	assert.True(t, l.MaximizePartitioning(4))
	assert.Equal(t, 8, l.partitionCount())
}
