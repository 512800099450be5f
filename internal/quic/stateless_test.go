package quic

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatelessTrackerAdmitsAndDeduplicates(t *testing.T) {
	t.Parallel()

	tr := newStatelessTracker(4, time.Minute)
	now := time.Now()
	remote := netip.MustParseAddrPort("203.0.113.1:1111")

	ctx1, err := tr.Create(nil, nil, &datagram{}, remote, now)
	require.NoError(t, err)
	require.NotNil(t, ctx1)

	_, err = tr.Create(nil, nil, &datagram{}, remote, now)
	assert.Error(t, err, "a second request from the same remote before the first resolves must be rate limited")

	count, listLen, tableLen := tr.snapshot()
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, listLen)
	assert.Equal(t, 1, tableLen)
}

func TestStatelessTrackerCapacityLimit(t *testing.T) {
	t.Parallel()

	tr := newStatelessTracker(2, time.Minute)
	now := time.Now()

	_, err := tr.Create(nil, nil, &datagram{}, netip.MustParseAddrPort("203.0.113.1:1"), now)
	require.NoError(t, err)
	_, err = tr.Create(nil, nil, &datagram{}, netip.MustParseAddrPort("203.0.113.1:2"), now)
	require.NoError(t, err)

	_, err = tr.Create(nil, nil, &datagram{}, netip.MustParseAddrPort("203.0.113.1:3"), now)
	assert.Error(t, err, "a third concurrent context should exceed the configured cap")
}

func TestStatelessTrackerAgeOutFreesCapacity(t *testing.T) {
	t.Parallel()

	tr := newStatelessTracker(1, 10*time.Millisecond)
	start := time.Now()
	remote1 := netip.MustParseAddrPort("203.0.113.1:1")
	remote2 := netip.MustParseAddrPort("203.0.113.1:2")

	_, err := tr.Create(nil, nil, &datagram{}, remote1, start)
	require.NoError(t, err)

	later := start.Add(20 * time.Millisecond)
	_, err = tr.Create(nil, nil, &datagram{}, remote2, later)
	require.NoError(t, err, "the aged-out first context should free a capacity slot")

	count, _, _ := tr.snapshot()
	assert.Equal(t, 1, count)
}

func TestStatelessTrackerReleaseTwoPhaseFree(t *testing.T) {
	t.Parallel()

	tr := newStatelessTracker(4, time.Minute)
	now := time.Now()
	remote := netip.MustParseAddrPort("203.0.113.1:1")

	d := &datagram{b: []byte{0xaa}}
	ctx, err := tr.Create(nil, nil, d, remote, now)
	require.NoError(t, err)

	var returned *datagram
	tr.Release(ctx, true, func(rd *datagram) { returned = rd })

	assert.Same(t, d, returned)
	assert.True(t, ctx.isProcessed)

	// Releasing does not itself remove the entry from the table; only
	// ageOut/forceFreeAll do, per the tracker's ownership split.
	count, _, _ := tr.snapshot()
	assert.Equal(t, 1, count)
}

func TestStatelessTrackerForceFreeAll(t *testing.T) {
	t.Parallel()

	tr := newStatelessTracker(4, time.Minute)
	now := time.Now()
	_, _ = tr.Create(nil, nil, &datagram{}, netip.MustParseAddrPort("203.0.113.1:1"), now)
	_, _ = tr.Create(nil, nil, &datagram{}, netip.MustParseAddrPort("203.0.113.1:2"), now)

	tr.forceFreeAll()

	count, listLen, tableLen := tr.snapshot()
	assert.Zero(t, count)
	assert.Zero(t, listLen)
	assert.Zero(t, tableLen)
}
