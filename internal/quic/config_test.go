package quic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBindingConfigDefaults(t *testing.T) {
	t.Parallel()

	var cfg *BindingConfig
	assert.Equal(t, cidTotalLength, cfg.cidLen())
	assert.Equal(t, maxBindingStatelessOperations, cfg.maxStatelessOps())
	assert.Equal(t, statelessOperationExpiration, cfg.statelessOpExpiration())
	assert.Equal(t, []uint32{quicVersion1}, cfg.supportedVersions())
	assert.False(t, cfg.retryMemoryThresholdReached())
	assert.IsType(t, noopTestHooks{}, cfg.testHooks())
}

func TestBindingConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg := &BindingConfig{
		CidTotalLength:               12,
		MaxStatelessOperations:       99,
		StatelessOperationExpiration: 5 * time.Second,
		SupportedVersions:            []uint32{0xabcd1234},
	}

	assert.Equal(t, 12, cfg.cidLen())
	assert.Equal(t, 99, cfg.maxStatelessOps())
	assert.Equal(t, 5*time.Second, cfg.statelessOpExpiration())
	assert.True(t, cfg.versionSupported(0xabcd1234))
	assert.False(t, cfg.versionSupported(quicVersion1))
}

func TestRetryMemoryThresholdBoundary(t *testing.T) {
	t.Parallel()

	const total = uint64(1_000_000)

	cases := []struct {
		name    string
		limit   uint16
		current uint64
		want    bool
	}{
		{"well below limit", 1 << 14, 1, false},
		{"at exact threshold", 1 << 14, (uint64(1<<14) * total) / uint64(^uint16(0)), true},
		{"above threshold", 1 << 14, total, true},
		{"zero limit always triggers", 0, total - 1, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &BindingConfig{
				RetryMemoryLimit:            tc.limit,
				TotalHandshakeMemory:        func() uint64 { return total },
				CurrentHandshakeMemoryUsage: func() uint64 { return tc.current },
			}
			assert.Equal(t, tc.want, cfg.retryMemoryThresholdReached())
		})
	}
}

func TestRetryMemoryThresholdWithoutCallbacks(t *testing.T) {
	t.Parallel()

	cfg := &BindingConfig{RetryMemoryLimit: 1000}
	assert.False(t, cfg.retryMemoryThresholdReached(), "missing callbacks must never force Retry")
}
