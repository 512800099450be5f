package quic

import (
	"crypto/cipher"
	"net/netip"
	"time"
)

// quicVersion1 is RFC 9000's version number.
const quicVersion1 = 0x00000001

// maxBindingStatelessOperations bounds the number of in-flight stateless
// responses (VN/Retry/SR) a single binding will track concurrently, per
// spec §4.4 and the MAX_BINDING_STATELESS_OPERATIONS constant in spec §6.
const maxBindingStatelessOperations = 16

// MaxBindingStatelessOperations is the exported form of the default above;
// BindingConfig.MaxStatelessOperations overrides it per binding.
const MaxBindingStatelessOperations = maxBindingStatelessOperations

// statelessOperationExpiration is the default age at which a tracked
// stateless operation is swept, per spec §4.4 and
// QUIC_STATELESS_OPERATION_EXPIRATION_MS in spec §6.
const statelessOperationExpiration = 200 * time.Millisecond

// recommendedStatelessResetPacketLength and minStatelessResetPacketLength
// are the wire-layout constants from spec §6.
const (
	recommendedStatelessResetPacketLength = 42
	minStatelessResetPacketLength         = 39
)

// RecommendedStatelessResetPacketLength and MinStatelessResetPacketLength
// are the exported forms of the constants above.
const (
	RecommendedStatelessResetPacketLength = recommendedStatelessResetPacketLength
	MinStatelessResetPacketLength         = minStatelessResetPacketLength
)

// BindingTestHooks lets tests observe or override binding decisions without
// compiling in test-only branches on the hot receive path. Spec §9 calls
// out that the source's test-hook branches are "#ifdef-gated" and asks that
// they be modeled as "a mockable send interface rather than a compile
// flag" — this interface is that mockable seam.
type BindingTestHooks interface {
	// TimeNow overrides time.Now for deterministic aging/rate-limit tests.
	TimeNow() time.Time
	// DropDatagram reports whether a just-received datagram should be
	// silently dropped before any processing (spec §4.5 step 1).
	DropDatagram(remote netip.AddrPort, b []byte) bool
	// DropSend reports whether an outbound send should be discarded rather
	// than handed to the datapath (spec §4.8).
	DropSend(remote netip.AddrPort, b []byte) bool
}

// noopTestHooks is used when a Binding is created without test hooks.
type noopTestHooks struct{}

func (noopTestHooks) TimeNow() time.Time                             { return time.Now() }
func (noopTestHooks) DropDatagram(netip.AddrPort, []byte) bool       { return false }
func (noopTestHooks) DropSend(netip.AddrPort, []byte) bool           { return false }

// BindingConfig is the library-wide, injected configuration a Binding
// consults. Spec §9 asks that the source's process-wide MsQuicLib object be
// "model[ed] as an injected dependency rather than a true global" — this is
// that dependency. A BindingConfig is typically shared read-only across all
// bindings owned by one library instance and may be hot-reloaded (see
// ambient config loader in config_loader.go) for its tunable fields.
type BindingConfig struct {
	// SupportedVersions is the version list advertised in Version
	// Negotiation packets, in preference order.
	SupportedVersions []uint32

	// CidTotalLength is the number of bytes of randomness in CIDs this
	// library mints. Defaults to cidTotalLength if zero.
	CidTotalLength int

	// RetryMemoryLimit and the handshake-memory callbacks implement the
	// Retry-decision threshold of spec §4.6: Retry is queued once
	// CurrentHandshakeMemoryUsage() >= (RetryMemoryLimit *
	// TotalHandshakeMemory()) / math.MaxUint16.
	RetryMemoryLimit             uint16
	TotalHandshakeMemory         func() uint64
	CurrentHandshakeMemoryUsage  func() uint64

	// StatelessRetryKey returns the AEAD used to seal/open Retry tokens.
	// The caller owns any locking around key rotation; the binding only
	// calls this once per Generate/Validate and never retains the result.
	StatelessRetryKey func() cipher.AEAD

	// MaxStatelessOperations overrides maxBindingStatelessOperations when
	// non-zero.
	MaxStatelessOperations int

	// StatelessOperationExpiration overrides statelessOperationExpiration
	// when non-zero.
	StatelessOperationExpiration time.Duration

	// IngressRateLimit and IngressRateBurst bound the rate of datagrams
	// admitted into the receive pipeline, independent of and in addition to
	// the stateless tracker's own count-based limit (which only bounds
	// unattributed VN/Retry/SR responses). Zero disables ingress rate
	// limiting entirely.
	IngressRateLimit float64
	IngressRateBurst int

	// TestHooks is optional; nil means noopTestHooks.
	TestHooks BindingTestHooks
}

func (cfg *BindingConfig) cidLen() int {
	if cfg == nil || cfg.CidTotalLength <= 0 {
		return cidTotalLength
	}
	return cfg.CidTotalLength
}

func (cfg *BindingConfig) maxStatelessOps() int {
	if cfg == nil || cfg.MaxStatelessOperations <= 0 {
		return maxBindingStatelessOperations
	}
	return cfg.MaxStatelessOperations
}

func (cfg *BindingConfig) statelessOpExpiration() time.Duration {
	if cfg == nil || cfg.StatelessOperationExpiration <= 0 {
		return statelessOperationExpiration
	}
	return cfg.StatelessOperationExpiration
}

func (cfg *BindingConfig) testHooks() BindingTestHooks {
	if cfg == nil || cfg.TestHooks == nil {
		return noopTestHooks{}
	}
	return cfg.TestHooks
}

func (cfg *BindingConfig) supportedVersions() []uint32 {
	if cfg == nil || len(cfg.SupportedVersions) == 0 {
		return []uint32{quicVersion1}
	}
	return cfg.SupportedVersions
}

func (cfg *BindingConfig) versionSupported(v uint32) bool {
	for _, sv := range cfg.supportedVersions() {
		if sv == v {
			return true
		}
	}
	return false
}

func (cfg *BindingConfig) retryMemoryThresholdReached() bool {
	if cfg == nil || cfg.TotalHandshakeMemory == nil || cfg.CurrentHandshakeMemoryUsage == nil {
		return false
	}
	total := cfg.TotalHandshakeMemory()
	if total == 0 {
		return false
	}
	limit := (uint64(cfg.RetryMemoryLimit) * total) / uint64(^uint16(0))
	return cfg.CurrentHandshakeMemoryUsage() >= limit
}
