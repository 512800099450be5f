package quic

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"net/netip"
	"sync"

	"golang.org/x/sync/singleflight"
)

// resetSaltLength is the amount of random salt seeded into a binding's
// keyed hash at creation, per spec §3: "seeded with 20 bytes of random
// salt at creation".
const resetSaltLength = 20

// resetTokenGenerator wraps the binding's keyed hash for stateless reset
// token derivation, per spec §4.8. The teacher (chargeco-net's
// listener.go/conn_id.go) derives reset tokens per-listener with no
// locking concern since their hash state is immutable per call; spec §3
// instead calls for a binding-wide reset_token_lock ("hash state may be
// mutable"), so this wraps hmac.New output computation under a mutex and
// collapses concurrent identical requests with singleflight to avoid
// redundant hash computation under load.
type resetTokenGenerator struct {
	mu    sync.Mutex
	salt  [resetSaltLength]byte
	group singleflight.Group
}

func newResetTokenGenerator() (*resetTokenGenerator, error) {
	g := &resetTokenGenerator{}
	if _, err := rand.Read(g.salt[:]); err != nil {
		return nil, err
	}
	return g, nil
}

// tokenFor computes SHA-256 keyed with the binding's salt over exactly
// cidLen bytes of id, returning the first 16 bytes, per spec §4.8. The
// static assertion "token length <= hash size" holds trivially since
// SHA-256 produces 32 bytes and statelessResetTokenLength is 16.
func (g *resetTokenGenerator) tokenFor(id cid, cidLen int) statelessResetToken {
	key := string(id[:minInt(len(id), cidLen)])
	v, _, _ := g.group.Do(key, func() (any, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		mac := hmac.New(sha256.New, g.salt[:])
		b := id
		if len(b) > cidLen {
			b = b[:cidLen]
		}
		mac.Write(b)
		sum := mac.Sum(nil)
		var tok statelessResetToken
		copy(tok[:], sum[:statelessResetTokenLength])
		return tok, nil
	})
	return v.(statelessResetToken)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GenerateStatelessResetToken derives the reset token for id, per spec
// §4.8.
func (b *Binding) GenerateStatelessResetToken(id cid) statelessResetToken {
	return b.resetGen.tokenFor(id, b.config.cidLen())
}

// sendTo is a thin pass-through to the datapath, with an optional test hook
// that may drop the packet (spec §4.8: "in which case the send context is
// freed and success is returned").
func (b *Binding) sendTo(remote netip.AddrPort, ctx *datapathSendContext) error {
	if b.config.testHooks().DropSend(remote, ctx.buf) {
		b.dp.FreeSendContext(ctx)
		return nil
	}
	if err := b.dp.SendTo(remote, ctx); err != nil {
		b.log.WithField("remote", remote).WithError(err).Warn("quic: datapath send failed")
		return err
	}
	return nil
}

// sendFromTo is sendTo's 4-tuple counterpart, per spec §4.8.
func (b *Binding) sendFromTo(local, remote netip.AddrPort, ctx *datapathSendContext) error {
	if b.config.testHooks().DropSend(remote, ctx.buf) {
		b.dp.FreeSendContext(ctx)
		return nil
	}
	if err := b.dp.SendFromTo(local, remote, ctx); err != nil {
		b.log.WithFields(map[string]any{"local": local, "remote": remote}).WithError(err).Warn("quic: datapath send failed")
		return err
	}
	return nil
}
