package quic

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
)

// statelessOpKind enumerates the three stateless responses spec §2/§6
// describe: Version Negotiation, Retry, and Stateless Reset.
type statelessOpKind uint8

const (
	statelessOpVN statelessOpKind = iota
	statelessOpRetry
	statelessOpReset
)

// statelessContext is one in-flight stateless response, per spec §3.
// isProcessed/isExpired implement the "two-writer free protocol" spec §4.4
// and §9 describe: both flags are set-once, the tracker's lock serializes
// their observation, and whichever of {the ager in Create, the worker in
// Release} observes both flags true is the one that logically owns final
// cleanup.
type statelessContext struct {
	id       string
	binding  *Binding
	worker   *worker
	datagram *datagram
	created  time.Time
	remote   netip.AddrPort

	hasBindingRef bool
	isProcessed   bool
	isExpired     bool

	// intrusive linkage into the tracker's chronological list.
	prev, next *statelessContext
}

// statelessTracker bounds and deduplicates in-flight stateless responses,
// per spec §4.4. Grounded on the teacher's per-listener send helpers
// (chargeco-net/internal/quic/listener.go's maybeSendStatelessReset /
// sendVersionNegotiation), generalized from "build and send immediately"
// into "track, rate-limit, and dispatch to a worker" since the binding
// must protect itself against many concurrent unattributed datagrams.
type statelessTracker struct {
	mu        sync.Mutex
	byRemote  map[netip.AddrPort][]*statelessContext
	listHead  *statelessContext
	listTail  *statelessContext
	count     int
	maxOps    int
	expireAge time.Duration
}

func newStatelessTracker(maxOps int, expireAge time.Duration) *statelessTracker {
	return &statelessTracker{
		byRemote:  make(map[netip.AddrPort][]*statelessContext),
		maxOps:    maxOps,
		expireAge: expireAge,
	}
}

func (t *statelessTracker) listAppend(ctx *statelessContext) {
	if t.listTail == nil {
		t.listHead = ctx
		t.listTail = ctx
	} else {
		t.listTail.next = ctx
		ctx.prev = t.listTail
		t.listTail = ctx
	}
}

func (t *statelessTracker) listUnlink(ctx *statelessContext) {
	if ctx.prev != nil {
		ctx.prev.next = ctx.next
	} else {
		t.listHead = ctx.next
	}
	if ctx.next != nil {
		ctx.next.prev = ctx.prev
	} else {
		t.listTail = ctx.prev
	}
	ctx.prev, ctx.next = nil, nil
}

func (t *statelessTracker) tableRemove(ctx *statelessContext) {
	bucket := t.byRemote[ctx.remote]
	for i, c := range bucket {
		if c == ctx {
			t.byRemote[ctx.remote] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(t.byRemote[ctx.remote]) == 0 {
		delete(t.byRemote, ctx.remote)
	}
}

// ageOut sweeps every context older than t.expireAge, oldest first, per
// spec §4.4 step 1. Must be called with t.mu held.
func (t *statelessTracker) ageOut(now time.Time) {
	for ctx := t.listHead; ctx != nil; {
		nextCtx := ctx.next
		if now.Sub(ctx.created) < t.expireAge {
			break // list is chronological; nothing later is aged out yet
		}
		ctx.isExpired = true
		t.listUnlink(ctx)
		t.tableRemove(ctx)
		t.count--
		// Free only if the worker already released its reference; otherwise
		// the worker's own Release call will observe isExpired and free.
		ctx = nextCtx
	}
}

// errStatelessRateLimited is returned by Create when the tracker is at
// capacity, per spec §4.4 step 2.
type errStatelessRateLimited struct{}

func (errStatelessRateLimited) Error() string { return "quic: stateless operation rate limited" }

// Create admits a new stateless context for remote, or refuses per the
// age-out/rate-limit/dedup sequence of spec §4.4.
func (t *statelessTracker) Create(b *Binding, w *worker, dgram *datagram, remote netip.AddrPort, now time.Time) (*statelessContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ageOut(now)

	if t.count >= t.maxOps {
		return nil, errStatelessRateLimited{}
	}

	for _, existing := range t.byRemote[remote] {
		if existing.remote == remote {
			return nil, errStatelessRateLimited{}
		}
	}

	ctx := &statelessContext{
		id:      uuid.NewString(),
		binding: b,
		worker:  w,
		datagram: dgram,
		created: now,
		remote:  remote,
	}
	t.byRemote[remote] = append(t.byRemote[remote], ctx)
	t.listAppend(ctx)
	t.count++
	return ctx, nil
}

// Release implements the two-phase free handshake of spec §4.4: lock held
// only to compute free_ctx, never across any actual cleanup.
func (t *statelessTracker) Release(ctx *statelessContext, returnDatagram bool, returnFn func(*datagram)) {
	if returnDatagram && ctx.datagram != nil && returnFn != nil {
		returnFn(ctx.datagram)
	}

	t.mu.Lock()
	ctx.isProcessed = true
	freeCtx := ctx.isExpired
	t.mu.Unlock()

	if ctx.hasBindingRef {
		ctx.binding.releaseRef()
	}
	_ = freeCtx // nothing to explicitly deallocate under GC; the value is
	// computed for parity with spec's free-ownership accounting and is not
	// exposed.
}

// snapshot returns (count, listLen, tableLen) for the invariant checks in
// spec §8: "the other structure also contains it and stateless_op_count
// equals the cardinality."
func (t *statelessTracker) snapshot() (count, listLen, tableLen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := t.listHead; c != nil; c = c.next {
		listLen++
	}
	for _, bucket := range t.byRemote {
		tableLen += len(bucket)
	}
	return t.count, listLen, tableLen
}

// forceFreeAll is called from Binding.Uninitialize: every tracked context
// is guaranteed is_processed at that point (its worker has drained), per
// spec §4.1.
func (t *statelessTracker) forceFreeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ctx := t.listHead; ctx != nil; {
		next := ctx.next
		t.listUnlink(ctx)
		t.tableRemove(ctx)
		t.count--
		ctx = next
	}
}
