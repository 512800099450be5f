package quic

import (
	"net/netip"
	"sync/atomic"
)

// connSide matches the teacher's clientSide/serverSide naming
// (chargeco-net/internal/quic/conn_id.go).
type connSide uint8

const (
	clientSide connSide = iota
	serverSide
)

// Connection is the minimal surface of the connection/handshake
// collaborator the binding needs (spec §1: "the connection state machine
// and handshake" are out of scope; only the calls the binding itself makes
// are modeled here). A real connection implementation lives in a sibling
// package the binding doesn't import to avoid a cyclic dependency; this
// type is what the Lookup and receive pipeline hold references to.
type Connection struct {
	side   connSide
	worker *worker

	local  netip.AddrPort
	remote netip.AddrPort
	dcid   cid // DestCID the connection is keyed by in FindByLocalCID
	scid   cid // SourceCID the connection is keyed by in FindByRemoteHash

	// lookupRefs counts outstanding LOOKUP_RESULT references handed out by
	// Lookup.FindBy*/AddRemoteHash, per spec §5 ("the binding only uses
	// LOOKUP_RESULT"). It is not the connection's full refcount (HANDLE_OWNER
	// and others are the connection package's own concern).
	lookupRefs atomic.Int32

	// bindingRef is held while the connection is reachable from the
	// binding's lookup tables, released on teardown.
	bindingRef atomic.Bool

	// backUpOperUsed guards the pre-allocated shutdown operation (spec
	// §4.6, §9): "enqueue a silent-shutdown operation using a
	// pre-allocated back-up operation record inside the connection
	// (claimed via a compare-and-swap on BackUpOperUsed), so that cleanup
	// itself never allocates."
	backUpOperUsed atomic.Bool

	recvQueue chan *datagramChain
}

// newConnection allocates a Connection with its back-up shutdown operation
// pre-allocated (never lazily, so the receive-path failure edge in
// CreateConnection never allocates — spec §9).
func newConnection(side connSide, local, remote netip.AddrPort, dcid, scid cid) *Connection {
	return &Connection{
		side:      side,
		local:     local,
		remote:    remote,
		dcid:      dcid,
		scid:      scid,
		recvQueue: make(chan *datagramChain, 64),
	}
}

// acquireLookupRef increments the LOOKUP_RESULT reference count. Every
// handoff from Lookup acquires one, per spec §3.
func (c *Connection) acquireLookupRef() { c.lookupRefs.Add(1) }

// releaseLookupRef releases a LOOKUP_RESULT reference acquired above.
func (c *Connection) releaseLookupRef() { c.lookupRefs.Add(-1) }

// tryAcquireBindingRef attempts to add a binding reference to the
// connection, failing if the connection (or binding) is already tearing
// down. Spec §4.6: "try to add a binding ref (may fail during cleanup)".
func (c *Connection) tryAcquireBindingRef() bool {
	return c.bindingRef.CompareAndSwap(false, true)
}

func (c *Connection) releaseBindingRef() {
	c.bindingRef.Store(false)
}

// enqueueRecv delivers a subchain to the connection's worker-affine receive
// queue (spec §4.6 "Match path": "enqueue the whole subchain on the
// connection's receive queue"). It never blocks the caller for long: the
// queue is sized generously and a full queue indicates the connection (or
// its worker) has stopped draining, at which point dropping is preferable
// to blocking the datapath's receive callback (spec §5: "None inside
// Receive: it must complete promptly").
func (c *Connection) enqueueRecv(chain *datagramChain) bool {
	select {
	case c.recvQueue <- chain:
		return true
	default:
		return false
	}
}

// claimBackUpShutdown attempts to claim the connection's pre-allocated
// shutdown operation via CAS, returning the operation to enqueue if this
// caller won the race, or ok=false if another caller already claimed it
// (or is in the process of claiming it).
func (c *Connection) claimBackUpShutdown() (op operation, ok bool) {
	if !c.backUpOperUsed.CompareAndSwap(false, true) {
		return operation{}, false
	}
	return operation{conn: c, shutdown: true}, true
}
