package quic

import (
	"net/netip"
)

// tuple is the local/remote address pair a datagram arrived on or will be
// sent on.
type tuple struct {
	local  netip.AddrPort
	remote netip.AddrPort
}

// datagram is one received or to-be-sent UDP payload, linked into a chain
// the way spec §6 describes the inbound callback's recv_chain: "chain of
// datagrams, each with {buffer, length, tuple}, linked by next". Grounded
// on the teacher's own datagram type (chargeco-net's listener.go newDatagram
// / m.recycle pattern), generalized to an explicit linked chain since the
// binding must split and reorder subchains by DestCID (spec §4.5-§4.6),
// which a single flat slice cannot express as cheaply.
type datagram struct {
	b     []byte
	t     tuple
	next  *datagram
	dcid  cid // validated DestCID, filled by preprocessing
	scid  cid // validated SourceCID, filled by preprocessing
	short bool
	vers  uint32
	valid bool // Retry token validated for this packet (spec §3 RecvPacket.valid_token)
}

// datagramChain is a singly linked list of datagrams sharing receive order.
type datagramChain struct {
	head, tail *datagram
	n          int
}

func (c *datagramChain) empty() bool { return c.head == nil }

func (c *datagramChain) append(d *datagram) {
	d.next = nil
	if c.tail == nil {
		c.head = d
		c.tail = d
	} else {
		c.tail.next = d
		c.tail = d
	}
	c.n++
}

// pushFront inserts d at the head of the chain (used for the
// handshake-first reordering of spec §4.5 step 4).
func (c *datagramChain) pushFront(d *datagram) {
	d.next = c.head
	c.head = d
	if c.tail == nil {
		c.tail = d
	}
	c.n++
}

func (c *datagramChain) reset() {
	c.head, c.tail, c.n = nil, nil, 0
}

// datapathSendContext is an opaque handle to a send buffer, allocated and
// freed by the datapath collaborator (spec §6: AllocSendContext /
// AllocSendDatagram / FreeSendContext). The binding itself never allocates
// raw buffers for sending; it asks the datapath.
type datapathSendContext struct {
	buf []byte
}

// datapath is the external collaborator the binding never implements
// itself (spec §1's "out of scope" list: "the datapath (UDP socket I/O)").
// Concrete bindings wire in a UDP-socket implementation; tests wire in a
// fake that records sends and can be told to drop.
type datapath interface {
	// CreateBinding asks the datapath to open a UDP socket for the given
	// local/remote tuple (either may be the zero value for wildcard/
	// unconnected), per spec §4.1.
	CreateBinding(local, remote netip.AddrPort) (datapathBinding, error)
}

// datapathBinding is the per-socket handle the datapath hands back from
// CreateBinding. Delete must block until every in-flight receive callback
// for this binding has returned — spec §4.1 calls this out as "the
// memory-safety anchor of the whole design".
type datapathBinding interface {
	LocalAddr() netip.AddrPort
	SendTo(remote netip.AddrPort, ctx *datapathSendContext) error
	SendFromTo(local, remote netip.AddrPort, ctx *datapathSendContext) error
	AllocSendContext() *datapathSendContext
	AllocSendDatagram(ctx *datapathSendContext, n int) []byte
	FreeSendContext(ctx *datapathSendContext)
	// Delete closes the socket and blocks until all in-flight Receive
	// callbacks for this binding have returned.
	Delete()
}
