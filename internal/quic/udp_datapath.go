package quic

import (
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
)

// udpConn is the subset of *net.UDPConn the UDP datapath depends on,
// grounded on chargeco-net/internal/quic/listener.go's udpConn interface —
// kept so tests can substitute a fake without opening a real socket.
type udpConn interface {
	Close() error
	LocalAddr() net.Addr
	ReadMsgUDPAddrPort(b, control []byte) (n, controln, flags int, addr netip.AddrPort, err error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// udpDatapath is the default datapath collaborator, wrapping net.ListenUDP.
// It implements the "read loop calls Binding.Receive" half of spec §6 that
// a production datapath (out of this package's scope) owns; concrete
// sockets are provided here only so the CLI and non-mock tests have
// something real to run against.
type udpDatapath struct {
	recvBufSize int
}

// NewUDPDatapath returns a datapath backed by real UDP sockets. recvBufSize
// bounds the largest single datagram read; 0 selects a 64KiB default, large
// enough for any QUIC datagram plus GRO coalescing headroom.
func NewUDPDatapath(recvBufSize int) datapath {
	if recvBufSize <= 0 {
		recvBufSize = 65536
	}
	return &udpDatapath{recvBufSize: recvBufSize}
}

func (d *udpDatapath) CreateBinding(local, remote netip.AddrPort) (datapathBinding, error) {
	network := "udp"
	if local.Addr().Is4() {
		network = "udp4"
	} else if local.Addr().Is6() {
		network = "udp6"
	}
	addr := net.UDPAddrFromAddrPort(local)
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	b := &udpBinding{
		conn:    conn,
		recvBuf: d.recvBufSize,
		remote:  remote,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	return b, nil
}

// udpBinding implements datapathBinding over a real *net.UDPConn. Grounded
// on chargeco-net/internal/quic/listener.go's read loop
// (udpConn.ReadMsgUDPAddrPort inside Listener.listen). Reads and the
// Receive callbacks they trigger run on the goroutine that calls Run;
// Delete may be called from another goroutine while a callback is still
// running, hence drainWG.
type udpBinding struct {
	conn    udpConn
	recvBuf int
	remote  netip.AddrPort

	drainWG   sync.WaitGroup
	closeOnce sync.Once
	closed    bool
	log       *logrus.Entry
}

// Run starts the read loop, invoking onReceive for every datagram read.
// Callers own the goroutine; Run blocks until the socket is closed.
func (b *udpBinding) Run(onReceive func(*datagramChain)) {
	buf := make([]byte, b.recvBuf)
	for {
		n, _, _, addr, err := b.conn.ReadMsgUDPAddrPort(buf, nil)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		d := &datagram{
			b: payload,
			t: tuple{local: b.LocalAddr(), remote: addr},
		}
		chain := &datagramChain{head: d, tail: d, n: 1}

		b.drainWG.Add(1)
		onReceive(chain)
		b.drainWG.Done()
	}
}

func (b *udpBinding) LocalAddr() netip.AddrPort {
	a, _ := b.conn.LocalAddr().(*net.UDPAddr)
	if a == nil {
		return netip.AddrPort{}
	}
	return a.AddrPort()
}

func (b *udpBinding) SendTo(remote netip.AddrPort, ctx *datapathSendContext) error {
	_, err := b.conn.WriteToUDPAddrPort(ctx.buf, remote)
	return err
}

func (b *udpBinding) SendFromTo(local, remote netip.AddrPort, ctx *datapathSendContext) error {
	// A single net.UDPConn is already bound to local; SendFromTo only
	// differs from SendTo when one datapath binding multiplexes several
	// local addresses (wildcard listeners using PKTINFO), which this
	// default implementation does not attempt.
	return b.SendTo(remote, ctx)
}

func (b *udpBinding) AllocSendContext() *datapathSendContext {
	return &datapathSendContext{}
}

func (b *udpBinding) AllocSendDatagram(ctx *datapathSendContext, n int) []byte {
	buf := make([]byte, n)
	ctx.buf = buf
	return buf
}

func (b *udpBinding) FreeSendContext(ctx *datapathSendContext) {
	ctx.buf = nil
}

// Delete closes the socket and blocks until every in-flight Receive
// callback has returned — spec §4.1's "memory-safety anchor".
func (b *udpBinding) Delete() {
	b.closeOnce.Do(func() {
		b.closed = true
		_ = b.conn.Close()
	})
	b.drainWG.Wait()
}
