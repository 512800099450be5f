package quic

import "net/netip"

// DefaultConnectionFactory builds bare Connection values, the minimal
// ConnectionFactory a Binding needs to exercise its own receive pipeline
// without a real handshake/crypto stack wired in. Production deployments
// supply their own ConnectionFactory backed by the connection package
// (out of scope here, per spec §1); this one is what tests and the CLI's
// smoke-test mode use.
type DefaultConnectionFactory struct{}

func (DefaultConnectionFactory) CreateConnection(side connSide, local, remote netip.AddrPort, dstConnID, srcConnID cid) (*Connection, error) {
	return newConnection(side, local, remote, dstConnID, srcConnID), nil
}
