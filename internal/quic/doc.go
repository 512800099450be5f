// Package quic implements the UDP binding core of a QUIC transport: the
// demultiplexing layer that owns a socket, routes inbound datagrams to
// connections, and answers datagrams no connection can claim with Version
// Negotiation, Retry, or Stateless Reset.
//
// The connection/handshake state machine, TLS stack, congestion control,
// and the datapath's actual socket I/O live outside this package; Binding
// only holds the interfaces it needs from them (datapath, workerPool,
// ConnectionFactory).
package quic
