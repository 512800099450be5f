package quic

// preprocessDatagram validates the invariant header of d and fills its
// scratch fields, per spec §4.5 step 2 (QuicBindingPreprocessDatagram). It
// returns false if the datagram goes no further down the pipeline: invalid
// header, or an unsupported long-header version (a Version Negotiation is
// queued first when a listener is registered, otherwise it is dropped).
func (b *Binding) preprocessDatagram(d *datagram) bool {
	h, ok := parseInvariantHeader(d.b)
	if !ok {
		b.metrics.datagramsDropped.WithValues("invalid-header").Inc(1)
		return false
	}

	if h.short {
		cidLen := b.config.cidLen()
		dcid, ok := shortHeaderDestCID(d.b, cidLen)
		if !ok {
			b.metrics.datagramsDropped.WithValues("invalid-header").Inc(1)
			return false
		}
		d.short = true
		d.dcid = dcid
		return true
	}

	d.short = false
	d.vers = h.version
	d.dcid = h.dcid
	d.scid = h.scid

	if h.version != 0 && !b.config.versionSupported(h.version) {
		if b.hasAnyListener() {
			b.queueVersionNegotiation(d)
		} else {
			b.metrics.datagramsDropped.WithValues("unsupported-version-no-listener").Inc(1)
		}
		return false
	}

	return true
}

// Receive is the datapath callback entry point, per spec §4.5. It must not
// block and must return every buffer it doesn't explicitly retain.
//
// Grounded on chargeco-net/internal/quic/listener.go's handleDatagram /
// handleUnknownDestinationDatagram, generalized from "one datagram, one
// lookup, one decision" into the full chain-splitting, handshake-reordering
// pipeline spec §4.5 describes, since a real datapath delivers many
// datagrams per callback and per-connection ordering must survive the
// split.
func (b *Binding) Receive(chain *datagramChain) {
	var release datagramChain
	var subchain datagramChain
	var subchainDCID cid
	haveSubchain := false

	flush := func() {
		if subchain.empty() {
			return
		}
		delivered := subchain
		b.Deliver(&delivered)
		subchain = datagramChain{}
		haveSubchain = false
	}

	for d := chain.head; d != nil; {
		next := d.next
		d.next = nil

		b.metrics.datagramsReceived.Inc(1)

		if b.config.testHooks().DropDatagram(d.t.remote, d.b) {
			release.append(d)
			d = next
			continue
		}

		if b.ingressLimiter != nil && !b.ingressLimiter.Allow() {
			b.metrics.datagramsDropped.WithValues("ingress-rate-limited").Inc(1)
			release.append(d)
			d = next
			continue
		}

		if !b.preprocessDatagram(d) {
			release.append(d)
			d = next
			continue
		}

		if b.exclusive {
			subchain.append(d)
			d = next
			continue
		}

		if haveSubchain && !subchainDCID.equal(d.dcid) {
			flush()
		}
		if !haveSubchain {
			subchainDCID = d.dcid
			haveSubchain = true
		}

		ptype := packetType1RTT
		if !d.short {
			h, _ := parseInvariantHeader(d.b)
			ptype = h.ptype
		}
		if isHandshakePacketType(ptype) {
			subchain.pushFront(d)
		} else {
			subchain.append(d)
		}
		d = next
	}
	flush()

	b.returnDatagrams(&release)
}

// returnDatagrams hands every datagram in c back to the datapath, per spec
// §6: "everything else returns via ReturnRecvDatagrams."
func (b *Binding) returnDatagrams(c *datagramChain) {
	// The datapath collaborator owns the actual buffer pool; the binding's
	// responsibility ends at no longer referencing them. datapathBinding
	// has no buffer-return call, so this only clears the chain.
	c.reset()
}

// Deliver routes a DestCID-homogeneous subchain to a connection, or
// decides to create one, respond statelessly, or drop it, per spec §4.6.
func (b *Binding) Deliver(subchain *datagramChain) bool {
	head := subchain.head
	if head == nil {
		return false
	}

	var conn *Connection
	switch {
	case b.exclusive:
		conn = b.lookup.FindByRemoteAddr(head.t.remote)
	case !b.serverOwned || head.short:
		conn = b.lookup.FindByLocalCID(head.dcid)
	default:
		conn = b.lookup.FindByRemoteHash(head.t.remote, head.scid)
	}

	if conn != nil {
		conn.enqueueRecv(subchain)
		conn.releaseLookupRef()
		return true
	}

	// No-match path.
	if b.exclusive {
		b.dropSubchain(subchain, "exclusive-no-match")
		return false
	}

	if head.short {
		return b.queueStatelessReset(subchain)
	}

	if head.vers == 0 {
		b.dropSubchain(subchain, "vn-sentinel-unattributed")
		return false
	}

	h, ok := parseInvariantHeader(head.b)
	if !ok || h.ptype != packetTypeInitial {
		b.dropSubchain(subchain, "non-initial-no-match")
		return false
	}

	if !b.hasAnyListener() {
		b.dropSubchain(subchain, "no-listener")
		return false
	}

	token, _ := parseInitialToken(h.rest)

	if len(token) > 0 {
		aead := b.config.StatelessRetryKey()
		if aead == nil {
			b.dropSubchain(subchain, "no-retry-key")
			return false
		}
		origDst, ok := ValidateRetryToken(aead, token, head.dcid, head.t.remote)
		if !ok {
			b.dropSubchain(subchain, "invalid-retry-token")
			return false
		}
		head.valid = true
		return b.createConnectionFromSubchain(subchain, origDst, head.scid)
	}

	if b.config.retryMemoryThresholdReached() {
		return b.queueRetry(subchain)
	}

	return b.createConnectionFromSubchain(subchain, head.dcid, head.scid)
}

// dropSubchain releases every datagram in subchain back to the datapath,
// logging a human-readable reason per spec §7: "every drop carries a
// human-readable reason."
func (b *Binding) dropSubchain(subchain *datagramChain, reason string) {
	b.metrics.datagramsDropped.WithValues(reason).Inc(float64(subchain.n))
	b.log.WithField("reason", reason).WithField("count", subchain.n).Debug("quic: dropping subchain")
	var release datagramChain
	for d := subchain.head; d != nil; {
		next := d.next
		d.next = nil
		release.append(d)
		d = next
	}
	b.returnDatagrams(&release)
}

// createConnectionFromSubchain implements spec §4.6's CreateConnection.
func (b *Binding) createConnectionFromSubchain(subchain *datagramChain, origDstConnID, peerSrcConnID cid) bool {
	head := subchain.head
	conn, err := b.connFactory.CreateConnection(serverSide, head.t.local, head.t.remote, origDstConnID, peerSrcConnID)
	if err != nil {
		b.dropSubchain(subchain, "connection-create-failed")
		return false
	}
	conn.acquireLookupRef()

	w, err := b.workers.Acquire()
	if err != nil {
		conn.releaseLookupRef()
		b.dropSubchain(subchain, "worker-pool-overloaded")
		return false
	}
	conn.worker = w

	if !conn.tryAcquireBindingRef() {
		conn.releaseLookupRef()
		b.dropSubchain(subchain, "binding-ref-race")
		return false
	}

	inserted, existing := b.lookup.AddRemoteHash(conn, head.t.remote, peerSrcConnID)
	if !inserted {
		// Collision: the lookup is the authoritative deduplicator (spec
		// §4.6). The loser must be cleaned up without allocating on this
		// path, so it uses its pre-allocated back-up shutdown operation.
		conn.releaseBindingRef()
		if op, ok := conn.claimBackUpShutdown(); ok {
			if err := w.submit(op); err != nil {
				// Pool is gone; nothing further to do without allocating.
				b.log.Warn("quic: could not submit silent-shutdown operation, worker overloaded")
			}
		}
		conn.releaseLookupRef()
		b.metrics.connsCollided.Inc(1)

		existing.enqueueRecv(subchain)
		existing.releaseLookupRef()
		return true
	}

	b.metrics.connsCreated.Inc(1)
	conn.enqueueRecv(subchain)
	conn.releaseLookupRef()
	return true
}

// queueVersionNegotiation enqueues a VN stateless operation for d, per spec
// §4.5 step 2 and §6.
func (b *Binding) queueVersionNegotiation(d *datagram) {
	b.queueStateless(statelessOpVN, &datagramChain{head: d, tail: d, n: 1})
}

// queueRetry enqueues a Retry stateless operation, per spec §4.6.
func (b *Binding) queueRetry(subchain *datagramChain) bool {
	return b.queueStateless(statelessOpRetry, subchain)
}

// queueStatelessReset enqueues a Stateless Reset stateless operation, per
// spec §4.6's "attempt QueueStatelessReset".
func (b *Binding) queueStatelessReset(subchain *datagramChain) bool {
	return b.queueStateless(statelessOpReset, subchain)
}

// queueStateless implements spec §4.4's Queue: acquire a worker, admit a
// tracked context, hand the operation to the worker.
func (b *Binding) queueStateless(kind statelessOpKind, subchain *datagramChain) bool {
	head := subchain.head
	if head == nil {
		return false
	}

	w, err := b.workers.Acquire()
	if err != nil {
		b.dropSubchain(subchain, "worker-pool-overloaded")
		return false
	}

	now := b.config.testHooks().TimeNow()
	ctx, err := b.stateless.Create(b, w, head, head.t.remote, now)
	if err != nil {
		b.dropSubchain(subchain, "stateless-rate-limited")
		return false
	}
	ctx.hasBindingRef = true
	b.acquireRef()

	op := operation{statelessCtx: ctx, statelessKind: kind}
	if err := w.submit(op); err != nil {
		b.stateless.Release(ctx, false, nil)
		b.dropSubchain(subchain, "worker-pool-overloaded")
		return false
	}

	b.metrics.statelessQueued.WithValues(statelessKindLabel(kind)).Inc(1)
	_, listLen, _ := b.stateless.snapshot()
	b.metrics.statelessOpsGauge.Update(float64(listLen))
	return true
}

// processStateless runs on a worker goroutine and builds/sends the
// appropriate stateless response, per spec §4.4's Process. Any allocation
// failure results in a silent drop, per spec §7 ("silent drop is
// permissible for stateless operations").
func (b *Binding) processStateless(kind statelessOpKind, ctx *statelessContext) {
	defer b.stateless.Release(ctx, true, func(d *datagram) {
		// Returning the retained datagram is a no-op here: ownership was
		// captured by value in ctx.datagram and the datapath's own buffer
		// pool (not modeled in this package) reclaims it.
		_ = d
	})

	b.log.WithField("stateless_id", ctx.id).WithField("kind", statelessKindLabel(kind)).Trace("quic: processing stateless operation")

	d := ctx.datagram
	h, ok := parseInvariantHeader(d.b)
	if !ok {
		return
	}

	switch kind {
	case statelessOpVN:
		buf := appendVersionNegotiation(nil, h.scid, h.dcid, b.randomReservedVersion, b.config.supportedVersions())
		sctx := b.dp.AllocSendContext()
		out := b.dp.AllocSendDatagram(sctx, len(buf))
		copy(out, buf)
		sctx.buf = out
		_ = b.sendFromTo(d.t.local, d.t.remote, sctx)

	case statelessOpRetry:
		newCID, err := newRandomCID()
		if err != nil {
			return
		}
		aead := b.config.StatelessRetryKey()
		if aead == nil {
			return
		}
		now := b.config.testHooks().TimeNow()
		token := GenerateRetryToken(aead, now, d.t.remote, newCID, h.dcid)
		buf := appendRetryV1(nil, quicVersion1, h.scid, newCID, token)
		sctx := b.dp.AllocSendContext()
		out := b.dp.AllocSendDatagram(sctx, len(buf))
		copy(out, buf)
		sctx.buf = out
		_ = b.sendFromTo(d.t.local, d.t.remote, sctx)

	case statelessOpReset:
		cidLen := b.config.cidLen()
		dcid, ok := shortHeaderDestCID(d.b, cidLen)
		if !ok {
			return
		}
		token := b.GenerateStatelessResetToken(dcid)
		keyPhase := len(d.b) > 0 && d.b[0]&0x04 != 0
		buf := appendStatelessReset(nil, keyPhase, len(d.b), token)
		sctx := b.dp.AllocSendContext()
		out := b.dp.AllocSendDatagram(sctx, len(buf))
		copy(out, buf)
		sctx.buf = out
		_ = b.sendFromTo(d.t.local, d.t.remote, sctx)
	}
}

// runOperation is the workerPool's process callback: it dispatches a queued
// operation to the right handler, matching the one-worker-per-connection
// affinity described in spec §5.
func (b *Binding) runOperation(op operation) {
	switch {
	case op.statelessCtx != nil:
		b.processStateless(op.statelessKind, op.statelessCtx)
	case op.shutdown && op.conn != nil:
		b.silentShutdown(op.conn)
	case op.recvChain != nil && op.conn != nil:
		// Connection-level packet processing is the connection
		// collaborator's responsibility (spec §1 out-of-scope); the
		// binding's part ends at worker-affine delivery.
	}
}

// silentShutdown cleans up a connection that lost an AddRemoteHash race
// during creation, per spec §4.6 and §9: cleanup that never allocates.
func (b *Binding) silentShutdown(c *Connection) {
	b.lookup.RemoveLocalCIDs(c)
	c.releaseBindingRef()
}
