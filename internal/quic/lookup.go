package quic

import (
	"hash/maphash"
	"net/netip"
	"sync"
)

// remoteHashKey is the (remote address, source CID) composite key spec
// §4.3 uses for server-side Initial demultiplexing, where the DestCID is
// client-chosen and has no locality.
type remoteHashKey struct {
	remote netip.AddrPort
	scid   string
}

// lookupPartition is one shard of the lookup table. Partitioning lets
// concurrent receive-path lookups on different workers avoid contending on
// a single mutex, per spec §4.3's "Partitioned tables" and §4.2's
// MaximizePartitioning.
type lookupPartition struct {
	mu           sync.RWMutex
	byLocalCID   map[string]*Connection
	byRemoteHash map[remoteHashKey]*Connection
	byRemoteAddr map[netip.AddrPort]*Connection
}

func newLookupPartition() *lookupPartition {
	return &lookupPartition{
		byLocalCID:   make(map[string]*Connection),
		byRemoteHash: make(map[remoteHashKey]*Connection),
		byRemoteAddr: make(map[netip.AddrPort]*Connection),
	}
}

// lookup is the connection-lookup collaborator described in spec §4.3.
// "The binding never inspects lookup internals" — everything here is
// reached only through the exported-shaped methods below, mirroring the
// teacher's connsMap (chargeco-net/internal/quic/listener.go) generalized
// from one fixed map into a growable set of partitions plus a
// remote-hash/remote-addr index the teacher's single-listener version
// didn't need (a single-listener binding has at most one local address).
type lookup struct {
	seed maphash.Seed

	mu         sync.RWMutex // guards the partitions slice identity (growth only)
	partitions []*lookupPartition

	ownedMu sync.Mutex
	owned   map[*Connection]map[string]struct{} // conn -> set of local CIDs it registered, for RemoveLocalCIDs/MoveLocalCIDs
}

func newLookup() *lookup {
	l := &lookup{
		seed:  maphash.MakeSeed(),
		owned: make(map[*Connection]map[string]struct{}),
	}
	l.partitions = []*lookupPartition{newLookupPartition()}
	return l
}

func (l *lookup) partitionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.partitions)
}

func (l *lookup) partitionFor(key string) *lookupPartition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.partitions) == 1 {
		return l.partitions[0]
	}
	var h maphash.Hash
	h.SetSeed(l.seed)
	_, _ = h.WriteString(key)
	idx := h.Sum64() % uint64(len(l.partitions))
	return l.partitions[idx]
}

// MaximizePartitioning upgrades the lookup to a multi-partition table sized
// to worker parallelism, per spec §4.2: "If the list transitioned from
// empty to non-empty, request the lookup to MaximizePartitioning". Existing
// entries are rehashed into the new partition set. It returns false only
// when n < 1; a request for n at or below the current partition count is a
// no-op that returns true.
func (l *lookup) MaximizePartitioning(n int) bool {
	if n < 1 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partitions) >= n {
		return true
	}
	newParts := make([]*lookupPartition, n)
	for i := range newParts {
		newParts[i] = newLookupPartition()
	}
	rehash := func(key string) *lookupPartition {
		var h maphash.Hash
		h.SetSeed(l.seed)
		_, _ = h.WriteString(key)
		return newParts[h.Sum64()%uint64(n)]
	}
	for _, p := range l.partitions {
		p.mu.RLock()
		for k, c := range p.byLocalCID {
			rehash(k).byLocalCID[k] = c
		}
		for k, c := range p.byRemoteHash {
			rehash(k.remote.String() + "|" + k.scid).byRemoteHash[k] = c
		}
		for k, c := range p.byRemoteAddr {
			rehash(k.String()).byRemoteAddr[k] = c
		}
		p.mu.RUnlock()
	}
	l.partitions = newParts
	return true
}

// AddLocalCID inserts a CID -> connection mapping, failing on collision,
// per spec §4.3.
func (l *lookup) AddLocalCID(c *Connection, id cid) bool {
	key := string(id)
	p := l.partitionFor(key)
	p.mu.Lock()
	if _, exists := p.byLocalCID[key]; exists {
		p.mu.Unlock()
		return false
	}
	p.byLocalCID[key] = c
	p.mu.Unlock()

	l.ownedMu.Lock()
	if l.owned[c] == nil {
		l.owned[c] = make(map[string]struct{})
	}
	l.owned[c][key] = struct{}{}
	l.ownedMu.Unlock()
	return true
}

// RemoveLocalCID removes a single CID->connection mapping.
func (l *lookup) RemoveLocalCID(c *Connection, id cid) {
	key := string(id)
	p := l.partitionFor(key)
	p.mu.Lock()
	delete(p.byLocalCID, key)
	p.mu.Unlock()

	l.ownedMu.Lock()
	if set := l.owned[c]; set != nil {
		delete(set, key)
	}
	l.ownedMu.Unlock()
}

// RemoveLocalCIDs removes every local CID registered for c.
func (l *lookup) RemoveLocalCIDs(c *Connection) {
	l.ownedMu.Lock()
	keys := l.owned[c]
	delete(l.owned, c)
	l.ownedMu.Unlock()
	for key := range keys {
		p := l.partitionFor(key)
		p.mu.Lock()
		delete(p.byLocalCID, key)
		p.mu.Unlock()
	}
}

// MoveLocalCIDs transfers every local CID owned by src to dst, used when a
// connection rebinds to a new worker or migrates (spec §4.3).
func (l *lookup) MoveLocalCIDs(src, dst *Connection) {
	l.ownedMu.Lock()
	keys := l.owned[src]
	delete(l.owned, src)
	if l.owned[dst] == nil {
		l.owned[dst] = make(map[string]struct{})
	}
	for k := range keys {
		l.owned[dst][k] = struct{}{}
	}
	l.ownedMu.Unlock()
	for key := range keys {
		p := l.partitionFor(key)
		p.mu.Lock()
		p.byLocalCID[key] = dst
		p.mu.Unlock()
	}
}

// AddRemoteHash inserts-or-finds a (remote, source CID) -> connection
// mapping. On collision it returns the existing connection with a
// LOOKUP_RESULT reference acquired, per spec §4.3: "on collision returns
// the existing connection with its ref incremented."
func (l *lookup) AddRemoteHash(c *Connection, remote netip.AddrPort, scid cid) (inserted bool, existing *Connection) {
	key := remoteHashKey{remote: remote, scid: string(scid)}
	p := l.partitionFor(key.remote.String() + "|" + key.scid)
	p.mu.Lock()
	if ex, ok := p.byRemoteHash[key]; ok {
		p.mu.Unlock()
		ex.acquireLookupRef()
		return false, ex
	}
	p.byRemoteHash[key] = c
	p.byRemoteAddr[remote] = c
	p.mu.Unlock()
	return true, nil
}

// RemoveRemoteHash removes a (remote, source CID) mapping.
func (l *lookup) RemoveRemoteHash(remote netip.AddrPort, scid cid) {
	key := remoteHashKey{remote: remote, scid: string(scid)}
	p := l.partitionFor(key.remote.String() + "|" + key.scid)
	p.mu.Lock()
	if p.byRemoteHash[key] != nil {
		delete(p.byRemoteHash, key)
		delete(p.byRemoteAddr, remote)
	}
	p.mu.Unlock()
}

// FindByLocalCID returns the connection registered for id, with a
// LOOKUP_RESULT reference acquired, or nil.
func (l *lookup) FindByLocalCID(id cid) *Connection {
	key := string(id)
	p := l.partitionFor(key)
	p.mu.RLock()
	c := p.byLocalCID[key]
	p.mu.RUnlock()
	if c != nil {
		c.acquireLookupRef()
	}
	return c
}

// FindByRemoteHash returns the connection registered for (remote, scid),
// with a LOOKUP_RESULT reference acquired, or nil.
func (l *lookup) FindByRemoteHash(remote netip.AddrPort, scid cid) *Connection {
	key := remoteHashKey{remote: remote, scid: string(scid)}
	p := l.partitionFor(key.remote.String() + "|" + key.scid)
	p.mu.RLock()
	c := p.byRemoteHash[key]
	p.mu.RUnlock()
	if c != nil {
		c.acquireLookupRef()
	}
	return c
}

// FindByRemoteAddr returns the connection registered for remote, with a
// LOOKUP_RESULT reference acquired, or nil. Used by exclusive/connected
// bindings where DestCID is irrelevant (spec §3: "exclusive: ... DestCID
// is ignored for lookup").
func (l *lookup) FindByRemoteAddr(remote netip.AddrPort) *Connection {
	p := l.partitionFor(remote.String())
	p.mu.RLock()
	c := p.byRemoteAddr[remote]
	p.mu.RUnlock()
	if c != nil {
		c.acquireLookupRef()
	}
	return c
}
