package quic

import (
	"net/netip"
)

// ListenerSession is the ALPN-bearing TLS session object a Listener owns.
// The binding never looks inside it beyond the overlap check below; ALPN
// matching itself belongs to the listener package (spec §1: "the
// listener's ALPN/SNI matching logic" is out of scope here).
type ListenerSession interface {
	// OverlapsALPN reports whether this session's ALPN set intersects
	// other's, per spec §4.2: "consult the listener collaborator to test
	// ALPN overlap with the existing entry's session; if any overlap,
	// reject."
	OverlapsALPN(other ListenerSession) bool
}

// Listener is the external collaborator the binding dispatches new
// connections to. Spec §3 describes it as observed-only state: local
// address, wildcard flag, session, and a rundown guard for safe teardown.
type Listener interface {
	LocalAddr() netip.AddrPort
	Wildcard() bool
	Session() ListenerSession
	// AcquireRundown takes a reader-side rundown reference, returning false
	// if the listener is already being torn down. Spec §5: "Listeners use
	// rundown (reader-acquire, late-writer-wait) rather than refcounts."
	AcquireRundown() bool
	ReleaseRundown()
}

type listenerEntry struct {
	listener Listener
	family   int
	next     *listenerEntry
}

const (
	famUnspec = iota
	famInet
	famInet6
)

func addrFamily(a netip.Addr) int {
	if !a.IsValid() {
		return famUnspec
	}
	if a.Is4() || a.Is4In6() {
		return famInet
	}
	return famInet6
}

// newConnectionInfo is the (local address, ALPN-bearing session) pair
// GetListener matches against, per spec §4.2.
type newConnectionInfo struct {
	Local   netip.AddrPort
	Session ListenerSession
}

// RegisterListener inserts listener into the binding's sorted listener
// list, per spec §4.2. The list is ordered by (family descending: AF_INET6,
// AF_INET, AF_UNSPEC; then specific-address before wildcard; then
// insertion order), and no two listeners sharing a (family, specificity,
// IP) slot may have overlapping ALPN.
func (b *Binding) RegisterListener(l Listener) bool {
	b.rwLock.Lock()
	defer b.rwLock.Unlock()

	fam := addrFamily(l.LocalAddr().Addr())
	entry := &listenerEntry{listener: l, family: fam}

	var prev *listenerEntry
	cur := b.listeners
	for cur != nil {
		if cur.family > fam {
			prev = cur
			cur = cur.next
			continue
		}
		if cur.family == fam {
			sameSpecificity := cur.listener.Wildcard() == l.Wildcard()
			sameIP := fam == famUnspec || cur.listener.LocalAddr().Addr() == l.LocalAddr().Addr()
			if sameSpecificity && sameIP {
				if cur.listener.Session() != nil && l.Session() != nil &&
					cur.listener.Session().OverlapsALPN(l.Session()) {
					return false
				}
				// Equal slot, no overlap: keep scanning past entries at this
				// exact slot so new entries are appended in insertion order.
				prev = cur
				cur = cur.next
				continue
			}
			// Same specificity at another IP: keep scanning so insertion
			// order holds. Specific-before-wildcard within the same family.
			if sameSpecificity || (!cur.listener.Wildcard() && l.Wildcard()) {
				prev = cur
				cur = cur.next
				continue
			}
		}
		break
	}

	wasEmpty := b.listeners == nil
	if prev == nil {
		entry.next = b.listeners
		b.listeners = entry
	} else {
		entry.next = prev.next
		prev.next = entry
	}

	if wasEmpty {
		if !b.lookup.MaximizePartitioning(b.partitionTarget) {
			// Roll back the insert.
			if prev == nil {
				b.listeners = entry.next
			} else {
				prev.next = entry.next
			}
			return false
		}
	}
	return true
}

// GetListener finds the first listener matching info's local address and
// ALPN, acquiring a rundown reference before returning, per spec §4.2.
func (b *Binding) GetListener(info newConnectionInfo) Listener {
	b.rwLock.RLock()
	defer b.rwLock.RUnlock()

	fam := addrFamily(info.Local.Addr())
	for cur := b.listeners; cur != nil; cur = cur.next {
		lfam := cur.family
		familyMatches := lfam == famUnspec || lfam == fam
		if !familyMatches {
			continue
		}
		addrMatches := cur.listener.Wildcard() || cur.listener.LocalAddr().Addr() == info.Local.Addr()
		if !addrMatches {
			continue
		}
		if info.Session != nil && cur.listener.Session() != nil &&
			!cur.listener.Session().OverlapsALPN(info.Session) {
			continue
		}
		if !cur.listener.AcquireRundown() {
			continue
		}
		return cur.listener
	}
	return nil
}

// UnregisterListener removes listener from the binding's list. No rehash
// of the lookup table is performed, per spec §4.2.
func (b *Binding) UnregisterListener(l Listener) {
	b.rwLock.Lock()
	defer b.rwLock.Unlock()

	var prev *listenerEntry
	for cur := b.listeners; cur != nil; cur = cur.next {
		if cur.listener == l {
			if prev == nil {
				b.listeners = cur.next
			} else {
				prev.next = cur.next
			}
			return
		}
		prev = cur
	}
}

// hasAnyListener reports whether the binding has at least one registered
// listener, used by the receive pipeline's Version Negotiation decision
// (spec §4.5 step 2).
func (b *Binding) hasAnyListener() bool {
	b.rwLock.RLock()
	defer b.rwLock.RUnlock()
	return b.listeners != nil
}
