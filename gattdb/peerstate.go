package gattdb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// AddressType distinguishes the address spaces a Bluetooth peer can be
// identified in.
type AddressType int

const (
	AddressPublic AddressType = iota
	AddressRandom
	AddressBREDR
)

func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	case AddressBREDR:
		return "bredr"
	default:
		return "unknown"
	}
}

// Address is a 48-bit Bluetooth device address, stored most-significant
// byte first for display purposes.
type Address [6]byte

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// PeerKey identifies a remote peer for the purposes of per-peer
// subscription state (spec §3 "PeerState"). Two connections from the
// same bonded peer across a reconnect share a PeerKey, which is what
// lets CCC state survive a disconnect.
type PeerKey struct {
	Addr Address
	Type AddressType
}

func (k PeerKey) String() string { return k.Addr.String() + "/" + k.Type.String() }

// CccEntry is one peer's Client Characteristic Configuration value for
// a single notify/indicate-capable characteristic (spec §3).
type CccEntry struct {
	Handle uint16
	Value  [2]byte
}

const (
	cccNotifyBit   = 1 << 0
	cccIndicateBit = 1 << 1
)

// Subscribed reports whether the entry's value has the notify or
// indicate bit set.
func (c CccEntry) Subscribed() bool {
	return c.Value[0]&(cccNotifyBit|cccIndicateBit) != 0
}

// PeerState is everything the core keeps about one peer (spec §3).
// ccc is keyed by characteristic value handle, not CCC descriptor
// handle, since a peer only ever has one CCC descriptor per
// characteristic.
type PeerState struct {
	Key PeerKey
	ccc map[uint16]*CccEntry
}

// PeerStateTable tracks per-peer subscription state across the
// database's lifetime (spec §4.2). Entries are created lazily on
// first touch and never removed on disconnect — only RemoveCCCInRange
// (driven by service removal) deletes CCC entries, and only Forget
// deletes a peer entirely (e.g. on unbond). Append-only growth is
// deliberate: the single-threaded event loop model means there is
// never a concurrent reader to invalidate, and an unbounded number of
// distinct peers is not a concern this package needs to solve.
type PeerStateTable struct {
	log   *logrus.Entry
	peers map[PeerKey]*PeerState
}

// NewPeerStateTable creates an empty table.
func NewPeerStateTable(log *logrus.Entry) *PeerStateTable {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PeerStateTable{
		log:   log.WithField("component", "peerstatetable"),
		peers: make(map[PeerKey]*PeerState),
	}
}

// GetOrCreate returns the PeerState for key, creating it if necessary.
func (t *PeerStateTable) GetOrCreate(key PeerKey) *PeerState {
	if p, ok := t.peers[key]; ok {
		return p
	}
	p := &PeerState{Key: key, ccc: make(map[uint16]*CccEntry)}
	t.peers[key] = p
	t.log.WithField("peer", key).Debug("peer state created")
	return p
}

// Find returns the PeerState for key without creating one.
func (t *PeerStateTable) Find(key PeerKey) (*PeerState, bool) {
	p, ok := t.peers[key]
	return p, ok
}

// Forget discards all state for a peer, e.g. on unbond.
func (t *PeerStateTable) Forget(key PeerKey) {
	delete(t.peers, key)
}

// CccGetOrCreate returns p's CCC entry for the characteristic at
// valueHandle, creating a zeroed (unsubscribed) entry if none exists.
func (p *PeerState) CccGetOrCreate(valueHandle uint16) *CccEntry {
	if e, ok := p.ccc[valueHandle]; ok {
		return e
	}
	e := &CccEntry{Handle: valueHandle}
	p.ccc[valueHandle] = e
	return e
}

// CccFind returns p's CCC entry for valueHandle without creating one.
func (p *PeerState) CccFind(valueHandle uint16) (*CccEntry, bool) {
	e, ok := p.ccc[valueHandle]
	return e, ok
}

// ForEachPeer calls fn once for every peer in the table, in unspecified
// order. It is used to fan out Service Changed indications and
// characteristic notifications; callers check each peer's CCC entry.
func (t *PeerStateTable) ForEachPeer(fn func(*PeerState)) {
	for _, p := range t.peers {
		fn(p)
	}
}

// RemoveCCCInRange purges CCC entries for handles within [start, end]
// across every peer, called when a service is removed so a later
// service reusing those handles does not inherit stale subscriptions.
func (t *PeerStateTable) RemoveCCCInRange(start, end uint16) {
	for _, p := range t.peers {
		for h := range p.ccc {
			if h >= start && h <= end {
				delete(p.ccc, h)
			}
		}
	}
}
