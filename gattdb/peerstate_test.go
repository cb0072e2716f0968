package gattdb

import "testing"

func testPeer(b byte) PeerKey {
	return PeerKey{Addr: Address{0, 0, 0, 0, 0, b}, Type: AddressPublic}
}

func TestCccGetOrCreateDefaultsUnsubscribed(t *testing.T) {
	table := NewPeerStateTable(nil)
	p := table.GetOrCreate(testPeer(1))
	entry := p.CccGetOrCreate(10)
	if entry.Subscribed() {
		t.Errorf("freshly created CCC entry should not be subscribed")
	}
}

func TestCccWriteSubscribes(t *testing.T) {
	table := NewPeerStateTable(nil)
	p := table.GetOrCreate(testPeer(1))
	entry := p.CccGetOrCreate(10)
	entry.Value[0] = cccNotifyBit

	if !entry.Subscribed() {
		t.Errorf("entry with notify bit set should report Subscribed")
	}
}

func TestRemoveCCCInRangePurgesAcrossPeers(t *testing.T) {
	table := NewPeerStateTable(nil)
	p1 := table.GetOrCreate(testPeer(1))
	p2 := table.GetOrCreate(testPeer(2))
	p1.CccGetOrCreate(10).Value[0] = cccNotifyBit
	p2.CccGetOrCreate(10).Value[0] = cccIndicateBit
	p2.CccGetOrCreate(20).Value[0] = cccNotifyBit

	table.RemoveCCCInRange(5, 15)

	if _, ok := p1.CccFind(10); ok {
		t.Errorf("p1's CCC at handle 10 should have been purged")
	}
	if _, ok := p2.CccFind(10); ok {
		t.Errorf("p2's CCC at handle 10 should have been purged")
	}
	if _, ok := p2.CccFind(20); !ok {
		t.Errorf("p2's CCC at handle 20 is out of range and should survive")
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	table := NewPeerStateTable(nil)
	key := testPeer(1)
	a := table.GetOrCreate(key)
	b := table.GetOrCreate(key)
	if a != b {
		t.Errorf("GetOrCreate should return the same PeerState for the same key")
	}
}

func TestForEachPeerVisitsAll(t *testing.T) {
	table := NewPeerStateTable(nil)
	table.GetOrCreate(testPeer(1))
	table.GetOrCreate(testPeer(2))
	table.GetOrCreate(testPeer(3))

	seen := 0
	table.ForEachPeer(func(*PeerState) { seen++ })
	if seen != 3 {
		t.Errorf("expected to visit 3 peers, visited %d", seen)
	}
}
