package gattdb

import "testing"

type fakeEngine struct {
	notifications []fakeDelivery
	indications    []fakeDelivery
}

type fakeDelivery struct {
	peer  PeerKey
	handle uint16
	value []byte
}

func (e *fakeEngine) Mtu(PeerKey) uint16 { return 23 }

func (e *fakeEngine) Notify(peer PeerKey, handle uint16, value []byte) error {
	e.notifications = append(e.notifications, fakeDelivery{peer, handle, value})
	return nil
}

func (e *fakeEngine) Indicate(peer PeerKey, handle uint16, value []byte, confirmed func(error)) {
	e.indications = append(e.indications, fakeDelivery{peer, handle, value})
	if confirmed != nil {
		confirmed(nil)
	}
}

func TestNotifierBroadcastsServiceChangedToSubscribedPeers(t *testing.T) {
	store := NewAttributeStore(nil)
	peers := NewPeerStateTable(nil)
	engine := &fakeEngine{}
	notifier := NewChangeNotifier(nil, store, peers, engine)
	notifier.Install(100)

	subscribed := testPeer(1)
	peers.GetOrCreate(subscribed).CccGetOrCreate(100).Value[0] = cccIndicateBit
	unsubscribed := testPeer(2)
	peers.GetOrCreate(unsubscribed)

	ref := store.AddService(UUID16(0x1234), true, 0)
	ref.rec.owner = ServiceOwner{External: true}
	store.SetActive(ref, true)

	if len(engine.indications) != 1 {
		t.Fatalf("expected exactly 1 indication, got %d", len(engine.indications))
	}
	if engine.indications[0].peer != subscribed {
		t.Errorf("indication sent to wrong peer: %v", engine.indications[0].peer)
	}
}

func TestNotifierRemovalPurgesCCCAndNotifies(t *testing.T) {
	store := NewAttributeStore(nil)
	peers := NewPeerStateTable(nil)
	engine := &fakeEngine{}
	notifier := NewChangeNotifier(nil, store, peers, engine)
	notifier.Install(100)

	ref := store.AddService(UUID16(0x1234), true, 2)
	ref.rec.owner = ServiceOwner{External: true}
	attr, _ := store.AddCharacteristic(ref, UUID16(0x2a37), Permissions{Read: true}, Properties{Read: true, Notify: true}, noopRead, nil)

	peer := testPeer(1)
	peers.GetOrCreate(peer).CccGetOrCreate(attr.Handle()).Value[0] = cccNotifyBit
	peers.GetOrCreate(peer).CccGetOrCreate(100).Value[0] = cccIndicateBit
	store.SetActive(ref, true)

	store.RemoveService(ref)

	if _, ok := peers.GetOrCreate(peer).CccFind(attr.Handle()); ok {
		t.Errorf("CCC entry for removed characteristic should be purged")
	}
	if len(engine.indications) != 2 {
		t.Errorf("expected 2 indications (service added + removed), got %d", len(engine.indications))
	}
}

func TestNotifierNotifySendsTheRequestedKindOnly(t *testing.T) {
	store := NewAttributeStore(nil)
	peers := NewPeerStateTable(nil)
	engine := &fakeEngine{}
	notifier := NewChangeNotifier(nil, store, peers, engine)

	notifyPeer, indicatePeer := testPeer(1), testPeer(2)
	peers.GetOrCreate(notifyPeer).CccGetOrCreate(42).Value[0] = cccNotifyBit
	peers.GetOrCreate(indicatePeer).CccGetOrCreate(42).Value[0] = cccIndicateBit

	notifier.Notify(42, []byte{1, 2, 3}, notifyKindNotification, nil)

	if len(engine.notifications) != 1 || engine.notifications[0].peer != notifyPeer {
		t.Errorf("notify-subscribed peer should receive a notification")
	}
	if len(engine.indications) != 0 {
		t.Errorf("a notify-kind call must not deliver to an indicate-only peer, got %d indications", len(engine.indications))
	}

	notifier.Notify(42, []byte{1, 2, 3}, notifyKindIndication, nil)

	if len(engine.indications) != 1 || engine.indications[0].peer != indicatePeer {
		t.Errorf("indicate-subscribed peer should receive an indication")
	}
	if len(engine.notifications) != 1 {
		t.Errorf("an indicate-kind call must not deliver to a notify-only peer, got %d notifications", len(engine.notifications))
	}
}
