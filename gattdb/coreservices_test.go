package gattdb

import (
	"context"
	"testing"
)

func newTestCoreServices(t *testing.T, info DeviceInfo) (*AttributeStore, *PeerStateTable, *CoreServiceFactory) {
	t.Helper()
	store := NewAttributeStore(nil)
	peers := NewPeerStateTable(nil)
	factory := NewCoreServiceFactory(nil, store, peers, NopSDPPublisher{}, info)
	if err := factory.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return store, peers, factory
}

func TestCoreServicesInstallDeviceName(t *testing.T) {
	store, _, _ := newTestCoreServices(t, DeviceInfo{Name: "widget", Appearance: 0x03C1})

	var found *Attribute
	for h := uint16(1); h < 64; h++ {
		attr, ok := store.FindByHandle(h)
		if ok && attr.Type.Equal(uuidDeviceName) {
			found = attr
			break
		}
	}
	if found == nil {
		t.Fatalf("device name characteristic not found")
	}

	var value []byte
	found.DispatchRead(ReadRequest{Offset: 0}, func(v []byte, errCode byte) {
		if errCode != 0 {
			t.Fatalf("unexpected error code %d", errCode)
		}
		value = v
	})
	if string(value) != "widget" {
		t.Errorf("device name: got %q want %q", value, "widget")
	}
}

func TestCoreServicesDeviceNameOffsetPastEnd(t *testing.T) {
	store, _, _ := newTestCoreServices(t, DeviceInfo{Name: "ab"})

	var found *Attribute
	for h := uint16(1); h < 64; h++ {
		attr, ok := store.FindByHandle(h)
		if ok && attr.Type.Equal(uuidDeviceName) {
			found = attr
			break
		}
	}
	if found == nil {
		t.Fatalf("device name characteristic not found")
	}

	var gotCode byte
	found.DispatchRead(ReadRequest{Offset: 5}, func(v []byte, errCode byte) {
		gotCode = errCode
	})
	if gotCode != AttErrorInvalidOffset {
		t.Errorf("expected AttErrorInvalidOffset, got 0x%02x", gotCode)
	}
}

func TestCoreServicesAppearanceEncoding(t *testing.T) {
	store, _, _ := newTestCoreServices(t, DeviceInfo{Name: "x", Appearance: 0x03C1})

	var found *Attribute
	for h := uint16(1); h < 64; h++ {
		attr, ok := store.FindByHandle(h)
		if ok && attr.Type.Equal(uuidAppearance) {
			found = attr
			break
		}
	}
	if found == nil {
		t.Fatalf("appearance characteristic not found")
	}

	var value []byte
	found.DispatchRead(ReadRequest{Offset: 0}, func(v []byte, errCode byte) {
		value = v
	})
	if len(value) != 2 || value[0] != 0xC1 || value[1] != 0x03 {
		t.Errorf("appearance encoding: got %x want c1 03", value)
	}
}

func TestCoreServicesServiceChangedCCCRoundTrip(t *testing.T) {
	store, peers, factory := newTestCoreServices(t, DeviceInfo{Name: "x"})
	scHandle := factory.ServiceChangedHandle()
	if scHandle == 0 {
		t.Fatalf("service changed handle should be set after Install")
	}

	var cccAttr *Attribute
	for h := scHandle; h < scHandle+8; h++ {
		attr, ok := store.FindByHandle(h)
		if ok && attr.Type.Equal(uuidClientCharacteristicConfig) {
			cccAttr = attr
			break
		}
	}
	if cccAttr == nil {
		t.Fatalf("service changed CCC descriptor not found")
	}

	peer := testPeer(9)
	var writeCode byte
	cccAttr.DispatchWrite(WriteRequest{Peer: peer, Value: []byte{0x02, 0x00}}, func(errCode byte) {
		writeCode = errCode
	})
	if writeCode != 0 {
		t.Fatalf("unexpected write error 0x%02x", writeCode)
	}

	entry, ok := peers.GetOrCreate(peer).CccFind(scHandle)
	if !ok {
		t.Fatalf("CCC entry should exist after write")
	}
	if entry.Value[0]&cccIndicateBit == 0 {
		t.Errorf("indicate bit should be set after writing 0x0002")
	}

	var readValue []byte
	cccAttr.DispatchRead(ReadRequest{Peer: peer, Offset: 0}, func(v []byte, errCode byte) {
		readValue = v
	})
	if len(readValue) != 2 || readValue[0] != 0x02 {
		t.Errorf("CCC read-back: got %x want 02 00", readValue)
	}
}

func TestCoreServicesGAPNotRemovable(t *testing.T) {
	store := NewAttributeStore(nil)
	peers := NewPeerStateTable(nil)
	factory := NewCoreServiceFactory(nil, store, peers, NopSDPPublisher{}, DeviceInfo{Name: "x"})
	if err := factory.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	gapRef := ServiceRef{}
	for _, svc := range store.services {
		if svc.uuid.Equal(uuidGAP) {
			gapRef = ServiceRef{rec: svc}
		}
	}
	if !gapRef.valid() {
		t.Fatalf("GAP service should be installed")
	}
	if store.RemoveService(gapRef) {
		t.Errorf("core services must never be removable")
	}
}
