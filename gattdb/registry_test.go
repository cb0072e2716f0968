package gattdb

import (
	"context"
	"testing"
)

type fakeBus struct {
	tree     ExternalObjectTree
	enumErr  error
	watchers map[externalServiceKey]func()
}

func newFakeBus() *fakeBus {
	return &fakeBus{watchers: make(map[externalServiceKey]func())}
}

func (b *fakeBus) Enumerate(ctx context.Context, publisherID, objectPath string) (ExternalObjectTree, error) {
	if b.enumErr != nil {
		return ExternalObjectTree{}, b.enumErr
	}
	return b.tree, nil
}

func (b *fakeBus) WatchDisconnect(publisherID, objectPath string, onGone func()) func() {
	key := externalServiceKey{publisherID: publisherID, objectPath: objectPath}
	b.watchers[key] = onGone
	return func() { delete(b.watchers, key) }
}

func (b *fakeBus) fire(publisherID, objectPath string) {
	key := externalServiceKey{publisherID: publisherID, objectPath: objectPath}
	if fn, ok := b.watchers[key]; ok {
		fn()
	}
}

// nopIO is an ExternalAttributeIO that serves empty reads and accepts
// every write.
type nopIO struct{}

func (nopIO) ReadValue(ctx context.Context, offset int) ([]byte, error) { return nil, nil }

func (nopIO) WriteValue(ctx context.Context, offset int, value []byte) error { return nil }

func oneServiceTree(uuid UUID) ExternalObjectTree {
	return ExternalObjectTree{
		Services: []ExternalServiceNode{
			{
				ObjectPath: "/com/example/service0",
				UUID:       uuid,
				Primary:    true,
				Characteristics: []ExternalCharNode{
					{
						ObjectPath: "/com/example/service0/char0",
						UUID:       UUID16(0x2a37),
						Props:      Properties{Read: true},
						ReadWriter: nopIO{},
					},
				},
			},
		},
	}
}

func TestRegisterServiceInstallsAttributes(t *testing.T) {
	store := NewAttributeStore(nil)
	bus := newFakeBus()
	bus.tree = oneServiceTree(UUID16(0xfeed))
	reg := NewExternalServiceRegistry(nil, store, bus, InlineScheduler{})

	if err := reg.RegisterService(context.Background(), "com.example.App", "/com/example"); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	found := false
	for _, svc := range store.services {
		if svc.uuid.Equal(UUID16(0xfeed)) {
			found = true
		}
	}
	if !found {
		t.Errorf("registered service not present in store")
	}
}

func TestRegisterServiceRejectsDuplicate(t *testing.T) {
	store := NewAttributeStore(nil)
	bus := newFakeBus()
	bus.tree = oneServiceTree(UUID16(0xfeed))
	reg := NewExternalServiceRegistry(nil, store, bus, InlineScheduler{})

	if err := reg.RegisterService(context.Background(), "com.example.App", "/com/example"); err != nil {
		t.Fatalf("first RegisterService: %v", err)
	}
	err := reg.RegisterService(context.Background(), "com.example.App", "/com/example")
	if err == nil {
		t.Fatalf("expected AlreadyExists error on duplicate registration")
	}
	regErr, ok := err.(*RegistrationError)
	if !ok || regErr.Kind != AlreadyExists {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
}

func TestRegisterServiceRejectsReservedUUID(t *testing.T) {
	store := NewAttributeStore(nil)
	bus := newFakeBus()
	bus.tree = oneServiceTree(uuidGAP)
	reg := NewExternalServiceRegistry(nil, store, bus, InlineScheduler{})

	err := reg.RegisterService(context.Background(), "com.example.App", "/com/example")
	if err == nil {
		t.Fatalf("expected InvalidArgs rejecting the reserved GAP uuid")
	}
}

func TestUnregisterServiceRemovesAttributes(t *testing.T) {
	store := NewAttributeStore(nil)
	bus := newFakeBus()
	bus.tree = oneServiceTree(UUID16(0xfeed))
	reg := NewExternalServiceRegistry(nil, store, bus, InlineScheduler{})

	if err := reg.RegisterService(context.Background(), "com.example.App", "/com/example"); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if err := reg.UnregisterService("com.example.App", "/com/example"); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}
	if len(store.services) != 0 {
		t.Errorf("service should be gone from the store, found %d", len(store.services))
	}
}

func TestPublisherDisconnectTearsDownService(t *testing.T) {
	store := NewAttributeStore(nil)
	bus := newFakeBus()
	bus.tree = oneServiceTree(UUID16(0xfeed))
	reg := NewExternalServiceRegistry(nil, store, bus, InlineScheduler{})

	if err := reg.RegisterService(context.Background(), "com.example.App", "/com/example"); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	bus.fire("com.example.App", "/com/example")

	if len(store.services) != 0 {
		t.Errorf("service should be torn down after publisher disconnect, found %d", len(store.services))
	}
}
