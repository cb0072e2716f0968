package gattdb

import "context"

// TransportListener is the collaborator that actually speaks ATT over
// L2CAP to remote peers (spec §6). The core never touches sockets
// directly; it only ever sees reads/writes already demultiplexed down
// to a specific Attribute via DispatchRead/DispatchWrite.
type TransportListener interface {
	// LocalAddress is the adapter's own address, used to answer GAP
	// reads that need it (none currently do, but kept for parity with
	// the collaborator's other duties).
	LocalAddress() Address
}

// ServerEngine is the collaborator that serves the ATT protocol state
// machine against an AttributeStore (spec §6). It owns MTU negotiation,
// PDU framing and the ATT error-response mapping; the core only
// supplies the data and dispatch hooks.
type ServerEngine interface {
	// Mtu returns the negotiated ATT_MTU for a connected peer, or 23
	// (the default) if the peer is unknown.
	Mtu(peer PeerKey) uint16

	// Notify sends an unacknowledged ATT Handle Value Notification for
	// handle to peer. Errors (peer not connected, PDU too large for the
	// negotiated MTU) are the caller's to log and swallow; notify is
	// fire-and-forget by definition.
	Notify(peer PeerKey, handle uint16, value []byte) error

	// Indicate sends an ATT Handle Value Indication and calls confirmed
	// once the peer's confirmation arrives (or with a non-nil error if
	// it times out or the peer disconnects first).
	Indicate(peer PeerKey, handle uint16, value []byte, confirmed func(error))
}

// SDPPublisher publishes legacy SDP service records for services that
// need BR/EDR discoverability alongside their GATT presence (spec's
// supplemented SDP behavior; BlueZ's gatt-database.c calls this
// gatt_db_attribute_get_service_uuid + bt_sdp logic internally). Core
// services publish through this at startup; external services do not
// use it, matching upstream's behavior of only auto-publishing SDP
// records for the GAP and GATT core services.
type SDPPublisher interface {
	PublishService(ctx context.Context, uuid UUID) (recordHandle uint32, err error)
	UnpublishService(ctx context.Context, recordHandle uint32) error
}

// NopSDPPublisher is an SDPPublisher that does nothing, for
// configurations (or tests) that don't need BR/EDR discoverability.
type NopSDPPublisher struct{}

func (NopSDPPublisher) PublishService(ctx context.Context, uuid UUID) (uint32, error) {
	return 0, nil
}

func (NopSDPPublisher) UnpublishService(ctx context.Context, recordHandle uint32) error {
	return nil
}

// Scheduler defers work to a later turn of the single-threaded event
// loop (spec §9's design note on breaking the ExternalService teardown
// cycle: the equivalent of BlueZ's g_idle_add in gatt-database.c).
// DeferNextTurn may be called from another goroutine
// (ExternalServiceRegistry's D-Bus bridge calls it from the goroutine
// that made the D-Bus call); an implementation runs the function on the
// loop, not reentrantly from within the call that scheduled it.
type Scheduler interface {
	DeferNextTurn(func())
}

// InlineScheduler runs deferred work immediately, on the calling
// goroutine. It is useful for
// tests that don't drive a real event loop and don't depend on the
// one-turn delay being observable.
type InlineScheduler struct{}

func (InlineScheduler) DeferNextTurn(fn func()) { fn() }

// PublisherBus abstracts the D-Bus calls ExternalServiceRegistry needs
// to make against an app's published object tree (spec §4.4): walking
// it via ObjectManager, and finding out when the app goes away. The
// production implementation lives in the dbus subpackage; tests use a
// fake.
type PublisherBus interface {
	// Enumerate returns the managed-object tree rooted at objectPath on
	// publisherID, already decoded into the shape AddExternalService
	// needs. The production implementation calls
	// org.freedesktop.DBus.ObjectManager.GetManagedObjects.
	Enumerate(ctx context.Context, publisherID, objectPath string) (ExternalObjectTree, error)

	// WatchDisconnect calls onGone exactly once, the first time
	// publisherID drops off the bus (NameOwnerChanged to no owner) or
	// objectPath disappears from its tree (InterfacesRemoved). It
	// returns a cancel function to stop watching early.
	WatchDisconnect(publisherID, objectPath string, onGone func()) (cancel func())
}

// ExternalObjectTree is the decoded shape of one app's published GATT
// hierarchy: services, each with their characteristics and descriptors,
// keyed by D-Bus object path.
type ExternalObjectTree struct {
	Services []ExternalServiceNode
}

// ExternalServiceNode is one GattService1 object and everything nested
// under it.
type ExternalServiceNode struct {
	ObjectPath string
	UUID       UUID
	Primary    bool
	Characteristics []ExternalCharNode
}

// ExternalCharNode is one GattCharacteristic1 object.
type ExternalCharNode struct {
	ObjectPath  string
	UUID        UUID
	Props       Properties
	Descriptors []ExternalDescNode
	ReadWriter  ExternalAttributeIO
}

// ExternalDescNode is one GattDescriptor1 object.
type ExternalDescNode struct {
	ObjectPath string
	UUID       UUID
	Perms      Permissions
	ReadWriter ExternalAttributeIO
}

// ExternalAttributeIO forwards a read/write to the remote app over
// D-Bus, returning once the app's ReadValue/WriteValue method call
// completes. It is the bridge between AttributeStore's ReadFunc/
// WriteFunc shape and an asynchronous D-Bus method call.
type ExternalAttributeIO interface {
	ReadValue(ctx context.Context, offset int) ([]byte, error)
	WriteValue(ctx context.Context, offset int, value []byte) error
}
