package gattdb

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExternalServiceRegistry is the GattManager1 backend (spec §4.4): it
// turns RegisterService/UnregisterService D-Bus calls into
// AttributeStore mutations, and tears a publisher's services down
// again if it disappears mid-flight or after registering.
type ExternalServiceRegistry struct {
	log   *logrus.Entry
	store *AttributeStore
	bus   PublisherBus
	sched Scheduler

	byKey map[externalServiceKey]*ExternalService
}

// NewExternalServiceRegistry wires a registry against store. bus
// supplies the D-Bus-shaped collaborator calls; sched is almost always
// the real event loop scheduler, InlineScheduler only in tests that
// don't care about turn ordering.
func NewExternalServiceRegistry(log *logrus.Entry, store *AttributeStore, bus PublisherBus, sched Scheduler) *ExternalServiceRegistry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if sched == nil {
		sched = InlineScheduler{}
	}
	return &ExternalServiceRegistry{
		log:   log.WithField("component", "externalregistry"),
		store: store,
		bus:   bus,
		sched: sched,
		byKey: make(map[externalServiceKey]*ExternalService),
	}
}

// RegisterService implements GattManager1.RegisterService (spec §6).
// It enumerates the publisher's object tree, validates it, installs it
// into the AttributeStore, and arranges to tear it down again if the
// publisher later disappears. It returns synchronously once the
// service is active; there is no asynchronous success path, only
// asynchronous failure (publisher disconnects later).
func (r *ExternalServiceRegistry) RegisterService(ctx context.Context, publisherID, objectPath string) error {
	if !strings.HasPrefix(objectPath, "/") {
		return newInvalidArgs("object path %s is not absolute", objectPath)
	}

	key := externalServiceKey{publisherID: publisherID, objectPath: objectPath}
	if _, exists := r.byKey[key]; exists {
		return newAlreadyExists("service %s already registered for %s", objectPath, publisherID)
	}

	tree, err := r.bus.Enumerate(ctx, publisherID, objectPath)
	if err != nil {
		return newFailed("failed to enumerate object tree: %v", err)
	}
	if len(tree.Services) == 0 {
		return newInvalidArgs("object %s has no GattService1 descendants", objectPath)
	}

	ext := newExternalService(publisherID, objectPath)
	r.byKey[key] = ext

	for _, node := range tree.Services {
		if node.UUID.Equal(uuidGAP) || node.UUID.Equal(uuidGATT) {
			delete(r.byKey, key)
			return newInvalidArgs("cannot register reserved service uuid %s", node.UUID)
		}

		reserved := estimateReservation(node)
		ref := r.store.AddService(node.UUID, node.Primary, reserved)
		ref.rec.owner = ServiceOwner{External: true, PublisherID: publisherID}

		for _, ch := range node.Characteristics {
			onRead, onWrite := r.bridgeChar(ch)
			_, err := r.store.AddCharacteristic(ref, ch.UUID, propsToPerms(ch.Props), ch.Props, onRead, onWrite)
			if err != nil {
				r.store.RemoveService(ref)
				delete(r.byKey, key)
				return newFailed("characteristic %s: %v", ch.ObjectPath, err)
			}
			for _, d := range ch.Descriptors {
				dOnRead, dOnWrite := r.bridgeDesc(d)
				if _, err := r.store.AddDescriptor(ref, d.UUID, d.Perms, dOnRead, dOnWrite); err != nil {
					r.store.RemoveService(ref)
					delete(r.byKey, key)
					return newFailed("descriptor %s: %v", d.ObjectPath, err)
				}
			}
		}

		r.store.SetActive(ref, true)
		ext.services = append(ext.services, ref)
	}

	ext.state = stateRegistered
	ext.cancelWatch = r.bus.WatchDisconnect(publisherID, objectPath, func() {
		r.onPublisherGone(key)
	})

	r.log.WithFields(logrus.Fields{"publisher": publisherID, "path": objectPath}).Info("external service registered")
	return nil
}

// UnregisterService implements GattManager1.UnregisterService.
func (r *ExternalServiceRegistry) UnregisterService(publisherID, objectPath string) error {
	key := externalServiceKey{publisherID: publisherID, objectPath: objectPath}
	ext, ok := r.byKey[key]
	if !ok {
		return newInvalidArgs("no such registered service %s for %s", objectPath, publisherID)
	}
	r.tearDown(key, ext)
	return nil
}

// onPublisherGone is the WatchDisconnect callback: the publisher
// dropped off the bus or removed the object after its registration
// completed (the watch is installed only once RegisterService has
// succeeded). Teardown
// is deferred one scheduler turn so that anything currently iterating
// ext (e.g. a D-Bus method call already in flight against one of its
// attributes) observes a consistent world for the rest of its own
// turn, per spec §9's note on breaking this ownership cycle.
func (r *ExternalServiceRegistry) onPublisherGone(key externalServiceKey) {
	ext, ok := r.byKey[key]
	if !ok || ext.state == stateDying || ext.state == stateDestroyed {
		return
	}
	ext.state = stateDying
	r.sched.DeferNextTurn(func() {
		r.tearDown(key, ext)
	})
}

func (r *ExternalServiceRegistry) tearDown(key externalServiceKey, ext *ExternalService) {
	if ext.state == stateDestroyed {
		return
	}
	if ext.cancelWatch != nil {
		ext.cancelWatch()
	}
	for _, ref := range ext.services {
		r.store.RemoveService(ref)
	}
	ext.state = stateDestroyed
	delete(r.byKey, key)
	r.log.WithFields(logrus.Fields{"publisher": ext.PublisherID, "path": ext.ObjectPath}).Info("external service torn down")
}

func estimateReservation(node ExternalServiceNode) int {
	n := 0
	for _, ch := range node.Characteristics {
		n += 2 + len(ch.Descriptors)
	}
	return n
}

func propsToPerms(p Properties) Permissions {
	return Permissions{Read: p.Read, Write: p.Write || p.WriteCmd}
}

// bridgeChar adapts a D-Bus-backed characteristic's ReadValue/
// WriteValue into the store's ReadFunc/WriteFunc shape. The D-Bus call
// happens off the event loop goroutine; the reply is handed back to
// the loop via the scheduler so AttributeStore is never touched from
// two goroutines at once.
func (r *ExternalServiceRegistry) bridgeChar(ch ExternalCharNode) (ReadFunc, WriteFunc) {
	if ch.ReadWriter == nil {
		return nil, nil
	}
	return r.bridgeIO(ch.ReadWriter, ch.Props.Read, ch.Props.Write || ch.Props.WriteCmd)
}

func (r *ExternalServiceRegistry) bridgeDesc(d ExternalDescNode) (ReadFunc, WriteFunc) {
	if d.ReadWriter == nil {
		return nil, nil
	}
	return r.bridgeIO(d.ReadWriter, d.Perms.Read || d.Perms.ReadSecure, d.Perms.Write || d.Perms.WriteSecure)
}

func (r *ExternalServiceRegistry) bridgeIO(io ExternalAttributeIO, readable, writable bool) (ReadFunc, WriteFunc) {
	var onRead ReadFunc
	var onWrite WriteFunc

	if readable {
		onRead = func(req ReadRequest, reply ReadReplySink) {
			go func() {
				value, err := io.ReadValue(context.Background(), req.Offset)
				r.sched.DeferNextTurn(func() {
					if err != nil {
						reply.Reply(nil, AttErrorUnlikely)
						return
					}
					reply.Reply(value, 0)
				})
			}()
		}
	}
	if writable {
		onWrite = func(req WriteRequest, reply WriteReplySink) {
			go func() {
				err := io.WriteValue(context.Background(), req.Offset, req.Value)
				r.sched.DeferNextTurn(func() {
					if err != nil {
						reply.Reply(AttErrorUnlikely)
						return
					}
					reply.Reply(0)
				})
			}()
		}
	}
	return onRead, onWrite
}
