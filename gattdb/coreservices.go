package gattdb

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DeviceInfo supplies the static values the GAP service serves. It is
// provided by the caller rather than hardcoded, since the adapter name
// and appearance are configuration, not core behavior.
type DeviceInfo struct {
	Name       string
	Appearance uint16
}

// CoreServiceFactory installs the two mandatory services every GATT
// server must expose (spec §4.3): GAP (0x1800, Device Name and
// Appearance) and GATT (0x1801, Service Changed). Both are installed
// active and are never removable (AttributeStore.RemoveService refuses
// non-external services).
type CoreServiceFactory struct {
	log   *logrus.Entry
	store *AttributeStore
	peers *PeerStateTable
	sdp   SDPPublisher
	info  DeviceInfo

	serviceChangedHandle uint16
}

// NewCoreServiceFactory does not itself touch the store; call Install
// to build the services once the database is otherwise ready.
func NewCoreServiceFactory(log *logrus.Entry, store *AttributeStore, peers *PeerStateTable, sdp SDPPublisher, info DeviceInfo) *CoreServiceFactory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if sdp == nil {
		sdp = NopSDPPublisher{}
	}
	return &CoreServiceFactory{
		log:   log.WithField("component", "coreservices"),
		store: store,
		peers: peers,
		sdp:   sdp,
		info:  info,
	}
}

// Install builds and activates the GAP and GATT services.
func (f *CoreServiceFactory) Install(ctx context.Context) error {
	f.installGAP()
	f.installGATT()

	if _, err := f.sdp.PublishService(ctx, uuidGAP); err != nil {
		f.log.WithError(err).Warn("sdp publish failed for GAP service")
	}
	if _, err := f.sdp.PublishService(ctx, uuidGATT); err != nil {
		f.log.WithError(err).Warn("sdp publish failed for GATT service")
	}
	return nil
}

// ServiceChangedHandle returns the value handle of the Service Changed
// characteristic, used by ChangeNotifier to address indications.
func (f *CoreServiceFactory) ServiceChangedHandle() uint16 { return f.serviceChangedHandle }

func (f *CoreServiceFactory) installGAP() {
	ref := f.store.AddService(uuidGAP, true, 4)
	ref.rec.owner = ServiceOwner{External: false}

	nameRead := func(req ReadRequest, reply ReadReplySink) {
		name := f.info.Name
		if req.Offset > len(name) {
			reply.Reply(nil, AttErrorInvalidOffset)
			return
		}
		reply.Reply([]byte(name[req.Offset:]), 0)
	}
	if _, err := f.store.AddCharacteristic(ref, uuidDeviceName, Permissions{Read: true}, Properties{Read: true}, nameRead, nil); err != nil {
		f.log.WithError(err).Error("failed to install device name characteristic")
	}

	appearanceRead := func(req ReadRequest, reply ReadReplySink) {
		value := encodeAppearance(f.info.Appearance)
		v, errCode := sliceAtOffset(value, req.Offset)
		reply.Reply(v, errCode)
	}
	if _, err := f.store.AddCharacteristic(ref, uuidAppearance, Permissions{Read: true}, Properties{Read: true}, appearanceRead, nil); err != nil {
		f.log.WithError(err).Error("failed to install appearance characteristic")
	}

	f.store.SetActive(ref, true)
}

// encodeAppearance packs a GAP Appearance value into its 2-byte LE wire
// form: the low byte as is, then bits 8-12 in the low 5 bits of the
// second byte. The top 3 bits of the second byte are always zero.
func encodeAppearance(appearance uint16) []byte {
	return []byte{byte(appearance), byte(appearance>>8) & 0x1f}
}

func (f *CoreServiceFactory) installGATT() {
	ref := f.store.AddService(uuidGATT, true, 2)
	ref.rec.owner = ServiceOwner{External: false}

	scRead := func(req ReadRequest, reply ReadReplySink) {
		reply.Reply(nil, AttErrorUnlikely)
	}
	attr, err := f.store.AddCharacteristic(ref, uuidServiceChngd, Permissions{}, Properties{Indicate: true}, scRead, nil)
	if err != nil {
		f.log.WithError(err).Error("failed to install service changed characteristic")
		f.store.SetActive(ref, true)
		return
	}
	f.serviceChangedHandle = attr.Handle()

	valueHandle := attr.Handle()
	cccRead := func(req ReadRequest, reply ReadReplySink) {
		entry := f.peers.GetOrCreate(req.Peer).CccGetOrCreate(valueHandle)
		v, errCode := sliceAtOffset(entry.Value[:], req.Offset)
		reply.Reply(v, errCode)
	}
	cccWrite := func(req WriteRequest, reply WriteReplySink) {
		if req.Offset > 2 {
			reply.Reply(AttErrorInvalidOffset)
			return
		}
		if len(req.Value) != 2 {
			reply.Reply(AttErrorInvalidAttributeValueLen)
			return
		}
		entry := f.peers.GetOrCreate(req.Peer).CccGetOrCreate(valueHandle)
		entry.Value[0], entry.Value[1] = req.Value[0], req.Value[1]
		reply.Reply(0)
	}
	if _, err := f.store.AddDescriptor(ref, uuidClientCharacteristicConfig, Permissions{Read: true, Write: true}, cccRead, cccWrite); err != nil {
		f.log.WithError(err).Error("failed to install service changed CCC descriptor")
	}

	f.store.SetActive(ref, true)
}
