package gattdb

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// notifyKind distinguishes the two ATT PDUs a characteristic value
// change can travel as.
type notifyKind int

const (
	notifyKindNotification notifyKind = iota
	notifyKindIndication
)

// ChangeNotifier fans characteristic value changes out to subscribed
// peers, and emits Service Changed indications whenever AttributeStore
// reports a structural mutation (spec §4.5). It is the only component
// that reads the Service Changed handle or CCC values to decide who to
// tell.
type ChangeNotifier struct {
	log    *logrus.Entry
	store  *AttributeStore
	peers  *PeerStateTable
	engine ServerEngine

	serviceChangedHandle uint16
	obsID                ObserverID
}

// NewChangeNotifier builds a notifier that does not yet observe the
// store. Install registers it as an AttributeStore observer and takes
// CoreServiceFactory's ServiceChangedHandle(); the notifier is useless
// without that handle, so Install must run after the core services are
// built.
func NewChangeNotifier(log *logrus.Entry, store *AttributeStore, peers *PeerStateTable, engine ServerEngine) *ChangeNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChangeNotifier{
		log:    log.WithField("component", "changenotifier"),
		store:  store,
		peers:  peers,
		engine: engine,
	}
}

// Install subscribes to store mutations. Call once, after
// CoreServiceFactory.Install.
func (n *ChangeNotifier) Install(serviceChangedHandle uint16) {
	n.serviceChangedHandle = serviceChangedHandle
	n.obsID = n.store.RegisterObserver(n.onServiceAdded, n.onServiceRemoved)
}

// Close unregisters the observer.
func (n *ChangeNotifier) Close() {
	n.store.UnregisterObserver(n.obsID)
}

func (n *ChangeNotifier) onServiceAdded(start, end uint16) {
	n.broadcastServiceChanged(start, end)
}

func (n *ChangeNotifier) onServiceRemoved(start, end uint16) {
	n.peers.RemoveCCCInRange(start, end)
	n.broadcastServiceChanged(start, end)
}

func (n *ChangeNotifier) broadcastServiceChanged(start, end uint16) {
	if n.serviceChangedHandle == 0 {
		return
	}
	value := make([]byte, 4)
	binary.LittleEndian.PutUint16(value[0:2], start)
	binary.LittleEndian.PutUint16(value[2:4], end)

	n.peers.ForEachPeer(func(p *PeerState) {
		entry, ok := p.CccFind(n.serviceChangedHandle)
		if !ok || !entry.Subscribed() {
			return
		}
		n.notify(p.Key, n.serviceChangedHandle, value, notifyKindIndication, nil)
	})
}

// Notify sends a characteristic value change, as the PDU kind the
// caller asks for, to every peer whose CCC entry for handle has the
// matching bit set (bit 0 for notifyKindNotification, bit 1 for
// notifyKindIndication). A peer subscribed to the other kind only is
// skipped, not opportunistically upgraded or downgraded. Failures for
// one peer are logged and do not stop delivery to the rest (spec §4.5
// partial-failure isolation).
func (n *ChangeNotifier) Notify(handle uint16, value []byte, kind notifyKind, confirmed func(peer PeerKey, err error)) {
	bit := byte(cccNotifyBit)
	if kind == notifyKindIndication {
		bit = cccIndicateBit
	}
	n.peers.ForEachPeer(func(p *PeerState) {
		entry, ok := p.CccFind(handle)
		if !ok || entry.Value[0]&bit == 0 {
			return
		}
		peer := p.Key
		n.notify(peer, handle, value, kind, func(err error) {
			if confirmed != nil {
				confirmed(peer, err)
			}
		})
	})
}

func (n *ChangeNotifier) notify(peer PeerKey, handle uint16, value []byte, kind notifyKind, confirmed func(error)) {
	if kind == notifyKindNotification {
		if err := n.engine.Notify(peer, handle, value); err != nil {
			n.log.WithError(err).WithField("peer", peer).Warn("notification delivery failed")
		}
		return
	}
	n.engine.Indicate(peer, handle, value, func(err error) {
		if err != nil {
			n.log.WithError(err).WithField("peer", peer).Warn("indication delivery failed")
		}
		if confirmed != nil {
			confirmed(err)
		}
	})
}
