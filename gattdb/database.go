package gattdb

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Database wires AttributeStore, PeerStateTable, CoreServiceFactory,
// ExternalServiceRegistry and ChangeNotifier into the single object a
// ServerEngine and a GattManager1 D-Bus export drive against (spec
// §2's system overview). It must be driven from one goroutine; see
// AttributeStore's doc comment.
type Database struct {
	log *logrus.Entry

	Store *AttributeStore
	Peers *PeerStateTable
	Core  *CoreServiceFactory
	Ext   *ExternalServiceRegistry
	Notif *ChangeNotifier
}

// New builds a Database and installs the core GAP/GATT services.
// WithServerEngine is required; New returns an error if it's missing.
func New(ctx context.Context, opts ...Option) (*Database, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.engine == nil {
		return nil, fmt.Errorf("gattdb: WithServerEngine is required")
	}

	log := logrus.NewEntry(cfg.log)
	store := NewAttributeStore(log)
	peers := NewPeerStateTable(log)
	core := NewCoreServiceFactory(log, store, peers, cfg.sdp, cfg.info)

	var bus PublisherBus
	if cfg.bus != nil {
		bus = cfg.bus
	} else {
		bus = noExternalServicesBus{}
	}
	ext := NewExternalServiceRegistry(log, store, bus, cfg.sched)
	notif := NewChangeNotifier(log, store, peers, cfg.engine)

	if err := core.Install(ctx); err != nil {
		return nil, fmt.Errorf("gattdb: installing core services: %w", err)
	}
	notif.Install(core.ServiceChangedHandle())

	return &Database{
		log:   log.WithField("component", "database"),
		Store: store,
		Peers: peers,
		Core:  core,
		Ext:   ext,
		Notif: notif,
	}, nil
}

// Close releases Database's resources. It does not remove external
// services; callers that want a clean shutdown should unregister every
// publisher first.
func (d *Database) Close() {
	d.Notif.Close()
}

// noExternalServicesBus is the PublisherBus used when no real bus is
// configured: every RegisterService call fails cleanly rather than the
// Database silently accepting apps it has no way to reach.
type noExternalServicesBus struct{}

func (noExternalServicesBus) Enumerate(ctx context.Context, publisherID, objectPath string) (ExternalObjectTree, error) {
	return ExternalObjectTree{}, fmt.Errorf("gattdb: no publisher bus configured")
}

func (noExternalServicesBus) WatchDisconnect(publisherID, objectPath string, onGone func()) func() {
	return func() {}
}
