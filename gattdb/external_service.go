package gattdb

import "context"

// externalState is the lifecycle of one ExternalService registration
// (spec §4.4). It only ever moves forward.
type externalState int

const (
	stateRegistering externalState = iota
	stateRegistered
	stateDying
	stateDestroyed
)

func (s externalState) String() string {
	switch s {
	case stateRegistering:
		return "registering"
	case stateRegistered:
		return "registered"
	case stateDying:
		return "dying"
	case stateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ExternalService is the registry's record for one app-published GATT
// service (spec §4.4). It owns the ServiceRef(s) the app's object tree
// was turned into, plus whatever is needed to tear them down cleanly
// when the publisher disconnects or calls UnregisterService.
type ExternalService struct {
	PublisherID string
	ObjectPath  string

	state    externalState
	services []ServiceRef

	cancelWatch context.CancelFunc
}

func newExternalService(publisherID, objectPath string) *ExternalService {
	return &ExternalService{
		PublisherID: publisherID,
		ObjectPath:  objectPath,
		state:       stateRegistering,
	}
}

// key identifies a registration for the one-in-flight-per-(publisher,
// path) rule (spec §4.4).
type externalServiceKey struct {
	publisherID string
	objectPath  string
}

func (e *ExternalService) key() externalServiceKey {
	return externalServiceKey{publisherID: e.PublisherID, objectPath: e.ObjectPath}
}
