package gattdb

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestID is the opaque token a callback-backed read or write must
// echo back through its reply sink. It exists so that ServerEngine can
// serve reads from asynchronous sources (spec §4.1) without the core
// needing a global callback table: the reply sink closes over the
// request directly, and RequestID is only there for correlating logs.
type RequestID struct{ id uuid.UUID }

func newRequestID() RequestID { return RequestID{id: uuid.New()} }

func (r RequestID) String() string { return r.id.String() }

// ObserverID identifies a registered AttributeStore observer, returned
// by RegisterObserver for later use with UnregisterObserver.
type ObserverID int

type observerReg struct {
	id        ObserverID
	onAdded   func(start, end uint16)
	onRemoved func(start, end uint16)
}

// AttributeStore is the adapter's live, mutable attribute table (spec
// §4.1). It is not safe for concurrent use: per §5, the core runs on a
// single-threaded cooperative event loop, and every AttributeStore
// method must be called from that loop.
type AttributeStore struct {
	log *logrus.Entry

	nextHandle uint16
	attrs      map[uint16]*Attribute
	services   []*serviceRecord

	observers  []observerReg
	nextObsID  ObserverID
}

// NewAttributeStore creates an empty store. Handles are assigned
// starting at 1, per the ATT spec's reserved handle 0.
func NewAttributeStore(log *logrus.Entry) *AttributeStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AttributeStore{
		log:        log.WithField("component", "attributestore"),
		nextHandle: 1,
		attrs:      make(map[uint16]*Attribute),
	}
}

// AddService reserves a new service range. reservedHandles hints how
// many characteristic/descriptor handles the caller expects to need
// beyond the declaration attribute itself; the store rounds up to fit
// the declared structure if more are used (see reserve).
func (s *AttributeStore) AddService(typeUUID UUID, primary bool, reservedHandles int) ServiceRef {
	if reservedHandles < 0 {
		reservedHandles = 0
	}

	start := s.nextHandle
	capHandles := uint16(reservedHandles) + 1
	end := start + capHandles - 1

	rec := &serviceRecord{
		uuid:    typeUUID,
		primary: primary,
		start:   start,
		end:     end,
	}

	declType := uuidSecondaryService
	if primary {
		declType = uuidPrimaryService
	}
	decl := &Attribute{
		Handle:  start,
		Type:    declType,
		Perms:   Permissions{Read: true},
		kind:    attrKindInline,
		value:   append([]byte(nil), typeUUID.b...),
		service: rec,
	}
	rec.declAttr = decl
	rec.attrs = append(rec.attrs, decl)

	s.attrs[start] = decl
	s.services = append(s.services, rec)
	s.nextHandle = end + 1

	s.log.WithFields(logrus.Fields{"uuid": typeUUID, "start": start, "end": end}).
		Debug("service reserved")

	return ServiceRef{rec: rec}
}

// AddCharacteristic adds a characteristic declaration and value
// attribute to ref's service, returning a reference to the value
// attribute (the one peers read/write/subscribe to). onRead/onWrite
// may be nil if the corresponding Permissions bit is clear.
func (s *AttributeStore) AddCharacteristic(ref ServiceRef, typeUUID UUID, perms Permissions, props Properties, onRead ReadFunc, onWrite WriteFunc) (AttrRef, error) {
	if !ref.valid() {
		return AttrRef{}, &StructuralError{Reason: "service reference is invalid"}
	}
	if err := validateCallbackPerms(perms, onRead, onWrite); err != nil {
		return AttrRef{}, err
	}

	rec := ref.rec
	handles, err := s.reserve(rec, 2)
	if err != nil {
		return AttrRef{}, err
	}
	declHandle, valueHandle := handles[0], handles[1]

	decl := &Attribute{
		Handle:  declHandle,
		Type:    uuidCharacteristic,
		Perms:   Permissions{Read: true},
		kind:    attrKindInline,
		value:   encodeCharDecl(encodeProps(props), valueHandle, typeUUID),
		service: rec,
	}
	value := &Attribute{
		Handle:  valueHandle,
		Type:    typeUUID,
		Perms:   perms,
		kind:    attrKindCallback,
		onRead:  onRead,
		onWrite: onWrite,
		service: rec,
	}

	s.attrs[declHandle] = decl
	s.attrs[valueHandle] = value
	rec.attrs = append(rec.attrs, decl, value)

	s.log.WithFields(logrus.Fields{"uuid": typeUUID, "handle": valueHandle}).
		Debug("characteristic added")

	return AttrRef{attr: value}, nil
}

// AddDescriptor adds a descriptor attribute to ref's service.
func (s *AttributeStore) AddDescriptor(ref ServiceRef, typeUUID UUID, perms Permissions, onRead ReadFunc, onWrite WriteFunc) (AttrRef, error) {
	if !ref.valid() {
		return AttrRef{}, &StructuralError{Reason: "service reference is invalid"}
	}
	if err := validateCallbackPerms(perms, onRead, onWrite); err != nil {
		return AttrRef{}, err
	}

	rec := ref.rec
	handles, err := s.reserve(rec, 1)
	if err != nil {
		return AttrRef{}, err
	}
	h := handles[0]

	attr := &Attribute{
		Handle:  h,
		Type:    typeUUID,
		Perms:   perms,
		kind:    attrKindCallback,
		onRead:  onRead,
		onWrite: onWrite,
		service: rec,
	}
	s.attrs[h] = attr
	rec.attrs = append(rec.attrs, attr)

	s.log.WithFields(logrus.Fields{"uuid": typeUUID, "handle": h}).
		Debug("descriptor added")

	return AttrRef{attr: attr}, nil
}

// SetActive marks ref's service active or inactive. Only active
// services are exposed to remote peers (spec §3). Transitioning from
// inactive to active fires the "service added" observer callback;
// per spec §5 that happens only once the service is fully visible in
// the store.
func (s *AttributeStore) SetActive(ref ServiceRef, active bool) {
	if !ref.valid() {
		return
	}
	rec := ref.rec
	wasActive := rec.active
	rec.active = active
	if active && !wasActive {
		s.log.WithFields(logrus.Fields{"start": rec.start, "end": rec.end}).Debug("service activated")
		s.notifyAdded(rec.start, rec.end)
	}
}

// RemoveService deletes ref's service and all its attributes. It is a
// no-op (and logs a warning) for core services, which spec invariant 4
// requires to be present for the database's entire lifetime.
func (s *AttributeStore) RemoveService(ref ServiceRef) bool {
	if !ref.valid() {
		return false
	}
	rec := ref.rec
	if !rec.owner.External {
		s.log.Warn("refusing to remove core service")
		return false
	}

	for _, i := range indexRange(rec.start, rec.end) {
		delete(s.attrs, i)
	}
	for i, svc := range s.services {
		if svc == rec {
			s.services = append(s.services[:i], s.services[i+1:]...)
			break
		}
	}
	rec.removed = true

	s.log.WithFields(logrus.Fields{"start": rec.start, "end": rec.end}).Debug("service removed")
	s.notifyRemoved(rec.start, rec.end)
	return true
}

func indexRange(start, end uint16) []uint16 {
	out := make([]uint16, 0, int(end-start)+1)
	for h := start; h <= end; h++ {
		out = append(out, h)
		if h == 0xFFFF { // guard against overflow wraparound
			break
		}
	}
	return out
}

// FindByHandle looks up an attribute by handle.
func (s *AttributeStore) FindByHandle(h uint16) (*Attribute, bool) {
	a, ok := s.attrs[h]
	return a, ok
}

// ServiceRange returns the (start, end) handle range of ref.
func (s *AttributeStore) ServiceRange(ref ServiceRef) (start, end uint16) {
	if !ref.valid() {
		return 0, 0
	}
	return ref.rec.start, ref.rec.end
}

// RegisterObserver subscribes to structural mutations. onAdded is
// called when a service transitions to active; onRemoved is called
// after a service has been fully removed from the store.
func (s *AttributeStore) RegisterObserver(onAdded, onRemoved func(start, end uint16)) ObserverID {
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observerReg{id: id, onAdded: onAdded, onRemoved: onRemoved})
	return id
}

// UnregisterObserver removes a previously registered observer.
func (s *AttributeStore) UnregisterObserver(id ObserverID) {
	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *AttributeStore) notifyAdded(start, end uint16) {
	for _, o := range s.observers {
		if o.onAdded != nil {
			o.onAdded(start, end)
		}
	}
}

func (s *AttributeStore) notifyRemoved(start, end uint16) {
	for _, o := range s.observers {
		if o.onRemoved != nil {
			o.onRemoved(start, end)
		}
	}
}

// DispatchRead invokes a's read handler (or serves its inline value
// directly) and calls complete exactly once with the resulting value
// and ATT status. It reports false if a has no way to serve a read at
// all, leaving it to the caller (ServerEngine) to produce the
// appropriate ATT error.
func (a *Attribute) DispatchRead(req ReadRequest, complete func(value []byte, errCode byte)) bool {
	if a.kind == attrKindInline {
		if !a.Perms.Read {
			return false
		}
		value, errCode := sliceAtOffset(a.value, req.Offset)
		complete(value, errCode)
		return true
	}
	if a.onRead == nil {
		return false
	}
	sink := &readReplySink{id: newRequestID(), complete: complete}
	a.onRead(req, sink)
	return true
}

// DispatchWrite invokes a's write handler and calls complete exactly
// once with the resulting ATT status. It reports false if a has no
// write handler.
func (a *Attribute) DispatchWrite(req WriteRequest, complete func(errCode byte)) bool {
	if a.kind == attrKindInline || a.onWrite == nil {
		return false
	}
	sink := &writeReplySink{id: newRequestID(), complete: complete}
	a.onWrite(req, sink)
	return true
}

func sliceAtOffset(value []byte, offset int) ([]byte, byte) {
	if offset > len(value) {
		return nil, AttErrorInvalidOffset
	}
	return value[offset:], 0
}

type readReplySink struct {
	id       RequestID
	done     bool
	complete func(value []byte, errCode byte)
}

func (s *readReplySink) Reply(value []byte, errCode byte) {
	if s.done {
		return
	}
	s.done = true
	s.complete(value, errCode)
}

func (s *readReplySink) RequestID() RequestID { return s.id }

type writeReplySink struct {
	id       RequestID
	done     bool
	complete func(errCode byte)
}

func (s *writeReplySink) Reply(errCode byte) {
	if s.done {
		return
	}
	s.done = true
	s.complete(errCode)
}

func (s *writeReplySink) RequestID() RequestID { return s.id }
