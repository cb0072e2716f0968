package gattdb

// ServiceOwner identifies who owns a service range: the core itself
// (GAP/GATT, never removable) or an external publisher.
type ServiceOwner struct {
	External    bool
	PublisherID string // valid iff External
}

// serviceRecord is the store's bookkeeping for one service range (spec
// §3 "Service"). Declaration, characteristic and descriptor attributes
// that belong to the service all fall within [start, end].
type serviceRecord struct {
	uuid     UUID
	primary  bool
	active   bool
	owner    ServiceOwner
	start    uint16
	end      uint16 // inclusive; grows if the declared structure needs more handles than reserved
	declAttr *Attribute
	attrs    []*Attribute // all attributes in the range, in handle order
	removed  bool
}

// ServiceRef identifies a service previously created with AddService.
// It is opaque and becomes invalid after RemoveService.
type ServiceRef struct {
	rec *serviceRecord
}

func (r ServiceRef) valid() bool { return r.rec != nil && !r.rec.removed }

// AttrRef identifies a single characteristic or descriptor attribute
// created with AddCharacteristic/AddDescriptor.
type AttrRef struct {
	attr *Attribute
}

// Handle returns the attribute's handle.
func (r AttrRef) Handle() uint16 { return r.attr.Handle }
