package gattdb

// Characteristic property byte bit positions, per the Bluetooth Core
// Spec's Characteristic Properties field (used in both the
// characteristic declaration value and Properties encode/decode).
const (
	propBroadcast byte = 1 << iota
	propRead
	propWriteCmd
	propWrite
	propNotify
	propIndicate
	propAuthSignedWrite
	propExtended
)

func encodeProps(p Properties) byte {
	var b byte
	if p.Read {
		b |= propRead
	}
	if p.Write {
		b |= propWrite
	}
	if p.WriteCmd {
		b |= propWriteCmd
	}
	if p.Notify {
		b |= propNotify
	}
	if p.Indicate {
		b |= propIndicate
	}
	return b
}

// encodeCharDecl builds the value of a characteristic declaration
// attribute: properties (1 byte) + value handle (2 bytes LE) + the
// characteristic's type UUID (2, 4 or 16 bytes).
func encodeCharDecl(props byte, valueHandle uint16, uuid UUID) []byte {
	out := make([]byte, 0, 3+uuid.Len())
	out = append(out, props, byte(valueHandle), byte(valueHandle>>8))
	out = append(out, uuid.b...)
	return out
}

// reserve allocates n contiguous handles from the tail of rec's
// reserved window, growing the window (and the store's global
// high-water mark) if rec is the most recently added service and its
// declared reservation is exhausted. Growing a service that is not the
// last one added would silently renumber a later service's handles, so
// that case is rejected instead: callers must fully build one service
// (all of its characteristics and descriptors) before starting the
// next AddService call.
func (s *AttributeStore) reserve(rec *serviceRecord, n int) ([]uint16, error) {
	nextFree := rec.start + uint16(len(rec.attrs))
	need := nextFree + uint16(n) - 1
	if need > rec.end {
		if !s.isLastService(rec) {
			return nil, &StructuralError{Reason: "service handle range exhausted; build services one at a time"}
		}
		grow := need - rec.end
		rec.end = need
		s.nextHandle += grow
	}
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = nextFree + uint16(i)
	}
	return out, nil
}

func (s *AttributeStore) isLastService(rec *serviceRecord) bool {
	return len(s.services) > 0 && s.services[len(s.services)-1] == rec
}

// validateCallbackPerms enforces spec §4.1's permission tie-break: a
// permission bit with no way to satisfy it is a configuration error
// caught at registration time, not a runtime ATT error.
func validateCallbackPerms(perms Permissions, onRead ReadFunc, onWrite WriteFunc) error {
	if (perms.Read || perms.ReadSecure) && onRead == nil {
		return &StructuralError{Reason: "read permission requested without a read handler"}
	}
	if (perms.Write || perms.WriteSecure) && onWrite == nil {
		return &StructuralError{Reason: "write permission requested without a write handler"}
	}
	return nil
}
