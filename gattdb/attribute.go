package gattdb

// MaxValueLen is the largest inline value an attribute may carry
// (spec §3, "up to 512 bytes").
const MaxValueLen = 512

// Permissions describes the access control requirements of an
// attribute, independent of its GATT characteristic properties.
type Permissions struct {
	Read        bool
	Write       bool
	ReadSecure  bool // requires authentication/encryption to read
	WriteSecure bool
}

// Properties are the GATT characteristic property bits relevant to the
// core (spec §4.3's Service Changed is INDICATE-only; custom
// characteristics may combine these freely).
type Properties struct {
	Read     bool
	Write    bool
	WriteCmd bool // write-without-response
	Notify   bool
	Indicate bool
}

// ReadFunc materializes an attribute's value on demand. It is invoked
// with the offset requested by the peer and must reply exactly once,
// synchronously or later, via reply. See RequestID's doc comment for
// why this indirection exists.
type ReadFunc func(req ReadRequest, reply ReadReplySink)

// WriteFunc handles an incoming write. It must reply exactly once via
// reply.
type WriteFunc func(req WriteRequest, reply WriteReplySink)

// ReadRequest is the context passed to a ReadFunc.
type ReadRequest struct {
	Peer   PeerKey
	Handle uint16
	Offset int
}

// WriteRequest is the context passed to a WriteFunc.
type WriteRequest struct {
	Peer   PeerKey
	Handle uint16
	Offset int
	Value  []byte
}

// ReadReplySink is the reply-sink half of a callback-backed read. The
// request-id is implicit in the closure identity; callers that need an
// explicit token (e.g. to correlate logs) can use RequestID().
type ReadReplySink interface {
	// Reply completes the read with the given value (already sliced to
	// the requested offset) and ATT status. A non-zero errCode means
	// value is ignored.
	Reply(value []byte, errCode byte)
	RequestID() RequestID
}

// WriteReplySink is the reply-sink half of a callback-backed write.
type WriteReplySink interface {
	Reply(errCode byte)
	RequestID() RequestID
}

// attrKind distinguishes how an attribute's value is produced.
type attrKind int

const (
	attrKindInline attrKind = iota
	attrKindCallback
)

// Attribute is the atomic element of the database (spec §3). Handles
// are assigned by AttributeStore and are stable for the attribute's
// lifetime.
type Attribute struct {
	Handle uint16
	Type   UUID
	Perms  Permissions

	kind  attrKind
	value []byte // inline value, only valid when kind == attrKindInline

	onRead  ReadFunc
	onWrite WriteFunc

	service *serviceRecord // containing service range
}

// Value returns the attribute's inline value. It panics if the
// attribute is callback-backed; callers should check HasInlineValue
// first.
func (a *Attribute) Value() []byte {
	if a.kind != attrKindInline {
		panic("gattdb: attribute has no inline value")
	}
	return a.value
}

// HasInlineValue reports whether the attribute carries a static value
// rather than read/write callbacks.
func (a *Attribute) HasInlineValue() bool { return a.kind == attrKindInline }

// ServiceRange returns the (start, end) handle range of the service
// that contains this attribute.
func (a *Attribute) ServiceRange() (start, end uint16) {
	return a.service.start, a.service.end
}
