package gattdb

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// baseUUIDHead is the first 12 bytes, in ATT wire (little-endian) order,
// of the Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB with
// its 32-bit "time_low" field zeroed out. 16- and 32-bit UUIDs are
// expanded to 128 bits by appending their value, zero-padded to 4
// bytes, after this head.
var baseUUIDHead = [12]byte{
	0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00,
}

// UUID is a Bluetooth attribute type UUID. It is stored in ATT wire
// order (little-endian), so a 16-bit UUID is two bytes and a 128-bit
// UUID is sixteen.
type UUID struct {
	b []byte
}

// UUID16 returns the UUID for a 16-bit Bluetooth-assigned number.
func UUID16(n uint16) UUID {
	return UUID{b: []byte{byte(n), byte(n >> 8)}}
}

// UUID32 returns the UUID for a 32-bit Bluetooth-assigned number.
func UUID32(n uint32) UUID {
	return UUID{b: []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}}
}

// ParseUUID parses a canonical Bluetooth UUID string, e.g.
// "0000180a-0000-1000-8000-00805f9b34fb", or a bare short form such as
// "180a" or "0000180a". It returns the UUID in its shortest equivalent
// representation.
func ParseUUID(s string) (UUID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch len(s) {
	case 4, 8:
		be, err := hex.DecodeString(s)
		if err != nil {
			return UUID{}, fmt.Errorf("gattdb: invalid uuid %q: %w", s, err)
		}
		short := UUID{b: reverse(be)}
		return UUID{b: short.full()}.shorten(), nil
	case 36:
		hexPart := strings.ReplaceAll(s, "-", "")
		be, err := hex.DecodeString(hexPart)
		if err != nil || len(be) != 16 {
			return UUID{}, fmt.Errorf("gattdb: invalid uuid %q", s)
		}
		return UUID{b: reverse(be)}.shorten(), nil
	default:
		return UUID{}, fmt.Errorf("gattdb: invalid uuid %q", s)
	}
}

// MustParseUUID is like ParseUUID but panics on error. Intended for use
// with constant UUID strings at init time.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// shorten returns the 16- or 32-bit equivalent of a 128-bit UUID if it
// lies within the Bluetooth Base UUID range, otherwise u unchanged.
func (u UUID) shorten() UUID {
	if len(u.b) != 16 {
		return u
	}
	for i, want := range baseUUIDHead {
		if u.b[i] != want {
			return u
		}
	}
	tail := u.b[12:16]
	if tail[2] == 0 && tail[3] == 0 {
		return UUID{b: []byte{tail[0], tail[1]}}
	}
	return UUID{b: append([]byte(nil), tail...)}
}

// full returns the 128-bit expansion of u, in wire (little-endian) order.
func (u UUID) full() []byte {
	switch len(u.b) {
	case 2:
		out := make([]byte, 16)
		copy(out, baseUUIDHead[:])
		out[12], out[13] = u.b[0], u.b[1]
		out[14], out[15] = 0, 0
		return out
	case 4:
		out := make([]byte, 16)
		copy(out, baseUUIDHead[:])
		copy(out[12:], u.b)
		return out
	default:
		return u.b
	}
}

// Len reports the wire length of u: 2, 4, or 16 bytes.
func (u UUID) Len() int { return len(u.b) }

// IsZero reports whether u has no bytes set, i.e. was never assigned.
func (u UUID) IsZero() bool { return len(u.b) == 0 }

// Equal reports whether u and o denote the same attribute type,
// comparing their 128-bit expansion so that e.g. UUID16(0x1800) equals
// its 128-bit canonical form.
func (u UUID) Equal(o UUID) bool {
	return string(u.full()) == string(o.full())
}

// String returns the canonical, dash-separated 128-bit representation.
func (u UUID) String() string {
	be := reverse(u.full())
	return fmt.Sprintf("%x-%x-%x-%x-%x", be[0:4], be[4:6], be[6:8], be[8:10], be[10:16])
}

// reverse returns a new slice with b's bytes in reverse order, used to
// translate between little-endian wire order and big-endian string
// presentation order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

var (
	uuidGAP  = UUID16(0x1800)
	uuidGATT = UUID16(0x1801)

	uuidPrimaryService   = UUID16(0x2800)
	uuidSecondaryService = UUID16(0x2801)
	uuidCharacteristic   = UUID16(0x2803)

	uuidClientCharacteristicConfig = UUID16(0x2902)

	uuidDeviceName   = UUID16(0x2A00)
	uuidAppearance   = UUID16(0x2A01)
	uuidServiceChngd = UUID16(0x2A05)
)
