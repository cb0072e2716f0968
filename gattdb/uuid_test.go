package gattdb

import "testing"

func TestUUID16Equal(t *testing.T) {
	if want, got := UUID16(0x1800), MustParseUUID("1800"); !got.Equal(want) {
		t.Errorf("UUID16: got %v, want %v", got, want)
	}
}

func TestParseUUIDCanonicalForm(t *testing.T) {
	u, err := ParseUUID("0000180a-0000-1000-8000-00805f9b34fb")
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if got, want := u.Len(), 2; got != want {
		t.Errorf("shortened length: got %d want %d", got, want)
	}
	if !u.Equal(UUID16(0x180a)) {
		t.Errorf("got %v, want UUID16(0x180a)", u)
	}
}

func TestParseUUIDCustom128(t *testing.T) {
	s := "12345678-1234-5678-1234-56789abcdef0"
	u, err := ParseUUID(s)
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if got := u.Len(); got != 16 {
		t.Errorf("custom uuid should stay 128-bit, got len %d", got)
	}
	if got := u.String(); got != s {
		t.Errorf("round trip: got %s want %s", got, s)
	}
}

func TestUUIDStringRoundTrip(t *testing.T) {
	cases := []string{
		"1800",
		"180a",
		"0000180f-0000-1000-8000-00805f9b34fb",
		"f47ac10b-58cc-4372-a567-0e02b2c3d479",
	}
	for _, s := range cases {
		u, err := ParseUUID(s)
		if err != nil {
			t.Fatalf("ParseUUID(%q): %v", s, err)
		}
		u2, err := ParseUUID(u.String())
		if err != nil {
			t.Fatalf("ParseUUID(%q): %v", u.String(), err)
		}
		if !u.Equal(u2) {
			t.Errorf("%q: round trip mismatch, got %v want %v", s, u2, u)
		}
	}
}

func TestUUIDIsZero(t *testing.T) {
	var u UUID
	if !u.IsZero() {
		t.Errorf("zero-value UUID should be IsZero")
	}
	if UUID16(0x1800).IsZero() {
		t.Errorf("UUID16(0x1800) should not be IsZero")
	}
}

func TestReverse(t *testing.T) {
	cases := []struct {
		fwd  []byte
		back []byte
	}{
		{fwd: []byte{0, 1}, back: []byte{1, 0}},
		{fwd: []byte{0, 1, 2, 3}, back: []byte{3, 2, 1, 0}},
	}
	for _, tt := range cases {
		got := reverse(tt.fwd)
		if string(got) != string(tt.back) {
			t.Errorf("reverse(%x): got %x want %x", tt.fwd, got, tt.back)
		}
	}
}
