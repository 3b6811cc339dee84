package packstream

import "testing"

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	enc := NewEncoder()
	if err := enc.WriteValue(v); err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	dec := NewDecoder(enc.Bytes(), true)
	got, err := dec.ReadValue()
	if err != nil {
		t.Fatalf("decode %v: %v", v, err)
	}
	if !dec.eof() {
		t.Fatalf("decoder left %d trailing bytes for %v", len(dec.buf)-dec.pos, v)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []any{
		nil, true, false,
		int64(0), int64(1), int64(-1), int64(127), int64(-16), int64(128), int64(-17),
		int64(32767), int64(-32768), int64(2147483647), int64(-2147483648),
		int64(9223372036854775807), int64(-9223372036854775808),
		3.14159, -0.0, "", "hello", "a long string that exceeds the fifteen byte tiny string limit by quite a lot",
		[]byte{}, []byte{1, 2, 3},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if !Equal(c, got) {
			t.Errorf("round trip mismatch: want %#v, got %#v", c, got)
		}
	}
}

func TestRoundTripCollections(t *testing.T) {
	list := []any{int64(1), "two", 3.0, nil, true}
	got := roundTrip(t, list)
	if !Equal(list, got) {
		t.Errorf("list round trip mismatch: want %#v, got %#v", list, got)
	}

	m := map[string]any{"a": int64(1), "b": "two"}
	got = roundTrip(t, m)
	if !Equal(m, got) {
		t.Errorf("map round trip mismatch: want %#v, got %#v", m, got)
	}
}

func TestRoundTripStruct(t *testing.T) {
	s := Struct{Tag: 0x7F, Fields: []any{int64(1), "x"}}
	got := roundTrip(t, s)
	gs, ok := got.(Struct)
	if !ok || !s.Equal(gs) {
		t.Errorf("struct round trip mismatch: want %#v, got %#v", s, got)
	}
}

func TestRoundTripTemporalSpatial(t *testing.T) {
	cases := []any{
		Date{EpochDays: 19000},
		LocalTime{Nanoseconds: 3600_000_000_000},
		Time{Nanoseconds: 3600_000_000_000, OffsetSecs: -18000},
		LocalDateTime{Seconds: 1700000000, Nanoseconds: 123},
		DateTime{Seconds: 1700000000, Nanoseconds: 123, OffsetSecs: 3600, Patched: true},
		DateTime{Seconds: 1700000000, Nanoseconds: 123, ZoneName: "Europe/Paris", Patched: true},
		Duration{Months: 1, Days: 2, Seconds: 3, Nanos: 4},
		Point2D{SRID: 7203, X: 1.5, Y: 2.5},
		Point3D{SRID: 9157, X: 1.5, Y: 2.5, Z: 3.5},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if got != c {
			t.Errorf("temporal/spatial round trip mismatch: want %#v, got %#v", c, got)
		}
	}
}

func TestRoundTripNode(t *testing.T) {
	n := Node{ID: 42, Labels: []string{"Person"}, Properties: map[string]any{"name": "Ann"}, ElementID: "4:abc:42"}
	got := roundTrip(t, n)
	gn, ok := got.(Node)
	if !ok || gn.ID != n.ID || gn.ElementID != n.ElementID || !Equal(n.Properties, gn.Properties) {
		t.Errorf("node round trip mismatch: want %#v, got %#v", n, got)
	}
}

func TestDecodeLegacyDateTimeTag(t *testing.T) {
	enc := NewEncoder()
	if err := enc.WriteStruct(TagDateTimeLegacy, []any{int64(1700000000), int64(123), int64(3600)}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := NewDecoder(enc.Bytes(), false)
	got, err := dec.ReadValue()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dt, ok := got.(DateTime)
	if !ok || dt.Patched {
		t.Fatalf("expected unpatched DateTime, got %#v", got)
	}
}

func TestDecodeUnknownMarker(t *testing.T) {
	dec := NewDecoder([]byte{0xC5}, true)
	if _, err := dec.ReadValue(); err == nil {
		t.Fatal("expected error for unknown marker")
	}
}

func TestDecodeTruncated(t *testing.T) {
	dec := NewDecoder([]byte{markerString8, 0x05, 'h', 'i'}, true)
	if _, err := dec.ReadValue(); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestEncodeNarrowestInt(t *testing.T) {
	enc := NewEncoder()
	enc.WriteInt(100)
	if got := enc.Bytes(); len(got) != 1 {
		t.Errorf("expected tiny int to take 1 byte, got %d: %v", len(got), got)
	}
	enc.Reset()
	enc.WriteInt(200)
	if got := enc.Bytes(); len(got) != 3 || got[0] != markerInt16 {
		t.Errorf("expected INT_16 for 200, got %v", got)
	}
}
