// Package packstream implements the PackStream binary encoding used to
// carry Bolt message payloads, plus the chunked framing Bolt wraps
// messages in on the wire. It has no knowledge of sockets: callers hand it
// an io.Writer/io.Reader and get back encoded bytes or decoded values.
//
// Values decode to plain Go types wherever PackStream has a direct
// equivalent (nil, bool, int64, float64, string, []byte, []any,
// map[string]any) and to the concrete structs below for Bolt's structure
// types (temporal, spatial, graph). This mirrors how real Bolt drivers
// represent values — a tagged union expressed as interface{} plus
// well-known concrete types, not a bespoke closed sum type — so driver
// callers can type-switch the same way they would against any other Go
// decoder.
package packstream

import "fmt"

// Struct is the generic decode result for a structure tag this package's
// registry does not recognize as one of the well-known types below. It is
// also what RECORD/SUCCESS/FAILURE/IGNORED messages decode into one level
// up, in internal/conn, before that layer strips the message tag.
type Struct struct {
	Tag    byte
	Fields []any
}

func (s Struct) Equal(o Struct) bool {
	if s.Tag != o.Tag || len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if !Equal(s.Fields[i], o.Fields[i]) {
			return false
		}
	}
	return true
}

// Node is a receive-only Bolt structure (tag 'N' / 0x4E).
type Node struct {
	ID         int64
	Labels     []string
	Properties map[string]any
	ElementID  string // Bolt >= 5.0 only; empty otherwise
}

// Relationship is a receive-only Bolt structure (tag 'R' / 0x52).
type Relationship struct {
	ID             int64
	StartNodeID    int64
	EndNodeID      int64
	Type           string
	Properties     map[string]any
	ElementID      string
	StartElementID string
	EndElementID   string
}

// UnboundRelationship is the relationship shape used inside Path segments
// (tag 'r' / 0x72): it lacks start/end node ids, which the Path supplies
// via its own node list and index encoding.
type UnboundRelationship struct {
	ID         int64
	Type       string
	Properties map[string]any
	ElementID  string
}

// Path is a receive-only Bolt structure (tag 'P' / 0x50). Per spec, paths
// hold indices into their own Nodes/Rels lists rather than pointers, since
// Go has no notion of the shared-ownership graph the wire format encodes.
type Path struct {
	Nodes []Node
	Rels  []UnboundRelationship
	// Indices alternates relationship-index, node-index pairs as sent on
	// the wire: a positive relationship index N means traverse Rels[N-1]
	// forward, negative means traverse Rels[-N-1] reversed.
	Indices []int64
}

// Date is tag 'D' / 0x44: days since the Unix epoch.
type Date struct{ EpochDays int64 }

// Time is tag 'T' / 0x54: nanoseconds since midnight plus a UTC offset in
// seconds.
type Time struct {
	Nanoseconds int64
	OffsetSecs  int
}

// LocalTime is tag 't' / 0x74.
type LocalTime struct{ Nanoseconds int64 }

// DateTime carries both pre-UTC-patch and UTC-patched encodings; Patched
// distinguishes which wire shape produced it. Pre-patch fields are
// (seconds-local, nanos, tz-offset-or-name); patched fields are
// (seconds-utc, nanos, tz-offset-or-name).
type DateTime struct {
	Seconds     int64
	Nanoseconds int64
	OffsetSecs  int
	ZoneName    string // set instead of OffsetSecs for zone-id variants
	Patched     bool
}

// LocalDateTime is tag 'd' / 0x64.
type LocalDateTime struct {
	Seconds     int64
	Nanoseconds int64
}

// Duration is tag 'E' / 0x45.
type Duration struct {
	Months  int64
	Days    int64
	Seconds int64
	Nanos   int64
}

// Point2D is tag 'X' / 0x58.
type Point2D struct {
	SRID    int64
	X, Y    float64
}

// Point3D is tag 'Y' / 0x59.
type Point3D struct {
	SRID       int64
	X, Y, Z    float64
}

// Equal performs structural equality across everything PackStream can
// decode into, matching Go's normal equality except that []byte, []any and
// map[string]any need element-wise comparison. Floats compare with Go's ==
// (NaN != NaN, and 0.0 == -0.0).
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, vv := range av {
			bvv, ok := bv[k]
			if !ok || !Equal(vv, bvv) {
				return false
			}
		}
		return true
	case Struct:
		bv, ok := b.(Struct)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

// TypeName returns a short diagnostic name for unsupported-type errors.
func TypeName(v any) string {
	return fmt.Sprintf("%T", v)
}
