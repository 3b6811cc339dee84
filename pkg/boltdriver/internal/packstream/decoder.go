package packstream

import (
	"encoding/binary"
	"math"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Decoder deserializes a PackStream-encoded byte slice into Values. It
// operates on an in-memory buffer (the fully reassembled message produced
// by ChunkReader), not a stream, since Bolt messages are always fully
// buffered by the chunking layer before decoding begins.
type Decoder struct {
	buf []byte
	pos int

	// structDecoders maps a structure tag to a decode function, so the
	// set of recognized DateTime tags can vary by whether the server
	// negotiated the utc patch_bolt feature. A tag with no entry decodes
	// as a generic Struct.
	structDecoders map[byte]func(fields []any) (any, error)
}

// NewDecoder wraps buf for reading. utcPatched controls which structure
// tag a DateTime/zoned-DateTime decodes from, per spec.md §3/§6.1: before
// the utc patch, legacy tags 'F'/'f' carry local seconds; after, tags
// 'I'/'i' carry UTC seconds.
func NewDecoder(buf []byte, utcPatched bool) *Decoder {
	d := &Decoder{buf: buf}
	d.structDecoders = defaultStructDecoders(utcPatched)
	return d
}

func defaultStructDecoders(utcPatched bool) map[byte]func([]any) (any, error) {
	m := map[byte]func([]any) (any, error){
		TagNode:                decodeNode,
		TagRelationship:        decodeRelationship,
		TagUnboundRelationship: decodeUnboundRelationship,
		TagPath:                decodePath,
		TagDate:                decodeDate,
		TagTime:                decodeTime,
		TagLocalTime:           decodeLocalTime,
		TagLocalDateTime:       decodeLocalDateTime,
		TagDuration:            decodeDuration,
		TagPoint2D:             decodePoint2D,
		TagPoint3D:             decodePoint3D,
	}
	if utcPatched {
		m[TagDateTimeUTC] = decodeDateTimeOffset(true)
		m[TagDateTimeZoneUTC] = decodeDateTimeZone(true)
	} else {
		m[TagDateTimeLegacy] = decodeDateTimeOffset(false)
		m[TagDateTimeZoneLegacy] = decodeDateTimeZone(false)
	}
	return m
}

func (d *Decoder) eof() bool { return d.pos >= len(d.buf) }

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errs.New(errs.DeserializationError, "unexpected end of message at offset %d", d.pos)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, errs.New(errs.DeserializationError, "truncated field: need %d bytes, have %d", n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readUint(n int) (uint64, error) {
	b, err := d.readN(n)
	if err != nil {
		return 0, err
	}
	var tmp [8]byte
	copy(tmp[8-n:], b)
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// PeekMarker returns the next marker byte without consuming it, for callers
// that need to branch on structure vs. scalar before committing to a read
// (e.g. the conn layer distinguishing RECORD fields from a message tag).
func (d *Decoder) PeekMarker() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errs.New(errs.DeserializationError, "unexpected end of message")
	}
	return d.buf[d.pos], nil
}

// ReadValue decodes one complete value (scalar, list, map, or structure)
// starting at the current position.
func (d *Decoder) ReadValue() (any, error) {
	marker, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch {
	case marker == markerNullByte:
		return nil, nil
	case marker == markerFalse:
		return false, nil
	case marker == markerTrue:
		return true, nil
	case marker == markerFloat64:
		bits, err := d.readUint(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case marker <= 0x7F || marker >= 0xF0:
		// tiny int: 0x00-0x7F positive, 0xF0-0xFF negative (-16..-1)
		return int64(int8(marker)), nil
	case marker == markerInt8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(b)), nil
	case marker == markerInt16:
		v, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(v)), nil
	case marker == markerInt32:
		v, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(v)), nil
	case marker == markerInt64:
		v, err := d.readUint(8)
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case marker >= markerTinyStringBase && marker <= markerTinyStringMax:
		return d.readString(int(marker & 0x0F))
	case marker == markerString8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readString(int(n))
	case marker == markerString16:
		n, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		return d.readString(int(n))
	case marker == markerString32:
		n, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return d.readString(int(n))
	case marker == markerBytes8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readN(int(n))
	case marker == markerBytes16:
		n, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		return d.readN(int(n))
	case marker == markerBytes32:
		n, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return d.readN(int(n))
	case marker >= markerTinyListBase && marker <= markerTinyListMax:
		return d.readList(int(marker & 0x0F))
	case marker == markerList8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readList(int(n))
	case marker == markerList16:
		n, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		return d.readList(int(n))
	case marker == markerList32:
		n, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return d.readList(int(n))
	case marker >= markerTinyMapBase && marker <= markerTinyMapMax:
		return d.readMap(int(marker & 0x0F))
	case marker == markerMap8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readMap(int(n))
	case marker == markerMap16:
		n, err := d.readUint(2)
		if err != nil {
			return nil, err
		}
		return d.readMap(int(n))
	case marker == markerMap32:
		n, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return d.readMap(int(n))
	case marker >= markerTinyStructBase && marker <= markerTinyStructMax:
		return d.readStruct(int(marker & 0x0F))
	default:
		return nil, errs.New(errs.DeserializationError, "unknown PackStream marker 0x%02X", marker)
	}
}

func (d *Decoder) readString(n int) (string, error) {
	b, err := d.readN(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readList(n int) ([]any, error) {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := d.ReadValue()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *Decoder) readMap(n int) (map[string]any, error) {
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.ReadValue()
		if err != nil {
			return nil, err
		}
		ks, ok := k.(string)
		if !ok {
			return nil, errs.New(errs.DeserializationError, "map key must be a string, got %s", TypeName(k))
		}
		v, err := d.ReadValue()
		if err != nil {
			return nil, err
		}
		out[ks] = v
	}
	return out, nil
}

func (d *Decoder) readStruct(size int) (any, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	fields, err := d.readList(size)
	if err != nil {
		return nil, err
	}
	if dec, ok := d.structDecoders[tag]; ok {
		v, err := dec(fields)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return Struct{Tag: tag, Fields: fields}, nil
}

// --- field helpers ---

func fieldInt(fields []any, i int) (int64, error) {
	if i >= len(fields) {
		return 0, errs.New(errs.DeserializationError, "structure missing field %d", i)
	}
	v, ok := fields[i].(int64)
	if !ok {
		return 0, errs.New(errs.DeserializationError, "structure field %d: expected int, got %s", i, TypeName(fields[i]))
	}
	return v, nil
}

func fieldString(fields []any, i int) (string, error) {
	if i >= len(fields) {
		return "", errs.New(errs.DeserializationError, "structure missing field %d", i)
	}
	v, ok := fields[i].(string)
	if !ok {
		return "", errs.New(errs.DeserializationError, "structure field %d: expected string, got %s", i, TypeName(fields[i]))
	}
	return v, nil
}

func fieldFloat(fields []any, i int) (float64, error) {
	if i >= len(fields) {
		return 0, errs.New(errs.DeserializationError, "structure missing field %d", i)
	}
	v, ok := fields[i].(float64)
	if !ok {
		return 0, errs.New(errs.DeserializationError, "structure field %d: expected float, got %s", i, TypeName(fields[i]))
	}
	return v, nil
}

func fieldStringList(fields []any, i int) ([]string, error) {
	if i >= len(fields) {
		return nil, errs.New(errs.DeserializationError, "structure missing field %d", i)
	}
	raw, ok := fields[i].([]any)
	if !ok {
		return nil, errs.New(errs.DeserializationError, "structure field %d: expected list, got %s", i, TypeName(fields[i]))
	}
	out := make([]string, len(raw))
	for j, rv := range raw {
		s, ok := rv.(string)
		if !ok {
			return nil, errs.New(errs.DeserializationError, "structure field %d element %d: expected string, got %s", i, j, TypeName(rv))
		}
		out[j] = s
	}
	return out, nil
}

func fieldProps(fields []any, i int) (map[string]any, error) {
	if i >= len(fields) {
		return nil, errs.New(errs.DeserializationError, "structure missing field %d", i)
	}
	m, ok := fields[i].(map[string]any)
	if !ok {
		return nil, errs.New(errs.DeserializationError, "structure field %d: expected map, got %s", i, TypeName(fields[i]))
	}
	return m, nil
}

func fieldOptString(fields []any, i int) (string, error) {
	if i >= len(fields) {
		return "", nil
	}
	if fields[i] == nil {
		return "", nil
	}
	return fieldString(fields, i)
}

// --- per-tag decoders ---

func decodeNode(f []any) (any, error) {
	id, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	labels, err := fieldStringList(f, 1)
	if err != nil {
		return nil, err
	}
	props, err := fieldProps(f, 2)
	if err != nil {
		return nil, err
	}
	elementID, err := fieldOptString(f, 3)
	if err != nil {
		return nil, err
	}
	return Node{ID: id, Labels: labels, Properties: props, ElementID: elementID}, nil
}

func decodeRelationship(f []any) (any, error) {
	id, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	startID, err := fieldInt(f, 1)
	if err != nil {
		return nil, err
	}
	endID, err := fieldInt(f, 2)
	if err != nil {
		return nil, err
	}
	relType, err := fieldString(f, 3)
	if err != nil {
		return nil, err
	}
	props, err := fieldProps(f, 4)
	if err != nil {
		return nil, err
	}
	elementID, _ := fieldOptString(f, 5)
	startElementID, _ := fieldOptString(f, 6)
	endElementID, _ := fieldOptString(f, 7)
	return Relationship{
		ID: id, StartNodeID: startID, EndNodeID: endID, Type: relType, Properties: props,
		ElementID: elementID, StartElementID: startElementID, EndElementID: endElementID,
	}, nil
}

func decodeUnboundRelationship(f []any) (any, error) {
	id, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	relType, err := fieldString(f, 1)
	if err != nil {
		return nil, err
	}
	props, err := fieldProps(f, 2)
	if err != nil {
		return nil, err
	}
	elementID, _ := fieldOptString(f, 3)
	return UnboundRelationship{ID: id, Type: relType, Properties: props, ElementID: elementID}, nil
}

func decodePath(f []any) (any, error) {
	if len(f) < 3 {
		return nil, errs.New(errs.DeserializationError, "Path structure requires 3 fields, got %d", len(f))
	}
	rawNodes, ok := f[0].([]any)
	if !ok {
		return nil, errs.New(errs.DeserializationError, "Path field 0: expected list of nodes, got %s", TypeName(f[0]))
	}
	nodes := make([]Node, len(rawNodes))
	for i, rn := range rawNodes {
		n, ok := rn.(Node)
		if !ok {
			return nil, errs.New(errs.DeserializationError, "Path node %d: expected Node, got %s", i, TypeName(rn))
		}
		nodes[i] = n
	}
	rawRels, ok := f[1].([]any)
	if !ok {
		return nil, errs.New(errs.DeserializationError, "Path field 1: expected list of relationships, got %s", TypeName(f[1]))
	}
	rels := make([]UnboundRelationship, len(rawRels))
	for i, rr := range rawRels {
		r, ok := rr.(UnboundRelationship)
		if !ok {
			return nil, errs.New(errs.DeserializationError, "Path relationship %d: expected UnboundRelationship, got %s", i, TypeName(rr))
		}
		rels[i] = r
	}
	rawIdx, ok := f[2].([]any)
	if !ok {
		return nil, errs.New(errs.DeserializationError, "Path field 2: expected index list, got %s", TypeName(f[2]))
	}
	idx := make([]int64, len(rawIdx))
	for i, ri := range rawIdx {
		v, ok := ri.(int64)
		if !ok {
			return nil, errs.New(errs.DeserializationError, "Path index %d: expected int, got %s", i, TypeName(ri))
		}
		idx[i] = v
	}
	return Path{Nodes: nodes, Rels: rels, Indices: idx}, nil
}

func decodeDate(f []any) (any, error) {
	days, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	return Date{EpochDays: days}, nil
}

func decodeTime(f []any) (any, error) {
	nanos, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	offset, err := fieldInt(f, 1)
	if err != nil {
		return nil, err
	}
	return Time{Nanoseconds: nanos, OffsetSecs: int(offset)}, nil
}

func decodeLocalTime(f []any) (any, error) {
	nanos, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	return LocalTime{Nanoseconds: nanos}, nil
}

func decodeLocalDateTime(f []any) (any, error) {
	secs, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	nanos, err := fieldInt(f, 1)
	if err != nil {
		return nil, err
	}
	return LocalDateTime{Seconds: secs, Nanoseconds: nanos}, nil
}

func decodeDateTimeOffset(patched bool) func([]any) (any, error) {
	return func(f []any) (any, error) {
		secs, err := fieldInt(f, 0)
		if err != nil {
			return nil, err
		}
		nanos, err := fieldInt(f, 1)
		if err != nil {
			return nil, err
		}
		offset, err := fieldInt(f, 2)
		if err != nil {
			return nil, err
		}
		return DateTime{Seconds: secs, Nanoseconds: nanos, OffsetSecs: int(offset), Patched: patched}, nil
	}
}

func decodeDateTimeZone(patched bool) func([]any) (any, error) {
	return func(f []any) (any, error) {
		secs, err := fieldInt(f, 0)
		if err != nil {
			return nil, err
		}
		nanos, err := fieldInt(f, 1)
		if err != nil {
			return nil, err
		}
		zone, err := fieldString(f, 2)
		if err != nil {
			return nil, err
		}
		return DateTime{Seconds: secs, Nanoseconds: nanos, ZoneName: zone, Patched: patched}, nil
	}
}

func decodeDuration(f []any) (any, error) {
	months, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	days, err := fieldInt(f, 1)
	if err != nil {
		return nil, err
	}
	secs, err := fieldInt(f, 2)
	if err != nil {
		return nil, err
	}
	nanos, err := fieldInt(f, 3)
	if err != nil {
		return nil, err
	}
	return Duration{Months: months, Days: days, Seconds: secs, Nanos: nanos}, nil
}

func decodePoint2D(f []any) (any, error) {
	srid, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	x, err := fieldFloat(f, 1)
	if err != nil {
		return nil, err
	}
	y, err := fieldFloat(f, 2)
	if err != nil {
		return nil, err
	}
	return Point2D{SRID: srid, X: x, Y: y}, nil
}

func decodePoint3D(f []any) (any, error) {
	srid, err := fieldInt(f, 0)
	if err != nil {
		return nil, err
	}
	x, err := fieldFloat(f, 1)
	if err != nil {
		return nil, err
	}
	y, err := fieldFloat(f, 2)
	if err != nil {
		return nil, err
	}
	z, err := fieldFloat(f, 3)
	if err != nil {
		return nil, err
	}
	return Point3D{SRID: srid, X: x, Y: y, Z: z}, nil
}
