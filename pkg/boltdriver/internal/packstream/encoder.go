package packstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Encoder serializes Values into a byte buffer using PackStream's
// self-describing markers. It does not know about chunking; callers pass
// the finished buffer to a ChunkWriter.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an Encoder ready to serialize one message.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() { e.buf.Reset() }

func (e *Encoder) WriteNull() { e.buf.WriteByte(markerNullByte) }

func (e *Encoder) WriteBool(b bool) {
	if b {
		e.buf.WriteByte(markerTrue)
	} else {
		e.buf.WriteByte(markerFalse)
	}
}

// WriteInt selects the narrowest encoding that represents v exactly.
func (e *Encoder) WriteInt(v int64) {
	switch {
	case v >= tinyIntMin && v <= tinyIntMax:
		e.buf.WriteByte(byte(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.buf.WriteByte(markerInt8)
		e.buf.WriteByte(byte(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.buf.WriteByte(markerInt16)
		e.writeBE(uint64(uint16(v)), 2)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.buf.WriteByte(markerInt32)
		e.writeBE(uint64(uint32(v)), 4)
	default:
		e.buf.WriteByte(markerInt64)
		e.writeBE(uint64(v), 8)
	}
}

func (e *Encoder) WriteFloat(v float64) {
	e.buf.WriteByte(markerFloat64)
	e.writeBE(math.Float64bits(v), 8)
}

func (e *Encoder) WriteString(s string) {
	n := len(s)
	switch {
	case n <= 15:
		e.buf.WriteByte(byte(markerTinyStringBase | n))
	case n <= 0xFF:
		e.buf.WriteByte(markerString8)
		e.buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		e.buf.WriteByte(markerString16)
		e.writeBE(uint64(n), 2)
	default:
		e.buf.WriteByte(markerString32)
		e.writeBE(uint64(n), 4)
	}
	e.buf.WriteString(s)
}

func (e *Encoder) WriteBytes(b []byte) {
	n := len(b)
	switch {
	case n <= 0xFF:
		e.buf.WriteByte(markerBytes8)
		e.buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		e.buf.WriteByte(markerBytes16)
		e.writeBE(uint64(n), 2)
	default:
		e.buf.WriteByte(markerBytes32)
		e.writeBE(uint64(n), 4)
	}
	e.buf.Write(b)
}

func (e *Encoder) beginList(n int) {
	switch {
	case n <= 15:
		e.buf.WriteByte(byte(markerTinyListBase | n))
	case n <= 0xFF:
		e.buf.WriteByte(markerList8)
		e.buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		e.buf.WriteByte(markerList16)
		e.writeBE(uint64(n), 2)
	default:
		e.buf.WriteByte(markerList32)
		e.writeBE(uint64(n), 4)
	}
}

func (e *Encoder) beginMap(n int) {
	switch {
	case n <= 15:
		e.buf.WriteByte(byte(markerTinyMapBase | n))
	case n <= 0xFF:
		e.buf.WriteByte(markerMap8)
		e.buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		e.buf.WriteByte(markerMap16)
		e.writeBE(uint64(n), 2)
	default:
		e.buf.WriteByte(markerMap32)
		e.writeBE(uint64(n), 4)
	}
}

// WriteStruct writes a structure marker (size <= 15 only — every Bolt
// message and value structure fits this) followed by the tag byte and the
// encoded fields.
func (e *Encoder) WriteStruct(tag byte, fields []any) error {
	if len(fields) > 15 {
		return errs.New(errs.SerializationError, "structure with %d fields exceeds tiny-structure limit of 15", len(fields))
	}
	e.buf.WriteByte(byte(markerTinyStructBase | len(fields)))
	e.buf.WriteByte(tag)
	for _, f := range fields {
		if err := e.WriteValue(f); err != nil {
			return err
		}
	}
	return nil
}

// WriteValue dispatches on the Go type of v, matching the decode shapes in
// decoder.go.
func (e *Encoder) WriteValue(v any) error {
	switch t := v.(type) {
	case nil:
		e.WriteNull()
	case bool:
		e.WriteBool(t)
	case int:
		e.WriteInt(int64(t))
	case int32:
		e.WriteInt(int64(t))
	case int64:
		e.WriteInt(t)
	case float32:
		e.WriteFloat(float64(t))
	case float64:
		e.WriteFloat(t)
	case string:
		e.WriteString(t)
	case []byte:
		e.WriteBytes(t)
	case []any:
		e.beginList(len(t))
		for _, item := range t {
			if err := e.WriteValue(item); err != nil {
				return err
			}
		}
	case map[string]any:
		e.beginMap(len(t))
		for k, mv := range t {
			e.WriteString(k)
			if err := e.WriteValue(mv); err != nil {
				return err
			}
		}
	case Struct:
		return e.WriteStruct(t.Tag, t.Fields)
	default:
		return e.writeStructuredValue(v)
	}
	return nil
}

// writeStructuredValue handles the temporal/spatial struct types and Node; it
// is split out of WriteValue to keep the hot scalar path's switch small.
// Relationship, UnboundRelationship and Path are not encoded and return a
// SerializationError.
func (e *Encoder) writeStructuredValue(v any) error {
	switch t := v.(type) {
	case Node:
		labels := make([]any, len(t.Labels))
		for i, l := range t.Labels {
			labels[i] = l
		}
		return e.WriteStruct(TagNode, []any{t.ID, labels, t.Properties, t.ElementID})
	case Date:
		return e.WriteStruct(TagDate, []any{t.EpochDays})
	case LocalTime:
		return e.WriteStruct(TagLocalTime, []any{t.Nanoseconds})
	case Time:
		return e.WriteStruct(TagTime, []any{t.Nanoseconds, int64(t.OffsetSecs)})
	case LocalDateTime:
		return e.WriteStruct(TagLocalDateTime, []any{t.Seconds, t.Nanoseconds})
	case DateTime:
		return e.writeDateTime(t)
	case Duration:
		return e.WriteStruct(TagDuration, []any{t.Months, t.Days, t.Seconds, t.Nanos})
	case Point2D:
		return e.WriteStruct(TagPoint2D, []any{t.SRID, t.X, t.Y})
	case Point3D:
		return e.WriteStruct(TagPoint3D, []any{t.SRID, t.X, t.Y, t.Z})
	default:
		return errs.New(errs.SerializationError, "cannot encode value of type %s", fmt.Sprintf("%T", v))
	}
}

func (e *Encoder) writeDateTime(t DateTime) error {
	if t.ZoneName != "" {
		tag := byte(TagDateTimeZoneLegacy)
		if t.Patched {
			tag = TagDateTimeZoneUTC
		}
		return e.WriteStruct(tag, []any{t.Seconds, t.Nanoseconds, t.ZoneName})
	}
	tag := byte(TagDateTimeLegacy)
	if t.Patched {
		tag = TagDateTimeUTC
	}
	return e.WriteStruct(tag, []any{t.Seconds, t.Nanoseconds, int64(t.OffsetSecs)})
}

func (e *Encoder) writeBE(v uint64, width int) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf.Write(tmp[8-width:])
}
