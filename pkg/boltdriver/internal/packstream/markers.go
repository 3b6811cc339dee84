package packstream

// PackStream type markers, spec.md §4.A.
const (
	markerNullByte = 0xC0

	markerFalse = 0xC2
	markerTrue  = 0xC3

	markerFloat64 = 0xC1

	markerInt8  = 0xC8
	markerInt16 = 0xC9
	markerInt32 = 0xCA
	markerInt64 = 0xCB

	tinyIntMin = -16
	tinyIntMax = 127

	markerTinyStringBase = 0x80
	markerTinyStringMax  = 0x8F
	markerString8        = 0xD0
	markerString16       = 0xD1
	markerString32       = 0xD2

	markerTinyListBase = 0x90
	markerTinyListMax  = 0x9F
	markerList8        = 0xD4
	markerList16       = 0xD5
	markerList32       = 0xD6

	markerTinyMapBase = 0xA0
	markerTinyMapMax  = 0xAF
	markerMap8        = 0xD8
	markerMap16       = 0xD9
	markerMap32       = 0xDA

	markerBytes8  = 0xCC
	markerBytes16 = 0xCD
	markerBytes32 = 0xCE

	markerTinyStructBase = 0xB0
	markerTinyStructMax  = 0xBF
)

// Well-known structure tags used by Bolt messages and values.
const (
	TagNode                = 0x4E // 'N'
	TagRelationship        = 0x52 // 'R'
	TagUnboundRelationship = 0x72 // 'r'
	TagPath                = 0x50 // 'P'
	TagDate                = 0x44 // 'D'
	TagTime                = 0x54 // 'T'
	TagLocalTime           = 0x74 // 't'
	TagDateTimeLegacy      = 0x46 // 'F' (pre-UTC-patch, zoned offset)
	TagDateTimeZoneLegacy  = 0x66 // 'f' (pre-UTC-patch, zone id)
	TagDateTimeUTC         = 0x49 // 'I' (UTC-patched, zoned offset)
	TagDateTimeZoneUTC     = 0x69 // 'i' (UTC-patched, zone id)
	TagLocalDateTime       = 0x64 // 'd'
	TagDuration            = 0x45 // 'E'
	TagPoint2D             = 0x58 // 'X'
	TagPoint3D             = 0x59 // 'Y'
)
