package ua

// TypeID is the built-in OPC UA data type identifier used as the Variant
// tag on the wire (low 6 bits of the encoding byte).
type TypeID byte

const (
	TypeNull TypeID = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeGuid
	TypeByteString
	TypeXmlElement
	TypeNodeId
	TypeExpandedNodeId
	TypeStatusCode
	TypeQualifiedName
	TypeLocalizedText
	TypeExtensionObject
	TypeDataValue
	TypeVariant
	TypeDiagnosticInfo
)

// variantArrayBit marks an array Variant on the wire (bit 7 of the
// encoding byte); variantDimensionsBit marks that ArrayDimensions follows
// (bit 6), used for multi-dimensional arrays.
const (
	variantArrayBit      = 1 << 7
	variantDimensionsBit = 1 << 6
)

// Variant is a tagged union over the built-in types plus single- or
// multi-dimensional arrays plus ExtensionObject (spec.md §3).
type Variant struct {
	Type TypeID

	// Scalar payload; exactly one of these is meaningful, selected by Type.
	Bool          bool
	SByte         int8
	Byte          byte
	Int16         int16
	UInt16        uint16
	Int32         int32
	UInt32        uint32
	Int64         int64
	UInt64        uint64
	Float         float32
	Double        float64
	Str           *string // nil = null string
	DateTimeTicks int64
	GuidVal       Guid
	ByteStr       []byte // nil = null byte string
	NodeIdVal     NodeId
	ExpNodeIdVal  ExpandedNodeId
	StatusVal     StatusCode
	QNameVal      QualifiedName
	LocTextVal    LocalizedText
	ExtObj        *ExtensionObject

	// Array payload, used when IsArray is true. ArrayDimensions is non-nil
	// only for multi-dimensional arrays (row-major order matching
	// ArrayDimensions); for a flat array it is nil and Array.Len() is the
	// single dimension.
	IsArray         bool
	Array           []Variant // element Type equals the Variant's own Type
	ArrayDimensions []int32
}

// NewInt32 builds a scalar Int32 Variant, the common type for server
// status/state values (spec.md §8 scenario 2).
func NewInt32(v int32) Variant { return Variant{Type: TypeInt32, Int32: v} }

// NewDouble builds a scalar Double Variant.
func NewDouble(v float64) Variant { return Variant{Type: TypeDouble, Double: v} }

// NewString builds a scalar String Variant.
func NewString(v string) Variant { return Variant{Type: TypeString, Str: &v} }

// NewNodeId builds a scalar NodeId Variant.
func NewNodeId(v NodeId) Variant { return Variant{Type: TypeNodeId, NodeIdVal: v} }

// IsNull reports whether the Variant carries no value at all (Type Null,
// not an array).
func (v Variant) IsNull() bool { return v.Type == TypeNull && !v.IsArray }

// ExtensionObjectEncoding selects how an ExtensionObject body is carried.
type ExtensionObjectEncoding byte

const (
	ExtensionObjectNoBody ExtensionObjectEncoding = iota
	ExtensionObjectByteString
	ExtensionObjectXMLElement
)

// ExtensionObject is a NodeId-keyed opaque blob (spec.md §4.1, §9). The
// decoder keeps no registry of structure types, so bodies are never
// parsed into structured values.
type ExtensionObject struct {
	TypeId   NodeId
	Encoding ExtensionObjectEncoding

	// Body is the raw bytes exactly as received, always populated so that
	// re-encoding an ExtensionObject whose type is unknown to the decoder
	// round-trips bit-exactly (spec.md §4.1).
	Body []byte

	// Decoded is not set by the decoder, which leaves it nil for every
	// TypeId; the codec neither reads nor writes it.
	Decoded interface{}
}

// DataValue pairs a Variant with quality and timestamp metadata
// (spec.md §3). A DataValue whose Status is not Good may have a null
// Variant; callers must not assume Value is populated without checking
// Status first.
type DataValue struct {
	Value             Variant
	Status            StatusCode
	SourceTimestamp   int64 // ticks; 0 = absent
	SourcePicoseconds uint16
	ServerTimestamp   int64 // ticks; 0 = absent
	ServerPicoseconds uint16
}
