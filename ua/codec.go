package ua

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder writes little-endian OPC UA Binary values to an underlying
// writer (spec.md §4.1). It accumulates the first error seen and makes
// every subsequent call a no-op, the way the teacher's pump writers treat
// a broken connection (ws/internal/shared/pump_write.go): callers issue a
// sequence of Put* calls and check Err() once at the end.
type Encoder struct {
	w   io.Writer
	err error
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.write([]byte{1})
	} else {
		e.write([]byte{0})
	}
}

func (e *Encoder) PutByte(v byte)   { e.write([]byte{v}) }
func (e *Encoder) PutSByte(v int8)  { e.write([]byte{byte(v)}) }

func (e *Encoder) PutUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.write(b[:])
}

func (e *Encoder) PutInt16(v int16) { e.PutUint16(uint16(v)) }

func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.write(b[:])
}

func (e *Encoder) PutInt32(v int32) { e.PutUint32(uint32(v)) }

func (e *Encoder) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.write(b[:])
}

func (e *Encoder) PutInt64(v int64) { e.PutUint64(uint64(v)) }

func (e *Encoder) PutFloat32(v float32) { e.PutUint32(math.Float32bits(v)) }
func (e *Encoder) PutFloat64(v float64) { e.PutUint64(math.Float64bits(v)) }

// PutString writes a length-prefixed i32 string; a nil pointer encodes as
// length -1 (spec.md §4.1).
func (e *Encoder) PutString(s *string) {
	if s == nil {
		e.PutInt32(-1)
		return
	}
	e.PutByteStringRaw([]byte(*s))
}

// PutByteStringRaw writes a length-prefixed i32 byte string; nil encodes
// as length -1.
func (e *Encoder) PutByteStringRaw(b []byte) {
	if b == nil {
		e.PutInt32(-1)
		return
	}
	e.PutInt32(int32(len(b)))
	e.write(b)
}

func (e *Encoder) PutGuid(g Guid) {
	e.PutUint32(g.Data1)
	e.PutUint16(g.Data2)
	e.PutUint16(g.Data3)
	e.write(g.Data4[:])
}

func (e *Encoder) PutDateTime(ticks int64) { e.PutInt64(ticks) }

// NodeId on-wire tags (spec.md §4.1 / OPC UA Part 6 §5.2.2.9).
const (
	nodeIdTagTwoByte  = 0x00
	nodeIdTagFourByte = 0x01
	nodeIdTagNumeric  = 0x02
	nodeIdTagString   = 0x03
	nodeIdTagGUID     = 0x04
	nodeIdTagOpaque   = 0x05

	expandedNamespaceURIFlag = 0x80
	expandedServerIndexFlag  = 0x40
)

// PutNodeId writes the most compact of the six NodeId encodings that can
// represent id exactly.
func (e *Encoder) PutNodeId(id NodeId) {
	switch id.Type {
	case IdTypeNumeric:
		switch {
		case id.Namespace == 0 && id.Numeric <= 0xFF:
			e.PutByte(nodeIdTagTwoByte)
			e.PutByte(byte(id.Numeric))
		case id.Namespace <= 0xFF && id.Numeric <= 0xFFFF:
			e.PutByte(nodeIdTagFourByte)
			e.PutByte(byte(id.Namespace))
			e.PutUint16(uint16(id.Numeric))
		default:
			e.PutByte(nodeIdTagNumeric)
			e.PutUint16(id.Namespace)
			e.PutUint32(id.Numeric)
		}
	case IdTypeString:
		e.PutByte(nodeIdTagString)
		e.PutUint16(id.Namespace)
		s := id.String
		e.PutString(&s)
	case IdTypeGUID:
		e.PutByte(nodeIdTagGUID)
		e.PutUint16(id.Namespace)
		e.PutGuid(id.Guid)
	case IdTypeOpaque:
		e.PutByte(nodeIdTagOpaque)
		e.PutUint16(id.Namespace)
		e.PutByteStringRaw(id.Opaque)
	default:
		e.err = fmt.Errorf("ua: unknown NodeId IdType %d", id.Type)
	}
}

// PutExpandedNodeId writes id, appending the NamespaceURI and/or
// ServerIndex expansion fields when present (spec.md §4.1).
func (e *Encoder) PutExpandedNodeId(id ExpandedNodeId) {
	tag := nodeIdTag(id.NodeId)
	if id.NamespaceURI != "" {
		tag |= expandedNamespaceURIFlag
	}
	if id.ServerIndex != 0 {
		tag |= expandedServerIndexFlag
	}

	switch id.NodeId.Type {
	case IdTypeNumeric:
		e.putNumericBody(tag, id.NodeId)
	case IdTypeString:
		e.PutByte(tag)
		e.PutUint16(id.NodeId.Namespace)
		s := id.NodeId.String
		e.PutString(&s)
	case IdTypeGUID:
		e.PutByte(tag)
		e.PutUint16(id.NodeId.Namespace)
		e.PutGuid(id.NodeId.Guid)
	case IdTypeOpaque:
		e.PutByte(tag)
		e.PutUint16(id.NodeId.Namespace)
		e.PutByteStringRaw(id.NodeId.Opaque)
	}

	if id.NamespaceURI != "" {
		s := id.NamespaceURI
		e.PutString(&s)
	}
	if id.ServerIndex != 0 {
		e.PutUint32(id.ServerIndex)
	}
}

func nodeIdTag(id NodeId) byte {
	switch id.Type {
	case IdTypeNumeric:
		switch {
		case id.Namespace == 0 && id.Numeric <= 0xFF:
			return nodeIdTagTwoByte
		case id.Namespace <= 0xFF && id.Numeric <= 0xFFFF:
			return nodeIdTagFourByte
		default:
			return nodeIdTagNumeric
		}
	case IdTypeString:
		return nodeIdTagString
	case IdTypeGUID:
		return nodeIdTagGUID
	case IdTypeOpaque:
		return nodeIdTagOpaque
	default:
		return nodeIdTagNumeric
	}
}

func (e *Encoder) putNumericBody(tag byte, id NodeId) {
	switch tag &^ (expandedNamespaceURIFlag | expandedServerIndexFlag) {
	case nodeIdTagTwoByte:
		e.PutByte(tag)
		e.PutByte(byte(id.Numeric))
	case nodeIdTagFourByte:
		e.PutByte(tag)
		e.PutByte(byte(id.Namespace))
		e.PutUint16(uint16(id.Numeric))
	default:
		e.PutByte(tag)
		e.PutUint16(id.Namespace)
		e.PutUint32(id.Numeric)
	}
}

func (e *Encoder) PutQualifiedName(q QualifiedName) {
	e.PutUint16(q.NamespaceIndex)
	s := q.Name
	e.PutString(&s)
}

func (e *Encoder) PutLocalizedText(lt LocalizedText) {
	// Encoding mask: bit0 = locale present, bit1 = text present.
	var mask byte
	if lt.Locale != "" {
		mask |= 1
	}
	if lt.Text != "" {
		mask |= 2
	}
	e.PutByte(mask)
	if mask&1 != 0 {
		s := lt.Locale
		e.PutString(&s)
	}
	if mask&2 != 0 {
		s := lt.Text
		e.PutString(&s)
	}
}

func (e *Encoder) PutStatusCode(s StatusCode) { e.PutUint32(uint32(s)) }

func (e *Encoder) PutExtensionObject(eo *ExtensionObject) {
	if eo == nil {
		e.PutNodeId(NullNodeId)
		e.PutByte(byte(ExtensionObjectNoBody))
		return
	}
	e.PutNodeId(eo.TypeId)
	e.PutByte(byte(eo.Encoding))
	switch eo.Encoding {
	case ExtensionObjectNoBody:
		// nothing further
	case ExtensionObjectByteString, ExtensionObjectXMLElement:
		e.PutByteStringRaw(eo.Body)
	}
}

// PutVariant writes v per the Variant encoding byte layout: bit7 = array,
// bit6 = array-dimensions-follow, bits[5:0] = builtin type id.
func (e *Encoder) PutVariant(v Variant) {
	encByte := byte(v.Type)
	if v.IsArray {
		encByte |= variantArrayBit
		if len(v.ArrayDimensions) > 0 {
			encByte |= variantDimensionsBit
		}
	}
	e.PutByte(encByte)

	if !v.IsArray {
		e.putScalar(v)
		return
	}
	if v.Array == nil {
		e.PutInt32(-1)
	} else {
		e.PutInt32(int32(len(v.Array)))
	}
	for _, elem := range v.Array {
		e.putScalar(elem)
	}
	if len(v.ArrayDimensions) > 0 {
		e.PutInt32(int32(len(v.ArrayDimensions)))
		for _, d := range v.ArrayDimensions {
			e.PutInt32(d)
		}
	}
}

func (e *Encoder) putScalar(v Variant) {
	switch v.Type {
	case TypeNull:
		// no payload
	case TypeBoolean:
		e.PutBool(v.Bool)
	case TypeSByte:
		e.PutSByte(v.SByte)
	case TypeByte:
		e.PutByte(v.Byte)
	case TypeInt16:
		e.PutInt16(v.Int16)
	case TypeUInt16:
		e.PutUint16(v.UInt16)
	case TypeInt32:
		e.PutInt32(v.Int32)
	case TypeUInt32:
		e.PutUint32(v.UInt32)
	case TypeInt64:
		e.PutInt64(v.Int64)
	case TypeUInt64:
		e.PutUint64(v.UInt64)
	case TypeFloat:
		e.PutFloat32(v.Float)
	case TypeDouble:
		e.PutFloat64(v.Double)
	case TypeString:
		e.PutString(v.Str)
	case TypeDateTime:
		e.PutDateTime(v.DateTimeTicks)
	case TypeGuid:
		e.PutGuid(v.GuidVal)
	case TypeByteString:
		e.PutByteStringRaw(v.ByteStr)
	case TypeNodeId:
		e.PutNodeId(v.NodeIdVal)
	case TypeExpandedNodeId:
		e.PutExpandedNodeId(v.ExpNodeIdVal)
	case TypeStatusCode:
		e.PutStatusCode(v.StatusVal)
	case TypeQualifiedName:
		e.PutQualifiedName(v.QNameVal)
	case TypeLocalizedText:
		e.PutLocalizedText(v.LocTextVal)
	case TypeExtensionObject:
		e.PutExtensionObject(v.ExtObj)
	default:
		e.err = fmt.Errorf("ua: unsupported variant type %d", v.Type)
	}
}

func (e *Encoder) PutDataValue(dv DataValue) {
	// Encoding mask bits: 0=value,1=status,2=sourceTimestamp,3=serverTimestamp,
	// 4=sourcePicoseconds,5=serverPicoseconds.
	var mask byte
	hasValue := !dv.Value.IsNull()
	if hasValue {
		mask |= 1 << 0
	}
	if dv.Status != Good {
		mask |= 1 << 1
	}
	if dv.SourceTimestamp != 0 {
		mask |= 1 << 2
	}
	if dv.ServerTimestamp != 0 {
		mask |= 1 << 3
	}
	if dv.SourcePicoseconds != 0 {
		mask |= 1 << 4
	}
	if dv.ServerPicoseconds != 0 {
		mask |= 1 << 5
	}
	e.PutByte(mask)
	if hasValue {
		e.PutVariant(dv.Value)
	}
	if mask&(1<<1) != 0 {
		e.PutStatusCode(dv.Status)
	}
	if mask&(1<<2) != 0 {
		e.PutDateTime(dv.SourceTimestamp)
	}
	if mask&(1<<4) != 0 {
		e.PutUint16(dv.SourcePicoseconds)
	}
	if mask&(1<<3) != 0 {
		e.PutDateTime(dv.ServerTimestamp)
	}
	if mask&(1<<5) != 0 {
		e.PutUint16(dv.ServerPicoseconds)
	}
}
