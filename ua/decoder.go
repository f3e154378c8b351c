package ua

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Decoder reads little-endian OPC UA Binary values from an underlying
// reader. Like Encoder, it latches the first error and every call after
// that is a no-op returning the zero value, so callers can issue a
// sequence of Get* calls and check Err() once.
type Decoder struct {
	r   io.Reader
	err error
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) read(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.err = err
	}
	return buf
}

func (d *Decoder) GetBool() bool   { return d.read(1)[0] != 0 }
func (d *Decoder) GetByte() byte   { return d.read(1)[0] }
func (d *Decoder) GetSByte() int8  { return int8(d.read(1)[0]) }

func (d *Decoder) GetUint16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *Decoder) GetInt16() int16   { return int16(d.GetUint16()) }

func (d *Decoder) GetUint32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *Decoder) GetInt32() int32   { return int32(d.GetUint32()) }

func (d *Decoder) GetUint64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }
func (d *Decoder) GetInt64() int64   { return int64(d.GetUint64()) }

func (d *Decoder) GetFloat32() float32 { return math.Float32frombits(d.GetUint32()) }
func (d *Decoder) GetFloat64() float64 { return math.Float64frombits(d.GetUint64()) }

// GetString reads a length-prefixed i32 string; length -1 decodes to a nil
// pointer (spec.md §4.1).
func (d *Decoder) GetString() *string {
	b := d.GetByteStringRaw()
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

// GetByteStringRaw reads a length-prefixed i32 byte string; length -1
// decodes to nil.
func (d *Decoder) GetByteStringRaw() []byte {
	n := d.GetInt32()
	if n < 0 {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	return d.read(int(n))
}

func (d *Decoder) GetGuid() Guid {
	var g Guid
	g.Data1 = d.GetUint32()
	g.Data2 = d.GetUint16()
	g.Data3 = d.GetUint16()
	copy(g.Data4[:], d.read(8))
	return g
}

func (d *Decoder) GetDateTime() int64 { return d.GetInt64() }

// GetNodeId reads any of the six NodeId on-wire encodings.
func (d *Decoder) GetNodeId() NodeId {
	tag := d.GetByte()
	return d.getNodeIdBody(tag &^ (expandedNamespaceURIFlag | expandedServerIndexFlag))
}

func (d *Decoder) getNodeIdBody(tag byte) NodeId {
	switch tag {
	case nodeIdTagTwoByte:
		return NewNumericNodeId(0, uint32(d.GetByte()))
	case nodeIdTagFourByte:
		ns := uint16(d.GetByte())
		return NewNumericNodeId(ns, uint32(d.GetUint16()))
	case nodeIdTagNumeric:
		ns := d.GetUint16()
		return NewNumericNodeId(ns, d.GetUint32())
	case nodeIdTagString:
		ns := d.GetUint16()
		s := d.GetString()
		if s == nil {
			return NewStringNodeId(ns, "")
		}
		return NewStringNodeId(ns, *s)
	case nodeIdTagGUID:
		ns := d.GetUint16()
		return NewGuidNodeId(ns, d.GetGuid())
	case nodeIdTagOpaque:
		ns := d.GetUint16()
		return NewOpaqueNodeId(ns, d.GetByteStringRaw())
	default:
		if d.err == nil {
			d.err = fmt.Errorf("ua: unknown NodeId tag 0x%02x", tag)
		}
		return NullNodeId
	}
}

// GetExpandedNodeId reads a NodeId plus its optional NamespaceURI/ServerIndex
// expansion fields, signalled by the top two bits of the tag byte.
func (d *Decoder) GetExpandedNodeId() ExpandedNodeId {
	tag := d.GetByte()
	hasNS := tag&expandedNamespaceURIFlag != 0
	hasSrv := tag&expandedServerIndexFlag != 0
	body := tag &^ (expandedNamespaceURIFlag | expandedServerIndexFlag)

	id := d.getNodeIdBody(body)
	var ex ExpandedNodeId
	ex.NodeId = id
	if hasNS {
		if s := d.GetString(); s != nil {
			ex.NamespaceURI = *s
		}
	}
	if hasSrv {
		ex.ServerIndex = d.GetUint32()
	}
	return ex
}

func (d *Decoder) GetQualifiedName() QualifiedName {
	ns := d.GetUint16()
	s := d.GetString()
	name := ""
	if s != nil {
		name = *s
	}
	return QualifiedName{NamespaceIndex: ns, Name: name}
}

func (d *Decoder) GetLocalizedText() LocalizedText {
	mask := d.GetByte()
	var lt LocalizedText
	if mask&1 != 0 {
		if s := d.GetString(); s != nil {
			lt.Locale = *s
		}
	}
	if mask&2 != 0 {
		if s := d.GetString(); s != nil {
			lt.Text = *s
		}
	}
	return lt
}

func (d *Decoder) GetStatusCode() StatusCode { return StatusCode(d.GetUint32()) }

func (d *Decoder) GetExtensionObject() *ExtensionObject {
	eo := &ExtensionObject{}
	eo.TypeId = d.GetNodeId()
	eo.Encoding = ExtensionObjectEncoding(d.GetByte())
	switch eo.Encoding {
	case ExtensionObjectNoBody:
	case ExtensionObjectByteString, ExtensionObjectXMLElement:
		eo.Body = d.GetByteStringRaw()
	default:
		if d.err == nil {
			d.err = fmt.Errorf("ua: unknown ExtensionObject encoding %d", eo.Encoding)
		}
	}
	return eo
}

// GetVariant reads a Variant, honoring the array and array-dimensions bits
// of the encoding byte (spec.md §3, §4.1).
func (d *Decoder) GetVariant() Variant {
	encByte := d.GetByte()
	isArray := encByte&variantArrayBit != 0
	hasDims := encByte&variantDimensionsBit != 0
	typ := TypeID(encByte &^ (variantArrayBit | variantDimensionsBit))

	if !isArray {
		return d.getScalar(typ)
	}

	n := d.GetInt32()
	v := Variant{Type: typ, IsArray: true}
	if n >= 0 {
		v.Array = make([]Variant, n)
		for i := range v.Array {
			v.Array[i] = d.getScalar(typ)
		}
	}
	if hasDims {
		dn := d.GetInt32()
		if dn >= 0 {
			v.ArrayDimensions = make([]int32, dn)
			for i := range v.ArrayDimensions {
				v.ArrayDimensions[i] = d.GetInt32()
			}
		}
	}
	return v
}

func (d *Decoder) getScalar(typ TypeID) Variant {
	v := Variant{Type: typ}
	switch typ {
	case TypeNull:
	case TypeBoolean:
		v.Bool = d.GetBool()
	case TypeSByte:
		v.SByte = d.GetSByte()
	case TypeByte:
		v.Byte = d.GetByte()
	case TypeInt16:
		v.Int16 = d.GetInt16()
	case TypeUInt16:
		v.UInt16 = d.GetUint16()
	case TypeInt32:
		v.Int32 = d.GetInt32()
	case TypeUInt32:
		v.UInt32 = d.GetUint32()
	case TypeInt64:
		v.Int64 = d.GetInt64()
	case TypeUInt64:
		v.UInt64 = d.GetUint64()
	case TypeFloat:
		v.Float = d.GetFloat32()
	case TypeDouble:
		v.Double = d.GetFloat64()
	case TypeString:
		v.Str = d.GetString()
	case TypeDateTime:
		v.DateTimeTicks = d.GetDateTime()
	case TypeGuid:
		v.GuidVal = d.GetGuid()
	case TypeByteString:
		v.ByteStr = d.GetByteStringRaw()
	case TypeNodeId:
		v.NodeIdVal = d.GetNodeId()
	case TypeExpandedNodeId:
		v.ExpNodeIdVal = d.GetExpandedNodeId()
	case TypeStatusCode:
		v.StatusVal = d.GetStatusCode()
	case TypeQualifiedName:
		v.QNameVal = d.GetQualifiedName()
	case TypeLocalizedText:
		v.LocTextVal = d.GetLocalizedText()
	case TypeExtensionObject:
		v.ExtObj = d.GetExtensionObject()
	default:
		if d.err == nil {
			d.err = fmt.Errorf("ua: unsupported variant type %d", typ)
		}
	}
	return v
}

func (d *Decoder) GetDataValue() DataValue {
	mask := d.GetByte()
	var dv DataValue
	if mask&(1<<0) != 0 {
		dv.Value = d.GetVariant()
	}
	if mask&(1<<1) != 0 {
		dv.Status = d.GetStatusCode()
	} else {
		dv.Status = Good
	}
	if mask&(1<<2) != 0 {
		dv.SourceTimestamp = d.GetDateTime()
	}
	if mask&(1<<4) != 0 {
		dv.SourcePicoseconds = d.GetUint16()
	}
	if mask&(1<<3) != 0 {
		dv.ServerTimestamp = d.GetDateTime()
	}
	if mask&(1<<5) != 0 {
		dv.ServerPicoseconds = d.GetUint16()
	}
	return dv
}
