package ua

import "fmt"

// IdType discriminates the four NodeId identifier kinds (spec.md §3).
type IdType byte

const (
	IdTypeNumeric IdType = iota
	IdTypeString
	IdTypeGUID
	IdTypeOpaque
)

// Guid is a 128-bit identifier laid out the way OPC UA encodes it on the
// wire: (u32, u16, u16, 8 bytes), not the RFC 4122 byte order.
type Guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// NodeId is a discriminated node identifier: a namespace index plus one of
// four identifier kinds. Two NodeIds are equal iff namespace and kind+value
// match exactly (spec.md §3).
type NodeId struct {
	Namespace uint16
	Type      IdType
	Numeric   uint32
	String    string
	Guid      Guid
	Opaque    []byte
}

// NewNumericNodeId builds a numeric NodeId, the common case for well-known
// nodes (spec.md §6).
func NewNumericNodeId(ns uint16, id uint32) NodeId {
	return NodeId{Namespace: ns, Type: IdTypeNumeric, Numeric: id}
}

// NewStringNodeId builds a string-identified NodeId.
func NewStringNodeId(ns uint16, id string) NodeId {
	return NodeId{Namespace: ns, Type: IdTypeString, String: id}
}

// NewGuidNodeId builds a GUID-identified NodeId.
func NewGuidNodeId(ns uint16, id Guid) NodeId {
	return NodeId{Namespace: ns, Type: IdTypeGUID, Guid: id}
}

// NewOpaqueNodeId builds an opaque-bytes-identified NodeId.
func NewOpaqueNodeId(ns uint16, id []byte) NodeId {
	return NodeId{Namespace: ns, Type: IdTypeOpaque, Opaque: append([]byte(nil), id...)}
}

// NullNodeId is NodeId(0,0): the canonical "no node" value (spec.md §3).
var NullNodeId = NewNumericNodeId(0, 0)

// IsNull reports whether id is the null NodeId.
func (id NodeId) IsNull() bool {
	return id.Namespace == 0 && id.Type == IdTypeNumeric && id.Numeric == 0
}

// Equal implements the exact namespace+kind+value equality spec.md §3
// requires; it is not satisfied by two NodeIds that merely stringify the
// same way.
func (id NodeId) Equal(other NodeId) bool {
	if id.Namespace != other.Namespace || id.Type != other.Type {
		return false
	}
	switch id.Type {
	case IdTypeNumeric:
		return id.Numeric == other.Numeric
	case IdTypeString:
		return id.String == other.String
	case IdTypeGUID:
		return id.Guid == other.Guid
	case IdTypeOpaque:
		return string(id.Opaque) == string(other.Opaque)
	default:
		return false
	}
}

// Key returns a value usable as a Go map key for this NodeId, since NodeId
// itself is not comparable when it holds a []byte opaque identifier.
func (id NodeId) Key() interface{} {
	switch id.Type {
	case IdTypeNumeric:
		return fmt.Sprintf("%d:i:%d", id.Namespace, id.Numeric)
	case IdTypeString:
		return fmt.Sprintf("%d:s:%s", id.Namespace, id.String)
	case IdTypeGUID:
		return fmt.Sprintf("%d:g:%v", id.Namespace, id.Guid)
	case IdTypeOpaque:
		return fmt.Sprintf("%d:b:%s", id.Namespace, string(id.Opaque))
	default:
		return fmt.Sprintf("%d:?", id.Namespace)
	}
}

// ExpandedNodeId extends NodeId with an optional namespace URI and server
// index, used when a reference crosses a namespace or server boundary.
type ExpandedNodeId struct {
	NodeId       NodeId
	NamespaceURI string
	ServerIndex  uint32
}
