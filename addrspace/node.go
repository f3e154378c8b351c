// Package addrspace implements the Address Space Accessor (C4):
// Browse/Read/Write/Call/TranslateBrowsePath/HistoryRead dispatched
// against an in-memory node graph (spec.md §4.4).
//
// The graph is read-concurrent, write-serialized (spec.md §5: "Address
// space is read-concurrent, write-serialized"), grounded on the
// teacher's SubscriptionSet/SubscriptionIndex RWMutex pattern
// (ws/internal/shared/connection.go) generalized from a subscriber set
// to a node graph.
package addrspace

import (
	"sync"

	"github.com/nexroute/opcua-server/ua"
)

// NodeClass mirrors the OPC UA NodeClass enumeration (Part 3 §5.2).
type NodeClass int32

const (
	NodeClassUnspecified  NodeClass = 0
	NodeClassObject       NodeClass = 1
	NodeClassVariable     NodeClass = 2
	NodeClassMethod       NodeClass = 4
	NodeClassObjectType   NodeClass = 8
	NodeClassVariableType NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType     NodeClass = 64
	NodeClassView         NodeClass = 128
)

// Reference is one edge in the address-space graph.
type Reference struct {
	ReferenceTypeId ua.NodeId
	IsForward       bool
	TargetId        ua.NodeId
}

// MethodFunc is the bound functor invoked by the Call service. It
// receives the validated input arguments and returns output arguments
// plus a per-call status.
type MethodFunc func(ctx CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode)

// CallContext carries the caller identity/session needed by a handful of
// well-known methods (e.g. SetSubscriptionDurable needs the calling
// session's subscription). Kept minimal and extended by the server
// package rather than importing session here, avoiding an import cycle.
type CallContext struct {
	SessionId ua.NodeId
}

// Node is one vertex in the address space. Not every field applies to
// every NodeClass; Variable-specific and Method-specific fields are left
// zero for other classes.
type Node struct {
	NodeId      ua.NodeId
	Class       NodeClass
	BrowseName  ua.QualifiedName
	DisplayName ua.LocalizedText

	References []Reference

	// Variable-only.
	Value      ua.DataValue
	DataType   ua.NodeId
	Writable   bool
	// Refresh is invoked by Read when maxAge requires a fresh sample
	// rather than the cached Value (spec.md §4.4). Nil means the cached
	// value is always authoritative (static nodes).
	Refresh func() ua.DataValue

	// Method-only.
	InputArguments  []Argument
	OutputArguments []Argument
	Invoke          MethodFunc
}

// Argument mirrors the OPC UA Argument structure used for
// InputArguments/OutputArguments properties.
type Argument struct {
	Name     string
	DataType ua.NodeId
	ValueRank int32
}

// Space is the address space: a node table plus a reverse-compatible
// reference index, guarded by an RWMutex so reads never block on each
// other (spec.md §5).
type Space struct {
	mu    sync.RWMutex
	nodes map[interface{}]*Node

	continuationsField *continuationStore
}

func New() *Space {
	return &Space{nodes: make(map[interface{}]*Node)}
}

// AddNode inserts or replaces a node. Used at startup to build the
// well-known node set and by applications embedding this server to
// populate their own address space.
func (s *Space) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.NodeId.Key()] = n
}

// AddReference links two existing nodes with a forward/inverse pair,
// mirroring the OPC UA convention that every reference has an implied
// opposite-direction counterpart on the target node.
func (s *Space) AddReference(sourceId, refTypeId, targetId ua.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.nodes[sourceId.Key()]; ok {
		src.References = append(src.References, Reference{ReferenceTypeId: refTypeId, IsForward: true, TargetId: targetId})
	}
	if dst, ok := s.nodes[targetId.Key()]; ok {
		dst.References = append(dst.References, Reference{ReferenceTypeId: refTypeId, IsForward: false, TargetId: sourceId})
	}
}

// GetNode returns the node for id, or nil if unknown. Callers must not
// mutate the returned Node's slices without holding their own
// synchronization; Space-owning code always goes through Space's
// mutating methods instead.
func (s *Space) GetNode(id ua.NodeId) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[id.Key()]
}

func (s *Space) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
