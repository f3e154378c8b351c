package addrspace

import (
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// AttributeId mirrors the OPC UA attribute enumeration's commonly used
// subset (Part 6 §A.1). Only the ones this engine serves are modeled.
type AttributeId uint32

const (
	AttributeNodeId     AttributeId = 1
	AttributeNodeClass  AttributeId = 2
	AttributeBrowseName AttributeId = 3
	AttributeDisplayName AttributeId = 4
	AttributeValue       AttributeId = 13
	AttributeDataType    AttributeId = 14
)

// TimestampsToReturn selects which timestamps Read populates.
type TimestampsToReturn int32

const (
	TimestampsSource TimestampsToReturn = iota
	TimestampsServer
	TimestampsBoth
	TimestampsNeither
)

// ReadValueId is one entry of a Read request.
type ReadValueId struct {
	NodeId      ua.NodeId
	AttributeId AttributeId
}

// Read resolves each ReadValueId, honoring maxAge: a cached Value is
// returned when now-SourceTimestamp <= maxAge, otherwise the variable's
// Refresh hook (if any) is invoked for a fresh sample (spec.md §4.4).
func (s *Space) Read(reads []ReadValueId, maxAge time.Duration, tt TimestampsToReturn) []ua.DataValue {
	out := make([]ua.DataValue, len(reads))
	for i, r := range reads {
		out[i] = s.readOne(r, maxAge, tt)
	}
	return out
}

func (s *Space) readOne(r ReadValueId, maxAge time.Duration, tt TimestampsToReturn) ua.DataValue {
	node := s.GetNode(r.NodeId)
	if node == nil {
		return ua.DataValue{Status: ua.BadNodeIdUnknown}
	}

	switch r.AttributeId {
	case AttributeNodeId:
		return ua.DataValue{Value: ua.NewNodeId(node.NodeId), Status: ua.Good}
	case AttributeNodeClass:
		return ua.DataValue{Value: ua.Variant{Type: ua.TypeInt32, Int32: int32(node.Class)}, Status: ua.Good}
	case AttributeBrowseName:
		v := ua.Variant{Type: ua.TypeQualifiedName, QNameVal: node.BrowseName}
		return ua.DataValue{Value: v, Status: ua.Good}
	case AttributeDisplayName:
		v := ua.Variant{Type: ua.TypeLocalizedText, LocTextVal: node.DisplayName}
		return ua.DataValue{Value: v, Status: ua.Good}
	case AttributeDataType:
		return ua.DataValue{Value: ua.NewNodeId(node.DataType), Status: ua.Good}
	case AttributeValue:
		if node.Class != NodeClassVariable {
			return ua.DataValue{Status: ua.BadNotReadable}
		}
		return s.readValueAttribute(node, maxAge, tt)
	default:
		return ua.DataValue{Status: ua.BadAttributeIdInvalid}
	}
}

func (s *Space) readValueAttribute(node *Node, maxAge time.Duration, tt TimestampsToReturn) ua.DataValue {
	s.mu.RLock()
	cached := node.Value
	refresh := node.Refresh
	s.mu.RUnlock()

	fresh := cached
	if refresh != nil {
		age := time.Since(ua.TicksToDateTime(cached.SourceTimestamp))
		if maxAge <= 0 || age > maxAge {
			fresh = refresh()
			s.mu.Lock()
			node.Value = fresh
			s.mu.Unlock()
		}
	}

	switch tt {
	case TimestampsServer:
		fresh.SourceTimestamp = 0
	case TimestampsNeither:
		fresh.SourceTimestamp, fresh.ServerTimestamp = 0, 0
	}
	return fresh
}

// WriteValue is one entry of a Write request.
type WriteValue struct {
	NodeId      ua.NodeId
	AttributeId AttributeId
	Value       ua.DataValue
}

// Write applies each WriteValue, rejecting attributes that are not
// writable (spec.md §4.4). Only the Value attribute is writable in this
// engine; all others are server-controlled metadata.
func (s *Space) Write(writes []WriteValue) []ua.StatusCode {
	out := make([]ua.StatusCode, len(writes))
	for i, w := range writes {
		out[i] = s.writeOne(w)
	}
	return out
}

func (s *Space) writeOne(w WriteValue) ua.StatusCode {
	node := s.GetNode(w.NodeId)
	if node == nil {
		return ua.BadNodeIdUnknown
	}
	if w.AttributeId != AttributeValue {
		return ua.BadNotWritable
	}
	if node.Class != NodeClassVariable || !node.Writable {
		return ua.BadNotWritable
	}
	s.mu.Lock()
	node.Value = w.Value
	s.mu.Unlock()
	return ua.Good
}

// MethodCall is one entry of a Call request.
type MethodCall struct {
	ObjectId    ua.NodeId
	MethodId    ua.NodeId
	InputArgs   []ua.Variant
}

// CallResult is the per-call outcome.
type CallResult struct {
	Status          ua.StatusCode
	InputArgResults []ua.StatusCode
	OutputArgs      []ua.Variant
}

// Call validates argument count against the method's declared
// InputArguments and invokes its bound functor (spec.md §4.4).
func (s *Space) Call(ctx CallContext, calls []MethodCall) []CallResult {
	out := make([]CallResult, len(calls))
	for i, c := range calls {
		out[i] = s.callOne(ctx, c)
	}
	return out
}

func (s *Space) callOne(ctx CallContext, c MethodCall) CallResult {
	method := s.GetNode(c.MethodId)
	if method == nil {
		return CallResult{Status: ua.BadNodeIdUnknown}
	}
	if method.Class != NodeClassMethod || method.Invoke == nil {
		return CallResult{Status: ua.BadMethodInvalid}
	}
	if len(c.InputArgs) < len(method.InputArguments) {
		return CallResult{Status: ua.BadArgumentsMissing}
	}
	if len(c.InputArgs) > len(method.InputArguments) {
		return CallResult{Status: ua.BadTooManyArguments}
	}

	argResults := make([]ua.StatusCode, len(method.InputArguments))
	ok := true
	for i, decl := range method.InputArguments {
		if !dataTypeNodeId(c.InputArgs[i].Type).Equal(decl.DataType) {
			argResults[i] = ua.BadTypeMismatch
			ok = false
		} else {
			argResults[i] = ua.Good
		}
	}
	if !ok {
		return CallResult{Status: ua.BadInvalidArgument, InputArgResults: argResults}
	}

	outArgs, status := method.Invoke(ctx, c.InputArgs)
	return CallResult{Status: status, InputArgResults: argResults, OutputArgs: outArgs}
}

// HistoryReadResult is the (deliberately minimal) result of a
// historyRead dispatch; historical storage back-ends are out of scope
// (spec.md §4.4: "Delegated; returns Bad_HistoryOperationUnsupported by
// default"). A HistoryReader passed to Space.HistoryRead (such as the
// optional historian adapter, spec.md Ambient Stack A8) supplies the
// values instead.
type HistoryReadResult struct {
	Status ua.StatusCode
	Values []ua.DataValue
}

// HistoryReader is the external collaborator the historian adapter
// implements; absent one, HistoryRead always reports unsupported.
type HistoryReader interface {
	HistoryRead(nodeId ua.NodeId, start, end time.Time) ([]ua.DataValue, error)
}

func (s *Space) HistoryRead(reader HistoryReader, nodeId ua.NodeId, start, end time.Time) HistoryReadResult {
	if reader == nil {
		return HistoryReadResult{Status: ua.BadHistoryOperationUnsupported}
	}
	values, err := reader.HistoryRead(nodeId, start, end)
	if err != nil {
		return HistoryReadResult{Status: ua.BadHistoryOperationUnsupported}
	}
	return HistoryReadResult{Status: ua.Good, Values: values}
}

// dataTypeNodeId returns the Variant's OPC UA DataType NodeId, used by Call to
// validate InputArguments. Only the built-in scalar mapping is modeled.
func dataTypeNodeId(t ua.TypeID) ua.NodeId {
	return ua.NewNumericNodeId(0, uint32(t))
}
