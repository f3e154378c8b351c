package addrspace

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func newTestSpace() *Space {
	s := New()
	BuildWellKnownNodes(s, time.Now())
	return s
}

func TestBrowseObjectsFindsServer(t *testing.T) {
	s := newTestSpace()
	results := s.Browse([]BrowseDescription{{NodeId: ObjectsFolder, Direction: BrowseForward}}, 0)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Status != ua.Good {
		t.Fatalf("expected Good, got %v", res.Status)
	}
	found := false
	for _, ref := range res.References {
		if ref.TargetId.NodeId.Equal(ServerObject) {
			found = true
			if !ref.IsForward {
				t.Fatal("expected forward reference to Server")
			}
			if ref.BrowseName.Name != "Server" {
				t.Fatalf("expected browseName Server, got %q", ref.BrowseName.Name)
			}
		}
	}
	if !found {
		t.Fatal("expected to find Server under Objects")
	}
}

func TestBrowseUnknownNodeReturnsBadNodeIdUnknown(t *testing.T) {
	s := newTestSpace()
	results := s.Browse([]BrowseDescription{{NodeId: ua.NewNumericNodeId(0, 999999)}}, 0)
	if results[0].Status != ua.BadNodeIdUnknown {
		t.Fatalf("expected BadNodeIdUnknown, got %v", results[0].Status)
	}
}

func TestBrowseContinuationPaging(t *testing.T) {
	s := newTestSpace()
	results := s.Browse([]BrowseDescription{{NodeId: ServerObject, Direction: BrowseForward}}, 2)
	res := results[0]
	if len(res.References) != 2 {
		t.Fatalf("expected first page of 2, got %d", len(res.References))
	}
	if len(res.ContinuationPoint) == 0 {
		t.Fatal("expected a continuation point when more references remain")
	}
	next := s.BrowseNext([][]byte{res.ContinuationPoint}, false)
	if next[0].Status != ua.Good {
		t.Fatalf("expected Good on BrowseNext, got %v", next[0].Status)
	}
	if len(next[0].References) == 0 {
		t.Fatal("expected remaining references on BrowseNext")
	}
}

func TestReadCurrentTimeInvokesRefresh(t *testing.T) {
	s := newTestSpace()
	results := s.Read([]ReadValueId{{NodeId: ServerStatusCurrentTime, AttributeId: AttributeValue}}, 0, TimestampsBoth)
	if results[0].Status != ua.Good {
		t.Fatalf("expected Good, got %v", results[0].Status)
	}
	if results[0].Value.Type != ua.TypeDateTime {
		t.Fatalf("expected DateTime variant, got %v", results[0].Value.Type)
	}
}

func TestWriteRejectsNonWritableAttribute(t *testing.T) {
	s := newTestSpace()
	statuses := s.Write([]WriteValue{{NodeId: ServerStatusVariable, AttributeId: AttributeValue, Value: ua.DataValue{}}})
	if statuses[0] != ua.BadNotWritable {
		t.Fatalf("expected BadNotWritable, got %v", statuses[0])
	}
}

func TestWriteSucceedsOnWritableVariable(t *testing.T) {
	s := New()
	id := ua.NewNumericNodeId(1, 1)
	s.AddNode(&Node{NodeId: id, Class: NodeClassVariable, Writable: true})
	statuses := s.Write([]WriteValue{{NodeId: id, AttributeId: AttributeValue, Value: ua.DataValue{Value: ua.NewInt32(7), Status: ua.Good}}})
	if statuses[0] != ua.Good {
		t.Fatalf("expected Good, got %v", statuses[0])
	}
	read := s.Read([]ReadValueId{{NodeId: id, AttributeId: AttributeValue}}, 0, TimestampsBoth)
	if read[0].Value.Int32 != 7 {
		t.Fatalf("expected written value 7, got %v", read[0].Value.Int32)
	}
}

func TestRelativePathEscapesReservedCharacters(t *testing.T) {
	for _, c := range []rune{'/', '.', '<', '>', ':', '#', '!', '&'} {
		path := "/1:x&" + string(c) + "y"
		elements, err := ParseRelativePath(path)
		if err != nil {
			t.Fatalf("parse %q: %v", path, err)
		}
		want := "x" + string(c) + "y"
		if elements[0].TargetName.Name != want {
			t.Fatalf("path %q: got target name %q want %q", path, elements[0].TargetName.Name, want)
		}
	}
}

func TestTranslateBrowsePathServerStatusCurrentTime(t *testing.T) {
	s := newTestSpace()
	elements, err := ParseRelativePath("/0:ServerStatus.0:CurrentTime")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result := s.TranslateBrowsePath(ServerObject, elements)
	if result.Status != ua.Good {
		t.Fatalf("expected Good, got %v", result.Status)
	}
	if len(result.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(result.Targets))
	}
	if !result.Targets[0].TargetId.NodeId.Equal(ServerStatusCurrentTime) {
		t.Fatalf("expected CurrentTime node, got %+v", result.Targets[0].TargetId.NodeId)
	}
	if result.Targets[0].RemainingPathIndex != remainingPathIndexNone {
		t.Fatalf("expected full resolution, got remainingPathIndex %d", result.Targets[0].RemainingPathIndex)
	}
}

func TestCallRejectsWrongArgumentCount(t *testing.T) {
	s := New()
	methodId := ua.NewNumericNodeId(1, 2)
	s.AddNode(&Node{
		NodeId: methodId, Class: NodeClassMethod,
		InputArguments: []Argument{{Name: "x", DataType: dataTypeNodeId(ua.TypeInt32)}},
		Invoke: func(_ CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
			return []ua.Variant{args[0]}, ua.Good
		},
	})
	results := s.Call(CallContext{}, []MethodCall{{MethodId: methodId, InputArgs: nil}})
	if results[0].Status != ua.BadArgumentsMissing {
		t.Fatalf("expected BadArgumentsMissing, got %v", results[0].Status)
	}
}

func TestCallInvokesBoundFunctor(t *testing.T) {
	s := New()
	methodId := ua.NewNumericNodeId(1, 2)
	s.AddNode(&Node{
		NodeId: methodId, Class: NodeClassMethod,
		InputArguments: []Argument{{Name: "x", DataType: dataTypeNodeId(ua.TypeInt32)}},
		Invoke: func(_ CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
			return []ua.Variant{args[0]}, ua.Good
		},
	})
	results := s.Call(CallContext{}, []MethodCall{{MethodId: methodId, InputArgs: []ua.Variant{ua.NewInt32(5)}}})
	if results[0].Status != ua.Good {
		t.Fatalf("expected Good, got %v", results[0].Status)
	}
	if results[0].OutputArgs[0].Int32 != 5 {
		t.Fatalf("expected echoed 5, got %v", results[0].OutputArgs[0].Int32)
	}
}

func TestHistoryReadUnsupportedWithoutReader(t *testing.T) {
	s := New()
	result := s.HistoryRead(nil, ua.NewNumericNodeId(0, 1), time.Time{}, time.Time{})
	if result.Status != ua.BadHistoryOperationUnsupported {
		t.Fatalf("expected BadHistoryOperationUnsupported, got %v", result.Status)
	}
}
