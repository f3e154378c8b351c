package addrspace

import (
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// Well-known namespace-0 node ids the engine must expose (spec.md §6).
var (
	ObjectsFolder          = ua.NewNumericNodeId(0, 85)
	ServerObject           = ua.NewNumericNodeId(0, 2253)
	ServerStatusVariable   = ua.NewNumericNodeId(0, 2256)
	ServerStatusCurrentTime = ua.NewNumericNodeId(0, 2258)
	ServerCapabilities     = ua.NewNumericNodeId(0, 2268)
	ServerDiagnostics      = ua.NewNumericNodeId(0, 2274)
	ServerNamespaceArray   = ua.NewNumericNodeId(0, 2255)
	ServerArrayVariable    = ua.NewNumericNodeId(0, 2254)

	MethodGetMonitoredItems      = ua.NewNumericNodeId(0, 11489)
	MethodSetSubscriptionDurable = ua.NewNumericNodeId(0, 14322)
	MethodResendData             = ua.NewNumericNodeId(0, 12874)
	MethodRequestServerStateChange = ua.NewNumericNodeId(0, 11715)

	refTypeOrganizes = ua.NewNumericNodeId(0, 35)
	refTypeHasComponent = ua.NewNumericNodeId(0, 47)
	refTypeHasProperty  = ua.NewNumericNodeId(0, 46)
)

func qn(name string) ua.QualifiedName   { return ua.QualifiedName{NamespaceIndex: 0, Name: name} }
func lt(text string) ua.LocalizedText   { return ua.LocalizedText{Locale: "en", Text: text} }

// BuildWellKnownNodes populates s with the minimum namespace-0 node set
// the engine must expose (spec.md §6): Objects, Server and its
// ServerStatus/ServerCapabilities/ServerDiagnostics/NamespaceArray/
// ServerArray children, plus method stubs for GetMonitoredItems,
// SetSubscriptionDurable, ResendData and RequestServerStateChange. The
// methods themselves are bound by the server package, which has the
// session/subscription context these methods need; here they are
// registered as placeholders returning BadNotImplemented until bound.
func BuildWellKnownNodes(s *Space, startTime time.Time) {
	s.AddNode(&Node{NodeId: ObjectsFolder, Class: NodeClassObject, BrowseName: qn("Objects"), DisplayName: lt("Objects")})
	s.AddNode(&Node{NodeId: ServerObject, Class: NodeClassObject, BrowseName: qn("Server"), DisplayName: lt("Server")})

	s.AddNode(&Node{
		NodeId: ServerStatusVariable, Class: NodeClassVariable,
		BrowseName: qn("ServerStatus"), DisplayName: lt("ServerStatus"),
		Value: ua.DataValue{Status: ua.Good, SourceTimestamp: ua.DateTimeToTicks(startTime)},
	})
	s.AddNode(&Node{
		NodeId: ServerStatusCurrentTime, Class: NodeClassVariable,
		BrowseName: qn("CurrentTime"), DisplayName: lt("CurrentTime"),
		Refresh: func() ua.DataValue {
			now := time.Now()
			return ua.DataValue{
				Value:          ua.Variant{Type: ua.TypeDateTime, DateTimeTicks: ua.DateTimeToTicks(now)},
				Status:         ua.Good,
				SourceTimestamp: ua.DateTimeToTicks(now),
			}
		},
	})
	s.AddNode(&Node{NodeId: ServerCapabilities, Class: NodeClassObject, BrowseName: qn("ServerCapabilities"), DisplayName: lt("ServerCapabilities")})
	s.AddNode(&Node{NodeId: ServerDiagnostics, Class: NodeClassObject, BrowseName: qn("ServerDiagnostics"), DisplayName: lt("ServerDiagnostics")})
	s.AddNode(&Node{NodeId: ServerNamespaceArray, Class: NodeClassVariable, BrowseName: qn("NamespaceArray"), DisplayName: lt("NamespaceArray")})
	s.AddNode(&Node{NodeId: ServerArrayVariable, Class: NodeClassVariable, BrowseName: qn("ServerArray"), DisplayName: lt("ServerArray")})

	notImplemented := func(_ CallContext, _ []ua.Variant) ([]ua.Variant, ua.StatusCode) {
		return nil, ua.BadNotImplemented
	}
	s.AddNode(&Node{NodeId: MethodGetMonitoredItems, Class: NodeClassMethod, BrowseName: qn("GetMonitoredItems"), DisplayName: lt("GetMonitoredItems"), Invoke: notImplemented})
	s.AddNode(&Node{NodeId: MethodSetSubscriptionDurable, Class: NodeClassMethod, BrowseName: qn("SetSubscriptionDurable"), DisplayName: lt("SetSubscriptionDurable"), Invoke: notImplemented})
	s.AddNode(&Node{NodeId: MethodResendData, Class: NodeClassMethod, BrowseName: qn("ResendData"), DisplayName: lt("ResendData"), Invoke: notImplemented})
	s.AddNode(&Node{NodeId: MethodRequestServerStateChange, Class: NodeClassMethod, BrowseName: qn("RequestServerStateChange"), DisplayName: lt("RequestServerStateChange"), Invoke: notImplemented})

	s.AddReference(ObjectsFolder, refTypeOrganizes, ServerObject)
	s.AddReference(ServerObject, refTypeHasComponent, ServerStatusVariable)
	s.AddReference(ServerStatusVariable, refTypeHasComponent, ServerStatusCurrentTime)
	s.AddReference(ServerObject, refTypeHasProperty, ServerCapabilities)
	s.AddReference(ServerObject, refTypeHasComponent, ServerDiagnostics)
	s.AddReference(ServerObject, refTypeHasProperty, ServerNamespaceArray)
	s.AddReference(ServerObject, refTypeHasProperty, ServerArrayVariable)
	s.AddReference(ServerObject, refTypeHasComponent, MethodGetMonitoredItems)
	s.AddReference(ServerObject, refTypeHasComponent, MethodSetSubscriptionDurable)
	s.AddReference(ServerObject, refTypeHasComponent, MethodResendData)
	s.AddReference(ServerObject, refTypeHasComponent, MethodRequestServerStateChange)
}
