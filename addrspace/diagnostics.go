package addrspace

import (
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// DiagnosticsSource is the subset of internal/diagnostics.Registry the
// address space needs; declared here (rather than importing that
// package's concrete type) to keep addrspace free of a dependency on
// the ambient stack.
type DiagnosticsSource interface {
	Snapshot() DiagnosticsSummary
	SamplingIntervals() []float64
}

// DiagnosticsSummary mirrors internal/diagnostics.Summary's fields.
// Duplicated rather than imported for the same reason as
// DiagnosticsSource; server wires the two together with a small
// adapter at startup.
type DiagnosticsSummary struct {
	CurrentSessionCount          int64
	CumulatedSessionCount        uint32
	SecurityRejectedSessionCount uint32
	SessionTimeoutCount          uint32
	SessionAbortCount            uint32
	CurrentSubscriptionCount     int64
	CumulatedSubscriptionCount   uint32
	RejectedRequestsCount        uint32
	CurrentSecureChannelCount    int64
}

var (
	ServerDiagnosticsSummary            = ua.NewNumericNodeId(0, 2290)
	DiagCurrentSessionCount             = ua.NewNumericNodeId(0, 2291)
	DiagCumulatedSessionCount           = ua.NewNumericNodeId(0, 2292)
	DiagSecurityRejectedSessionCount    = ua.NewNumericNodeId(0, 2293)
	DiagSessionTimeoutCount             = ua.NewNumericNodeId(0, 2294)
	DiagSessionAbortCount               = ua.NewNumericNodeId(0, 2295)
	DiagCurrentSubscriptionCount        = ua.NewNumericNodeId(0, 2296)
	DiagCumulatedSubscriptionCount      = ua.NewNumericNodeId(0, 2297)
	DiagRejectedRequestsCount           = ua.NewNumericNodeId(0, 2298)
	DiagCurrentSecureChannelCount       = ua.NewNumericNodeId(0, 2299)
	SamplingIntervalDiagnosticsArray    = ua.NewNumericNodeId(0, 2300)
)

// BindDiagnostics registers ServerDiagnosticsSummary's component
// variables under the ServerDiagnostics object built by
// BuildWellKnownNodes, each backed by a Refresh callback reading live
// counters from source rather than a value cached at startup.
//
// Grounded on the ServerStatusCurrentTime pattern already used for a
// live, Refresh-backed Variable node.
func BindDiagnostics(s *Space, source DiagnosticsSource) {
	now := func() int64 { return ua.DateTimeToTicks(time.Now()) }

	addCounter := func(id ua.NodeId, name string, read func(DiagnosticsSummary) int64) {
		s.AddNode(&Node{
			NodeId: id, Class: NodeClassVariable,
			BrowseName: qn(name), DisplayName: lt(name),
			DataType: dataTypeNodeId(ua.TypeUInt32),
			Refresh: func() ua.DataValue {
				v := read(source.Snapshot())
				return ua.DataValue{
					Value:           ua.Variant{Type: ua.TypeUInt32, UInt32: uint32(v)},
					Status:          ua.Good,
					SourceTimestamp: now(),
				}
			},
		})
		s.AddReference(ServerDiagnosticsSummary, refTypeHasComponent, id)
	}

	s.AddNode(&Node{NodeId: ServerDiagnosticsSummary, Class: NodeClassVariable, BrowseName: qn("ServerDiagnosticsSummary"), DisplayName: lt("ServerDiagnosticsSummary")})
	s.AddReference(ServerDiagnostics, refTypeHasComponent, ServerDiagnosticsSummary)

	addCounter(DiagCurrentSessionCount, "CurrentSessionCount", func(s DiagnosticsSummary) int64 { return s.CurrentSessionCount })
	addCounter(DiagCumulatedSessionCount, "CumulatedSessionCount", func(s DiagnosticsSummary) int64 { return int64(s.CumulatedSessionCount) })
	addCounter(DiagSecurityRejectedSessionCount, "SecurityRejectedSessionCount", func(s DiagnosticsSummary) int64 { return int64(s.SecurityRejectedSessionCount) })
	addCounter(DiagSessionTimeoutCount, "SessionTimeoutCount", func(s DiagnosticsSummary) int64 { return int64(s.SessionTimeoutCount) })
	addCounter(DiagSessionAbortCount, "SessionAbortCount", func(s DiagnosticsSummary) int64 { return int64(s.SessionAbortCount) })
	addCounter(DiagCurrentSubscriptionCount, "CurrentSubscriptionCount", func(s DiagnosticsSummary) int64 { return s.CurrentSubscriptionCount })
	addCounter(DiagCumulatedSubscriptionCount, "CumulatedSubscriptionCount", func(s DiagnosticsSummary) int64 { return int64(s.CumulatedSubscriptionCount) })
	addCounter(DiagRejectedRequestsCount, "RejectedRequestsCount", func(s DiagnosticsSummary) int64 { return int64(s.RejectedRequestsCount) })
	addCounter(DiagCurrentSecureChannelCount, "CurrentSecureChannelCount", func(s DiagnosticsSummary) int64 { return s.CurrentSecureChannelCount })

	s.AddNode(&Node{
		NodeId: SamplingIntervalDiagnosticsArray, Class: NodeClassVariable,
		BrowseName: qn("SamplingIntervalDiagnosticsArray"), DisplayName: lt("SamplingIntervalDiagnosticsArray"),
		Refresh: func() ua.DataValue {
			intervals := source.SamplingIntervals()
			array := make([]ua.Variant, len(intervals))
			for i, v := range intervals {
				array[i] = ua.NewDouble(v)
			}
			return ua.DataValue{
				Value:           ua.Variant{Type: ua.TypeDouble, IsArray: true, Array: array},
				Status:          ua.Good,
				SourceTimestamp: now(),
			}
		},
	})
	s.AddReference(ServerDiagnostics, refTypeHasComponent, SamplingIntervalDiagnosticsArray)
}
