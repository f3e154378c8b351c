package server

import (
	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/internal/diagnostics"
)

// diagnosticsAdapter satisfies addrspace.DiagnosticsSource over
// internal/diagnostics.Registry, translating between the two packages'
// identically-shaped but independently declared Summary types so
// addrspace never has to import the ambient stack.
type diagnosticsAdapter struct {
	registry *diagnostics.Registry
}

func (a diagnosticsAdapter) Snapshot() addrspace.DiagnosticsSummary {
	snap := a.registry.Snapshot()
	return addrspace.DiagnosticsSummary{
		CurrentSessionCount:          snap.CurrentSessionCount,
		CumulatedSessionCount:        snap.CumulatedSessionCount,
		SecurityRejectedSessionCount: snap.SecurityRejectedSessionCount,
		SessionTimeoutCount:          snap.SessionTimeoutCount,
		SessionAbortCount:            snap.SessionAbortCount,
		CurrentSubscriptionCount:     snap.CurrentSubscriptionCount,
		CumulatedSubscriptionCount:   snap.CumulatedSubscriptionCount,
		RejectedRequestsCount:        snap.RejectedRequestsCount,
		CurrentSecureChannelCount:    snap.CurrentSecureChannelCount,
	}
}

func (a diagnosticsAdapter) SamplingIntervals() []float64 {
	return a.registry.SamplingIntervals()
}
