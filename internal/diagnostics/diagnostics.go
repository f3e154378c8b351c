// Package diagnostics is the single counter source feeding both
// Prometheus (internal/metrics) and the Server_ServerDiagnostics
// address-space subtree (addrspace), so the two views of "how busy is
// this server" never drift apart.
//
// Grounded on the teacher's metrics.go package-level counters, split
// into a live Registry the rest of the server increments directly
// (CreateSession, CloseSession, CreateSubscription, ...) instead of
// scattering prometheus.Inc() calls across every service handler.
package diagnostics

import (
	"sync/atomic"

	"github.com/nexroute/opcua-server/internal/metrics"
)

// Registry holds the running counters behind ServerDiagnosticsSummary
// (OPC UA Part 5 §6.3), the subset this server tracks.
type Registry struct {
	currentSessionCount          atomic.Int64
	cumulatedSessionCount        atomic.Uint32
	securityRejectedSessionCount atomic.Uint32
	sessionTimeoutCount          atomic.Uint32
	sessionAbortCount            atomic.Uint32

	currentSubscriptionCount   atomic.Int64
	cumulatedSubscriptionCount atomic.Uint32
	publishingIntervalCount    atomic.Int64
	rejectedRequestsCount      atomic.Uint32

	currentSecureChannelCount atomic.Int64

	// samplingIntervals is pulled at read time from the subscription
	// engine rather than tracked incrementally, since the live set of
	// MonitoredItem sampling intervals already exists there.
	samplingIntervals func() []float64
}

func New() *Registry { return &Registry{} }

// SetSamplingIntervalsSource wires the callback SamplingIntervalDiagnosticsArray
// reads from. Called once at server startup after the subscription
// engine exists.
func (r *Registry) SetSamplingIntervalsSource(f func() []float64) {
	r.samplingIntervals = f
}

// SessionCreated records a successful CreateSession.
func (r *Registry) SessionCreated() {
	r.currentSessionCount.Add(1)
	r.cumulatedSessionCount.Add(1)
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(r.currentSessionCount.Load()))
}

// SessionClosed records any session leaving the table, however it left.
func (r *Registry) SessionClosed() {
	r.currentSessionCount.Add(-1)
	metrics.SessionsActive.Set(float64(r.currentSessionCount.Load()))
}

// SessionEvicted records a session closed to admit a new one under
// maxSessions pressure (spec.md §4.5 step 3).
func (r *Registry) SessionEvicted() {
	metrics.SessionsEvicted.Inc()
}

// SessionTimedOut records the watchdog (Sweep) closing an inactive session.
func (r *Registry) SessionTimedOut() {
	r.sessionTimeoutCount.Add(1)
	metrics.SessionsExpired.Inc()
}

// SessionSecurityRejected records a CreateSession/ActivateSession
// rejected for an identity/signature/application mismatch.
func (r *Registry) SessionSecurityRejected() { r.securityRejectedSessionCount.Add(1) }

// SessionAborted records a session pushed into Screwed by channel loss
// rather than an orderly CloseSession; it still counts toward
// currentSessionCount until Sweep closes it for good.
func (r *Registry) SessionAborted() { r.sessionAbortCount.Add(1) }

// SubscriptionCreated/SubscriptionClosed track live and cumulative
// subscription counts and keep the SubscriptionsActive gauge in step.
func (r *Registry) SubscriptionCreated() {
	r.currentSubscriptionCount.Add(1)
	r.cumulatedSubscriptionCount.Add(1)
	metrics.SubscriptionsActive.Set(float64(r.currentSubscriptionCount.Load()))
}

func (r *Registry) SubscriptionClosed() {
	r.currentSubscriptionCount.Add(-1)
	metrics.SubscriptionsActive.Set(float64(r.currentSubscriptionCount.Load()))
}

// SubscriptionOrphaned adjusts the gauge of subscriptions detached from
// a closed session (spec.md §4.5's orphanage) by delta: positive when
// subscriptions are orphaned, negative when they are reattached.
func (r *Registry) SubscriptionOrphaned(delta int) {
	metrics.SubscriptionsOrphaned.Add(float64(delta))
}

// RequestRejected records any service invocation rejected by the
// admission guard or a table's capacity check.
func (r *Registry) RequestRejected() { r.rejectedRequestsCount.Add(1) }

// ChannelOpened/ChannelClosed track live secure channels (C3).
func (r *Registry) ChannelOpened() {
	r.currentSecureChannelCount.Add(1)
	metrics.ChannelsOpened.Inc()
	metrics.ChannelsActive.Set(float64(r.currentSecureChannelCount.Load()))
}

func (r *Registry) ChannelClosed() {
	r.currentSecureChannelCount.Add(-1)
	metrics.ChannelsActive.Set(float64(r.currentSecureChannelCount.Load()))
}

// Summary is a point-in-time snapshot of ServerDiagnosticsSummary.
type Summary struct {
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

func (r *Registry) Snapshot() Summary {
	return Summary{
		CurrentSessionCount:          r.currentSessionCount.Load(),
		CumulatedSessionCount:        r.cumulatedSessionCount.Load(),
		SecurityRejectedSessionCount: r.securityRejectedSessionCount.Load(),
		SessionTimeoutCount:          r.sessionTimeoutCount.Load(),
		SessionAbortCount:            r.sessionAbortCount.Load(),
		CurrentSubscriptionCount:     r.currentSubscriptionCount.Load(),
		CumulatedSubscriptionCount:   r.cumulatedSubscriptionCount.Load(),
		RejectedRequestsCount:        r.rejectedRequestsCount.Load(),
		CurrentSecureChannelCount:    r.currentSecureChannelCount.Load(),
	}
}

// SamplingIntervals returns the live set of MonitoredItem sampling
// intervals for SamplingIntervalDiagnosticsArray (spec.md §9 Open
// Question #2), or nil before the source is wired.
func (r *Registry) SamplingIntervals() []float64 {
	if r.samplingIntervals == nil {
		return nil
	}
	return r.samplingIntervals()
}
