package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/internal/breaker"
	"github.com/nexroute/opcua-server/internal/diagnostics"
	"github.com/nexroute/opcua-server/internal/events"
	"github.com/nexroute/opcua-server/internal/identity"
	"github.com/nexroute/opcua-server/internal/metrics"
	"github.com/nexroute/opcua-server/internal/sysmonitor"
	"github.com/nexroute/opcua-server/internal/worker"
	"github.com/nexroute/opcua-server/securechannel"
	"github.com/nexroute/opcua-server/session"
	"github.com/nexroute/opcua-server/subscription"
	"github.com/nexroute/opcua-server/transport"
	"github.com/nexroute/opcua-server/ua"
)

// Limits collects the config-derived knobs Server needs, kept separate
// from internal/config.Config so this package never imports it directly
// (cmd/opcua-server is the only place that reads env vars).
type Limits struct {
	MaxSubscriptionsPerSession int
	MaxMonitoredItemsPerSub    int
	MaxDurableHours            uint32
}

// Server is the single-logical-thread service dispatcher (spec.md §5):
// every exported method that touches shared state is only ever called
// from the connection goroutine that owns the frame currently being
// processed, or from the one background ticker goroutine driving
// Subscription ticks and table sweeps. Neither path takes a lock of its
// own beyond what session/subscription/securechannel already hold
// internally; Server itself adds no additional locking.
//
// Grounded on the teacher's single-process hub (internal/single/core),
// generalized from one in-memory broadcast hub to the session table,
// subscription engine and address space this server owns.
type Server struct {
	channels *securechannel.Manager
	sessions *session.Table
	engine   *subscription.Engine
	space    *addrspace.Space

	diag     *diagnostics.Registry
	guard    *sysmonitor.AdmissionGuard
	identity *identity.Validator // nil disables token identity verification
	history  addrspace.HistoryReader
	events   *events.Publisher // nil-safe: Publish is a no-op on a nil *Publisher

	callBreaker    *breaker.Breaker[[]ua.Variant]
	historyBreaker *breaker.Breaker[[]ua.DataValue]
	pool           *worker.Pool

	pusher transport.Pusher
	logger zerolog.Logger

	limits Limits
}

// Config bundles every collaborator NewServer wires together. Fields
// left zero/nil disable the optional feature they back (History, a JWT
// identity validator, the audit event bus).
type Config struct {
	Channels *securechannel.Manager
	Sessions *session.Table
	Engine   *subscription.Engine
	Space    *addrspace.Space

	Diagnostics *diagnostics.Registry
	Guard       *sysmonitor.AdmissionGuard
	Identity    *identity.Validator
	History     addrspace.HistoryReader
	Events      *events.Publisher
	Pool        *worker.Pool

	Pusher transport.Pusher
	Logger zerolog.Logger

	Limits Limits
}

func NewServer(cfg Config) *Server {
	s := &Server{
		channels: cfg.Channels,
		sessions: cfg.Sessions,
		engine:   cfg.Engine,
		space:    cfg.Space,
		diag:     cfg.Diagnostics,
		guard:    cfg.Guard,
		identity: cfg.Identity,
		history:  cfg.History,
		events:   cfg.Events,
		pool:     cfg.Pool,
		pusher:   cfg.Pusher,
		logger:   cfg.Logger,
		limits:   cfg.Limits,
	}
	s.callBreaker = breaker.New[[]ua.Variant](breaker.Config{Name: "call"}, s.logger)
	s.historyBreaker = breaker.New[[]ua.DataValue](breaker.Config{Name: "history-read"}, s.logger)
	if s.diag != nil {
		s.diag.SetSamplingIntervalsSource(s.engine.SamplingIntervals)
		if s.space != nil {
			addrspace.BindDiagnostics(s.space, diagnosticsAdapter{registry: s.diag})
		}
	}
	s.bindWellKnownMethods()
	return s
}

// ChannelOpened/ChannelClosed implement transport.ChannelLifecycle, so a
// Connection can tell Server about a secure channel's lifetime without
// any service request ever having to flow through Dispatch.
func (s *Server) ChannelOpened(channelId uint32) {
	if s.guard != nil {
		s.guard.ChannelOpened()
	}
	if s.diag != nil {
		s.diag.ChannelOpened()
	}
}

func (s *Server) ChannelClosed(channelId uint32) {
	if s.guard != nil {
		s.guard.ChannelClosed()
	}
	if s.diag != nil {
		s.diag.ChannelClosed()
	}
	screwed := s.sessions.ScrewSessionsForChannel(channelId)
	for range screwed {
		if s.diag != nil {
			s.diag.SessionAborted()
		}
	}
}

// Dispatch implements transport.Dispatcher. It is the only entry point
// into the service layer: every request body starts with the NodeId of
// its DataType (spec.md §4.1), which peekTypeId reads to route to the
// matching handler. A handler returning a nil body means the request
// was parked (Publish with nothing to report yet, spec.md §4.8) rather
// than answered; Dispatch itself never blocks waiting for that answer.
func (s *Server) Dispatch(channelId uint32, _ ua.NodeId, body []byte) []byte {
	now := time.Now()
	typeId := peekTypeId(body)
	if typeId.Namespace != 0 || typeId.Type != ua.IdTypeNumeric {
		return s.fault(body, now, ua.BadNotImplemented)
	}

	switch typeId.Numeric {
	case createSessionRequestTypeId:
		return s.handleCreateSession(channelId, body, now)
	case activateSessionRequestTypeId:
		return s.handleActivateSession(channelId, body, now)
	case closeSessionRequestTypeId:
		return s.handleCloseSession(body, now)
	case cancelRequestTypeId:
		return s.handleCancel(body, now)

	case readRequestTypeId:
		return s.handleRead(body, now)
	case writeRequestTypeId:
		return s.handleWrite(body, now)

	case browseRequestTypeId:
		return s.handleBrowse(body, now)
	case browseNextRequestTypeId:
		return s.handleBrowseNext(body, now)
	case translateBrowsePathsToNodeIdsRequestTypeId:
		return s.handleTranslateBrowsePaths(body, now)
	case registerNodesRequestTypeId:
		return s.handleRegisterNodes(body, now)
	case unregisterNodesRequestTypeId:
		return s.handleUnregisterNodes(body, now)

	case callRequestTypeId:
		return s.handleCall(body, now)

	case historyReadRequestTypeId:
		return s.handleHistoryRead(body, now)
	case historyUpdateRequestTypeId:
		return s.handleHistoryUpdate(body, now)

	case createSubscriptionRequestTypeId:
		return s.handleCreateSubscription(body, now)
	case modifySubscriptionRequestTypeId:
		return s.handleModifySubscription(body, now)
	case setPublishingModeRequestTypeId:
		return s.handleSetPublishingMode(body, now)
	case deleteSubscriptionsRequestTypeId:
		return s.handleDeleteSubscriptions(body, now)
	case transferSubscriptionsRequestTypeId:
		return s.handleTransferSubscriptions(body, now)

	case createMonitoredItemsRequestTypeId:
		return s.handleCreateMonitoredItems(body, now)
	case modifyMonitoredItemsRequestTypeId:
		return s.handleModifyMonitoredItems(body, now)
	case setMonitoringModeRequestTypeId:
		return s.handleSetMonitoringMode(body, now)
	case setTriggeringRequestTypeId:
		return s.handleSetTriggering(body, now)
	case deleteMonitoredItemsRequestTypeId:
		return s.handleDeleteMonitoredItems(body, now)

	case publishRequestTypeId:
		return s.handlePublish(channelId, body, now)
	case republishRequestTypeId:
		return s.handleRepublish(body, now)

	default:
		return s.fault(body, now, ua.BadNotImplemented)
	}
}

// fault decodes only the request header (the rest of the body may be
// unparseable) and wraps status into a ServiceFault, counting it as a
// rejected request for diagnostics.
func (s *Server) fault(body []byte, now time.Time, status ua.StatusCode) []byte {
	if s.diag != nil {
		s.diag.RequestRejected()
	}
	reqHdr := decodeHeaderOnly(body)
	return encodeServiceFault(reqHdr, ua.DateTimeToTicks(now), status)
}

// Tick drives every background-owned piece of state: subscription
// publishing intervals and keep-alives, idle session eviction, and
// secure channel renewal eligibility. Called from one dedicated
// goroutine on a short fixed period (spec.md §5's "logical clock").
// It never touches a connection directly; completed notifications are
// handed to pusher by channel id, looked up through the owning session.
func (s *Server) Tick(ctx context.Context, now time.Time) {
	for _, samp := range s.engine.Samples() {
		values := s.space.Read([]addrspace.ReadValueId{{NodeId: samp.NodeId, AttributeId: addrspace.AttributeId(samp.AttributeId)}}, 0, addrspace.TimestampsSource)
		if len(values) == 0 {
			continue
		}
		s.engine.FeedSample(samp.SubscriptionId, samp.ItemId, values[0])
	}

	closedSubs, delivered := s.engine.TickAll(now)
	for _, closed := range closedSubs {
		if s.diag != nil {
			s.diag.SubscriptionClosed()
		}
		metrics.SubscriptionsActive.Dec()
		s.sessions.ForgetSubscription(closed.SessionId, closed.SubscriptionId)
	}
	for _, d := range delivered {
		sess, ok := s.sessions.SessionById(d.SessionId)
		if !ok || s.pusher == nil {
			continue
		}
		s.pusher.Push(sess.ChannelId, d.Response.RequestId, encodePublishResponse(d.Response, ua.DateTimeToTicks(now)))
	}

	for _, sess := range s.sessions.Sweep(now) {
		if s.diag != nil {
			s.diag.SessionTimedOut()
		}
		s.sessions.CloseSession(sess.AuthToken, false, session.CloseTimeout, s.engine)
		if s.diag != nil {
			s.diag.SessionClosed()
		}
	}

	if s.channels != nil {
		for _, ch := range s.channels.ChannelsNeedingRenewal() {
			s.logger.Debug().Uint32("channel_id", ch.ID()).Msg("server: channel due for renewal")
		}
	}

	if s.guard != nil {
		s.guard.UpdateResources()
	}
}

// publishEvent sends an audit-bus event (A6) off the dispatch loop via
// the worker pool, since a NATS publish can block on a slow broker; a
// no-op when no Publisher is configured, as events.Publisher.Publish is
// itself nil-safe. Falls back to an inline publish if the pool is full
// or unset, since losing an audit event silently is worse than a brief
// stall.
func (s *Server) publishEvent(kind string, fields map[string]any) {
	evt := events.Event{Kind: kind, Timestamp: time.Now(), Fields: fields}
	if s.pool == nil || !s.pool.Submit(func() { s.events.Publish(evt) }) {
		s.events.Publish(evt)
	}
}
