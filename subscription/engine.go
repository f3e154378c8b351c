package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// ClosedSubscription is returned by TickAll for subscriptions that just
// transitioned to Closed, so the caller can emit the final
// StatusChangeNotification Bad_Timeout (spec.md §4.6 step 4).
type ClosedSubscription struct {
	SubscriptionId uint32
	SessionId      ua.NodeId
}

// Engine owns every subscription on the server, including ones parked in
// the orphanage after their owning session closed without deleting them
// (spec.md §4.5: "a headless publish engine that runs their lifetime
// counters but accepts no Publish requests").
//
// Grounded on the teacher's server-wide connection registry
// (ws/internal/shared/server.go) generalized from a flat client map to a
// two-level subscription-id -> session-id -> per-session Matcher
// structure, since Publish credit matching is scoped per session
// (spec.md §4.8) while ticking is scoped per subscription.
type Engine struct {
	mu            sync.Mutex
	subscriptions map[uint32]*Subscription
	matchers      map[interface{}]*Matcher // keyed by session NodeId.Key()
	orphaned      map[uint32]bool
	nextId        uint32
	nextItemId    uint32

	maxPublishRequestInQueue int
}

func NewEngine(maxPublishRequestInQueue int) *Engine {
	return &Engine{
		subscriptions:            make(map[uint32]*Subscription),
		matchers:                 make(map[interface{}]*Matcher),
		orphaned:                 make(map[uint32]bool),
		maxPublishRequestInQueue: maxPublishRequestInQueue,
	}
}

func (e *Engine) nextSubscriptionId() uint32 {
	return atomic.AddUint32(&e.nextId, 1)
}

// NextMonitoredItemId allocates a MonitoredItem id unique across every
// subscription on this engine, so GetMonitoredItems/SetTriggering can
// reference items without a subscription-scoped namespace collision.
func (e *Engine) NextMonitoredItemId() uint32 {
	return atomic.AddUint32(&e.nextItemId, 1)
}

// CreateSubscription allocates and registers a new subscription under
// sessionId, attaching it to that session's Publish-Request Matcher.
func (e *Engine) CreateSubscription(sessionId ua.NodeId, cfg Config) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSubscriptionId()
	sub := New(id, sessionId, cfg)
	e.subscriptions[id] = sub
	e.matcherLocked(sessionId).AddSubscription(sub)
	return sub
}

func (e *Engine) matcherLocked(sessionId ua.NodeId) *Matcher {
	key := sessionId.Key()
	m, ok := e.matchers[key]
	if !ok {
		m = NewMatcher(e.maxPublishRequestInQueue)
		e.matchers[key] = m
	}
	return m
}

// Matcher returns the Publish-Request Matcher for a session, creating
// one if this is its first subscription.
func (e *Engine) Matcher(sessionId ua.NodeId) *Matcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcherLocked(sessionId)
}

func (e *Engine) Get(id uint32) (*Subscription, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subscriptions[id]
	return s, ok
}

// DeleteSubscription removes a subscription and its items/retransmission
// queue entirely, detaching it from its session's matcher.
func (e *Engine) DeleteSubscription(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subscriptions[id]
	if !ok {
		return
	}
	if m, ok := e.matchers[sub.SessionId.Key()]; ok {
		m.RemoveSubscription(id)
	}
	delete(e.subscriptions, id)
	delete(e.orphaned, id)
}

// Orphan detaches a subscription from its session's matcher without
// deleting it: it keeps ticking (lifetime counter, keep-alives) but
// nothing will ever drain its notifications until TransferTo reattaches
// it (spec.md §4.5).
func (e *Engine) Orphan(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subscriptions[id]
	if !ok {
		return
	}
	if m, ok := e.matchers[sub.SessionId.Key()]; ok {
		m.RemoveSubscription(id)
	}
	e.orphaned[id] = true
}

// TransferTo reattaches a subscription (orphaned or still owned by
// another active session) to targetSession's matcher, matching
// transferSubscription's effect on the publish side (spec.md §4.5); the
// session package's Table.TransferSubscription handles the
// identity/ownership checks, this only moves the dispatch wiring.
func (e *Engine) TransferTo(id uint32, targetSession ua.NodeId, sendInitialValues bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subscriptions[id]
	if !ok {
		return
	}
	if m, ok := e.matchers[sub.SessionId.Key()]; ok {
		m.RemoveSubscription(id)
	}
	sub.SessionId = targetSession
	delete(e.orphaned, id)
	e.matcherLocked(targetSession).AddSubscription(sub)

	if sendInitialValues {
		sub.mu.Lock()
		for _, item := range sub.items {
			if item.Kind == KindDataChange && item.hasLast {
				item.push(item.lastValue)
			}
		}
		sub.mu.Unlock()
	}
}

// Delivery pairs a drained PublishResponse with the session it belongs
// to, since Matcher itself only knows request ids, not which socket to
// push the answer back through.
type Delivery struct {
	SessionId ua.NodeId
	Response  *PublishResponse
}

// TickAll runs one publishing cycle for every subscription on each call,
// whatever its PublishingInterval, draining ready notifications into
// their session's matcher. The engine keeps no per-subscription timer or
// schedule, so the rate at which the caller invokes TickAll sets the
// publishing cadence of all subscriptions alike.
func (e *Engine) TickAll(now time.Time) ([]ClosedSubscription, []Delivery) {
	e.mu.Lock()
	ids := make([]uint32, 0, len(e.subscriptions))
	for id := range e.subscriptions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var closed []ClosedSubscription
	var delivered []Delivery
	for _, id := range ids {
		e.mu.Lock()
		sub, ok := e.subscriptions[id]
		orphaned := e.orphaned[id]
		e.mu.Unlock()
		if !ok {
			continue
		}

		msg, justClosed := sub.Tick(now)
		if justClosed {
			closed = append(closed, ClosedSubscription{SubscriptionId: id, SessionId: sub.SessionId})
			e.DeleteSubscription(id)
			continue
		}
		if msg == nil || orphaned {
			continue
		}

		var resp *PublishResponse
		if m := e.Matcher(sub.SessionId); m != nil {
			resp = m.DrainOnTick(id, msg)
		}
		if resp != nil {
			sub.ConfirmDelivered(msg)
			delivered = append(delivered, Delivery{SessionId: sub.SessionId, Response: resp})
			continue
		}
		if sub.ConfirmUndelivered() {
			closed = append(closed, ClosedSubscription{SubscriptionId: id, SessionId: sub.SessionId})
			e.DeleteSubscription(id)
		}
	}
	return closed, delivered
}

// OrphanSubscription implements session.SubscriptionDetacher.
func (e *Engine) OrphanSubscription(id uint32) { e.Orphan(id) }

// SamplingIntervals lists the distinct MonitoredItem sampling intervals
// currently active across every subscription, for
// SamplingIntervalDiagnosticsArray (spec.md §9 Open Question #2).
func (e *Engine) SamplingIntervals() []float64 {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	seen := make(map[float64]struct{})
	var out []float64
	for _, sub := range subs {
		sub.mu.Lock()
		for _, item := range sub.items {
			ms := float64(item.SamplingInterval / time.Millisecond)
			if _, ok := seen[ms]; !ok {
				seen[ms] = struct{}{}
				out = append(out, ms)
			}
		}
		sub.mu.Unlock()
	}
	return out
}

// ItemSample describes one DataChange MonitoredItem's address-space
// source, for the caller to resample every tick and feed back through
// FeedSample. Sampling is driven by the same logical clock as
// publishing (spec.md §5): this engine has no per-item timer, so every
// enabled item is resampled once per tick regardless of its configured
// SamplingInterval, which otherwise only affects diagnostics reporting.
type ItemSample struct {
	SubscriptionId uint32
	ItemId         uint32
	NodeId         ua.NodeId
	AttributeId    uint32
}

// Samples lists every enabled DataChange item across every subscription.
func (e *Engine) Samples() []ItemSample {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	var out []ItemSample
	for _, sub := range subs {
		sub.mu.Lock()
		for id, item := range sub.items {
			if item.Kind == KindDataChange && item.Mode != ModeDisabled {
				out = append(out, ItemSample{SubscriptionId: sub.Id, ItemId: id, NodeId: item.NodeId, AttributeId: item.AttributeId})
			}
		}
		sub.mu.Unlock()
	}
	return out
}

// FeedSample delivers one new value to itemId within subscriptionId, a
// silent no-op if either no longer exists (spec.md §5: a removed item
// is a silent no-op).
func (e *Engine) FeedSample(subscriptionId, itemId uint32, v ua.DataValue) {
	sub, ok := e.Get(subscriptionId)
	if !ok {
		return
	}
	sub.FeedSample(itemId, v)
}

// SessionSubscriptionIds lists subscription ids owned by sessionId,
// used when closing a session to decide delete-vs-orphan per id.
func (e *Engine) SessionSubscriptionIds(sessionId ua.NodeId) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []uint32
	for id, sub := range e.subscriptions {
		if sub.SessionId.Equal(sessionId) {
			ids = append(ids, id)
		}
	}
	return ids
}
