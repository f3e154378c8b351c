package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// Ack is one subscriptionAcknowledgements entry of a Publish request
// (spec.md §4.8).
type Ack struct {
	SubscriptionId uint32
	SequenceNumber uint32
}

// PublishRequest is a parked credit for the server to push notifications
// (spec.md §4.8: "A Publish request is not a query -- it is a credit").
type PublishRequest struct {
	RequestId uint32
	Acks      []Ack
}

// parkedRequest is a PublishRequest together with the acknowledgement
// results computed at Submit time, carried along in the FIFO so they
// still reach the caller once DrainOnTick eventually completes it
// (spec.md §4.8 step 1: ack processing happens on receipt, independent
// of whether a notification is immediately available).
type parkedRequest struct {
	req        PublishRequest
	ackResults []ua.StatusCode
}

// PublishResponse is what a matched Publish request resolves to. Status
// is Good for a normal or keep-alive notification, and carries the
// reason (Bad_TooManyPublishRequests, Bad_SessionClosed) when the
// request was instead forced to complete without one.
type PublishResponse struct {
	RequestId      uint32
	SubscriptionId uint32
	Notification   *NotificationMessage
	AckResults     []ua.StatusCode
	Status         ua.StatusCode
}

// Matcher implements the per-session Publish-Request Matcher (C8):
// a FIFO of parked requests scanned against the session's subscriptions
// in priority order (spec.md §4.8).
type Matcher struct {
	mu sync.Mutex

	fifo          []parkedRequest
	subscriptions map[uint32]*Subscription
	maxQueued     int
}

func NewMatcher(maxQueued int) *Matcher {
	if maxQueued <= 0 {
		maxQueued = 8
	}
	return &Matcher{subscriptions: make(map[uint32]*Subscription), maxQueued: maxQueued}
}

func (m *Matcher) AddSubscription(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.Id] = s
}

func (m *Matcher) RemoveSubscription(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
}

// Submit processes a Publish request's acknowledgements then enqueues
// it, immediately trying to match it against a subscription with
// pending notifications (spec.md §4.8 steps 1-3). If nothing is
// pending, it returns a nil response and the request stays parked in
// the FIFO; a later DrainOnTick call will complete it once a subscription
// ticks with something to say.
//
// If the FIFO would grow past maxPublishRequestInQueue, the oldest
// parked request is evicted and returned as a forced completion with
// Bad_TooManyPublishRequests (spec.md §4.8).
func (m *Matcher) Submit(req PublishRequest, now time.Time) (response *PublishResponse, evicted *PublishResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ackResults := make([]ua.StatusCode, len(req.Acks))
	for i, ack := range req.Acks {
		if sub, ok := m.subscriptions[ack.SubscriptionId]; ok {
			ackResults[i] = sub.Acknowledge(ack.SequenceNumber)
		} else {
			ackResults[i] = ua.BadSubscriptionIdInvalid
		}
	}

	if resp := m.tryMatchLocked(req.RequestId, ackResults, now); resp != nil {
		return resp, nil
	}

	m.fifo = append(m.fifo, parkedRequest{req: req, ackResults: ackResults})
	if len(m.fifo) > m.maxQueued {
		oldest := m.fifo[0]
		m.fifo = m.fifo[1:]
		evicted = &PublishResponse{RequestId: oldest.req.RequestId, AckResults: oldest.ackResults, Status: ua.BadTooManyPublishRequests}
	}
	return nil, evicted
}

// tryMatchLocked picks the highest-priority subscription with pending
// notifications (the order among subscriptions of equal priority is not
// defined), matching it against
// requestId directly (used for the initial Submit attempt, before the
// request is parked).
func (m *Matcher) tryMatchLocked(requestId uint32, ackResults []ua.StatusCode, now time.Time) *PublishResponse {
	sub := m.pickReadySubscriptionLocked()
	if sub == nil {
		return nil
	}
	msg, _ := sub.Tick(now)
	if msg == nil {
		return nil
	}
	sub.ConfirmDelivered(msg)
	return &PublishResponse{RequestId: requestId, SubscriptionId: sub.Id, Notification: msg, AckResults: ackResults}
}

// pickReadySubscriptionLocked returns the highest-priority subscription
// that currently has at least one item with pending values, or nil.
func (m *Matcher) pickReadySubscriptionLocked() *Subscription {
	var candidates []*Subscription
	for _, s := range m.subscriptions {
		s.mu.Lock()
		ready := false
		for _, item := range s.items {
			if item.HasPending() {
				ready = true
				break
			}
		}
		s.mu.Unlock()
		if ready {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
	return candidates[0]
}

// DrainOnTick is called after a subscription's Tick produced a message
// while no Publish request was immediately available; it matches the
// message against the oldest parked request for that session (spec.md
// §4.6 step 2b, §4.8 step 4).
func (m *Matcher) DrainOnTick(subscriptionId uint32, msg *NotificationMessage) *PublishResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fifo) == 0 {
		return nil
	}
	parked := m.fifo[0]
	m.fifo = m.fifo[1:]
	return &PublishResponse{RequestId: parked.req.RequestId, SubscriptionId: subscriptionId, Notification: msg, AckResults: parked.ackResults}
}

// QueueLength returns the number of parked Publish requests.
func (m *Matcher) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fifo)
}

// CancelAll completes every parked request with the given status,
// called on session close (spec.md §5: "parked Publish requests with
// Bad_SessionClosed").
func (m *Matcher) CancelAll(status ua.StatusCode) []PublishResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishResponse, len(m.fifo))
	for i, parked := range m.fifo {
		out[i] = PublishResponse{RequestId: parked.req.RequestId, AckResults: parked.ackResults, Status: status}
	}
	m.fifo = nil
	return out
}
