package subscription

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// State is the subscription lifecycle position (spec.md §4.6:
// "Creating -> Normal <-> Late <-> KeepAlive -> Closed").
type State int32

const (
	StateCreating State = iota
	StateNormal
	StateLate
	StateKeepAlive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StateNormal:
		return "Normal"
	case StateLate:
		return "Late"
	case StateKeepAlive:
		return "KeepAlive"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// DataChangeNotification is one item's value in a NotificationMessage.
type DataChangeNotification struct {
	ClientHandle uint32
	Value        ua.DataValue
}

// NotificationMessage is what the Publish-Request Matcher attaches to a
// parked Publish response (spec.md §4.6/§4.8).
type NotificationMessage struct {
	SequenceNumber uint32
	PublishTime    time.Time
	DataChanges    []DataChangeNotification
	IsKeepAlive    bool
}

// sequenceGenerator is the teacher's atomic monotonic counter
// (ws/internal/single/messaging/message.go SequenceGenerator), reused
// here for notification sequence numbers. Sequence numbers start at 1.
type sequenceGenerator struct{ counter uint32 }

func (g *sequenceGenerator) next() uint32 { return atomic.AddUint32(&g.counter, 1) }

// Subscription is one CreateSubscription instance (spec.md §4.6).
type Subscription struct {
	mu sync.Mutex

	Id                 uint32
	SessionId          ua.NodeId
	PublishingInterval time.Duration
	LifetimeCount      uint32
	MaxKeepAliveCount  uint32
	MaxNotifications   uint32 // 0 = no limit
	Priority           byte
	PublishingEnabled  bool
	Durable            bool
	RevisedLifetimeHours uint32

	items      map[uint32]*MonitoredItem
	triggering map[uint32]map[uint32]struct{} // triggering item id -> target item ids

	state             State
	keepAliveCounter  uint32
	lifetimeCounter   uint32
	seq               sequenceGenerator
	lastTick          time.Time

	// retransmission is the cap-bounded set of sent-but-unacknowledged
	// NotificationMessages, keyed by sequence number (spec.md §4.6).
	retransmission map[uint32]*NotificationMessage
	retransCap     int
}

// Config holds the revised CreateSubscription parameters.
type Config struct {
	PublishingInterval time.Duration
	LifetimeCount      uint32
	MaxKeepAliveCount  uint32
	MaxNotifications   uint32
	Priority           byte
	PublishingEnabled  bool
}

// retransmissionCap implements the DESIGN.md Open Question resolution:
// max(maxNotificationsPerPublish*10, maxKeepAliveCount*100), floored at
// 100 so a pathologically small configuration still has working
// republish semantics.
func retransmissionCap(cfg Config) int {
	a := int(cfg.MaxNotifications) * 10
	b := int(cfg.MaxKeepAliveCount) * 100
	cap := a
	if b > cap {
		cap = b
	}
	if cap < 100 {
		cap = 100
	}
	return cap
}

func New(id uint32, sessionId ua.NodeId, cfg Config) *Subscription {
	return &Subscription{
		Id:                 id,
		SessionId:          sessionId,
		PublishingInterval: cfg.PublishingInterval,
		LifetimeCount:      cfg.LifetimeCount,
		MaxKeepAliveCount:  cfg.MaxKeepAliveCount,
		MaxNotifications:   cfg.MaxNotifications,
		Priority:           cfg.Priority,
		PublishingEnabled:  cfg.PublishingEnabled,
		items:              make(map[uint32]*MonitoredItem),
		triggering:         make(map[uint32]map[uint32]struct{}),
		state:              StateCreating,
		retransmission:     make(map[uint32]*NotificationMessage),
		retransCap:         retransmissionCap(cfg),
	}
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddItem registers a MonitoredItem under this subscription.
func (s *Subscription) AddItem(item *MonitoredItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Id] = item
}

func (s *Subscription) RemoveItem(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	delete(s.triggering, id)
	for _, targets := range s.triggering {
		delete(targets, id)
	}
}

func (s *Subscription) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ItemHandles lists every item's server-assigned id paired with its
// client handle, for GetMonitoredItems (Part 5 §6.5.3).
func (s *Subscription) ItemHandles() (serverIds, clientHandles []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serverIds = make([]uint32, 0, len(s.items))
	clientHandles = make([]uint32, 0, len(s.items))
	for id, item := range s.items {
		serverIds = append(serverIds, id)
		clientHandles = append(clientHandles, item.ClientHandle)
	}
	return serverIds, clientHandles
}

// Item looks up a MonitoredItem by id for ModifyMonitoredItems,
// SetMonitoringMode and DeleteMonitoredItems.
func (s *Subscription) Item(id uint32) (*MonitoredItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// Modify applies revised CreateSubscription-shaped parameters in place
// (spec.md §4.6 ModifySubscription).
func (s *Subscription) Modify(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PublishingInterval = cfg.PublishingInterval
	s.LifetimeCount = cfg.LifetimeCount
	s.MaxKeepAliveCount = cfg.MaxKeepAliveCount
	s.MaxNotifications = cfg.MaxNotifications
	s.Priority = cfg.Priority
	s.retransCap = retransmissionCap(cfg)
}

// AddTriggeringLink makes targetId flush whenever triggerId reports
// (spec.md §4.7 SetTriggering).
func (s *Subscription) AddTriggeringLink(triggerId, targetId uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggering[triggerId] == nil {
		s.triggering[triggerId] = make(map[uint32]struct{})
	}
	s.triggering[triggerId][targetId] = struct{}{}
}

func (s *Subscription) RemoveTriggeringLink(triggerId, targetId uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if targets, ok := s.triggering[triggerId]; ok {
		delete(targets, targetId)
	}
}

// FeedSample delivers one new value to a MonitoredItem, handling
// triggering-link flush when the item reports (spec.md §4.7). A removed
// triggered item is silently skipped per spec.md §5: "a removed
// triggered item is a silent no-op" since items are referenced by id.
func (s *Subscription) FeedSample(itemId uint32, v ua.DataValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemId]
	if !ok {
		return
	}
	if reported := item.Sample(v); reported {
		for targetId := range s.triggering[itemId] {
			if target, ok := s.items[targetId]; ok {
				target.FlushTriggered()
			}
		}
	}
}

// Tick runs one publishingInterval cycle (spec.md §4.6 steps 1-4).
// Returns the assembled NotificationMessage (nil if nothing to send this
// tick), and whether the subscription just transitioned to Closed (in
// which case the caller must emit a final StatusChangeNotification
// Bad_Timeout and remove it).
//
// Producing a message here does not by itself satisfy the lifetime
// timer: spec.md §8's timeout property is measured by ticks with no
// parked Publish request to receive a notification, not by ticks that
// merely produced one. A non-nil return is therefore provisional until
// the caller reports back via ConfirmDelivered or ConfirmUndelivered.
func (s *Subscription) Tick(now time.Time) (*NotificationMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, false
	}
	s.lastTick = now

	var changes []DataChangeNotification
	for id, item := range s.items {
		if item.Mode != ModeReporting {
			continue
		}
		for _, v := range item.Drain() {
			changes = append(changes, DataChangeNotification{ClientHandle: item.ClientHandle, Value: v})
		}
		_ = id
	}

	var msg *NotificationMessage
	if len(changes) > 0 && s.PublishingEnabled {
		msg = s.packageNotification(changes)
	} else if s.keepAliveCounter >= s.MaxKeepAliveCount {
		msg = &NotificationMessage{SequenceNumber: s.seq.next(), PublishTime: now, IsKeepAlive: true}
		s.keepAliveCounter = 0
	} else {
		s.keepAliveCounter++
	}

	if msg != nil {
		return msg, false
	}

	s.lifetimeCounter++
	if s.lifetimeCounter >= s.LifetimeCount && s.LifetimeCount > 0 {
		s.state = StateClosed
		return nil, true
	}
	s.state = StateLate
	return nil, false
}

// ConfirmDelivered finalizes a Tick-produced message once it has
// actually reached a parked Publish request, whether immediately (the
// Matcher had a request waiting) or on a later tick (DrainOnTick
// matched it against one). Only a confirmed delivery resets the
// lifetime timer and clears the Late state.
func (s *Subscription) ConfirmDelivered(msg *NotificationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetimeCounter = 0
	if msg.IsKeepAlive {
		s.state = StateKeepAlive
		return
	}
	s.state = StateNormal
	s.storeForRetransmission(msg)
}

// ConfirmUndelivered reports that a Tick-produced message found no
// parked Publish request to complete this cycle: it counts toward the
// lifetime timeout exactly as an empty tick would (spec.md §8), and
// reports whether the subscription just timed out, in which case the
// caller must emit a final StatusChangeNotification Bad_Timeout and
// remove it.
func (s *Subscription) ConfirmUndelivered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetimeCounter++
	if s.lifetimeCounter >= s.LifetimeCount && s.LifetimeCount > 0 {
		s.state = StateClosed
		return true
	}
	s.state = StateLate
	return false
}

func (s *Subscription) packageNotification(changes []DataChangeNotification) *NotificationMessage {
	if s.MaxNotifications > 0 && uint32(len(changes)) > s.MaxNotifications {
		changes = changes[:s.MaxNotifications]
	}
	return &NotificationMessage{SequenceNumber: s.seq.next(), PublishTime: s.lastTick, DataChanges: changes}
}

func (s *Subscription) storeForRetransmission(msg *NotificationMessage) {
	s.retransmission[msg.SequenceNumber] = msg
	if len(s.retransmission) <= s.retransCap {
		return
	}
	seqs := make([]uint32, 0, len(s.retransmission))
	for seq := range s.retransmission {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs[:len(seqs)-s.retransCap] {
		delete(s.retransmission, seq)
	}
}

// Acknowledge evicts an acknowledged sequence number from the
// retransmission queue, returning Good if it was present (spec.md §4.8
// step 1).
func (s *Subscription) Acknowledge(seq uint32) ua.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retransmission[seq]; !ok {
		return ua.BadSequenceNumberUnknown
	}
	delete(s.retransmission, seq)
	return ua.Good
}

// Republish returns a previously sent NotificationMessage for
// retransmission, or Bad_MessageNotAvailable if it was already evicted
// (spec.md §4.6).
func (s *Subscription) Republish(seq uint32) (*NotificationMessage, ua.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.retransmission[seq]
	if !ok {
		return nil, ua.BadMessageNotAvailable
	}
	return msg, ua.Good
}

// AvailableSequenceNumbers lists the retransmission queue's contents,
// returned to the client by transferSubscription (spec.md §4.5).
func (s *Subscription) AvailableSequenceNumbers() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.retransmission))
	for seq := range s.retransmission {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetDurable implements SetSubscriptionDurable: only settable while the
// subscription has no monitored items (spec.md §4.6).
func (s *Subscription) SetDurable(requestedHours uint32, serverMax uint32) (uint32, ua.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) != 0 {
		return 0, ua.BadInvalidState
	}
	hours := requestedHours
	if hours == 0 {
		hours = serverMax
	}
	if hours < 1 {
		hours = 1
	}
	if hours > 2400 {
		hours = 2400
	}
	s.Durable = true
	s.RevisedLifetimeHours = hours
	return hours, ua.Good
}

// SetPublishingMode toggles notification delivery without affecting
// sampling (spec.md §6 SetPublishingMode).
func (s *Subscription) SetPublishingMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PublishingEnabled = enabled
}

// ResendData re-queues every reporting item's last known value, for the
// ResendData well-known method (Part 5 §6.5.6): a client that missed
// notifications can force the next Publish to carry current values
// without waiting for a real change.
func (s *Subscription) ResendData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Kind == KindDataChange && item.hasLast {
			item.push(item.lastValue)
		}
	}
}
