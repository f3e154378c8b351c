package subscription

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func testConfig() Config {
	return Config{
		PublishingInterval: 100 * time.Millisecond,
		LifetimeCount:      5,
		MaxKeepAliveCount:  3,
		MaxNotifications:   0,
		Priority:           0,
		PublishingEnabled:  true,
	}
}

func TestTickEmitsNotificationWhenItemHasQueuedChange(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	item.ClientHandle = 7
	sub.AddItem(item)

	sub.FeedSample(1, dv(42, ua.Good))

	now := time.Now()
	msg, closed := sub.Tick(now)
	if closed {
		t.Fatalf("subscription should not close on a productive tick")
	}
	if msg == nil || len(msg.DataChanges) != 1 {
		t.Fatalf("expected one data change notification, got %+v", msg)
	}
	if msg.DataChanges[0].ClientHandle != 7 {
		t.Fatalf("clientHandle = %d, want 7", msg.DataChanges[0].ClientHandle)
	}
	sub.ConfirmDelivered(msg)
	if sub.State() != StateNormal {
		t.Fatalf("state = %v, want Normal", sub.State())
	}
}

func TestUndeliveredTickCountsTowardLifetimeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.LifetimeCount = 2
	sub := New(1, ua.NewNumericNodeId(0, 1), cfg)
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	item.ClientHandle = 1
	sub.AddItem(item)

	now := time.Now()
	for i := 0; i < int(cfg.LifetimeCount); i++ {
		sub.FeedSample(1, dv(float64(i), ua.Good))
		msg, closed := sub.Tick(now)
		if closed {
			t.Fatalf("tick %d: should not close from Tick itself", i)
		}
		if msg == nil {
			t.Fatalf("tick %d: expected a produced notification", i)
		}
		if timedOut := sub.ConfirmUndelivered(); timedOut != (i == int(cfg.LifetimeCount)-1) {
			t.Fatalf("tick %d: ConfirmUndelivered() = %v", i, timedOut)
		}
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %v, want Closed after lifetimeCount undelivered ticks", sub.State())
	}
}

func TestTickGoesKeepAliveAfterMaxKeepAliveCountIdleTicks(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	now := time.Now()

	for i := 0; i < int(sub.MaxKeepAliveCount); i++ {
		msg, closed := sub.Tick(now)
		if closed || msg != nil {
			t.Fatalf("tick %d: expected no message before keep-alive threshold", i)
		}
	}
	msg, closed := sub.Tick(now)
	if closed {
		t.Fatalf("keep-alive tick should not close the subscription")
	}
	if msg == nil || !msg.IsKeepAlive {
		t.Fatalf("expected a keep-alive notification, got %+v", msg)
	}
	sub.ConfirmDelivered(msg)
	if sub.State() != StateKeepAlive {
		t.Fatalf("state = %v, want KeepAlive", sub.State())
	}
}

func TestTickTransitionsToLateThenClosedAfterLifetimeExpires(t *testing.T) {
	cfg := testConfig()
	cfg.LifetimeCount = 2
	cfg.MaxKeepAliveCount = 1000 // keep clear of the keep-alive path
	sub := New(1, ua.NewNumericNodeId(0, 1), cfg)
	now := time.Now()

	_, closed := sub.Tick(now)
	if closed {
		t.Fatalf("should not close before lifetimeCount idle ticks elapse")
	}
	if sub.State() != StateLate {
		t.Fatalf("state after one idle tick = %v, want Late", sub.State())
	}

	_, closed = sub.Tick(now)
	if !closed {
		t.Fatalf("expected subscription to close once lifetimeCount idle ticks elapse")
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", sub.State())
	}
}

func TestTriggeringLinkFlushesSamplingTarget(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	trigger := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	target := NewMonitoredItem(2, ua.NewNumericNodeId(1, 2), KindDataChange)
	target.Mode = ModeSampling
	sub.AddItem(trigger)
	sub.AddItem(target)
	sub.AddTriggeringLink(trigger.Id, target.Id)

	sub.FeedSample(2, dv(1, ua.Good)) // prime the sampling item's last value
	sub.FeedSample(1, dv(99, ua.Good))

	if !target.HasPending() {
		t.Fatalf("triggering link must flush the linked Sampling item")
	}
}

func TestFeedSampleIgnoresRemovedTriggerTarget(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	trigger := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	sub.AddItem(trigger)
	sub.AddTriggeringLink(trigger.Id, 999) // target id never registered

	sub.FeedSample(1, dv(1, ua.Good)) // must not panic
}

func TestAcknowledgeUnknownSequenceNumberFails(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	if status := sub.Acknowledge(12345); status != ua.BadSequenceNumberUnknown {
		t.Fatalf("status = %v, want BadSequenceNumberUnknown", status)
	}
}

func TestAcknowledgeKnownSequenceNumberEvictsIt(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	sub.AddItem(item)
	sub.FeedSample(1, dv(1, ua.Good))

	msg, _ := sub.Tick(time.Now())
	if msg == nil {
		t.Fatalf("expected a notification to acknowledge")
	}
	sub.ConfirmDelivered(msg)
	if status := sub.Acknowledge(msg.SequenceNumber); status != ua.Good {
		t.Fatalf("status = %v, want Good", status)
	}
	if _, status := sub.Republish(msg.SequenceNumber); status != ua.BadMessageNotAvailable {
		t.Fatalf("republishing an acknowledged sequence number should fail")
	}
}

func TestRepublishReturnsStoredMessage(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	sub.AddItem(item)
	sub.FeedSample(1, dv(1, ua.Good))

	msg, _ := sub.Tick(time.Now())
	sub.ConfirmDelivered(msg)
	got, status := sub.Republish(msg.SequenceNumber)
	if status != ua.Good || got.SequenceNumber != msg.SequenceNumber {
		t.Fatalf("Republish returned (%+v, %v), want the original message", got, status)
	}
}

func TestRetransmissionQueueEvictsOldestBeyondCap(t *testing.T) {
	cfg := Config{PublishingInterval: time.Millisecond, LifetimeCount: 100000, MaxKeepAliveCount: 0, MaxNotifications: 1, PublishingEnabled: true}
	sub := New(1, ua.NewNumericNodeId(0, 1), cfg)
	if sub.retransCap != 100 {
		t.Fatalf("retransCap = %d, want 100 (floored)", sub.retransCap)
	}
	item := NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange)
	sub.AddItem(item)

	now := time.Now()
	var lastSeq uint32
	for i := 0; i < 150; i++ {
		sub.FeedSample(1, dv(float64(i), ua.Good))
		msg, _ := sub.Tick(now)
		if msg != nil {
			sub.ConfirmDelivered(msg)
			lastSeq = msg.SequenceNumber
		}
	}
	if len(sub.AvailableSequenceNumbers()) > sub.retransCap {
		t.Fatalf("retransmission queue len = %d, exceeds cap %d", len(sub.AvailableSequenceNumbers()), sub.retransCap)
	}
	if _, status := sub.Republish(1); status != ua.BadMessageNotAvailable {
		t.Fatalf("sequence number 1 should have been evicted long ago")
	}
	if _, status := sub.Republish(lastSeq); status != ua.Good {
		t.Fatalf("most recent sequence number should still be available")
	}
}

func TestSetDurableRejectedOnceItemsExist(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())
	sub.AddItem(NewMonitoredItem(1, ua.NewNumericNodeId(1, 1), KindDataChange))

	if _, status := sub.SetDurable(10, 24); status != ua.BadInvalidState {
		t.Fatalf("status = %v, want BadInvalidState", status)
	}
}

func TestSetDurableClampsRequestedHours(t *testing.T) {
	sub := New(1, ua.NewNumericNodeId(0, 1), testConfig())

	hours, status := sub.SetDurable(999999, 24)
	if status != ua.Good {
		t.Fatalf("status = %v, want Good", status)
	}
	if hours != 2400 {
		t.Fatalf("hours = %d, want clamped to 2400", hours)
	}

	hours, _ = sub.SetDurable(0, 48)
	if hours != 48 {
		t.Fatalf("hours = %d, want serverMax fallback of 48", hours)
	}
}
