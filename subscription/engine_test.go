package subscription

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func TestEngineCreateSubscriptionAttachesToSessionMatcher(t *testing.T) {
	e := NewEngine(4)
	session := ua.NewNumericNodeId(1, 100)

	sub := e.CreateSubscription(session, testConfig())
	if sub.Id == 0 {
		t.Fatalf("expected a non-zero subscription id")
	}
	got, ok := e.Get(sub.Id)
	if !ok || got != sub {
		t.Fatalf("Get did not return the created subscription")
	}
	if e.Matcher(session).QueueLength() != 0 {
		t.Fatalf("a fresh matcher should start empty")
	}
}

func TestEngineDistinctSessionsGetDistinctSubscriptionIds(t *testing.T) {
	e := NewEngine(4)
	s1 := e.CreateSubscription(ua.NewNumericNodeId(1, 1), testConfig())
	s2 := e.CreateSubscription(ua.NewNumericNodeId(1, 2), testConfig())
	if s1.Id == s2.Id {
		t.Fatalf("expected distinct subscription ids, both got %d", s1.Id)
	}
}

func TestEngineOrphanDetachesFromMatcherButKeepsTicking(t *testing.T) {
	e := NewEngine(4)
	session := ua.NewNumericNodeId(1, 1)
	sub := e.CreateSubscription(session, testConfig())
	item := NewMonitoredItem(1, ua.NewNumericNodeId(2, 1), KindDataChange)
	sub.AddItem(item)

	e.Orphan(sub.Id)
	sub.FeedSample(1, dv(1, ua.Good))

	closed, _ := e.TickAll(time.Now())
	if len(closed) != 0 {
		t.Fatalf("orphaned subscription should not close on a productive tick")
	}
	if e.Matcher(session).QueueLength() != 0 {
		t.Fatalf("an orphaned subscription must not feed its former session's matcher")
	}
	if _, ok := e.Get(sub.Id); !ok {
		t.Fatalf("an orphaned subscription must still exist")
	}
}

func TestEngineTransferToReattachesOrphanToNewSession(t *testing.T) {
	e := NewEngine(4)
	original := ua.NewNumericNodeId(1, 1)
	target := ua.NewNumericNodeId(1, 2)
	sub := e.CreateSubscription(original, testConfig())
	e.Orphan(sub.Id)

	e.TransferTo(sub.Id, target, false)

	if !sub.SessionId.Equal(target) {
		t.Fatalf("SessionId = %+v, want %+v", sub.SessionId, target)
	}
	if e.Matcher(original).QueueLength() != 0 {
		t.Fatalf("original session's matcher should no longer track the subscription")
	}
}

func TestEngineTickAllClosesExpiredSubscriptionAndRemovesIt(t *testing.T) {
	e := NewEngine(4)
	cfg := testConfig()
	cfg.LifetimeCount = 1
	cfg.MaxKeepAliveCount = 1000
	session := ua.NewNumericNodeId(1, 1)
	sub := e.CreateSubscription(session, cfg)

	now := time.Now()
	closed, _ := e.TickAll(now)
	if len(closed) != 1 || closed[0].SubscriptionId != sub.Id {
		t.Fatalf("expected subscription %d to be reported closed, got %+v", sub.Id, closed)
	}
	if _, ok := e.Get(sub.Id); ok {
		t.Fatalf("a closed subscription must be removed from the engine")
	}
}

func TestEngineSessionSubscriptionIdsFiltersBySession(t *testing.T) {
	e := NewEngine(4)
	a := ua.NewNumericNodeId(1, 1)
	b := ua.NewNumericNodeId(1, 2)
	s1 := e.CreateSubscription(a, testConfig())
	e.CreateSubscription(b, testConfig())

	ids := e.SessionSubscriptionIds(a)
	if len(ids) != 1 || ids[0] != s1.Id {
		t.Fatalf("SessionSubscriptionIds(a) = %v, want [%d]", ids, s1.Id)
	}
}

// TestEngineTickAllClosesSubscriptionWithNoParkedPublishDespiteContinualChanges
// guards against the lifetime timer being reset merely by producing a
// notification: with data changing every tick but no Publish request
// ever parked to receive them, the subscription must still close once
// lifetimeCount undelivered ticks elapse (spec.md §8).
func TestEngineTickAllClosesSubscriptionWithNoParkedPublishDespiteContinualChanges(t *testing.T) {
	e := NewEngine(4)
	cfg := testConfig()
	cfg.LifetimeCount = 2
	session := ua.NewNumericNodeId(1, 1)
	sub := e.CreateSubscription(session, cfg)
	item := NewMonitoredItem(1, ua.NewNumericNodeId(2, 1), KindDataChange)
	sub.AddItem(item)

	now := time.Now()
	var closed []ClosedSubscription
	for i := 0; i < int(cfg.LifetimeCount)+1 && len(closed) == 0; i++ {
		sub.FeedSample(1, dv(float64(i), ua.Good))
		closed, _ = e.TickAll(now)
	}
	if len(closed) != 1 || closed[0].SubscriptionId != sub.Id {
		t.Fatalf("expected the subscription to time out with no parked Publish, got %+v", closed)
	}
}

func TestEngineDeleteSubscriptionRemovesItAndDetachesMatcher(t *testing.T) {
	e := NewEngine(4)
	session := ua.NewNumericNodeId(1, 1)
	sub := e.CreateSubscription(session, testConfig())

	e.DeleteSubscription(sub.Id)
	if _, ok := e.Get(sub.Id); ok {
		t.Fatalf("subscription should be gone after DeleteSubscription")
	}
}
