package session

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func TestCreateSessionClampsTimeout(t *testing.T) {
	tbl := NewTable(Config{MinSessionTimeout: 10 * time.Second, MaxSessionTimeout: time.Minute})
	s, err := tbl.CreateSession("client-a", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Timeout != 10*time.Second {
		t.Fatalf("expected clamp to minimum, got %v", s.Timeout)
	}
	if tbl.CurrentSessionCount() != 1 {
		t.Fatalf("expected count 1, got %d", tbl.CurrentSessionCount())
	}
}

func TestCreateSessionEvictsOldestInactiveOnOverflow(t *testing.T) {
	tbl := NewTable(Config{MaxSessions: 1})
	first, _ := tbl.CreateSession("a", time.Minute)
	first.mu.Lock()
	first.State = StateClosed
	first.mu.Unlock()

	second, err := tbl.CreateSession("b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tbl.Lookup(first.AuthToken); ok {
		t.Fatal("expected first session evicted")
	}
	if _, ok := tbl.Lookup(second.AuthToken); !ok {
		t.Fatal("expected second session present")
	}
}

func TestCreateSessionFailsWhenNoInactiveVictim(t *testing.T) {
	tbl := NewTable(Config{MaxSessions: 1})
	first, _ := tbl.CreateSession("a", time.Minute)
	tbl.ActivateSession(first.AuthToken, 1, UserIdentity{}, false)

	_, err := tbl.CreateSession("b", time.Minute)
	if err == nil {
		t.Fatal("expected Bad_TooManySessions")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadTooManySessions {
		t.Fatalf("expected BadTooManySessions, got %v", err)
	}
}

func TestActivateSessionUnknownTokenFails(t *testing.T) {
	tbl := NewTable(Config{})
	_, err := tbl.ActivateSession(ua.NewOpaqueNodeId(0, []byte("nope")), 1, UserIdentity{}, false)
	if err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestActivateSessionAppMismatchFails(t *testing.T) {
	tbl := NewTable(Config{})
	s, _ := tbl.CreateSession("a", time.Minute)
	_, err := tbl.ActivateSession(s.AuthToken, 1, UserIdentity{}, true)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadApplicationSignatureInvalid {
		t.Fatalf("expected BadApplicationSignatureInvalid, got %v", err)
	}
}

type fakeDetacher struct {
	deleted []uint32
	orphaned []uint32
}

func (f *fakeDetacher) DeleteSubscription(id uint32)  { f.deleted = append(f.deleted, id) }
func (f *fakeDetacher) OrphanSubscription(id uint32)  { f.orphaned = append(f.orphaned, id) }

func TestCloseSessionDeletesSubscriptionsWhenRequested(t *testing.T) {
	tbl := NewTable(Config{})
	s, _ := tbl.CreateSession("a", time.Minute)
	s.SubscriptionIds[1] = struct{}{}

	det := &fakeDetacher{}
	if err := tbl.CloseSession(s.AuthToken, true, CloseBySessionClose, det); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(det.deleted) != 1 || det.deleted[0] != 1 {
		t.Fatalf("expected subscription 1 deleted, got %v", det.deleted)
	}
	if _, ok := tbl.Lookup(s.AuthToken); ok {
		t.Fatal("expected session removed from table")
	}
}

func TestCloseSessionOrphansSubscriptionsWhenNotDeleting(t *testing.T) {
	tbl := NewTable(Config{})
	s, _ := tbl.CreateSession("a", time.Minute)
	s.SubscriptionIds[1] = struct{}{}

	det := &fakeDetacher{}
	tbl.CloseSession(s.AuthToken, false, CloseBySessionClose, det)
	if len(det.orphaned) != 1 {
		t.Fatalf("expected subscription orphaned, got %v", det.orphaned)
	}
}

func TestTransferSubscriptionRequiresMatchingIdentity(t *testing.T) {
	tbl := NewTable(Config{})
	src, _ := tbl.CreateSession("a", time.Minute)
	dst, _ := tbl.CreateSession("b", time.Minute)
	src.Identity = UserIdentity{TokenType: "anonymous"}
	dst.Identity = UserIdentity{TokenType: "username", KeyMaterial: "bob"}
	src.SubscriptionIds[5] = struct{}{}

	_, _, err := tbl.TransferSubscription(src.AuthToken, dst.AuthToken, 5)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadUserAccessDenied {
		t.Fatalf("expected BadUserAccessDenied, got %v", err)
	}
}

func TestTransferSubscriptionMovesOwnership(t *testing.T) {
	tbl := NewTable(Config{})
	src, _ := tbl.CreateSession("a", time.Minute)
	dst, _ := tbl.CreateSession("b", time.Minute)
	identity := UserIdentity{TokenType: "anonymous"}
	src.Identity, dst.Identity = identity, identity
	src.SubscriptionIds[5] = struct{}{}

	_, target, err := tbl.TransferSubscription(src.AuthToken, dst.AuthToken, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, owns := target.SubscriptionIds[5]; !owns {
		t.Fatal("expected target to own subscription 5")
	}
	if _, stillOwns := src.SubscriptionIds[5]; stillOwns {
		t.Fatal("expected source to no longer own subscription 5")
	}
	if target.TransferRequestCount != 1 {
		t.Fatalf("expected transferRequestCount 1, got %d", target.TransferRequestCount)
	}
}

func TestTransferSubscriptionAlreadyOwnedIsNothingToDo(t *testing.T) {
	tbl := NewTable(Config{})
	src, _ := tbl.CreateSession("a", time.Minute)
	dst, _ := tbl.CreateSession("b", time.Minute)
	identity := UserIdentity{TokenType: "anonymous"}
	src.Identity, dst.Identity = identity, identity
	dst.SubscriptionIds[5] = struct{}{}

	_, _, err := tbl.TransferSubscription(src.AuthToken, dst.AuthToken, 5)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadNothingToDo {
		t.Fatalf("expected BadNothingToDo, got %v", err)
	}
}

func TestScrewSessionsForChannelKeepsSessionRebindable(t *testing.T) {
	tbl := NewTable(Config{})
	s, _ := tbl.CreateSession("a", time.Minute)
	tbl.ActivateSession(s.AuthToken, 7, UserIdentity{}, false)

	screwed := tbl.ScrewSessionsForChannel(7)
	if len(screwed) != 1 || screwed[0] != s {
		t.Fatalf("expected session screwed, got %v", screwed)
	}
	if s.State != StateScrewed {
		t.Fatalf("state = %v, want Screwed", s.State)
	}
	if _, ok := tbl.Lookup(s.AuthToken); !ok {
		t.Fatal("a screwed session must remain in the table")
	}

	rebound, err := tbl.ActivateSession(s.AuthToken, 9, UserIdentity{}, false)
	if err != nil {
		t.Fatalf("unexpected error rebinding a screwed session: %v", err)
	}
	if rebound.State != StateActive || rebound.ChannelId != 9 {
		t.Fatalf("expected rebind to Active on channel 9, got state=%v channel=%d", rebound.State, rebound.ChannelId)
	}
}

func TestScrewSessionsForChannelIgnoresOtherChannels(t *testing.T) {
	tbl := NewTable(Config{})
	s, _ := tbl.CreateSession("a", time.Minute)
	tbl.ActivateSession(s.AuthToken, 7, UserIdentity{}, false)

	screwed := tbl.ScrewSessionsForChannel(8)
	if len(screwed) != 0 {
		t.Fatalf("expected no sessions screwed for an unrelated channel, got %v", screwed)
	}
	if s.State != StateActive {
		t.Fatalf("state = %v, want unchanged Active", s.State)
	}
}

func TestSweepReturnsExpiredSessions(t *testing.T) {
	tbl := NewTable(Config{MinSessionTimeout: time.Millisecond, MaxSessionTimeout: time.Millisecond})
	s, _ := tbl.CreateSession("a", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	expired := tbl.Sweep(time.Now())
	if len(expired) != 1 || expired[0] != s {
		t.Fatalf("expected session expired, got %v", expired)
	}
}

func TestTouchResetsIdleWatchdog(t *testing.T) {
	tbl := NewTable(Config{MinSessionTimeout: 20 * time.Millisecond, MaxSessionTimeout: 20 * time.Millisecond})
	s, _ := tbl.CreateSession("a", 20*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	tbl.Touch(s.AuthToken)
	time.Sleep(10 * time.Millisecond)
	expired := tbl.Sweep(time.Now())
	if len(expired) != 0 {
		t.Fatalf("expected no expired sessions after touch, got %v", expired)
	}
}
