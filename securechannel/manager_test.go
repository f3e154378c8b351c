package securechannel

import "testing"

func TestManagerCreateAssignsDistinctIds(t *testing.T) {
	m := NewManager(NonePolicy{})
	a := m.Create()
	b := m.Create()
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct channel ids, got %d and %d", a.ID(), b.ID())
	}
	if m.Count() != 2 {
		t.Fatalf("expected count 2, got %d", m.Count())
	}
}

func TestManagerLookupAndRemove(t *testing.T) {
	m := NewManager(NonePolicy{})
	c := m.Create()
	found, ok := m.Lookup(c.ID())
	if !ok || found != c {
		t.Fatal("expected to find created channel")
	}
	m.Remove(c.ID())
	if _, ok := m.Lookup(c.ID()); ok {
		t.Fatal("expected channel gone after remove")
	}
	if !c.IsClosed() {
		t.Fatal("expected channel closed on remove")
	}
	if m.Count() != 0 {
		t.Fatalf("expected count 0, got %d", m.Count())
	}
}

func TestManagerChannelsNeedingRenewal(t *testing.T) {
	m := NewManager(NonePolicy{})
	c := m.Create()
	c.HandleHello(HelloParams{})
	c.Open(OpenRequest{RequestType: OpenIssue, RequestedLifetime: 1})
	due := m.ChannelsNeedingRenewal()
	if len(due) != 1 || due[0] != c {
		t.Fatalf("expected channel due for renewal, got %v", due)
	}
}
