package securechannel

import (
	"testing"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

func TestHelloNegotiatesDownToServerCaps(t *testing.T) {
	c := NewChannel(1, NonePolicy{})
	limits, err := c.HandleHello(HelloParams{
		ReceiveBufferSize: 1 << 30,
		SendBufferSize:    8192,
		MaxMessageSize:    0,
		MaxChunkCount:     1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits.ReceiveBufferSize != serverLimits.ReceiveBufferSize {
		t.Fatalf("expected clamp to server cap, got %d", limits.ReceiveBufferSize)
	}
	if limits.SendBufferSize != 8192 {
		t.Fatalf("expected client value under cap preserved, got %d", limits.SendBufferSize)
	}
	if limits.MaxMessageSize != serverLimits.MaxMessageSize {
		t.Fatalf("expected zero to mean server default, got %d", limits.MaxMessageSize)
	}
	if limits.MaxChunkCount != 1 {
		t.Fatalf("expected client value preserved, got %d", limits.MaxChunkCount)
	}
	if c.State() != StateNegotiated {
		t.Fatalf("expected Negotiated, got %v", c.State())
	}
}

func TestHelloOutsideClosedStateFails(t *testing.T) {
	c := NewChannel(1, NonePolicy{})
	c.HandleHello(HelloParams{})
	if _, err := c.HandleHello(HelloParams{}); err == nil {
		t.Fatal("expected error on second HEL")
	}
}

func TestOpenIssueRequiresNegotiatedState(t *testing.T) {
	c := NewChannel(1, NonePolicy{})
	_, err := c.Open(OpenRequest{RequestType: OpenIssue})
	if err == nil {
		t.Fatal("expected error issuing before HEL")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadSecurityChecksFailed {
		t.Fatalf("expected BadSecurityChecksFailed, got %v", err)
	}
}

func openChannel(t *testing.T, lifetime time.Duration) *Channel {
	t.Helper()
	c := NewChannel(7, NonePolicy{})
	if _, err := c.HandleHello(HelloParams{}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	resp, err := c.Open(OpenRequest{RequestType: OpenIssue, SecurityMode: ModeNone, RequestedLifetime: lifetime})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.ChannelId != 7 {
		t.Fatalf("expected channel id 7, got %d", resp.ChannelId)
	}
	if resp.TokenId == 0 {
		t.Fatal("expected non-zero token id")
	}
	return c
}

func TestOpenIssueThenMessageValidates(t *testing.T) {
	c := openChannel(t, time.Hour)
	if err := c.ValidateMessage(7, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.ValidateMessage(7, 1, 2); err != nil {
		t.Fatalf("unexpected error on next sequence: %v", err)
	}
}

func TestValidateMessageRejectsWrongChannelId(t *testing.T) {
	c := openChannel(t, time.Hour)
	err := c.ValidateMessage(99, 1, 1)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadSecureChannelIdInvalid {
		t.Fatalf("expected BadSecureChannelIdInvalid, got %v", err)
	}
}

func TestValidateMessageRejectsUnknownToken(t *testing.T) {
	c := openChannel(t, time.Hour)
	err := c.ValidateMessage(7, 999, 1)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadSecureChannelTokenUnknown {
		t.Fatalf("expected BadSecureChannelTokenUnknown, got %v", err)
	}
}

func TestValidateMessageRejectsSequenceGap(t *testing.T) {
	c := openChannel(t, time.Hour)
	if err := c.ValidateMessage(7, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := c.ValidateMessage(7, 1, 5)
	serr, ok := err.(*Error)
	if !ok || serr.Code != ua.BadSecurityChecksFailed {
		t.Fatalf("expected BadSecurityChecksFailed on sequence gap, got %v", err)
	}
}

func TestRenewKeepsPreviousTokenValidDuringOverlap(t *testing.T) {
	c := openChannel(t, time.Hour)
	resp, err := c.Open(OpenRequest{RequestType: OpenRenew, SecurityMode: ModeNone, RequestedLifetime: time.Hour})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if resp.TokenId != 2 {
		t.Fatalf("expected token id 2 after renew, got %d", resp.TokenId)
	}
	// Old token (id 1) must still validate within the overlap window.
	if err := c.ValidateMessage(7, 1, 1); err != nil {
		t.Fatalf("expected previous token still valid during overlap: %v", err)
	}
	// New token also validates.
	if err := c.ValidateMessage(7, 2, 2); err != nil {
		t.Fatalf("expected new token to validate: %v", err)
	}
}

func TestShouldRenewTriggersInsideLifetimeQuarterWindow(t *testing.T) {
	c := openChannel(t, 4*time.Millisecond)
	if c.ShouldRenew() {
		t.Fatal("should not need renewal immediately after issue")
	}
	time.Sleep(10 * time.Millisecond)
	if !c.ShouldRenew() {
		t.Fatal("expected renewal window to have opened")
	}
}

func TestRequestTrackingLifecycle(t *testing.T) {
	c := openChannel(t, time.Hour)
	c.TrackRequest(42)
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending request, got %d", c.PendingCount())
	}
	if _, ok := c.PendingSince(42); !ok {
		t.Fatal("expected request 42 to be tracked")
	}
	c.ForgetRequest(42)
	if c.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after forget, got %d", c.PendingCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := openChannel(t, time.Hour)
	c.Close()
	c.Close()
	if !c.IsClosed() {
		t.Fatal("expected channel closed")
	}
	if c.State() != StateClosed {
		t.Fatalf("expected state Closed, got %v", c.State())
	}
}
