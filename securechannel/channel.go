package securechannel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexroute/opcua-server/chunk"
	"github.com/nexroute/opcua-server/ua"
)

// State is the channel's position in the Idle -> Negotiated -> Open ->
// Closed lifecycle (spec.md §4.3).
type State int32

const (
	StateClosed State = iota
	StateNegotiated
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateNegotiated:
		return "Negotiated"
	case StateOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// SecurityMode mirrors the three OPC UA MessageSecurityModes.
type SecurityMode int32

const (
	ModeInvalid SecurityMode = iota
	ModeNone
	ModeSign
	ModeSignAndEncrypt
)

// Error wraps a StatusCode alongside a human-readable reason, returned by
// this package whenever a channel-level failure requires the caller to
// close the channel (spec.md §4.3).
type Error struct {
	Code   ua.StatusCode
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("securechannel: %s: %s", e.Code, e.Reason) }

// token is one half of the dual-token rollover window: the channel always
// accepts the current token and, for a grace period after renewal, the
// previous one too (spec.md §4.3: "overlap window of lifetimeMs/4").
type token struct {
	id              uint32
	createdAt       time.Time
	lifetime        time.Duration
	clientNonce     []byte
	serverNonce     []byte
	keys            SymmetricKeys
}

func (t *token) expiresAt() time.Time { return t.createdAt.Add(t.lifetime) }

// renewAt returns the point at which the channel should proactively renew:
// lifetimeMs/4 before expiry, generalizing the teacher's slow-client grace
// window (ws/internal/shared/connection.go) from a 3-strikes liveness
// check to a deadline-based rollover trigger.
func (t *token) renewAt() time.Time { return t.expiresAt().Add(-t.lifetime / 4) }

// HelloParams carries the four flow-control values a client offers in HEL
// (spec.md §4.2); the server revises them down to its own caps in ACK.
type HelloParams struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// OpenRequest is the decoded body of an OPN chunk.
type OpenRequest struct {
	RequestType       OpenRequestType
	SecurityMode      SecurityMode
	ClientNonce       []byte
	RequestedLifetime time.Duration
}

type OpenRequestType int32

const (
	OpenIssue OpenRequestType = iota
	OpenRenew
)

// OpenResponse is returned to the caller for encoding into the OPN
// response chunk.
type OpenResponse struct {
	ChannelId       uint32
	TokenId         uint32
	CreatedAt       time.Time
	RevisedLifetime time.Duration
	ServerNonce     []byte
}

// Channel is one secure channel: one per TCP connection (or, after a
// reconnect, re-bindable to a new connection by channel id). It owns
// HEL/ACK negotiation, OPN issue/renew, MSG sequence-number validation and
// request-id bookkeeping, and CLO teardown.
//
// Grounded on the teacher's per-connection lifecycle
// (ws/internal/single/core/client_lifecycle.go: sync.Once-guarded close,
// atomic counters, structured disconnect logging) generalized from a
// WebSocket connection's lifecycle to a secure channel's.
type Channel struct {
	mu sync.Mutex

	id     uint32
	policy SecurityPolicy
	state  State
	mode   SecurityMode

	limits chunk.Limits

	current  *token
	previous *token

	sendSeq uint32 // atomic
	recvSeq uint32 // atomic

	// pendingRequests correlates in-flight request ids to the time they
	// were opened, for Cancel support and stale-request diagnostics.
	pendingRequests map[uint32]time.Time

	closeOnce sync.Once
	closed    bool
	closedAt  time.Time

	createdAt time.Time
}

// NewChannel constructs a channel in StateClosed, awaiting HEL.
func NewChannel(id uint32, policy SecurityPolicy) *Channel {
	return &Channel{
		id:              id,
		policy:          policy,
		state:           StateClosed,
		pendingRequests: make(map[uint32]time.Time),
		createdAt:       time.Now(),
	}
}

// ID returns the channel identifier assigned at Open.
func (c *Channel) ID() uint32 { return c.id }

// Policy returns the security policy governing this channel's asymmetric
// OPN framing, for the transport layer to invoke Secure/VerifyAsymmetric
// around the sequence header and body.
func (c *Channel) Policy() SecurityPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// serverLimits caps what the server will ever revise HEL values down to,
// regardless of what the client asks for. Mirrors the teacher's
// ResourceGuard admission pattern (A4): never trust the peer's numbers.
var serverLimits = chunk.Limits{
	ReceiveBufferSize: 64 * 1024,
	SendBufferSize:    64 * 1024,
	MaxMessageSize:    16 * 1024 * 1024,
	MaxChunkCount:     4096,
}

// HandleHello negotiates flow-control limits and advances Closed ->
// Negotiated. The revised Limits are what the caller should encode into
// the ACK response and from then on enforce via chunk.Assembler.
func (c *Channel) HandleHello(req HelloParams) (chunk.Limits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClosed {
		return chunk.Limits{}, &Error{Code: ua.BadSecurityChecksFailed, Reason: "HEL received outside Closed state"}
	}

	revised := chunk.Limits{
		ReceiveBufferSize: minNonZero(req.ReceiveBufferSize, serverLimits.ReceiveBufferSize),
		SendBufferSize:    minNonZero(req.SendBufferSize, serverLimits.SendBufferSize),
		MaxMessageSize:    minNonZero(req.MaxMessageSize, serverLimits.MaxMessageSize),
		MaxChunkCount:     minNonZero(req.MaxChunkCount, serverLimits.MaxChunkCount),
	}
	c.limits = revised
	c.state = StateNegotiated
	return revised, nil
}

func minNonZero(client, server uint32) uint32 {
	if client == 0 || client > server {
		return server
	}
	return client
}

// Limits returns the negotiated chunk limits, valid once past Negotiated.
func (c *Channel) Limits() chunk.Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// Open handles an OPN request: Issue creates the channel's first token,
// Renew rolls a new token in alongside the current one (kept valid for
// the overlap window per token.renewAt/expiresAt).
func (c *Channel) Open(req OpenRequest) (*OpenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.RequestType {
	case OpenIssue:
		if c.state != StateNegotiated {
			return nil, &Error{Code: ua.BadSecurityChecksFailed, Reason: "OPN Issue received outside Negotiated state"}
		}
	case OpenRenew:
		if c.state != StateOpen {
			return nil, &Error{Code: ua.BadSecurityChecksFailed, Reason: "OPN Renew received outside Open state"}
		}
	default:
		return nil, &Error{Code: ua.BadSecurityChecksFailed, Reason: "unknown OPN request type"}
	}

	c.mode = req.SecurityMode

	serverNonce, err := c.policy.GenerateNonce()
	if err != nil {
		return nil, &Error{Code: ua.BadSecurityChecksFailed, Reason: "nonce generation failed: " + err.Error()}
	}

	keys, err := c.policy.DeriveSymmetricKeys(req.ClientNonce, serverNonce)
	if err != nil {
		return nil, &Error{Code: ua.BadSecurityChecksFailed, Reason: "key derivation failed: " + err.Error()}
	}

	lifetime := req.RequestedLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	t := &token{
		id:          c.nextTokenId(),
		createdAt:   time.Now(),
		lifetime:    lifetime,
		clientNonce: req.ClientNonce,
		serverNonce: serverNonce,
		keys:        keys,
	}

	if req.RequestType == OpenRenew {
		c.previous = c.current
	}
	c.current = t
	c.state = StateOpen

	return &OpenResponse{
		ChannelId:       c.id,
		TokenId:         t.id,
		CreatedAt:       t.createdAt,
		RevisedLifetime: t.lifetime,
		ServerNonce:     serverNonce,
	}, nil
}

func (c *Channel) nextTokenId() uint32 {
	var base uint32
	if c.current != nil {
		base = c.current.id
	}
	return base + 1
}

// ShouldRenew reports whether the current token has entered its
// lifetimeMs/4 renewal window (spec.md §4.3). The server-side publish
// loop polls this rather than arming a timer per channel, matching the
// teacher's watchdog-poll style over per-connection timer goroutines.
func (c *Channel) ShouldRenew() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return false
	}
	return !time.Now().Before(c.current.renewAt())
}

// ValidateMessage checks that an incoming MSG chunk belongs to this
// channel, carries a token the channel still honors (current or, during
// the rollover overlap, previous), and advances the channel in sequence
// (spec.md §4.3). The first message's sequence number is taken as is;
// every later one must be exactly one more than the last in uint32
// arithmetic, across token renewals, so a gap, a repeat or a wrap back
// to a small number is rejected with Bad_SecurityChecksFailed.
func (c *Channel) ValidateMessage(channelId, tokenId, sequenceNumber uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return &Error{Code: ua.BadSecureChannelIdInvalid, Reason: "message received outside Open state"}
	}
	if channelId != c.id {
		return &Error{Code: ua.BadSecureChannelIdInvalid, Reason: fmt.Sprintf("channel id mismatch: got %d want %d", channelId, c.id)}
	}

	valid := (c.current != nil && tokenId == c.current.id) ||
		(c.previous != nil && tokenId == c.previous.id && time.Now().Before(c.previous.expiresAt()))
	if !valid {
		return &Error{Code: ua.BadSecureChannelTokenUnknown, Reason: fmt.Sprintf("unknown or expired token id %d", tokenId)}
	}

	expected := atomic.LoadUint32(&c.recvSeq) + 1
	if c.recvSeq != 0 && sequenceNumber != expected {
		return &Error{Code: ua.BadSecurityChecksFailed, Reason: fmt.Sprintf("sequence number gap: got %d want %d", sequenceNumber, expected)}
	}
	atomic.StoreUint32(&c.recvSeq, sequenceNumber)
	return nil
}

// CurrentTokenId returns the token id the server should frame outgoing
// messages with right now, for a sender (such as a deferred Publish
// push) that isn't replying directly to an inbound MSG carrying its own
// SymmetricSecurityHeader.
func (c *Channel) CurrentTokenId() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.id
}

// NextSendSequenceNumber returns the next outgoing sequence number,
// starting at 1.
func (c *Channel) NextSendSequenceNumber() uint32 {
	return atomic.AddUint32(&c.sendSeq, 1)
}

// TrackRequest records a request id as in-flight, for Cancel service
// support; ForgetRequest removes it once a response has been sent.
func (c *Channel) TrackRequest(requestId uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRequests[requestId] = time.Now()
}

func (c *Channel) ForgetRequest(requestId uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingRequests, requestId)
}

// PendingSince returns when requestId was tracked and whether it is still
// in flight, used by the Cancel service to count and cancel outstanding
// requests (spec.md §6 Cancel).
func (c *Channel) PendingSince(requestId uint32) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pendingRequests[requestId]
	return t, ok
}

// PendingCount returns the number of in-flight requests on this channel.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingRequests)
}

// Close tears the channel down idempotently. Reason is logged by the
// caller (server package owns the logger); this package only records
// that the transition happened and when.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.closed = true
		c.closedAt = time.Now()
		c.mu.Unlock()
	})
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
