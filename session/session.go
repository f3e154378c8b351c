// Package session implements the Session Manager (C5): session table,
// authentication-token index, timeout watchdog and subscription
// transfer bookkeeping (spec.md §4.5).
//
// Grounded on the teacher's connection-table bookkeeping
// (ws/internal/shared/server.go: sync.Map client registry plus
// ticker-polled liveness checks, ws/internal/shared/server.go:300's
// checkTicker) generalized from a WebSocket connection table to an OPC
// UA session table, polled rather than timer-per-session to stay
// consistent with the engine's single-logical-thread event loop
// (spec.md §5).
package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/nexroute/opcua-server/ua"
)

// State is the session lifecycle position (spec.md §4.5).
type State int32

const (
	StateNew State = iota
	StateActive
	StateScrewed
	StateClosed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateActive:
		return "Active"
	case StateScrewed:
		return "Screwed"
	case StateClosed:
		return "Closed"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// evictable reports whether a session is a candidate for eviction or
// sweep-driven removal: it has no channel to come back on (screwed) or
// is already past its service life (closed/disposed).
func (s State) evictable() bool {
	return s == StateScrewed || s == StateClosed || s == StateDisposed
}

func (s State) inactive() bool { return s == StateClosed || s == StateDisposed }

// CloseReason is why a session was closed (spec.md §4.5).
type CloseReason int32

const (
	CloseTimeout CloseReason = iota
	CloseTerminated
	CloseBySessionClose
	CloseForcing
)

// UserIdentity is the opaque (token-type, key-material) pair
// transferSubscription compares across sessions (spec.md §4.5:
// "Source and target must share the same user identity (same
// token-type and key material)"). Key material is compared by value,
// not parsed; the identity package (A5) is the one that actually
// validates tokens.
type UserIdentity struct {
	TokenType   string
	KeyMaterial string
}

func (u UserIdentity) Equal(other UserIdentity) bool {
	return u.TokenType == other.TokenType && u.KeyMaterial == other.KeyMaterial
}

// Session is one OPC UA session.
type Session struct {
	mu sync.Mutex

	SessionId   ua.NodeId
	AuthToken   ua.NodeId
	ClientDesc  string
	State       State
	Timeout     time.Duration
	ChannelId   uint32
	Identity    UserIdentity
	CreatedAt   time.Time
	lastActive  time.Time

	// SubscriptionIds is the set of subscription ids owned by this
	// session; the subscription package is the source of truth for the
	// subscriptions themselves, this is bookkeeping for transfer/close.
	SubscriptionIds map[uint32]struct{}

	TransferRequestCount       uint32
	TransferredToAltClientCount uint32
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Error wraps a StatusCode returned by a session-manager operation.
type Error struct {
	Code   ua.StatusCode
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("session: %s: %s", e.Code, e.Reason) }

// Table is the server-wide session registry.
type Table struct {
	mu sync.Mutex

	byId   map[interface{}]*Session
	byAuth map[interface{}]*Session

	maxSessions         int
	minSessionTimeout   time.Duration
	maxSessionTimeout   time.Duration

	cumulatedSessionCount int64
	currentSessionCount   int64
}

// Config holds the server-configured limits (spec.md §4.5).
type Config struct {
	MaxSessions       int
	MinSessionTimeout time.Duration
	MaxSessionTimeout time.Duration
}

func NewTable(cfg Config) *Table {
	if cfg.MinSessionTimeout <= 0 {
		cfg.MinSessionTimeout = 10 * time.Second
	}
	if cfg.MaxSessionTimeout <= 0 {
		cfg.MaxSessionTimeout = time.Hour
	}
	return &Table{
		byId:              make(map[interface{}]*Session),
		byAuth:            make(map[interface{}]*Session),
		maxSessions:       cfg.MaxSessions,
		minSessionTimeout: cfg.MinSessionTimeout,
		maxSessionTimeout: cfg.MaxSessionTimeout,
	}
}

func randomNodeId() ua.NodeId {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return ua.NewOpaqueNodeId(0, buf[:])
}

func clampTimeout(requested, min, max time.Duration) time.Duration {
	if requested < min {
		return min
	}
	if requested > max {
		return max
	}
	return requested
}

// CreateSession allocates a session and authentication token
// (spec.md §4.5 step 1-3). On overflow it evicts the oldest inactive
// session if one exists, else the oldest New session, else fails with
// Bad_TooManySessions.
func (t *Table) CreateSession(clientDesc string, requestedTimeout time.Duration) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxSessions > 0 && len(t.byId) >= t.maxSessions {
		victim := t.oldestEvictionCandidateLocked()
		if victim == nil {
			return nil, &Error{Code: ua.BadTooManySessions, Reason: "session table full"}
		}
		t.removeLocked(victim)
	}

	s := &Session{
		SessionId:       randomNodeId(),
		AuthToken:       randomNodeId(),
		ClientDesc:      clientDesc,
		State:           StateNew,
		Timeout:         clampTimeout(requestedTimeout, t.minSessionTimeout, t.maxSessionTimeout),
		CreatedAt:       time.Now(),
		lastActive:      time.Now(),
		SubscriptionIds: make(map[uint32]struct{}),
	}
	t.byId[s.SessionId.Key()] = s
	t.byAuth[s.AuthToken.Key()] = s
	t.cumulatedSessionCount++
	t.currentSessionCount++
	return s, nil
}

// oldestEvictionCandidateLocked finds the oldest inactive session
// (Screwed/Closed/Disposed); failing that, the oldest New session
// (spec.md §4.5: "evict the oldest inactive session ... else the
// oldest new session").
func (t *Table) oldestEvictionCandidateLocked() *Session {
	var inactiveOldest, newOldest *Session
	for _, s := range t.byId {
		s.mu.Lock()
		state, created := s.State, s.CreatedAt
		s.mu.Unlock()
		if state.evictable() {
			if inactiveOldest == nil || created.Before(inactiveOldest.CreatedAt) {
				inactiveOldest = s
			}
		} else if state == StateNew {
			if newOldest == nil || created.Before(newOldest.CreatedAt) {
				newOldest = s
			}
		}
	}
	if inactiveOldest != nil {
		return inactiveOldest
	}
	return newOldest
}

func (t *Table) removeLocked(s *Session) {
	delete(t.byId, s.SessionId.Key())
	delete(t.byAuth, s.AuthToken.Key())
	t.currentSessionCount--
}

// ActivateSession binds the session's user identity and channel,
// transitioning New/Active/Screwed -> Active. Re-binding onto a channel
// owned by a different application fails with
// Bad_ApplicationSignatureInvalid when the caller sets appMismatch,
// evaluated by the caller (the secure channel's application
// certificate check happens in the securechannel/server layer, not
// here) (spec.md §4.5).
func (t *Table) ActivateSession(authToken ua.NodeId, channelId uint32, identity UserIdentity, appMismatch bool) (*Session, error) {
	t.mu.Lock()
	s, ok := t.byAuth[authToken.Key()]
	t.mu.Unlock()
	if !ok {
		return nil, &Error{Code: ua.BadSessionIdInvalid, Reason: "unknown authentication token"}
	}
	if appMismatch {
		return nil, &Error{Code: ua.BadApplicationSignatureInvalid, Reason: "channel application URI mismatch on rebind"}
	}

	s.mu.Lock()
	s.State = StateActive
	s.ChannelId = channelId
	s.Identity = identity
	s.lastActive = time.Now()
	s.mu.Unlock()
	return s, nil
}

// Lookup finds an active session by its authentication token, used to
// dispatch subsequent service requests.
func (t *Table) Lookup(authToken ua.NodeId) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byAuth[authToken.Key()]
	return s, ok
}

// SessionById finds a session by its SessionId (as opposed to its
// authentication token), used when the caller only has the session-side
// identity a subscription or notification was tagged with.
func (t *Table) SessionById(sessionId ua.NodeId) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byId[sessionId.Key()]
	return s, ok
}

// Touch resets the session's inactivity watchdog; called on every valid
// service request (spec.md §4.5 step 4).
func (t *Table) Touch(authToken ua.NodeId) {
	t.mu.Lock()
	s, ok := t.byAuth[authToken.Key()]
	t.mu.Unlock()
	if ok {
		s.touch()
	}
}

// SubscriptionDetacher is implemented by the subscription engine to
// release or park a session's subscriptions at close time (spec.md
// §4.5: delete, or transfer to the orphanage).
type SubscriptionDetacher interface {
	DeleteSubscription(subscriptionId uint32)
	OrphanSubscription(subscriptionId uint32)
}

// CloseSession closes a session per spec.md §4.5: subscriptions are
// either deleted or parked in the orphanage depending on
// deleteSubscriptions, then the session transitions Closed -> Disposed
// as it is removed from the table; Disposed is a momentary bookkeeping
// state observable by a concurrent Sweep/oldestEvictionCandidateLocked
// pass, not a status a caller polls for afterward.
func (t *Table) CloseSession(authToken ua.NodeId, deleteSubscriptions bool, reason CloseReason, detacher SubscriptionDetacher) error {
	t.mu.Lock()
	s, ok := t.byAuth[authToken.Key()]
	t.mu.Unlock()
	if !ok {
		return &Error{Code: ua.BadSessionIdInvalid, Reason: "unknown authentication token"}
	}

	s.mu.Lock()
	subs := make([]uint32, 0, len(s.SubscriptionIds))
	for id := range s.SubscriptionIds {
		subs = append(subs, id)
	}
	s.State = StateClosed
	s.mu.Unlock()

	if detacher != nil {
		for _, id := range subs {
			if deleteSubscriptions {
				detacher.DeleteSubscription(id)
			} else {
				detacher.OrphanSubscription(id)
			}
		}
	}

	s.mu.Lock()
	s.State = StateDisposed
	s.mu.Unlock()

	t.mu.Lock()
	t.removeLocked(s)
	t.mu.Unlock()
	return nil
}

// TransferSubscription moves ownership of a subscription from one
// session to another (spec.md §4.5). The caller (server package) still
// has to move the subscription object itself in the subscription
// package; this method only validates identity/ownership preconditions
// and updates the session-side bookkeeping.
func (t *Table) TransferSubscription(sourceAuth, targetAuth ua.NodeId, subscriptionId uint32) (*Session, *Session, error) {
	t.mu.Lock()
	source, okS := t.byAuth[sourceAuth.Key()]
	target, okT := t.byAuth[targetAuth.Key()]
	t.mu.Unlock()
	if !okS || !okT {
		return nil, nil, &Error{Code: ua.BadSessionIdInvalid, Reason: "unknown session in transfer"}
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if target != source {
		target.mu.Lock()
		defer target.mu.Unlock()
	}

	if source == target {
		if _, owns := target.SubscriptionIds[subscriptionId]; owns {
			return source, target, &Error{Code: ua.BadNothingToDo, Reason: "subscription already owned by target"}
		}
	}
	if !source.Identity.Equal(target.Identity) {
		return nil, nil, &Error{Code: ua.BadUserAccessDenied, Reason: "source and target sessions have different user identities"}
	}
	if _, owns := target.SubscriptionIds[subscriptionId]; owns {
		return source, target, &Error{Code: ua.BadNothingToDo, Reason: "subscription already owned by target"}
	}

	delete(source.SubscriptionIds, subscriptionId)
	target.SubscriptionIds[subscriptionId] = struct{}{}
	target.TransferRequestCount++
	target.TransferredToAltClientCount++
	return source, target, nil
}

// Sweep returns sessions whose idle time has exceeded their timeout,
// for the caller to close with CloseTimeout. Polled from the server
// event loop rather than a per-session timer (spec.md §5's
// single-logical-thread model).
func (t *Table) Sweep(now time.Time) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*Session
	for _, s := range t.byId {
		if s.idleSince(now) > s.Timeout {
			expired = append(expired, s)
		}
	}
	return expired
}

// ScrewSessionsForChannel transitions every session bound to channelId
// to Screwed: the transport layer calls this once a secure channel is
// gone for good. A screwed session keeps its place in the table (and
// its subscriptions) so a client that only lost its TCP connection can
// still resume with ActivateSession on a reconnecting channel; it is
// the Sweep watchdog, not channel loss itself, that eventually closes
// it once Timeout elapses with no ActivateSession/keep-alive to renew
// it (spec.md §4.5).
func (t *Table) ScrewSessionsForChannel(channelId uint32) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var victims []*Session
	for _, s := range t.byId {
		s.mu.Lock()
		if s.ChannelId == channelId && !s.State.evictable() {
			s.State = StateScrewed
			s.ChannelId = 0
			s.lastActive = time.Now()
			victims = append(victims, s)
		}
		s.mu.Unlock()
	}
	return victims
}

// ForgetSubscription drops subscriptionId from sessionId's bookkeeping,
// used once a subscription closes itself on timeout (spec.md §4.6 step
// 4) rather than through an explicit DeleteSubscriptions request.
func (t *Table) ForgetSubscription(sessionId ua.NodeId, subscriptionId uint32) {
	t.mu.Lock()
	s, ok := t.byId[sessionId.Key()]
	t.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.SubscriptionIds, subscriptionId)
	s.mu.Unlock()
}

func (t *Table) CurrentSessionCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSessionCount
}

func (t *Table) CumulatedSessionCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulatedSessionCount
}
