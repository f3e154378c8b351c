package securechannel

import (
	"sync"
	"sync/atomic"
)

// Manager owns the set of live secure channels for one server, assigning
// channel ids and providing lookup for the transport layer's read loop.
// Grounded on the teacher's server-wide connection bookkeeping
// (ws/internal/shared/server.go: sync.Map of clients plus an atomic
// connection counter), generalized from per-connection to per-channel.
type Manager struct {
	channels  sync.Map // map[uint32]*Channel
	nextID    uint32
	policy    SecurityPolicy
	openCount int64 // atomic
}

func NewManager(policy SecurityPolicy) *Manager {
	return &Manager{policy: policy}
}

// Create allocates a fresh channel id and registers a new Channel in
// StateClosed, awaiting HEL.
func (m *Manager) Create() *Channel {
	id := atomic.AddUint32(&m.nextID, 1)
	c := NewChannel(id, m.policy)
	m.channels.Store(id, c)
	atomic.AddInt64(&m.openCount, 1)
	return c
}

// Lookup finds a channel by id, used to route OPN-Renew, MSG and CLO
// chunks that arrive with an existing channelId.
func (m *Manager) Lookup(id uint32) (*Channel, bool) {
	v, ok := m.channels.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

// Remove closes and deregisters a channel, e.g. on CLO or transport
// teardown.
func (m *Manager) Remove(id uint32) {
	if v, ok := m.channels.LoadAndDelete(id); ok {
		v.(*Channel).Close()
		atomic.AddInt64(&m.openCount, -1)
	}
}

// Count returns the number of currently registered channels.
func (m *Manager) Count() int64 {
	return atomic.LoadInt64(&m.openCount)
}

// ChannelsNeedingRenewal returns channels whose current token has entered
// its renewal window, for the server loop to proactively renew before
// the client notices a lapse.
func (m *Manager) ChannelsNeedingRenewal() []*Channel {
	var due []*Channel
	m.channels.Range(func(_, v interface{}) bool {
		c := v.(*Channel)
		if c.ShouldRenew() {
			due = append(due, c)
		}
		return true
	})
	return due
}
