package broadcast

import (
	"sync"

	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
)

// Registry maps channel names to the connections subscribed on this
// instance. A channel exists only while it has at least one member.
// Removing a connection never closes it.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Connection
	total    int
	metrics  *metrics.BroadcastMetrics
}

func NewRegistry(m *metrics.BroadcastMetrics) *Registry {
	return &Registry{
		channels: make(map[string]map[string]Connection),
		metrics:  m,
	}
}

// Register adds conn to channel. Registering the same connection twice is a
// no-op. Reports whether the channel was created by this call.
func (r *Registry) Register(channel string, conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Connection)
		r.channels[channel] = members
	}
	if _, dup := members[conn.ID()]; !dup {
		members[conn.ID()] = conn
		r.total++
		r.updateGauges()
	}
	return !ok
}

// Deregister removes conn from channel and drops the channel once empty.
// Unknown channels and connections are ignored. Reports whether the channel
// was removed by this call.
func (r *Registry) Deregister(channel string, conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return false
	}
	if _, member := members[conn.ID()]; !member {
		return false
	}
	delete(members, conn.ID())
	r.total--
	removed := len(members) == 0
	if removed {
		delete(r.channels, channel)
	}
	r.updateGauges()
	return removed
}

// Snapshot returns a copy of channel's membership, safe to iterate while
// other goroutines register and deregister.
func (r *Registry) Snapshot(channel string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	out := make([]Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Channels lists every channel that currently has members.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

// Len is the total number of registrations across all channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// caller holds r.mu
func (r *Registry) updateGauges() {
	if r.metrics != nil {
		r.metrics.ActiveChannels.Set(float64(len(r.channels)))
		r.metrics.Subscriptions.Set(float64(r.total))
	}
}
