package registry

import (
	"sort"
	"sync"
	"time"

	"linkbeam/pkg/logger"
)

// Peer is one discovered device
type Peer struct {
	DeviceID   string
	DeviceName string
	Address    string // ip:transferPort
	LastSeen   time.Time
}

// Registry holds the known peers keyed by device id.
// Callers only ever receive copies.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	onLost func(Peer)
}

// New creates a registry. onLost, if set, is called once per evicted peer,
// outside the registry lock.
func New(onLost func(Peer)) *Registry {
	return &Registry{
		peers:  make(map[string]Peer),
		onLost: onLost,
	}
}

// Upsert inserts or refreshes a peer. It reports whether the device id was new.
func (r *Registry) Upsert(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.peers[p.DeviceID]
	r.peers[p.DeviceID] = p
	return !exists
}

// Get returns the peer with the given device id.
func (r *Registry) Get(deviceID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[deviceID]
	return p, ok
}

// Snapshot returns every peer sorted by name, then id.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceName == out[j].DeviceName {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].DeviceName < out[j].DeviceName
	})
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// EvictStale removes peers silent for longer than threshold and returns them.
func (r *Registry) EvictStale(now time.Time, threshold time.Duration) []Peer {
	r.mu.Lock()
	var evicted []Peer
	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > threshold {
			evicted = append(evicted, p)
			delete(r.peers, id)
		}
	}
	r.mu.Unlock()

	for _, p := range evicted {
		logger.Sugar.Infof("[Registry] peer lost: id=%s name=%q addr=%s", p.DeviceID, p.DeviceName, p.Address)
		if r.onLost != nil {
			r.onLost(p)
		}
	}
	return evicted
}
