// Package peer tracks the peers known to the node and their connection
// counters. The connection engine updates state and traffic; the admin API
// lists, adds and removes peers.
package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"meshnode/pkg/endpoint"
	"meshnode/pkg/model"
	"meshnode/pkg/store"
)

var (
	ErrPeerExists   = errors.New("peer already exists")
	ErrPeerNotFound = errors.New("peer not found")
)

// Type records how the node learned about a peer.
type Type string

const (
	TypeStatic             Type = "static"
	TypeInbound            Type = "inbound"
	TypeLinkLocalDiscovery Type = "linkLocalDiscovery"
)

// ConnectionState is the liveness of the connection to a peer.
type ConnectionState string

const (
	StateAlive      ConnectionState = "alive"
	StateConnecting ConnectionState = "connecting"
	StateDead       ConnectionState = "dead"
)

// Stats is a point-in-time copy of what is known about one peer.
type Stats struct {
	Endpoint        endpoint.Endpoint `json:"endpoint"`
	Type            Type              `json:"type"`
	ConnectionState ConnectionState   `json:"connectionState"`
	TxBytes         uint64            `json:"txBytes"`
	RxBytes         uint64            `json:"rxBytes"`
}

// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	peers  map[endpoint.Endpoint]*Stats
	store  store.Store
	logger hclog.Logger
}

// NewManager builds a manager and loads the static peers persisted in st.
// st may be nil, in which case peers live only in memory.
func NewManager(st store.Store, logger hclog.Logger) (*Manager, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Manager{
		peers:  make(map[endpoint.Endpoint]*Stats),
		store:  st,
		logger: logger,
	}
	if st == nil {
		return m, nil
	}
	records, err := st.ListPeers()
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}
	for _, rec := range records {
		ep, err := endpoint.Parse(rec.Endpoint)
		if err != nil {
			logger.Warn("skipping persisted peer with invalid endpoint", "endpoint", rec.Endpoint, "error", err)
			continue
		}
		m.peers[ep] = newStats(ep, TypeStatic)
	}
	logger.Debug("loaded persisted peers", "count", len(m.peers))
	return m, nil
}

func newStats(ep endpoint.Endpoint, t Type) *Stats {
	return &Stats{Endpoint: ep, Type: t, ConnectionState: StateConnecting}
}

// Peers returns a copy of all peer stats ordered by endpoint. It never returns nil.
func (m *Manager) Peers() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.peers))
	for _, s := range m.peers {
		out = append(out, *s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint.String() < out[j].Endpoint.String()
	})
	return out
}

// AddPeer registers a static peer. It fails with ErrPeerExists when a peer
// with the same endpoint is already known.
//
// The slot is reserved under the lock and persisted after releasing it, so
// a slow store does not block listings. A failed save releases the slot.
func (m *Manager) AddPeer(ep endpoint.Endpoint) error {
	m.mu.Lock()
	if _, ok := m.peers[ep]; ok {
		m.mu.Unlock()
		return ErrPeerExists
	}
	s := newStats(ep, TypeStatic)
	m.peers[ep] = s
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SavePeer(model.PeerRecord{Endpoint: ep.String(), AddedAt: time.Now()}); err != nil {
			m.mu.Lock()
			if m.peers[ep] == s {
				delete(m.peers, ep)
			}
			m.mu.Unlock()
			return fmt.Errorf("persist peer %s: %w", ep, err)
		}
	}
	m.logger.Info("peer added", "endpoint", ep.String())
	return nil
}

// DeletePeer removes a peer. It fails with ErrPeerNotFound when no peer
// with that endpoint is known. A failed store delete puts the peer back
// unless the endpoint was re-added meanwhile.
func (m *Manager) DeletePeer(ep endpoint.Endpoint) error {
	m.mu.Lock()
	prev, ok := m.peers[ep]
	if !ok {
		m.mu.Unlock()
		return ErrPeerNotFound
	}
	delete(m.peers, ep)
	m.mu.Unlock()

	if m.store != nil && prev.Type == TypeStatic {
		if err := m.store.DeletePeer(ep.String()); err != nil {
			m.mu.Lock()
			if _, taken := m.peers[ep]; !taken {
				m.peers[ep] = prev
			}
			m.mu.Unlock()
			return fmt.Errorf("unpersist peer %s: %w", ep, err)
		}
	}
	m.logger.Info("peer removed", "endpoint", ep.String())
	return nil
}

// AddInbound records a peer that connected to us. Inbound peers are not persisted.
func (m *Manager) AddInbound(ep endpoint.Endpoint) bool {
	return m.addDynamic(ep, TypeInbound)
}

// AddDiscovered records a peer found by link-local discovery. Like inbound
// peers, discovered peers are not persisted.
func (m *Manager) AddDiscovered(ep endpoint.Endpoint) bool {
	return m.addDynamic(ep, TypeLinkLocalDiscovery)
}

func (m *Manager) addDynamic(ep endpoint.Endpoint, t Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[ep]; ok {
		return false
	}
	s := newStats(ep, t)
	s.ConnectionState = StateAlive
	m.peers[ep] = s
	return true
}

// SetConnectionState updates the liveness of a known peer.
func (m *Manager) SetConnectionState(ep endpoint.Endpoint, state ConnectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.peers[ep]
	if !ok {
		return ErrPeerNotFound
	}
	s.ConnectionState = state
	return nil
}

// RecordTraffic adds to the byte counters of a known peer.
func (m *Manager) RecordTraffic(ep endpoint.Endpoint, tx, rx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.peers[ep]
	if !ok {
		return ErrPeerNotFound
	}
	s.TxBytes += tx
	s.RxBytes += rx
	return nil
}

// Len returns the number of known peers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
