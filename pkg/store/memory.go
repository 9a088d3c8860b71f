package store

import (
	"sort"
	"sync"

	"meshnode/pkg/model"
)

// MemoryStore keeps everything in process memory; state is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	peers map[string]model.PeerRecord
	audit []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		peers: make(map[string]model.PeerRecord),
	}
}

func (m *MemoryStore) SavePeer(p model.PeerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.Endpoint] = p
	return nil
}

func (m *MemoryStore) DeletePeer(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, endpoint)
	return nil
}

func (m *MemoryStore) ListPeers() ([]model.PeerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PeerRecord, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, 0, limit)
	start := len(m.audit) - limit
	for i := start; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
