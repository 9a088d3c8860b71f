package store

import "meshnode/pkg/model"

// Store persists static peers and the admin audit trail. Implementations
// must be safe for concurrent use.
type Store interface {
	SavePeer(model.PeerRecord) error
	// DeletePeer removes the record for endpoint; deleting an unknown
	// endpoint is not an error.
	DeletePeer(endpoint string) error
	// ListPeers returns all records ordered by endpoint.
	ListPeers() ([]model.PeerRecord, error)
	AppendAudit(model.AuditEntry) error
	// ListAudit returns up to limit most recent entries, oldest first.
	// limit <= 0 returns everything.
	ListAudit(limit int) ([]model.AuditEntry, error)
	Close() error
}
