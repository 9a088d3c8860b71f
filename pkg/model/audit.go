package model

import "time"

// AuditEntry captures an operation against the admin API.
type AuditEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"` // add_peer, remove_peer
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionAddPeer    = "add_peer"
	ActionRemovePeer = "remove_peer"
)
