package model

import "time"

// PeerRecord is the persisted form of a statically configured peer.
type PeerRecord struct {
	Endpoint string    `json:"endpoint"` // canonical endpoint string
	AddedAt  time.Time `json:"addedAt"`
}
