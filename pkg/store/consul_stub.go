//go:build !consul

package store

import "github.com/hashicorp/go-hclog"

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr, _ string, logger hclog.Logger) (Store, error) {
	logger.Warn("consul store requested but consul build tag not enabled; using memory store", "addr", addr)
	return NewMemoryStore(), nil
}
