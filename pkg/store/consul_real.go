//go:build consul

package store

import (
	"meshnode/pkg/consul"

	"github.com/hashicorp/go-hclog"
)

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr, prefix string, _ hclog.Logger) (Store, error) {
	s, err := consul.NewStore(addr, prefix)
	if err != nil {
		return nil, err
	}
	return s, nil
}
