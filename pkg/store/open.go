package store

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"meshnode/pkg/db"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendConsul = "consul"
	BackendMySQL  = "mysql"
)

// Options selects and configures a backend.
type Options struct {
	Type         string
	SQLitePath   string
	ConsulAddr   string
	ConsulPrefix string
	MySQLDSN     string
}

// Open builds the backend named by opts.Type. An empty type means memory.
func Open(opts Options, logger hclog.Logger) (Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	switch opts.Type {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendConsul:
		return NewConsulStore(opts.ConsulAddr, opts.ConsulPrefix, logger)
	case BackendMySQL:
		s, err := db.Open(opts.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}
