//go:build consul

package consul

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	consulapi "github.com/hashicorp/consul/api"

	"meshnode/pkg/model"
)

// DefaultPrefix is the KV root used when none is configured.
const DefaultPrefix = "meshnode/"

// Store is a Consul KV-backed store implementation.
type Store struct {
	cli         *consulapi.Client
	peerPrefix  string
	auditPrefix string
}

func NewStore(addr, prefix string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{
		cli:         cli,
		peerPrefix:  prefix + "peers/",
		auditPrefix: prefix + "audit/",
	}, nil
}

// Endpoints contain "://" and ":", so keys carry them path-escaped.
func (s *Store) peerKey(endpoint string) string {
	return s.peerPrefix + url.PathEscape(endpoint)
}

func (s *Store) SavePeer(p model.PeerRecord) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: s.peerKey(p.Endpoint), Value: b}, nil)
	return err
}

func (s *Store) DeletePeer(endpoint string) error {
	_, err := s.cli.KV().Delete(s.peerKey(endpoint), nil)
	return err
}

func (s *Store) ListPeers() ([]model.PeerRecord, error) {
	pairs, _, err := s.cli.KV().List(s.peerPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := []model.PeerRecord{}
	for _, kv := range pairs {
		var p model.PeerRecord
		if err := json.Unmarshal(kv.Value, &p); err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *Store) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d-%s", s.auditPrefix, entry.Timestamp.UnixNano(), url.PathEscape(entry.Target))
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	pairs, _, err := s.cli.KV().List(s.auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	// keys are zero-padded timestamps, so key order is time order
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[len(pairs)-limit:]
	}
	out := make([]model.AuditEntry, 0, len(pairs))
	for _, kv := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(kv.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
