package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshnode/pkg/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "meshnode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_Peers(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := st.ListPeers()
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			added := time.Unix(1700000000, 0)
			require.NoError(t, st.SavePeer(model.PeerRecord{Endpoint: "tcp://203.0.113.9:9651", AddedAt: added}))
			require.NoError(t, st.SavePeer(model.PeerRecord{Endpoint: "quic://198.51.100.1:9651", AddedAt: added}))
			// saving again is an upsert
			require.NoError(t, st.SavePeer(model.PeerRecord{Endpoint: "tcp://203.0.113.9:9651", AddedAt: added}))

			peers, err := st.ListPeers()
			require.NoError(t, err)
			require.Len(t, peers, 2)
			assert.Equal(t, "quic://198.51.100.1:9651", peers[0].Endpoint)
			assert.Equal(t, "tcp://203.0.113.9:9651", peers[1].Endpoint)
			assert.True(t, added.Equal(peers[1].AddedAt))

			require.NoError(t, st.DeletePeer("tcp://203.0.113.9:9651"))
			require.NoError(t, st.DeletePeer("tcp://203.0.113.9:9651"), "deleting twice is not an error")

			peers, err = st.ListPeers()
			require.NoError(t, err)
			require.Len(t, peers, 1)
			assert.Equal(t, "quic://198.51.100.1:9651", peers[0].Endpoint)
		})
	}
}

func TestStore_Audit(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Unix(1700000000, 0)
			for i, target := range []string{"a", "b", "c"} {
				require.NoError(t, st.AppendAudit(model.AuditEntry{
					Actor:     "api",
					Action:    model.ActionAddPeer,
					Target:    target,
					Timestamp: base.Add(time.Duration(i) * time.Second),
				}))
			}

			all, err := st.ListAudit(0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "a", all[0].Target)
			assert.Equal(t, "c", all[2].Target)

			last, err := st.ListAudit(2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "b", last[0].Target)
			assert.Equal(t, "c", last[1].Target)
			assert.Equal(t, model.ActionAddPeer, last[1].Action)
			assert.True(t, base.Add(2*time.Second).Equal(last[1].Timestamp))
		})
	}
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshnode.db")
	st, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.SavePeer(model.PeerRecord{Endpoint: "tcp://203.0.113.9:9651"}))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(path)
	require.NoError(t, err)
	defer st.Close()
	peers, err := st.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.False(t, peers[0].AddedAt.IsZero())
}

func TestOpen(t *testing.T) {
	st, err := Open(Options{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	st, err = Open(Options{Type: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(Options{Type: BackendSQLite}, nil)
	assert.Error(t, err)

	_, err = Open(Options{Type: "etcd"}, nil)
	assert.EqualError(t, err, "unsupported store type: etcd")
}
