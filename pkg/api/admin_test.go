package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"meshnode/pkg/auth"
	"meshnode/pkg/endpoint"
	"meshnode/pkg/model"
	"meshnode/pkg/peer"
	"meshnode/pkg/router"
	"meshnode/pkg/store"
)

type testNode struct {
	table *router.Table
	guard *router.Guard
	peers *peer.Manager
	store *store.MemoryStore
	state State
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	table := router.NewTable(netip.MustParsePrefix("400:1234:5678:9abc::/64"))
	st := store.NewMemoryStore()
	pm, err := peer.NewManager(st, nil)
	require.NoError(t, err)
	guard := router.NewGuard(table)
	return &testNode{
		table: table,
		guard: guard,
		peers: pm,
		store: st,
		state: State{Router: guard, Peers: pm, Store: st},
	}
}

func newTestServer(t *testing.T, state State, opts Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewHandler(state, opts))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func listPeers(t *testing.T, base string) []peer.Stats {
	t.Helper()
	code, body := do(t, http.MethodGet, base+"/api/v1/admin/peers", "")
	require.Equal(t, http.StatusOK, code)
	var out []peer.Stats
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestAdmin_Info(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"nodeSubnet":"400:1234:5678:9abc::/64"}`, body)
}

func TestAdmin_PeerLifecycle(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	code, body := do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	code, body = do(t, http.MethodPost, base, `{"endpoint":"203.0.113.5:9651"}`)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, body)

	peers := listPeers(t, ts.URL)
	require.Len(t, peers, 1)
	assert.Equal(t, endpoint.MustParse("203.0.113.5:9651"), peers[0].Endpoint)
	assert.Equal(t, peer.TypeStatic, peers[0].Type)

	code, _ = do(t, http.MethodDelete, base+"/203.0.113.5:9651", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, listPeers(t, ts.URL))

	code, body = do(t, http.MethodDelete, base+"/203.0.113.5:9651", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, msgPeerNotFound+"\n", body)
}

func TestAdmin_AddPeerConflict(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	code, _ := do(t, http.MethodPost, base, `{"endpoint":"203.0.113.5:9651"}`)
	assert.Equal(t, http.StatusNoContent, code)

	code, body := do(t, http.MethodPost, base, `{"endpoint":"tcp://203.0.113.5:9651"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, msgPeerExists+"\n", body)

	assert.Len(t, listPeers(t, ts.URL), 1)
}

func TestAdmin_AddDeleteSymmetry(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("198.51.100.1:9651")))
	n.peers.AddInbound(endpoint.MustParse("198.51.100.2:40000"))
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	before := listPeers(t, ts.URL)

	code, _ := do(t, http.MethodPost, base, `{"endpoint":"[2001:db8::5]:9651"}`)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, http.MethodDelete, base+"/[2001:db8::5]:9651", "")
	require.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, before, listPeers(t, ts.URL))

	code, _ = do(t, http.MethodDelete, base+"/203.0.113.99:1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, before, listPeers(t, ts.URL))
}

func TestAdmin_EndpointValidationConsistent(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	for _, bad := range []string{"garbage", "203.0.113.5", "203.0.113.5:99999", "host.example:9651"} {
		t.Run(bad, func(t *testing.T) {
			_, parseErr := endpoint.Parse(bad)
			require.Error(t, parseErr)

			addCode, addBody := do(t, http.MethodPost, base, `{"endpoint":"`+bad+`"}`)
			delCode, delBody := do(t, http.MethodDelete, base+"/"+bad, "")

			assert.Equal(t, http.StatusBadRequest, addCode)
			assert.Equal(t, http.StatusBadRequest, delCode)
			assert.Equal(t, parseErr.Error()+"\n", addBody)
			assert.Equal(t, addBody, delBody)
		})
	}
	assert.Empty(t, listPeers(t, ts.URL))
}

func TestAdmin_AddPeerInvalidPayload(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	code, body := do(t, http.MethodPost, ts.URL+"/api/v1/admin/peers", `{"endpoint":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid payload\n", body)

	code, body = do(t, http.MethodPost, ts.URL+"/api/v1/admin/peers", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "empty endpoint\n", body)
}

func TestAdmin_AddPeerRequiresJSON(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	for _, ct := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		t.Run(ct, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/admin/peers",
				strings.NewReader(`{"endpoint":"203.0.113.66:9651"}`))
			require.NoError(t, err)
			if ct != "" {
				req.Header.Set("Content-Type", ct)
			}
			req.Header.Set("Origin", "https://other.example")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		})
	}
	assert.Empty(t, listPeers(t, ts.URL))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/admin/peers",
		strings.NewReader(`{"endpoint":"203.0.113.66:9651"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, listPeers(t, ts.URL), 1)
}

func TestAdmin_AddPeerBodyTooLarge(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	huge := `{"endpoint":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	code, body := do(t, http.MethodPost, ts.URL+"/api/v1/admin/peers", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "payload too large\n", body)
	assert.Empty(t, listPeers(t, ts.URL))
}

func TestAdmin_DeleteEscapedEndpoint(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("quic://198.51.100.7:9651")))
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("[2001:db8::7]:9651")))
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	code, _ := do(t, http.MethodDelete, base+"/quic:%2F%2F198.51.100.7:9651", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, http.MethodDelete, base+"/tcp:%2F%2F%5B2001:db8::7%5D:9651", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, listPeers(t, ts.URL))

	code, body := do(t, http.MethodDelete, base+"/udp:%2F%2F1.2.3.4:1", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid protocol \"udp\"\n", body)
}

func TestAdmin_MethodNotAllowed(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	code, _ := do(t, http.MethodPut, ts.URL+"/api/v1/admin/peers", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	code, _ = do(t, http.MethodPost, ts.URL+"/api/v1/admin/routes/selected", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestAdmin_EmptyRoutes(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	for _, kind := range []string{"selected", "fallback"} {
		code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin/routes/"+kind, "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "[]", strings.TrimSpace(body))
	}
}

func TestAdmin_Routes(t *testing.T) {
	n := newTestNode(t)
	subnet := netip.MustParsePrefix("400:aaaa::/64")
	n.guard.Do(func(router.Router) {
		n.table.SetSelected(router.RouteRecord{Subnet: subnet, NextHop: "tcp 203.0.113.5:9651", Metric: 30, Seqno: 1})
		n.table.SetSelected(router.RouteRecord{Subnet: subnet, NextHop: "tcp 203.0.113.6:9651", Metric: 10, Seqno: 2})
		n.table.AddFallback(router.RouteRecord{
			Subnet: netip.MustParsePrefix("400:bbbb::/64"), NextHop: "quic 198.51.100.7:9651", Metric: router.Infinite, Seqno: 9,
		})
	})
	ts := newTestServer(t, n.state, Options{})

	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin/routes/selected", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"subnet":"400:aaaa::/64","nextHop":"tcp 203.0.113.6:9651","metric":10,"seqno":2}]`, body)

	code, body = do(t, http.MethodGet, ts.URL+"/api/v1/admin/routes/fallback", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[
		{"subnet":"400:aaaa::/64","nextHop":"tcp 203.0.113.5:9651","metric":30,"seqno":1},
		{"subnet":"400:bbbb::/64","nextHop":"quic 198.51.100.7:9651","metric":"infinite","seqno":9}
	]`, body)
}

func TestAdmin_ListingIsIdempotent(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("203.0.113.5:9651")))
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("quic://203.0.113.6:9651")))
	n.guard.Do(func(router.Router) {
		n.table.SetSelected(router.RouteRecord{Subnet: netip.MustParsePrefix("400:aaaa::/64"), NextHop: "a", Metric: 1})
		n.table.AddFallback(router.RouteRecord{Subnet: netip.MustParsePrefix("400:aaaa::/64"), NextHop: "b", Metric: 5})
	})
	ts := newTestServer(t, n.state, Options{})

	for _, path := range []string{"/api/v1/admin/peers", "/api/v1/admin/routes/selected", "/api/v1/admin/routes/fallback"} {
		_, first := do(t, http.MethodGet, ts.URL+path, "")
		_, second := do(t, http.MethodGet, ts.URL+path, "")
		assert.Equal(t, first, second, path)
	}
}

type mockPeers struct {
	mock.Mock
}

func (m *mockPeers) Peers() []peer.Stats {
	args := m.Called()
	s, _ := args.Get(0).([]peer.Stats)
	return s
}

func (m *mockPeers) AddPeer(ep endpoint.Endpoint) error {
	return m.Called(ep).Error(0)
}

func (m *mockPeers) DeletePeer(ep endpoint.Endpoint) error {
	return m.Called(ep).Error(0)
}

func TestAdmin_PeerManagerFailures(t *testing.T) {
	n := newTestNode(t)
	pm := &mockPeers{}
	ep := endpoint.MustParse("203.0.113.5:9651")
	pm.On("Peers").Return(nil)
	pm.On("AddPeer", ep).Return(errors.New("disk full"))
	pm.On("DeletePeer", ep).Return(errors.New("disk full"))
	ts := newTestServer(t, State{Router: n.guard, Peers: pm, Store: n.store}, Options{})

	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin/peers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	code, _ = do(t, http.MethodPost, ts.URL+"/api/v1/admin/peers", `{"endpoint":"203.0.113.5:9651"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	code, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/admin/peers/203.0.113.5:9651", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	entries, err := n.store.ListAudit(0)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed changes are not audited")
	pm.AssertExpectations(t)
}

func TestAdmin_Audit(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})
	base := ts.URL + "/api/v1/admin/peers"

	do(t, http.MethodPost, base, `{"endpoint":"203.0.113.5:9651"}`)
	do(t, http.MethodPost, base, `{"endpoint":"203.0.113.5:9651"}`)
	do(t, http.MethodDelete, base+"/203.0.113.5:9651", "")

	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin/audit", "")
	require.Equal(t, http.StatusOK, code)
	var entries []model.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActionAddPeer, entries[0].Action)
	assert.Equal(t, model.ActionRemovePeer, entries[1].Action)
	assert.Equal(t, "tcp://203.0.113.5:9651", entries[1].Target)
	assert.Equal(t, "anonymous", entries[1].Actor)

	code, body = do(t, http.MethodGet, ts.URL+"/api/v1/admin/audit?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionRemovePeer, entries[0].Action)

	code, _ = do(t, http.MethodGet, ts.URL+"/api/v1/admin/audit?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdmin_AuditWithoutStore(t *testing.T) {
	n := newTestNode(t)
	n.state.Store = nil
	ts := newTestServer(t, n.state, Options{})

	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/admin/audit", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)
}

func TestAdmin_Auth(t *testing.T) {
	n := newTestNode(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	a := &auth.Authenticator{
		Token:        "static-token",
		Secret:       []byte("secret"),
		Username:     "admin",
		PasswordHash: string(hash),
		TTL:          time.Hour,
	}
	ts := newTestServer(t, n.state, Options{Auth: a})

	code, _ := do(t, http.MethodGet, ts.URL+"/api/v1/admin", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = do(t, http.MethodPost, ts.URL+"/api/v1/auth/login", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, http.MethodPost, ts.URL+"/api/v1/auth/login", `{"username":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodPost, ts.URL+"/api/v1/auth/login", `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal([]byte(body), &login))
	require.NotEmpty(t, login.Token)

	for _, tok := range []string{"static-token", login.Token} {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/admin/peers",
			bytes.NewBufferString(`{"endpoint":"203.0.113.5:9651"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Contains(t, []int{http.StatusNoContent, http.StatusConflict}, resp.StatusCode)
	}

	entries, err := n.store.ListAudit(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "token", entries[0].Actor)
}

func TestAdmin_LoginNotConfigured(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})

	code, _ := do(t, http.MethodPost, ts.URL+"/api/v1/auth/login", `{"username":"admin","password":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdmin_Metrics(t *testing.T) {
	n := newTestNode(t)
	require.NoError(t, n.peers.AddPeer(endpoint.MustParse("203.0.113.5:9651")))
	ts := newTestServer(t, n.state, Options{})

	do(t, http.MethodGet, ts.URL+"/api/v1/admin/peers", "")
	code, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "meshnode_peers 1")
	assert.Contains(t, body, "meshnode_selected_routes 0")
	assert.Contains(t, body, `meshnode_admin_requests_total{code="200",method="get",route="/api/v1/admin/peers"} 1`)

	ts = newTestServer(t, n.state, Options{DisableMetrics: true})
	code, _ = do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusNotFound, code)
}

type fakeMessages struct{}

func (fakeMessages) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/messages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
}

func TestAdmin_MessageStackMounted(t *testing.T) {
	n := newTestNode(t)
	ts := newTestServer(t, n.state, Options{})
	code, _ := do(t, http.MethodGet, ts.URL+"/api/v1/messages", "")
	assert.Equal(t, http.StatusNotFound, code)

	n.state.Messages = fakeMessages{}
	ts = newTestServer(t, n.state, Options{})
	code, body := do(t, http.MethodGet, ts.URL+"/api/v1/messages", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", body)
}

func TestAdmin_Events(t *testing.T) {
	n := newTestNode(t)
	h := newHandler(n.state, Options{}.withDefaults())
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	t.Cleanup(h.events.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/admin/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.events.Len() == 1 }, time.Second, 10*time.Millisecond)

	code, _ := do(t, http.MethodPost, ts.URL+"/api/v1/admin/peers", `{"endpoint":"203.0.113.5:9651"}`)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/admin/peers/203.0.113.5:9651", "")
	require.Equal(t, http.StatusNoContent, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{EventPeerAdded, EventPeerRemoved} {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, want, ev.Type)
		assert.Equal(t, "tcp://203.0.113.5:9651", ev.Endpoint)
	}

	hdr := http.Header{"Origin": []string{"https://other.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h.events.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, h.events.Len())
}
