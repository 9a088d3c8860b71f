// Package api serves the node's admin control plane over HTTP: node
// identity, peer management and routing table inspection.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"meshnode/pkg/auth"
	"meshnode/pkg/endpoint"
	"meshnode/pkg/peer"
	"meshnode/pkg/router"
	"meshnode/pkg/store"
)

const prefix = "/api/v1"

// PeerManager is the peer engine as seen by the admin API. Implementations
// must be safe for concurrent use; AddPeer fails with peer.ErrPeerExists and
// DeletePeer with peer.ErrPeerNotFound.
type PeerManager interface {
	Peers() []peer.Stats
	AddPeer(endpoint.Endpoint) error
	DeletePeer(endpoint.Endpoint) error
}

// MessageStack mounts the messaging routes under prefix when the node runs
// one.
type MessageStack interface {
	RegisterRoutes(mux *http.ServeMux, prefix string)
}

// State is the node state shared with the admin API.
type State struct {
	Router *router.Guard
	Peers  PeerManager
	// Store receives the audit trail of admin changes. Optional.
	Store    store.Store
	Messages MessageStack
}

type Options struct {
	ListenAddr string
	// TLSConfig switches the listener to HTTPS.
	TLSConfig         *tls.Config
	ReadHeaderTimeout time.Duration
	// ShutdownTimeout bounds the graceful drain on Close. Zero waits for
	// in-flight requests to finish however long they take.
	ShutdownTimeout time.Duration
	Logger          hclog.Logger
	Auth            *auth.Authenticator
	// Registry receives the API metrics. A private registry is created
	// when nil.
	Registry       *prometheus.Registry
	DisableMetrics bool
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.ReadHeaderTimeout == 0 {
		o.ReadHeaderTimeout = 5 * time.Second
	}
	return o
}

type handler struct {
	state   State
	logger  hclog.Logger
	auth    *auth.Authenticator
	events  *EventHub
	metrics *metrics
	mux     *http.ServeMux
}

// NewHandler builds the admin API routes over state.
func NewHandler(state State, opts Options) http.Handler {
	return newHandler(state, opts.withDefaults())
}

func newHandler(state State, opts Options) *handler {
	if state.Router == nil || state.Peers == nil {
		panic("api: router and peer manager are required")
	}
	logger := opts.Logger.Named("api")
	h := &handler{
		state:  state,
		logger: logger,
		auth:   opts.Auth,
		events: NewEventHub(logger),
		mux:    http.NewServeMux(),
	}
	if !opts.DisableMetrics {
		h.metrics = newMetrics(opts.Registry, state)
	}
	h.routes()
	return h
}

func (h *handler) routes() {
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics.handler())
	}
	h.mux.HandleFunc("POST "+prefix+"/auth/login", h.handleLogin)

	h.handle(http.MethodGet, "/admin", h.handleInfo)
	h.handle(http.MethodGet, "/admin/peers", h.handleListPeers)
	h.handle(http.MethodPost, "/admin/peers", h.handleAddPeer)
	h.handle(http.MethodDelete, "/admin/peers/{endpoint}", h.handleDeletePeer)
	h.handle(http.MethodGet, "/admin/routes/selected", h.routeList((*router.Guard).SelectedRoutes))
	h.handle(http.MethodGet, "/admin/routes/fallback", h.routeList((*router.Guard).FallbackRoutes))
	h.handle(http.MethodGet, "/admin/audit", h.handleAudit)
	h.handle(http.MethodGet, "/admin/events", h.events.ServeHTTP)

	if h.state.Messages != nil {
		h.state.Messages.RegisterRoutes(h.mux, prefix)
	}
}

// handle mounts an authenticated, instrumented admin route.
func (h *handler) handle(method, path string, fn http.HandlerFunc) {
	route := prefix + path
	var next http.Handler = h.withAuth(fn)
	if h.metrics != nil {
		next = h.metrics.instrument(route, next)
	}
	h.mux.Handle(method+" "+route, next)
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type actorKey struct{}

func (h *handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := h.auth.Subject(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, subject)))
	}
}

func actor(r *http.Request) string {
	if s, ok := r.Context().Value(actorKey{}).(string); ok {
		return s
	}
	return "anonymous"
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}
