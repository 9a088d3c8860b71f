// Package node assembles a node's control plane from configuration: the
// persistence backend, the peer manager, the routing table and the admin API.
package node

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/netip"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"meshnode/pkg/api"
	"meshnode/pkg/auth"
	"meshnode/pkg/config"
	"meshnode/pkg/endpoint"
	"meshnode/pkg/peer"
	"meshnode/pkg/router"
	"meshnode/pkg/store"
)

type Node struct {
	cfg    *config.Config
	logger hclog.Logger

	Store  store.Store
	Peers  *peer.Manager
	Table  *router.Table
	Router *router.Guard

	// Registry is handed to the admin API; nil lets it create its own.
	Registry *prometheus.Registry

	server *api.Server
}

// New opens the store, loads persisted peers, adds the configured static
// peers and installs the configured static routes.
func New(cfg *config.Config, logger hclog.Logger) (*Node, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	subnet, err := netip.ParsePrefix(cfg.Node.Subnet)
	if err != nil {
		return nil, fmt.Errorf("node subnet: %w", err)
	}

	st, err := store.Open(cfg.StoreOptions(), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	n := &Node{cfg: cfg, logger: logger, Store: st}

	n.Peers, err = peer.NewManager(st, logger.Named("peers"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := n.addStaticPeers(); err != nil {
		_ = st.Close()
		return nil, err
	}

	n.Table = router.NewTable(subnet.Masked())
	for _, rc := range cfg.Node.Routes {
		rec, err := rc.Record()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if rc.Fallback {
			n.Table.AddFallback(rec)
		} else {
			n.Table.SetSelected(rec)
		}
	}
	n.Router = router.NewGuard(n.Table)

	logger.Info("node ready",
		"subnet", n.Table.NodeSubnet().String(),
		"store", cfg.Store.Type,
		"peers", n.Peers.Len(),
		"routes", len(cfg.Node.Routes))
	return n, nil
}

func (n *Node) addStaticPeers() error {
	for _, raw := range n.cfg.Node.Peers {
		ep, err := endpoint.Parse(raw)
		if err != nil {
			return fmt.Errorf("static peer %q: %w", raw, err)
		}
		if err := n.Peers.AddPeer(ep); err != nil && !errors.Is(err, peer.ErrPeerExists) {
			return err
		}
	}
	return nil
}

// Authenticator returns the admin API credentials, or nil for an open API.
func (n *Node) Authenticator() *auth.Authenticator {
	ac := n.cfg.API.Auth
	if ac.Token == "" && ac.JWTSecret == "" {
		return nil
	}
	a := &auth.Authenticator{
		Token:        ac.Token,
		Username:     ac.Username,
		PasswordHash: ac.PasswordHash,
		TTL:          n.cfg.GetTokenTTL(),
	}
	if ac.JWTSecret != "" {
		a.Secret = []byte(ac.JWTSecret)
	}
	return a
}

// APIOptions maps the api section onto api.Options.
func (n *Node) APIOptions() (api.Options, error) {
	var tlsCfg *tls.Config
	if t := n.cfg.API.TLS; t.Enabled() {
		var err error
		tlsCfg, err = api.ServerTLSConfig(t.Cert, t.Key, t.ClientCA)
		if err != nil {
			return api.Options{}, err
		}
	}
	return api.Options{
		ListenAddr:        n.cfg.API.Listen,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: n.cfg.GetReadHeaderTimeout(),
		ShutdownTimeout:   n.cfg.GetShutdownTimeout(),
		Logger:            n.logger,
		Auth:              n.Authenticator(),
		Registry:          n.Registry,
		DisableMetrics:    n.cfg.API.DisableMetrics,
	}, nil
}

// Start binds the admin API.
func (n *Node) Start() (*api.Server, error) {
	if n.server != nil {
		return nil, errors.New("node already started")
	}
	opts, err := n.APIOptions()
	if err != nil {
		return nil, err
	}
	srv, err := api.Spawn(api.State{Router: n.Router, Peers: n.Peers, Store: n.Store}, opts)
	if err != nil {
		return nil, err
	}
	n.server = srv
	return srv, nil
}

// Close stops the admin API, if started, and closes the store.
func (n *Node) Close() error {
	var errs []error
	if n.server != nil {
		errs = append(errs, n.server.Close())
	}
	errs = append(errs, n.Store.Close())
	return errors.Join(errs...)
}
