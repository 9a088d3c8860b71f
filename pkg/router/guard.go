package router

import (
	"slices"
	"sync"
)

// Guard owns a Router shared with the routing engine. Readers get copies
// taken under the lock; the lock itself never leaves this type.
type Guard struct {
	mu     sync.Mutex
	router Router
}

func NewGuard(r Router) *Guard {
	if r == nil {
		panic("router.NewGuard: router is nil")
	}
	return &Guard{router: r}
}

// NodeSubnet returns the node's overlay subnet in string form.
func (g *Guard) NodeSubnet() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.router.NodeSubnet().String()
}

func (g *Guard) SelectedRoutes() []RouteRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.router.SelectedRoutes())
}

func (g *Guard) FallbackRoutes() []RouteRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.router.FallbackRoutes())
}

// Do runs fn with exclusive access to the router. fn must not block.
func (g *Guard) Do(fn func(Router)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.router)
}
