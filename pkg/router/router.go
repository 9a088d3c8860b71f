// Package router holds the read contract the control plane has on the
// routing engine, an in-memory reference table, and Guard, the lock that
// serializes access between the engine and concurrent readers.
package router

import (
	"net/netip"
)

// Metric is the cost of a route. Smaller is better; Infinite marks a route
// that is unreachable or withdrawn.
type Metric uint16

// Infinite is the reserved metric value for unreachable routes.
const Infinite Metric = 0xFFFF

func (m Metric) IsInfinite() bool { return m == Infinite }

// RouteRecord is one entry of the routing table as seen by the engine.
type RouteRecord struct {
	// Subnet is the overlay destination announced by the route's source.
	Subnet netip.Prefix
	// NextHop is the connection identifier of the neighbour the route goes through.
	NextHop string
	Metric  Metric
	Seqno   uint16
}

// Router is implemented by the routing engine. Implementations need not be
// safe for concurrent use; wrap them in a Guard.
type Router interface {
	NodeSubnet() netip.Prefix
	SelectedRoutes() []RouteRecord
	FallbackRoutes() []RouteRecord
}
