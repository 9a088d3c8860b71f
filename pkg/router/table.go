package router

import (
	"net/netip"
	"slices"
	"strings"
)

// Table is an in-memory Router. It is not safe for concurrent use.
type Table struct {
	subnet   netip.Prefix
	selected map[netip.Prefix]RouteRecord
	fallback map[netip.Prefix][]RouteRecord
}

func NewTable(subnet netip.Prefix) *Table {
	return &Table{
		subnet:   subnet,
		selected: make(map[netip.Prefix]RouteRecord),
		fallback: make(map[netip.Prefix][]RouteRecord),
	}
}

func (t *Table) NodeSubnet() netip.Prefix { return t.subnet }

// SetSelected installs r as the selected route for its subnet. A previously
// selected route through a different next hop is kept as a fallback.
func (t *Table) SetSelected(r RouteRecord) {
	if prev, ok := t.selected[r.Subnet]; ok && prev.NextHop != r.NextHop {
		t.AddFallback(prev)
	}
	t.selected[r.Subnet] = r
	t.dropFallback(r.Subnet, r.NextHop)
}

// AddFallback stores r as an alternate route. An existing fallback through
// the same next hop is replaced.
func (t *Table) AddFallback(r RouteRecord) {
	t.dropFallback(r.Subnet, r.NextHop)
	t.fallback[r.Subnet] = append(t.fallback[r.Subnet], r)
}

// Withdraw removes every route to subnet.
func (t *Table) Withdraw(subnet netip.Prefix) {
	delete(t.selected, subnet)
	delete(t.fallback, subnet)
}

func (t *Table) dropFallback(subnet netip.Prefix, nextHop string) {
	routes := slices.DeleteFunc(t.fallback[subnet], func(r RouteRecord) bool {
		return r.NextHop == nextHop
	})
	if len(routes) == 0 {
		delete(t.fallback, subnet)
		return
	}
	t.fallback[subnet] = routes
}

func (t *Table) SelectedRoutes() []RouteRecord {
	out := make([]RouteRecord, 0, len(t.selected))
	for _, r := range t.selected {
		out = append(out, r)
	}
	sortRoutes(out)
	return out
}

func (t *Table) FallbackRoutes() []RouteRecord {
	var out []RouteRecord
	for _, rs := range t.fallback {
		out = append(out, rs...)
	}
	sortRoutes(out)
	return out
}

// sortRoutes orders by subnet, then next hop, so repeated snapshots of an
// unchanged table compare equal.
func sortRoutes(rs []RouteRecord) {
	slices.SortFunc(rs, func(a, b RouteRecord) int {
		if c := a.Subnet.Addr().Compare(b.Subnet.Addr()); c != 0 {
			return c
		}
		if c := a.Subnet.Bits() - b.Subnet.Bits(); c != 0 {
			return c
		}
		return strings.Compare(a.NextHop, b.NextHop)
	})
}
