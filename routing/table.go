// Package routing implements longest-prefix-match route lookup over a
// small, static routing table.
package routing

import "encoding/binary"

// Route is a single routing table entry: packets whose destination
// address falls within Dest/Mask are sent to NextHop (the zero address
// if the destination is directly reachable) out Iface.
type Route struct {
	Dest    [4]byte
	Mask    [4]byte
	NextHop [4]byte
	Iface   string
}

func (r Route) maskedDest() uint32 {
	return binary.BigEndian.Uint32(r.Dest[:]) & binary.BigEndian.Uint32(r.Mask[:])
}

func (r Route) maskLen() uint32 {
	return binary.BigEndian.Uint32(r.Mask[:])
}

// Table is a read-only-after-construction routing table: no mutex is
// needed since, per the concurrency model, the routing table never
// changes once the router has started.
type Table struct {
	routes []Route
}

// NewTable returns a Table holding a copy of routes. The table performs
// no validation of overlapping or unreachable entries; it is the
// caller's responsibility to supply a sane configuration.
func NewTable(routes []Route) *Table {
	t := &Table{routes: make([]Route, len(routes))}
	copy(t.routes, routes)
	return t
}

// Lookup returns the most specific (longest prefix mask) route matching
// dst, and whether any route matched. Ties on mask length keep the
// first matching entry, matching the original router's traversal order.
func (t *Table) Lookup(dst [4]byte) (Route, bool) {
	ipaddr := binary.BigEndian.Uint32(dst[:])
	var best Route
	var bestMask uint32
	found := false
	for _, r := range t.routes {
		masked := ipaddr & binary.BigEndian.Uint32(r.Mask[:])
		if masked != r.maskedDest() {
			continue
		}
		curMask := r.maskLen()
		if !found || curMask > bestMask {
			best = r
			bestMask = curMask
			found = true
		}
	}
	return best, found
}

// Routes returns a copy of the table's entries, in configuration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}
