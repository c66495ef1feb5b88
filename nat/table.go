package nat

import (
	"log/slog"
	"time"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/internal"
	"github.com/IhsanE/Simple-Router/tcp"
)

// Config holds the idle timeouts that drive mapping and pending-entry
// eviction. Zero values are replaced by the defaults below.
type Config struct {
	ICMPTimeout           time.Duration
	TCPTransitoryTimeout  time.Duration
	TCPEstablishedTimeout time.Duration
}

const (
	defaultICMPTimeout           = 60 * time.Second
	defaultTCPTransitoryTimeout  = 300 * time.Second
	defaultTCPEstablishedTimeout = 7440 * time.Second
	pendingUnsolicitedTimeout    = 6 * time.Second

	tcpPortLow  = 1024
	tcpPortHigh = 65535
)

func (c Config) withDefaults() Config {
	if c.ICMPTimeout == 0 {
		c.ICMPTimeout = defaultICMPTimeout
	}
	if c.TCPTransitoryTimeout == 0 {
		c.TCPTransitoryTimeout = defaultTCPTransitoryTimeout
	}
	if c.TCPEstablishedTimeout == 0 {
		c.TCPEstablishedTimeout = defaultTCPEstablishedTimeout
	}
	return c
}

type mappingEntry struct {
	m     NatMapping
	conns []*connEntry
}

type connEntry struct {
	c NatConnection
}

// Table is the router's NAT table: mappings, their TCP connections, and
// the pending-unsolicited queue, all protected by a single re-entrant
// lock, so a goroutine already holding it can call back into the table
// without deadlocking. Tick does not emit ICMP itself: it returns the
// expired pending entries, which the caller answers after the lock has
// been released.
type Table struct {
	mu internal.RecursiveMutex

	mappings []*mappingEntry
	pending  []*PendingUnsolicited

	icmpCounter uint16
	externalIP  [4]byte
	clock       srouter.Clock
	cfg         Config
	logger
}

// NewTable constructs a Table. externalIP is the address installed as
// IPExt on every newly created mapping (the router's external
// interface address).
func NewTable(externalIP [4]byte, cfg Config, clock srouter.Clock, log *slog.Logger) *Table {
	if clock == nil {
		clock = srouter.SystemClock{}
	}
	return &Table{
		externalIP: externalIP,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger{log: log},
	}
}

// LookupInternal returns a copy of the mapping for (ipInt, auxInt,
// typ), if one exists.
func (t *Table) LookupInternal(ipInt [4]byte, auxInt uint16, typ Type) (NatMapping, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.findInternalLocked(ipInt, auxInt, typ)
	if e == nil {
		return NatMapping{}, false
	}
	return e.m, true
}

// LookupExternal returns a copy of the mapping whose external aux
// value is auxExt, interpreted as a host-order key, if one exists.
func (t *Table) LookupExternal(auxExt uint16, typ Type) (NatMapping, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.findExternalLocked(auxExt, typ)
	if e == nil {
		return NatMapping{}, false
	}
	return e.m, true
}

// InsertOrTouch returns the existing mapping for (ipInt, auxInt, typ)
// with its last_used refreshed, or creates a new one allocating a fresh
// aux_ext.
func (t *Table) InsertOrTouch(ipInt [4]byte, auxInt uint16, typ Type) NatMapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if e := t.findInternalLocked(ipInt, auxInt, typ); e != nil {
		e.m.LastUsed = now
		return e.m
	}

	entry := &mappingEntry{m: NatMapping{
		Type:     typ,
		IPInt:    ipInt,
		IPExt:    t.externalIP,
		AuxInt:   auxInt,
		AuxExt:   t.allocateAuxLocked(typ),
		LastUsed: now,
	}}
	t.mappings = append(t.mappings, entry)
	t.trace("nat:mapping-inserted", slog.String("type", typ.String()), slog.Int("aux_ext", int(entry.m.AuxExt)))
	return entry.m
}

// allocateAuxLocked assigns a fresh external aux value for typ. ICMP
// uses the table's own 16-bit counter that wraps on overflow; TCP
// scans for the lowest unused port in [1024, 65535], matching the
// original NAT's generate_aux_ext (narrowed to search only the
// existing ports of its own namespace, not the other type's).
func (t *Table) allocateAuxLocked(typ Type) uint16 {
	if typ == TypeICMP {
		id := t.icmpCounter
		t.icmpCounter++
		return id
	}
	for port := tcpPortLow; port <= tcpPortHigh; port++ {
		if t.findExternalLocked(uint16(port), TypeTCP) == nil {
			return uint16(port)
		}
	}
	return 0 // table exhausted; caller sees a collision and should drop.
}

// GetConnection returns a copy of the connection riding mapping key
// heading to (ipDest, portDest), if any.
func (t *Table) GetConnection(key Key, ipDest [4]byte, portDest uint16) (NatConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.findExternalLocked(key.AuxExt, key.Type)
	if e == nil {
		return NatConnection{}, false
	}
	c := findConnLocked(e, ipDest, portDest)
	if c == nil {
		return NatConnection{}, false
	}
	return c.c, true
}

// UpdateConnectionState performs a CAS-style transition: the
// connection's state only changes if it currently equals expected. It
// reports whether the connection was found at all.
func (t *Table) UpdateConnectionState(key Key, ipDest [4]byte, portDest uint16, expected, next tcp.State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.findExternalLocked(key.AuxExt, key.Type)
	if e == nil {
		return false
	}
	c := findConnLocked(e, ipDest, portDest)
	if c == nil {
		return false
	}
	if c.c.State == expected {
		c.c.State = next
		c.c.LastUsed = t.clock.Now()
	}
	return true
}

// InsertConnection adds a connection in StateSynSent for (ipDest,
// portDest) on the mapping identified by key. No-op if one already
// exists.
func (t *Table) InsertConnection(key Key, ipDest [4]byte, portDest uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.findExternalLocked(key.AuxExt, key.Type)
	if e == nil {
		return
	}
	if findConnLocked(e, ipDest, portDest) != nil {
		return
	}
	e.conns = append(e.conns, &connEntry{c: NatConnection{
		IPDest:   ipDest,
		PortDest: portDest,
		LastUsed: t.clock.Now(),
		State:    tcp.StateSynSent,
	}})
}

// ParkUnsolicited appends an inbound packet with no matching mapping
// to the pending queue, to be resolved or dropped within
// pendingUnsolicitedTimeout.
func (t *Table) ParkUnsolicited(ip [4]byte, port uint16, frame []byte, iface string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, &PendingUnsolicited{
		IP:       ip,
		Port:     port,
		Frame:     append([]byte(nil), frame...),
		Iface:    iface,
		Received: t.clock.Now(),
	})
}

// ResolveOrDropPending removes and returns any parked entry matching
// (ip, port), for the caller to fold into a newly created connection.
func (t *Table) ResolveOrDropPending(ip [4]byte, port uint16) (PendingUnsolicited, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p.IP == ip && p.Port == port {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return *p, true
		}
	}
	return PendingUnsolicited{}, false
}

// Tick runs the NAT timeout driver for one period: it evicts idle
// mappings/connections per spec timeouts and expires pending
// unsolicited entries older than pendingUnsolicitedTimeout, returning
// those for the caller to answer with ICMP port unreachable.
func (t *Table) Tick() (expiredPending []PendingUnsolicited) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()

	kept := t.mappings[:0]
	for _, e := range t.mappings {
		if e.m.Type == TypeICMP {
			if now.Sub(e.m.LastUsed) > t.cfg.ICMPTimeout {
				t.trace("nat:icmp-mapping-expired", slog.Int("aux_ext", int(e.m.AuxExt)))
				continue
			}
			kept = append(kept, e)
			continue
		}
		connsKept := e.conns[:0]
		for _, c := range e.conns {
			timeout := t.cfg.TCPTransitoryTimeout
			if c.c.State.IsEstablished() {
				timeout = t.cfg.TCPEstablishedTimeout
			}
			if now.Sub(c.c.LastUsed) >= timeout {
				continue
			}
			connsKept = append(connsKept, c)
		}
		e.conns = connsKept
		if len(e.conns) == 0 {
			t.trace("nat:tcp-mapping-expired", slog.Int("aux_ext", int(e.m.AuxExt)))
			continue
		}
		kept = append(kept, e)
	}
	t.mappings = kept

	pendingKept := t.pending[:0]
	for _, p := range t.pending {
		if now.Sub(p.Received) > pendingUnsolicitedTimeout {
			expiredPending = append(expiredPending, *p)
			continue
		}
		pendingKept = append(pendingKept, p)
	}
	t.pending = pendingKept
	return expiredPending
}

func (t *Table) findInternalLocked(ipInt [4]byte, auxInt uint16, typ Type) *mappingEntry {
	for _, e := range t.mappings {
		if e.m.Type == typ && e.m.IPInt == ipInt && e.m.AuxInt == auxInt {
			return e
		}
	}
	return nil
}

func (t *Table) findExternalLocked(auxExt uint16, typ Type) *mappingEntry {
	for _, e := range t.mappings {
		if e.m.Type == typ && e.m.AuxExt == auxExt {
			return e
		}
	}
	return nil
}

func findConnLocked(e *mappingEntry, ipDest [4]byte, portDest uint16) *connEntry {
	for _, c := range e.conns {
		if c.c.IPDest == ipDest && c.c.PortDest == portDest {
			return c
		}
	}
	return nil
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
