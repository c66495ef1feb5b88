// Package nat implements the endpoint-independent NAT table: mappings
// between internal (ip, port-or-icmp-id) pairs and externally visible
// ones, TCP connection tracking per mapping, and a queue of
// unsolicited inbound packets awaiting a matching outbound flow.
package nat

import (
	"time"

	"github.com/IhsanE/Simple-Router/tcp"
)

// Type distinguishes the two translation namespaces this NAT tracks.
type Type uint8

const (
	TypeICMP Type = iota
	TypeTCP
)

func (t Type) String() string {
	switch t {
	case TypeICMP:
		return "icmp"
	case TypeTCP:
		return "tcp"
	default:
		return "type(unknown)"
	}
}

// Key identifies a mapping by its externally visible aux value, the
// same pair lookup_external matches against.
type Key struct {
	AuxExt uint16
	Type   Type
}

// NatMapping is a single translation entry. Accessors return/accept
// deep copies: no field is ever aliased with the table's internal
// storage, matching the original router's malloc-a-copy convention for
// every lookup/insert call under its NAT lock.
type NatMapping struct {
	Type     Type
	IPInt    [4]byte
	IPExt    [4]byte
	AuxInt   uint16
	AuxExt   uint16
	LastUsed time.Time
}

// Key returns the mapping's external lookup key.
func (m NatMapping) Key() Key { return Key{AuxExt: m.AuxExt, Type: m.Type} }

// NatConnection tracks one TCP connection riding a given mapping,
// keyed by the remote endpoint it talks to.
type NatConnection struct {
	IPDest   [4]byte
	PortDest uint16
	LastUsed time.Time
	State    tcp.State
}

// PendingUnsolicited is an inbound packet with no matching mapping yet,
// parked in case a matching outbound flow appears within the park
// window.
type PendingUnsolicited struct {
	IP       [4]byte
	Port     uint16
	Frame    []byte
	Iface    string
	Received time.Time
}
