package srouter

// Sender is the one abstraction the packet pipeline depends on for
// egress. Production wires a real device (cmd/router adapts a Linux TAP
// device per interface); tests wire an in-memory fake that records
// emitted frames.
type Sender interface {
	// Send transmits frame (starting at the Ethernet header) out iface.
	Send(frame []byte, iface string) error
}

// Role distinguishes the single internal-facing interface from the one
// or more external-facing interfaces a NAT-enabled router attaches to.
type Role uint8

const (
	RoleExternal Role = iota
	RoleInternal
)

func (r Role) String() string {
	if r == RoleInternal {
		return "internal"
	}
	return "external"
}

// Interface describes one of the router's network interfaces: its name
// (as used by Sender.Send and logging), IPv4 address, and NAT role.
type Interface struct {
	Name string
	Addr [4]byte
	MAC  [6]byte
	Role Role
}

// Config is the flat, flag-populated configuration cmd/router builds
// before constructing a pipeline.Router. It is intentionally a plain
// struct rather than a layered config system: the teacher's own
// examples/*/main.go entrypoints all populate a struct like this
// directly from flag.
type Config struct {
	Interfaces  []Interface
	NATEnabled  bool
	MetricsAddr string // empty disables the /metrics HTTP endpoint
	LogLevel    string
}
