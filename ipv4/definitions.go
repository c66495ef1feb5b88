package ipv4

const sizeHeader = 20

// Proto identifies the transport protocol carried in an IPv4 payload.
// Only the protocols this router's NAT/forwarding path actually handles
// are named; any other value is still representable (and forwarded
// unmodified when NAT is disabled) but has no symbolic constant.
type Proto uint8

const (
	ProtoICMP Proto = 1
	ProtoTCP  Proto = 6
	ProtoUDP  Proto = 17
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "proto(unknown)"
	}
}

// ToS is the Type of Service / DiffServ+ECN byte.
type ToS uint8

// Flags holds the fragmentation control bits of an IPv4 header.
type Flags uint16

func (f Flags) DontFragment() bool    { return f&0x4000 != 0 }
func (f Flags) MoreFragments() bool   { return f&0x2000 != 0 }
func (f Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }
