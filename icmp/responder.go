package icmp

import (
	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/ipv4"
)

// sizeIPv4Header is the minimum (no-options) IPv4 header size, used to
// size the error-message buffers this package constructs.
const sizeIPv4Header = 20

// ResponseSize is the number of bytes BuildTimeExceeded and
// BuildDestinationUnreachable write to their dst buffer: an IPv4 header
// (no options) followed by an 8-byte ICMP type-3/type-11 header (which
// includes the unused/next-hop-MTU word) and the embedded
// offending-datagram data.
const ResponseSize = sizeIPv4Header + sizeHeader + errorDataSize

// RewriteEchoReply mutates buf (an IPv4 packet whose payload is an ICMP
// echo request) in place into the corresponding echo reply: source and
// destination addresses are swapped unconditionally, TTL is reset, and
// both checksums are recomputed. This matches the original router's
// modify_send_icmp with type=0,code=0, which swaps ip_src/ip_dst with
// no regard for which interface the packet arrived on.
func RewriteEchoReply(buf []byte, ttl uint8) error {
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		return err
	}
	src, dst := ifrm.SourceAddr(), ifrm.DestinationAddr()
	*src, *dst = *dst, *src
	ifrm.SetTTL(ttl)

	cfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return err
	}
	cfrm.SetType(TypeEchoReply)
	cfrm.SetCode(0)
	cfrm.SetCRC(0)
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(srouter.NeverZero(crc.Sum16()))

	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return nil
}

// embedOffendingDatagram copies up to errorDataSize bytes of orig (the
// datagram that triggered the error) into an error message's data
// field.
func embedOffendingDatagram(data []byte, orig []byte) {
	n := len(orig)
	if n > errorDataSize {
		n = errorDataSize
	}
	copy(data, orig[:n])
}

// BuildTimeExceeded writes a complete IPv4+ICMP time-exceeded message
// into dst (which must be at least ResponseSize bytes), reporting that
// orig (the original offending packet's IPv4 frame) expired its TTL
// while being forwarded. ip_src is the arrival interface's own address,
// grounded on the original router's modify_send_icmp special-casing
// type=11,code=0 to use the interface address rather than swapping
// addresses like every other ICMP message it emits.
func BuildTimeExceeded(dst []byte, orig ipv4.Frame, arrivalAddr [4]byte, ttl uint8) (ipv4.Frame, error) {
	return buildType3Or11(dst, orig, arrivalAddr, ttl, TypeTimeExceeded, uint8(CodeExceededInTransit))
}

// BuildDestinationUnreachable writes a complete IPv4+ICMP destination
// unreachable message into dst. For CodePortUnreachable, ip_src is the
// original packet's destination address (the router itself answering
// on behalf of the address it received the packet on). For
// CodeNetUnreachable and CodeHostUnreachable, ip_src is the arrival
// interface's address, since the router had no route and is speaking
// for itself rather than for the unreachable destination.
func BuildDestinationUnreachable(dst []byte, orig ipv4.Frame, arrivalAddr [4]byte, ttl uint8, code CodeDestinationUnreachable) (ipv4.Frame, error) {
	srcAddr := arrivalAddr
	if code == CodePortUnreachable {
		srcAddr = *orig.DestinationAddr()
	}
	return buildType3Or11(dst, orig, srcAddr, ttl, TypeDestinationUnreachable, uint8(code))
}

func buildType3Or11(dst []byte, orig ipv4.Frame, srcAddr [4]byte, ttl uint8, typ Type, code uint8) (ipv4.Frame, error) {
	if len(dst) < ResponseSize {
		return ipv4.Frame{}, srouter.ErrShortBuffer
	}
	for i := range dst[:ResponseSize] {
		dst[i] = 0
	}
	ifrm, err := ipv4.NewFrame(dst[:ResponseSize])
	if err != nil {
		return ipv4.Frame{}, err
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ipv4.ProtoICMP)
	ifrm.SetTotalLength(uint16(ResponseSize))
	*ifrm.SourceAddr() = srcAddr
	*ifrm.DestinationAddr() = *orig.SourceAddr()

	cfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		return ipv4.Frame{}, err
	}
	cfrm.SetType(typ)
	cfrm.SetCode(code)
	if typ == TypeDestinationUnreachable {
		FrameDestinationUnreachable{cfrm}.SetNextHopMTU(1500)
	}
	embedOffendingDatagram(cfrm.Rest()[4:], orig.RawData())
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(srouter.NeverZero(crc.Sum16()))

	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return ifrm, nil
}
