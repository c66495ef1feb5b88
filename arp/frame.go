package arp

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/ethernet"
)

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the fixed 28-byte IPv4-over-Ethernet ARP packet size.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{}, errShortARP
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet restricted to IPv4
// addresses resolved over 6-byte (Ethernet) hardware addresses. See
// RFC 826.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created with.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the hardware type and address length fields.
func (afrm Frame) Hardware() (typ uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the hardware type and address length fields.
func (afrm Frame) SetHardware(typ uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], typ)
	afrm.buf[4] = length
}

// Protocol returns the protocol type and address length fields.
func (afrm Frame) Protocol() (typ ethernet.Type, length uint8) {
	return ethernet.Type(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the protocol type and address length fields.
func (afrm Frame) SetProtocol(typ ethernet.Type, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(typ))
	afrm.buf[5] = length
}

// Operation returns the ARP operation field.
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP operation field.
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender4 returns pointers to the sender hardware and IPv4 protocol
// address fields.
func (afrm Frame) Sender4() (hw *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns pointers to the target hardware and IPv4 protocol
// address fields.
func (afrm Frame) Target4() (hw *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// ClearHeader zeros out the fixed header contents.
func (afrm Frame) ClearHeader() {
	for i := range afrm.buf[:sizeHeaderv4] {
		afrm.buf[i] = 0
	}
}

// SetIPv4Defaults writes the hardware type (Ethernet), protocol type
// (IPv4), and address length fields common to every ARP packet this
// router emits.
func (afrm Frame) SetIPv4Defaults() {
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
}

// ValidateSize checks the frame's length against the fixed IPv4 ARP
// packet size.
func (afrm Frame) ValidateSize(v *srouter.Validator) {
	if len(afrm.buf) < sizeHeaderv4 {
		v.AddError(errShortARP)
	}
}

func (afrm Frame) String() string {
	hwt, _ := afrm.Hardware()
	ptt, _ := afrm.Protocol()
	sndhw, sndpt := afrm.Sender4()
	tgthw, tgtpt := afrm.Target4()
	sender := netip.AddrFrom4(*sndpt)
	target := netip.AddrFrom4(*tgtpt)
	return fmt.Sprintf("ARP %s HW=(%d,SENDER=%s,TARGET=%s) PROTO=(%s,SENDER=%s,TARGET=%s)",
		afrm.Operation(), hwt, net.HardwareAddr(sndhw[:]), net.HardwareAddr(tgthw[:]),
		ptt, sender, target)
}
