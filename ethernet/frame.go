package ethernet

import (
	"encoding/binary"
	"errors"

	srouter "github.com/IhsanE/Simple-Router"
)

var errShort = errors.New("ethernet: too short")

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the fixed 14-byte header.
//
// VLAN tagging (802.1Q) is not supported: the router operates on a TAP
// device's untagged frames only.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet II frame without the
// preamble: the first byte is the start of the destination address.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created with.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the fixed 14-byte header length.
func (efrm Frame) HeaderLength() int { return sizeHeader }

// Payload returns the data portion of the frame following the header.
func (efrm Frame) Payload() []byte { return efrm.buf[sizeHeader:] }

// DestinationHardwareAddr returns the destination MAC address field.
func (efrm Frame) DestinationHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[0:6])
}

// SourceHardwareAddr returns the source MAC address field.
func (efrm Frame) SourceHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[6:12])
}

// IsBroadcast reports whether the destination is ff:ff:ff:ff:ff:ff.
func (efrm Frame) IsBroadcast() bool {
	d := efrm.buf[0:6]
	return d[0] == 0xff && d[1] == 0xff && d[2] == 0xff && d[3] == 0xff && d[4] == 0xff && d[5] == 0xff
}

// EtherType returns the EtherType field of the frame.
func (efrm Frame) EtherType() Type {
	return Type(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the frame.
func (efrm Frame) SetEtherType(v Type) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// SetDestinationHardwareAddr sets the destination MAC address field.
func (efrm Frame) SetDestinationHardwareAddr(addr [6]byte) {
	copy(efrm.buf[0:6], addr[:])
}

// SetSourceHardwareAddr sets the source MAC address field.
func (efrm Frame) SetSourceHardwareAddr(addr [6]byte) {
	copy(efrm.buf[6:12], addr[:])
}

// ClearHeader zeros out the fixed header contents.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:sizeHeader] {
		efrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's length against the fixed header size.
func (efrm Frame) ValidateSize(v *srouter.Validator) {
	if len(efrm.buf) < sizeHeader {
		v.AddError(errShort)
	}
}
