package tcp

import (
	"encoding/binary"
	"errors"

	srouter "github.com/IhsanE/Simple-Router"
)

const sizeHeader = 20

var errShort = errors.New("tcp: short frame")

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the fixed 20-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a TCP segment. See RFC 9293.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created with.
func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(frm.buf[0:2]) }
func (frm Frame) SetSourcePort(p uint16) {
	binary.BigEndian.PutUint16(frm.buf[0:2], p)
}

func (frm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }
func (frm Frame) SetDestinationPort(p uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], p)
}

func (frm Frame) Seq() uint32 { return binary.BigEndian.Uint32(frm.buf[4:8]) }
func (frm Frame) SetSeq(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[4:8], v)
}

func (frm Frame) Ack() uint32 { return binary.BigEndian.Uint32(frm.buf[8:12]) }
func (frm Frame) SetAck(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[8:12], v)
}

// OffsetAndFlags returns the data offset (in 32-bit words) and the flags
// field of the TCP header.
func (frm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(frm.buf[12:14])
	return uint8(v >> 12), Flags(v).Mask()
}

func (frm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(frm.buf[12:14], v)
}

// Flags returns just the flags field, ignoring the data offset.
func (frm Frame) Flags() Flags {
	_, flags := frm.OffsetAndFlags()
	return flags
}

// SetFlags sets the flags field, preserving the existing data offset.
func (frm Frame) SetFlags(flags Flags) {
	offset, _ := frm.OffsetAndFlags()
	frm.SetOffsetAndFlags(offset, flags)
}

// HeaderLength uses the offset field to compute the header length in
// bytes, including options. Performs no validation.
func (frm Frame) HeaderLength() int {
	offset, _ := frm.OffsetAndFlags()
	return 4 * int(offset)
}

func (frm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(frm.buf[14:16]) }
func (frm Frame) SetWindowSize(v uint16) {
	binary.BigEndian.PutUint16(frm.buf[14:16], v)
}

func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[16:18]) }
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.buf[16:18], crc)
}

func (frm Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(frm.buf[18:20]) }
func (frm Frame) SetUrgentPtr(up uint16) {
	binary.BigEndian.PutUint16(frm.buf[18:20], up)
}

// Options returns the TCP option buffer portion of the frame. May be
// zero length. Call ValidateSize first to avoid a panic.
func (frm Frame) Options() []byte { return frm.buf[sizeHeader:frm.HeaderLength()] }

// Payload returns the segment data following the header and any
// options. Call ValidateSize first to avoid a panic.
func (frm Frame) Payload() []byte { return frm.buf[frm.HeaderLength():] }

// ClearHeader zeros the fixed (non-option) header bytes.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:sizeHeader] {
		frm.buf[i] = 0
	}
}

// CRCWrite folds the TCP segment (header, options and payload) into
// crc. The pseudo-header must already have been folded in by the
// caller via ipv4.Frame.CRCWriteTCPPseudo. An odd trailing byte is
// padded with a zero low byte, so this must be the last span folded
// into crc.
func (frm Frame) CRCWrite(crc *srouter.CRC791) {
	saved := frm.CRC()
	frm.SetCRC(0)
	even := len(frm.buf) &^ 1
	crc.Write(frm.buf[:even])
	if even < len(frm.buf) {
		crc.AddUint16(uint16(frm.buf[even]) << 8)
	}
	frm.SetCRC(saved)
}

// ValidateSize checks the frame's declared header length against the
// actual buffer size.
func (frm Frame) ValidateSize(v *srouter.Validator) {
	off := frm.HeaderLength()
	if off < sizeHeader || off > len(frm.buf) {
		v.AddError(errShort)
	}
}
