package icmp

import (
	"encoding/binary"
	"errors"

	srouter "github.com/IhsanE/Simple-Router"
)

var errShort = errors.New("icmp: short frame")

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the fixed 8-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ICMPv4 message. See RFC 792.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created with.
func (frm Frame) RawData() []byte { return frm.buf }

// Type returns the message type field.
func (frm Frame) Type() Type { return Type(frm.buf[0]) }

// SetType sets the message type field.
func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

// Code returns the message code field.
func (frm Frame) Code() uint8 { return frm.buf[1] }

// SetCode sets the message code field.
func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetCRC sets the checksum field.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], crc) }

// CRCWrite folds the frame into crc, treating the checksum field as
// zero per RFC 792. An odd trailing byte is padded with a zero low
// byte, so this must be the last span folded into crc.
func (frm Frame) CRCWrite(crc *srouter.CRC791) {
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	rest := frm.buf[4:]
	even := len(rest) &^ 1
	crc.Write(rest[:even])
	if even < len(rest) {
		crc.AddUint16(uint16(rest[even]) << 8)
	}
}

// Rest returns everything following the first 4 header bytes: the
// type-specific "rest of header" plus any trailing data.
func (frm Frame) Rest() []byte { return frm.buf[4:] }

// FrameEcho views a Frame as an echo request/reply message.
type FrameEcho struct{ Frame }

func NewFrameEcho(buf []byte) (FrameEcho, error) {
	frm, err := NewFrame(buf)
	return FrameEcho{frm}, err
}

func (frm FrameEcho) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }
func (frm FrameEcho) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.buf[4:6], id)
}
func (frm FrameEcho) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }
func (frm FrameEcho) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], seq)
}
func (frm FrameEcho) Data() []byte { return frm.buf[8:] }

// FrameDestinationUnreachable views a Frame as a type-3 message: 2 bytes
// unused, a 2-byte next-hop MTU field, then up to errorDataSize bytes of
// the offending datagram.
type FrameDestinationUnreachable struct{ Frame }

func NewFrameDestinationUnreachable(buf []byte) (FrameDestinationUnreachable, error) {
	frm, err := NewFrame(buf)
	return FrameDestinationUnreachable{frm}, err
}

func (frm FrameDestinationUnreachable) Code() CodeDestinationUnreachable {
	return CodeDestinationUnreachable(frm.Frame.Code())
}
func (frm FrameDestinationUnreachable) SetCode(code CodeDestinationUnreachable) {
	frm.Frame.SetCode(uint8(code))
}
func (frm FrameDestinationUnreachable) SetNextHopMTU(mtu uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], mtu)
}
func (frm FrameDestinationUnreachable) Data() []byte { return frm.buf[8:] }

// FrameTimeExceeded views a Frame as a type-11 message: 4 bytes unused,
// then up to errorDataSize bytes of the offending datagram.
type FrameTimeExceeded struct{ Frame }

func NewFrameTimeExceeded(buf []byte) (FrameTimeExceeded, error) {
	frm, err := NewFrame(buf)
	return FrameTimeExceeded{frm}, err
}

func (frm FrameTimeExceeded) Code() CodeTimeExceeded { return CodeTimeExceeded(frm.Frame.Code()) }
func (frm FrameTimeExceeded) SetCode(code CodeTimeExceeded) {
	frm.Frame.SetCode(uint8(code))
}
func (frm FrameTimeExceeded) Data() []byte { return frm.buf[8:] }

// ValidateSize checks the frame's length against the fixed header size.
func (frm Frame) ValidateSize(v *srouter.Validator) {
	if len(frm.buf) < sizeHeader {
		v.AddError(errShort)
	}
}
