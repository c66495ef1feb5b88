package tcp

import (
	"testing"

	srouter "github.com/IhsanE/Simple-Router"
)

func TestFrameFields(t *testing.T) {
	buf := make([]byte, 24) // 20-byte header + 4 bytes options
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetSourcePort(1234)
	frm.SetDestinationPort(80)
	frm.SetSeq(1000)
	frm.SetAck(2000)
	frm.SetOffsetAndFlags(6, FlagSYN|FlagACK)
	frm.SetWindowSize(65535)
	frm.SetUrgentPtr(0)

	if frm.SourcePort() != 1234 || frm.DestinationPort() != 80 {
		t.Fatal("port mismatch")
	}
	if frm.Seq() != 1000 || frm.Ack() != 2000 {
		t.Fatal("seq/ack mismatch")
	}
	off, flags := frm.OffsetAndFlags()
	if off != 6 || flags != FlagSYN|FlagACK {
		t.Fatalf("got offset=%d flags=%v", off, flags)
	}
	if frm.HeaderLength() != 24 {
		t.Fatalf("want header length 24, got %d", frm.HeaderLength())
	}
	if len(frm.Options()) != 4 {
		t.Fatalf("want 4 bytes of options, got %d", len(frm.Options()))
	}
	if len(frm.Payload()) != 0 {
		t.Fatalf("want empty payload, got %d bytes", len(frm.Payload()))
	}
}

func TestFrameValidateSize(t *testing.T) {
	buf := make([]byte, 20)
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetOffsetAndFlags(10, FlagACK) // declares 40-byte header, buffer is only 20
	var v srouter.Validator
	frm.ValidateSize(&v)
	if !v.HasError() {
		t.Fatal("expected validation error for oversized header offset")
	}
}

func TestStateNext(t *testing.T) {
	s := StateClosed
	s, ok := s.Next(FlagSYN, true)
	if !ok || s != StateSynSent {
		t.Fatalf("want syn_sent, got %v (ok=%v)", s, ok)
	}
	s, ok = s.Next(FlagSYN, false)
	if !ok || s != StateSynRcvd {
		t.Fatalf("want syn_recv, got %v (ok=%v)", s, ok)
	}
	s, ok = s.Next(FlagACK, true)
	if !ok || s != StateEstablished {
		t.Fatalf("want established, got %v (ok=%v)", s, ok)
	}
	s, ok = s.Next(FlagFIN, true)
	if !ok || s != StateFinWait1 {
		t.Fatalf("want fin_wait1, got %v (ok=%v)", s, ok)
	}
}

func TestStateNextUnknownLeavesUnchanged(t *testing.T) {
	s := StateEstablished
	next, ok := s.Next(0, true)
	if ok || next != s {
		t.Fatalf("want unchanged state on empty flags, got %v (ok=%v)", next, ok)
	}
}
