package ethernet

import (
	"testing"

	srouter "github.com/IhsanE/Simple-Router"
)

func TestNewFrameShort(t *testing.T) {
	_, err := NewFrame(make([]byte, 13))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestFrameFields(t *testing.T) {
	buf := make([]byte, 64)
	efrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	dst := BroadcastAddr()
	efrm.SetSourceHardwareAddr(src)
	efrm.SetDestinationHardwareAddr(dst)
	efrm.SetEtherType(TypeARP)

	if *efrm.SourceHardwareAddr() != src {
		t.Fatal("source mismatch")
	}
	if !efrm.IsBroadcast() {
		t.Fatal("expected broadcast destination")
	}
	if efrm.EtherType() != TypeARP {
		t.Fatal("ethertype mismatch")
	}
	if len(efrm.Payload()) != len(buf)-sizeHeader {
		t.Fatal("unexpected payload length")
	}
}

func TestFrameValidateSize(t *testing.T) {
	var v srouter.Validator
	efrm := Frame{buf: make([]byte, 10)}
	efrm.ValidateSize(&v)
	if !v.HasError() {
		t.Fatal("expected error for undersized frame")
	}
}
