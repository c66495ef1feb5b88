package pipeline

import (
	"sync"
	"testing"
	"time"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/arp"
	"github.com/IhsanE/Simple-Router/ethernet"
	"github.com/IhsanE/Simple-Router/icmp"
	"github.com/IhsanE/Simple-Router/ipv4"
	"github.com/IhsanE/Simple-Router/nat"
	"github.com/IhsanE/Simple-Router/routing"
	"github.com/IhsanE/Simple-Router/tcp"
)

type sentFrame struct {
	frame []byte
	iface string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentFrame
}

func (f *fakeSender) Send(frame []byte, iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{frame: append([]byte(nil), frame...), iface: iface})
	return nil
}

func (f *fakeSender) last() sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var (
	internalMAC = [6]byte{0x02, 0, 0, 0, 0, 1}
	externalMAC = [6]byte{0x02, 0, 0, 0, 0, 2}
	internalIP  = [4]byte{10, 0, 0, 1}
	externalIP  = [4]byte{203, 0, 113, 1}
	hostIP      = [4]byte{10, 0, 0, 5}
	hostMAC     = [6]byte{0x02, 0, 0, 0, 0, 3}
	remoteIP    = [4]byte{93, 184, 216, 34}
)

func newTestRouter(t *testing.T, natEnabled bool) (*Router, *fakeSender, *fakeClock) {
	t.Helper()
	sender := &fakeSender{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := srouter.Config{
		NATEnabled: natEnabled,
		Interfaces: []srouter.Interface{
			{Name: "eth0", Addr: internalIP, MAC: internalMAC, Role: srouter.RoleInternal},
			{Name: "eth1", Addr: externalIP, MAC: externalMAC, Role: srouter.RoleExternal},
		},
	}
	routes := routing.NewTable([]routing.Route{
		{Dest: [4]byte{10, 0, 0, 0}, Mask: [4]byte{255, 255, 255, 0}, Iface: "eth0"},
		{Dest: [4]byte{0, 0, 0, 0}, Mask: [4]byte{0, 0, 0, 0}, Iface: "eth1"},
	})
	r := NewRouter(cfg, routes, nat.Config{}, sender, clock, nil, nil)
	return r, sender, clock
}

func buildEthernet(t *testing.T, payload []byte, etherType ethernet.Type, src, dst [6]byte) []byte {
	t.Helper()
	buf := make([]byte, ethernetHeaderLength+len(payload))
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	efrm.SetEtherType(etherType)
	efrm.SetSourceHardwareAddr(src)
	efrm.SetDestinationHardwareAddr(dst)
	copy(efrm.Payload(), payload)
	return buf
}

func buildARPRequest(t *testing.T, senderHW [6]byte, senderProto [4]byte, targetProto [4]byte) []byte {
	t.Helper()
	buf := make([]byte, 28)
	afrm, err := arp.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	afrm.ClearHeader()
	afrm.SetIPv4Defaults()
	afrm.SetOperation(arp.OpRequest)
	hw, proto := afrm.Sender4()
	*hw, *proto = senderHW, senderProto
	hw, proto = afrm.Target4()
	*hw, *proto = [6]byte{}, targetProto
	return buildEthernet(t, buf, ethernet.TypeARP, senderHW, ethernet.BroadcastAddr())
}

func buildARPReply(t *testing.T, senderHW [6]byte, senderProto [4]byte, targetHW [6]byte, targetProto [4]byte) []byte {
	t.Helper()
	buf := make([]byte, 28)
	afrm, err := arp.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	afrm.ClearHeader()
	afrm.SetIPv4Defaults()
	afrm.SetOperation(arp.OpReply)
	hw, proto := afrm.Sender4()
	*hw, *proto = senderHW, senderProto
	hw, proto = afrm.Target4()
	*hw, *proto = targetHW, targetProto
	return buildEthernet(t, buf, ethernet.TypeARP, senderHW, targetHW)
}

func buildIPv4ICMPEcho(t *testing.T, src, dst [4]byte, ttl uint8, id uint16) []byte {
	t.Helper()
	buf := make([]byte, 20+8+4)
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ipv4.ProtoICMP)
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst

	cfrm, err := icmp.NewFrameEcho(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	cfrm.SetType(icmp.TypeEcho)
	cfrm.SetCode(0)
	cfrm.SetIdentifier(id)
	cfrm.SetSequenceNumber(1)
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func buildIPv4TCP(t *testing.T, src, dst [4]byte, ttl uint8, srcPort, dstPort uint16, flags tcp.Flags) []byte {
	t.Helper()
	buf := make([]byte, 20+20)
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ipv4.ProtoTCP)
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetOffsetAndFlags(5, flags)
	var crc srouter.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func TestHandleFrameARPRequestRepliesWhenTargetIsUs(t *testing.T) {
	r, sender, _ := newTestRouter(t, false)
	req := buildARPRequest(t, hostMAC, hostIP, internalIP)

	if err := r.HandleFrame(req, "eth0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one reply sent, got %d", sender.count())
	}
	reply := sender.last()
	efrm, err := ethernet.NewFrame(reply.frame)
	if err != nil {
		t.Fatal(err)
	}
	if efrm.EtherType() != ethernet.TypeARP {
		t.Fatal("expected an ARP reply frame")
	}
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if afrm.Operation() != arp.OpReply {
		t.Fatal("expected operation = reply")
	}
	hw, proto := afrm.Sender4()
	if *hw != internalMAC || *proto != internalIP {
		t.Fatal("expected reply to answer on behalf of our own interface")
	}
}

func TestHandleFrameICMPEchoQueuesThenResolvesViaARP(t *testing.T) {
	r, sender, _ := newTestRouter(t, false)
	echo := buildIPv4ICMPEcho(t, hostIP, internalIP, 64, 7)
	frame := buildEthernet(t, echo, ethernet.TypeIPv4, hostMAC, internalMAC)

	if err := r.HandleFrame(frame, "eth0"); err != ErrArpUnresolvable {
		t.Fatalf("expected ErrArpUnresolvable pending ARP resolution, got %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one ARP request sent while resolving, got %d", sender.count())
	}

	reply := buildARPReply(t, hostMAC, hostIP, internalMAC, internalIP)
	if err := r.HandleFrame(reply, "eth0"); err != nil {
		t.Fatalf("unexpected error handling ARP reply: %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected the queued echo reply to flush after ARP resolved, got %d sends", sender.count())
	}

	final := sender.last()
	efrm, _ := ethernet.NewFrame(final.frame)
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if *ifrm.SourceAddr() != internalIP || *ifrm.DestinationAddr() != hostIP {
		t.Fatal("expected echo reply addressed back to the original host")
	}
	cfrm, _ := icmp.NewFrame(ifrm.Payload())
	if cfrm.Type() != icmp.TypeEchoReply {
		t.Fatal("expected an echo reply message")
	}
}

func TestForwardNoNATTTLExpiredEmitsTimeExceeded(t *testing.T) {
	r, sender, _ := newTestRouter(t, false)
	echo := buildIPv4ICMPEcho(t, hostIP, remoteIP, 1, 9)
	frame := buildEthernet(t, echo, ethernet.TypeIPv4, hostMAC, internalMAC)

	err := r.HandleFrame(frame, "eth0")
	if err != ErrTTLExpired {
		t.Fatalf("expected ErrTTLExpired, got %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected the time-exceeded reply queued for ARP, got %d sends", sender.count())
	}
}

func TestNATICMPEgressThenReplyRoundTrip(t *testing.T) {
	r, sender, _ := newTestRouter(t, true)

	egress := buildIPv4ICMPEcho(t, hostIP, remoteIP, 64, 55)
	egressFrame := buildEthernet(t, egress, ethernet.TypeIPv4, hostMAC, internalMAC)
	if err := r.HandleFrame(egressFrame, "eth0"); err != ErrArpUnresolvable {
		t.Fatalf("expected the translated echo request queued pending ARP, got %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one ARP request for the egress next hop, got %d", sender.count())
	}

	mapping, ok := r.nat.LookupInternal(hostIP, 55, nat.TypeICMP)
	if !ok {
		t.Fatal("expected insert_or_touch to have created a mapping on egress")
	}

	reply := buildIPv4ICMPEcho(t, remoteIP, externalIP, 64, mapping.AuxExt)
	ifrm, _ := ipv4.NewFrame(reply)
	cfrm, _ := icmp.NewFrame(ifrm.Payload())
	cfrm.SetType(icmp.TypeEchoReply)
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	replyFrame := buildEthernet(t, reply, ethernet.TypeIPv4, hostMAC, externalMAC)
	if err := r.HandleFrame(replyFrame, "eth1"); err != ErrArpUnresolvable {
		t.Fatalf("expected the translated reply queued pending ARP toward the internal host, got %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected a second ARP request for the internal next hop, got %d", sender.count())
	}
}

func TestUnsolicitedSYNParksThenExpiresToPortUnreachable(t *testing.T) {
	r, sender, clock := newTestRouter(t, true)

	buf := make([]byte, 20+20)
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetTTL(64)
	ifrm.SetProtocol(ipv4.ProtoTCP)
	*ifrm.SourceAddr() = remoteIP
	*ifrm.DestinationAddr() = externalIP

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	tfrm.SetSourcePort(54321)
	tfrm.SetDestinationPort(5000)
	tfrm.SetOffsetAndFlags(5, tcp.FlagSYN)
	var crc srouter.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	frame := buildEthernet(t, buf, ethernet.TypeIPv4, hostMAC, externalMAC)
	if err := r.HandleFrame(frame, "eth1"); err != ErrUnsolicitedSyn {
		t.Fatalf("expected ErrUnsolicitedSyn, got %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected nothing transmitted while parked, got %d", sender.count())
	}

	clock.Advance(7 * time.Second)
	expired := r.nat.Tick()
	if len(expired) != 1 {
		t.Fatalf("expected the parked SYN to expire, got %d", len(expired))
	}
	r.emitPortUnreachableForPending(expired[0])
	if sender.count() != 1 {
		t.Fatalf("expected a port-unreachable reply queued for ARP, got %d", sender.count())
	}
}

// TestNATTCPHandshakeReachesEstablished drives a full three-way
// handshake through forwardNATTCP and localDeliverNATTCP together: an
// internal SYN creates the mapping and connection in syn_sent, the
// external SYN-ACK advances it to syn_recv, and the internal ACK
// completing the handshake advances it to established.
func TestNATTCPHandshakeReachesEstablished(t *testing.T) {
	r, sender, _ := newTestRouter(t, true)
	const internalPort uint16 = 40000
	const remotePort uint16 = 80

	syn := buildIPv4TCP(t, hostIP, remoteIP, 64, internalPort, remotePort, tcp.FlagSYN)
	synFrame := buildEthernet(t, syn, ethernet.TypeIPv4, hostMAC, internalMAC)
	if err := r.HandleFrame(synFrame, "eth0"); err != ErrArpUnresolvable {
		t.Fatalf("expected the egress SYN queued pending ARP, got %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one ARP request for the egress next hop, got %d", sender.count())
	}

	mapping, ok := r.nat.LookupInternal(hostIP, internalPort, nat.TypeTCP)
	if !ok {
		t.Fatal("expected the SYN to have created a NAT mapping")
	}
	key := mapping.Key()
	conn, found := r.nat.GetConnection(key, remoteIP, remotePort)
	if !found || conn.State != tcp.StateSynSent {
		t.Fatalf("expected connection state syn_sent after the SYN, got found=%v state=%v", found, conn.State)
	}

	synAck := buildIPv4TCP(t, remoteIP, externalIP, 64, remotePort, mapping.AuxExt, tcp.FlagSYN|tcp.FlagACK)
	synAckFrame := buildEthernet(t, synAck, ethernet.TypeIPv4, hostMAC, externalMAC)
	if err := r.HandleFrame(synAckFrame, "eth1"); err != ErrArpUnresolvable {
		t.Fatalf("expected the translated SYN-ACK queued pending ARP toward the internal host, got %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected a second ARP request for the internal next hop, got %d", sender.count())
	}

	conn, found = r.nat.GetConnection(key, remoteIP, remotePort)
	if !found || conn.State != tcp.StateSynRcvd {
		t.Fatalf("expected connection state syn_recv after the SYN-ACK, got found=%v state=%v", found, conn.State)
	}

	ack := buildIPv4TCP(t, hostIP, remoteIP, 64, internalPort, remotePort, tcp.FlagACK)
	ackFrame := buildEthernet(t, ack, ethernet.TypeIPv4, hostMAC, internalMAC)
	if err := r.HandleFrame(ackFrame, "eth0"); err != ErrArpUnresolvable {
		t.Fatalf("expected the closing ACK queued against the still-pending egress ARP resolution, got %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected no additional ARP request (already in flight for the remote), got %d", sender.count())
	}

	conn, found = r.nat.GetConnection(key, remoteIP, remotePort)
	if !found || conn.State != tcp.StateEstablished {
		t.Fatalf("expected connection state established after the handshake ACK, got found=%v state=%v", found, conn.State)
	}
}
