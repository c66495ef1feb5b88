// Package pipeline implements the router's packet dispatch: the
// per-frame decision tree that ties together the Ethernet/ARP/IPv4
// codecs, the ARP cache, the routing table, the ICMP responder, and
// (optionally) the NAT table into one forwarding core.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/arp"
	"github.com/IhsanE/Simple-Router/ethernet"
	"github.com/IhsanE/Simple-Router/icmp"
	"github.com/IhsanE/Simple-Router/internal"
	"github.com/IhsanE/Simple-Router/ipv4"
	"github.com/IhsanE/Simple-Router/nat"
	"github.com/IhsanE/Simple-Router/routing"
	"github.com/IhsanE/Simple-Router/tcp"
	"github.com/prometheus/client_golang/prometheus"
)

// defaultTTL is the TTL stamped on every packet the router originates
// itself (ICMP error replies), per spec's "Default IP TTL of emitted
// packets = 64".
const defaultTTL = 64

const portSSH = 22
const portEphemeralLow = 1024

// sshPort22 is only a name for the literal above to keep call sites
// readable; TCP port 22 always answers Port Unreachable regardless of
// SYN/ACK state, per spec §4.7 step 5.
const sshPort22 = portSSH

// ethernetHeaderLength mirrors ethernet's unexported sizeHeader: the
// fixed 14-byte Ethernet II header length, needed here to size buffers
// before a Frame exists to measure it.
const ethernetHeaderLength = 14

// Router ties the router's tables together and implements the
// per-frame dispatch of spec §4.7, grounded on
// soypat/lneto/internet.StackIP.Demux's validate-classify-dispatch
// shape and on the original sr_router.c's sr_handlepacket branch
// structure.
type Router struct {
	ifaces    map[string]srouter.Interface
	arpCaches map[string]*arp.Cache
	routes    *routing.Table

	natEnabled    bool
	nat           *nat.Table
	internalIface string
	externalIface string

	sender  srouter.Sender
	clock   srouter.Clock
	metrics *metrics
	logger
}

// NewRouter constructs a Router from cfg. reg may be nil to skip
// metrics registration (used by tests).
func NewRouter(cfg srouter.Config, routes *routing.Table, natCfg nat.Config, sender srouter.Sender, clock srouter.Clock, log *slog.Logger, reg prometheus.Registerer) *Router {
	if clock == nil {
		clock = srouter.SystemClock{}
	}
	r := &Router{
		ifaces:    make(map[string]srouter.Interface, len(cfg.Interfaces)),
		arpCaches: make(map[string]*arp.Cache, len(cfg.Interfaces)),
		routes:    routes,
		natEnabled: cfg.NATEnabled,
		sender:    sender,
		clock:     clock,
		metrics:   newMetrics(reg),
		logger:    logger{log: log},
	}
	var externalIP [4]byte
	for _, iface := range cfg.Interfaces {
		r.ifaces[iface.Name] = iface
		r.arpCaches[iface.Name] = arp.NewCache(iface.MAC, iface.Addr, clock, log)
		switch iface.Role {
		case srouter.RoleInternal:
			r.internalIface = iface.Name
		case srouter.RoleExternal:
			r.externalIface = iface.Name
			externalIP = iface.Addr
		}
	}
	if cfg.NATEnabled {
		r.nat = nat.NewTable(externalIP, natCfg, clock, log)
	}
	return r
}

// Run starts the ARP and NAT timeout drivers (1 Hz each) and blocks
// until ctx is cancelled or either driver fails, per spec §5's
// three-thread-class concurrency model. Ingress dispatch is driven by
// the caller invoking HandleFrame per received frame, not by Run.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runARPTimeoutDriver(ctx) })
	if r.natEnabled {
		g.Go(func() error { return r.runNATTimeoutDriver(ctx) })
	}
	return g.Wait()
}

func (r *Router) runARPTimeoutDriver(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for name, cache := range r.arpCaches {
				retries, abandoned := cache.Tick()
				for _, req := range retries {
					r.sendARPRequest(name, req.Proto)
				}
				for _, pkt := range abandoned {
					r.emitHostUnreachable(pkt)
				}
			}
		}
	}
}

func (r *Router) runNATTimeoutDriver(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired := r.nat.Tick()
			for _, p := range expired {
				r.emitPortUnreachableForPending(p)
			}
		}
	}
}

// HandleFrame processes one received Ethernet frame arriving on in.
// The side-effecting response has already happened by the time
// HandleFrame returns; the error is for observability/tests only.
func (r *Router) HandleFrame(frame []byte, in string) error {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		r.drop("short-ethernet-frame")
		return ErrParseFailure
	}
	switch efrm.EtherType() {
	case ethernet.TypeARP:
		r.metrics.framesHandled.WithLabelValues("arp").Inc()
		return r.handleARP(efrm, in)
	case ethernet.TypeIPv4:
		r.metrics.framesHandled.WithLabelValues("ipv4").Inc()
		return r.handleIPv4(efrm, in)
	default:
		r.drop("unknown-ethertype")
		return ErrParseFailure
	}
}

func (r *Router) drop(reason string) {
	r.metrics.framesDropped.WithLabelValues(reason).Inc()
	r.trace("pipeline:drop", slog.String("reason", reason))
}

// ---- ARP path ----

func (r *Router) handleARP(efrm ethernet.Frame, in string) error {
	cache := r.arpCaches[in]
	iface := r.ifaces[in]
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		r.drop("short-arp-frame")
		return ErrParseFailure
	}
	var v srouter.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		r.drop("bad-arp-frame")
		return ErrParseFailure
	}

	senderHW, senderProto := afrm.Sender4()
	switch afrm.Operation() {
	case arp.OpRequest:
		flushed := cache.Resolve(*senderProto, *senderHW)
		for _, pkt := range flushed {
			r.finalizeAndSend(pkt, *senderHW)
		}
		_, targetProto := afrm.Target4()
		if *targetProto != iface.Addr {
			return nil
		}
		buf := make([]byte, ethernetHeaderLength+28)
		reply, err := r.buildARPReply(buf, in, afrm)
		if err != nil {
			return err
		}
		return r.sender.Send(reply, in)

	case arp.OpReply:
		_, targetProto := afrm.Target4()
		if *targetProto != iface.Addr {
			return nil
		}
		flushed := cache.Resolve(*senderProto, *senderHW)
		for _, pkt := range flushed {
			r.finalizeAndSend(pkt, *senderHW)
		}
		return nil
	default:
		r.drop("unknown-arp-op")
		return ErrParseFailure
	}
}

func (r *Router) buildARPReply(buf []byte, iface string, req arp.Frame) ([]byte, error) {
	cache := r.arpCaches[iface]
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		return nil, err
	}
	if _, err := cache.BuildReply(efrm.Payload(), req); err != nil {
		return nil, err
	}
	reqHW, _ := req.Sender4()
	efrm.SetDestinationHardwareAddr(*reqHW)
	efrm.SetSourceHardwareAddr(r.ifaces[iface].MAC)
	efrm.SetEtherType(ethernet.TypeARP)
	return buf, nil
}

// finalizeAndSend addresses a queued frame to dstMAC and transmits it.
// TTL and checksum were already finalized by routeAndSend before the
// frame was queued; resolving the address does not forward it again.
func (r *Router) finalizeAndSend(pkt arp.PendingPacket, dstMAC [6]byte) {
	efrm, err := ethernet.NewFrame(pkt.Frame)
	if err != nil {
		return
	}
	efrm.SetDestinationHardwareAddr(dstMAC)
	efrm.SetSourceHardwareAddr(r.ifaces[pkt.Iface].MAC)
	r.sender.Send(pkt.Frame, pkt.Iface)
}

func (r *Router) sendARPRequest(iface string, target [4]byte) {
	cache := r.arpCaches[iface]
	buf := make([]byte, ethernetHeaderLength+28)
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		return
	}
	_, err = cache.BuildRequest(efrm.Payload(), target)
	if err != nil {
		return
	}
	efrm.SetDestinationHardwareAddr(ethernet.BroadcastAddr())
	efrm.SetSourceHardwareAddr(r.ifaces[iface].MAC)
	efrm.SetEtherType(ethernet.TypeARP)
	r.sender.Send(buf, iface)
}

func (r *Router) emitHostUnreachable(pkt arp.PendingPacket) {
	efrm, err := ethernet.NewFrame(pkt.Frame)
	if err != nil {
		return
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return
	}
	r.emitICMPError(ifrm, pkt.Iface, icmp.CodeHostUnreachable)
}

// ---- IPv4 path ----

func (r *Router) handleIPv4(efrm ethernet.Frame, in string) error {
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		r.drop("short-ipv4-frame")
		return ErrParseFailure
	}
	var v srouter.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		r.drop("bad-ipv4-frame")
		return ErrParseFailure
	}
	if ifrm.CRC() != ifrm.CalculateHeaderCRC() {
		r.drop("bad-ipv4-checksum")
		return ErrBadChecksum
	}

	dst := *ifrm.DestinationAddr()
	local := r.isOurAddr(dst)

	switch {
	case local && r.natEnabled && in == r.externalIface:
		return r.localDeliverNAT(ifrm, in)
	case local:
		return r.localDeliverDirect(ifrm, in)
	case r.natEnabled && in == r.internalIface:
		return r.forwardNAT(ifrm, in)
	default:
		return r.forwardNoNAT(ifrm, in)
	}
}

func (r *Router) isOurAddr(addr [4]byte) bool {
	for _, iface := range r.ifaces {
		if iface.Addr == addr {
			return true
		}
	}
	return false
}

// localDeliverDirect handles step 4: NAT disabled, or the packet
// arrived on the internal side addressed to the router itself.
func (r *Router) localDeliverDirect(ifrm ipv4.Frame, in string) error {
	if ifrm.Protocol() != ipv4.ProtoICMP {
		return r.emitPortUnreachable(ifrm, in)
	}
	cfrm, err := icmp.NewFrame(ifrm.Payload())
	if err != nil {
		r.drop("short-icmp-frame")
		return ErrParseFailure
	}
	if !verifyICMPChecksum(cfrm) {
		r.drop("bad-icmp-checksum")
		return ErrBadChecksum
	}
	if cfrm.Type() != icmp.TypeEcho {
		r.drop("unhandled-icmp-type")
		return nil
	}
	if err := icmp.RewriteEchoReply(ifrm.RawData(), defaultTTL); err != nil {
		return ErrParseFailure
	}
	r.metrics.icmpEmitted.WithLabelValues("echo-reply").Inc()
	return r.routeAndSend(ifrm, in, false)
}

// localDeliverNAT handles step 5: NAT enabled, packet arrived on the
// external interface addressed to the router.
func (r *Router) localDeliverNAT(ifrm ipv4.Frame, in string) error {
	if ifrm.TTL() <= 1 {
		r.emitICMPError(ifrm, in, icmp.CodeExceededInTransit)
		return ErrTTLExpired
	}
	switch ifrm.Protocol() {
	case ipv4.ProtoICMP:
		return r.localDeliverNATICMP(ifrm, in)
	case ipv4.ProtoTCP:
		return r.localDeliverNATTCP(ifrm, in)
	default:
		return r.emitPortUnreachable(ifrm, in)
	}
}

func (r *Router) localDeliverNATICMP(ifrm ipv4.Frame, in string) error {
	cfrm, err := icmp.NewFrame(ifrm.Payload())
	if err != nil {
		r.drop("short-icmp-frame")
		return ErrParseFailure
	}
	efrm := icmp.FrameEcho{Frame: cfrm}
	mapping, ok := r.nat.LookupExternal(efrm.Identifier(), nat.TypeICMP)
	if !ok {
		return r.emitPortUnreachable(ifrm, in)
	}
	efrm.SetIdentifier(mapping.AuxInt)
	*ifrm.DestinationAddr() = mapping.IPInt
	recomputeICMPChecksum(cfrm)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return r.routeAndSend(ifrm, in, true)
}

func (r *Router) localDeliverNATTCP(ifrm ipv4.Frame, in string) error {
	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		r.drop("short-tcp-frame")
		return ErrParseFailure
	}
	dstPort := tfrm.DestinationPort()
	srcAddr := *ifrm.SourceAddr()
	srcPort := tfrm.SourcePort()
	flags := tfrm.Flags()

	mapping, ok := r.nat.LookupExternal(dstPort, nat.TypeTCP)
	if !ok {
		return r.handleUnsolicitedTCP(ifrm, in, dstPort, flags)
	}

	key := mapping.Key()
	conn, found := r.nat.GetConnection(key, srcAddr, srcPort)
	if !found {
		r.nat.InsertConnection(key, srcAddr, srcPort)
	} else {
		// Next returns the unchanged state when no transition fires; the
		// update then only refreshes the connection's last-used time.
		next, _ := conn.State.Next(flags, false)
		r.nat.UpdateConnectionState(key, srcAddr, srcPort, conn.State, next)
	}

	tfrm.SetDestinationPort(mapping.AuxInt)
	*ifrm.DestinationAddr() = mapping.IPInt
	recomputeTCPChecksum(ifrm, tfrm)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return r.routeAndSend(ifrm, in, true)
}

// handleUnsolicitedTCP handles the NAT-miss branch of step 5: a
// SYN-only segment to an unmapped ephemeral port parks for 6s; port 22
// and anything else is answered with Port Unreachable immediately.
func (r *Router) handleUnsolicitedTCP(ifrm ipv4.Frame, in string, dstPort uint16, flags tcp.Flags) error {
	isBareSYN := flags.Mask() == tcp.FlagSYN
	if dstPort != sshPort22 && isBareSYN && dstPort >= portEphemeralLow {
		frameCopy := append([]byte(nil), ifrm.RawData()...)
		r.nat.ParkUnsolicited(*ifrm.SourceAddr(), dstPort, frameCopy, in)
		return ErrUnsolicitedSyn
	}
	return r.emitPortUnreachable(ifrm, in)
}

// emitPortUnreachableForPending answers a pending-unsolicited entry
// that expired without resolution.
func (r *Router) emitPortUnreachableForPending(p nat.PendingUnsolicited) {
	ifrm, err := ipv4.NewFrame(p.Frame)
	if err != nil {
		return
	}
	r.emitICMPError(ifrm, p.Iface, icmp.CodePortUnreachable)
}

func (r *Router) emitPortUnreachable(ifrm ipv4.Frame, in string) error {
	r.emitICMPError(ifrm, in, icmp.CodePortUnreachable)
	return ErrUnreachablePort
}

// ---- Forward path ----

// forwardNoNAT handles step 6: forwarding with NAT disabled.
func (r *Router) forwardNoNAT(ifrm ipv4.Frame, in string) error {
	if ifrm.TTL() <= 1 {
		r.emitICMPError(ifrm, in, icmp.CodeExceededInTransit)
		return ErrTTLExpired
	}
	return r.routeAndSend(ifrm, in, true)
}

// forwardNAT handles step 7: forwarding with NAT enabled, egress from
// the internal interface.
func (r *Router) forwardNAT(ifrm ipv4.Frame, in string) error {
	if ifrm.TTL() <= 1 {
		r.emitICMPError(ifrm, in, icmp.CodeExceededInTransit)
		return ErrTTLExpired
	}
	if _, ok := r.routes.Lookup(*ifrm.DestinationAddr()); !ok {
		r.emitICMPError(ifrm, in, icmp.CodeNetUnreachable)
		return ErrNoRoute
	}

	switch ifrm.Protocol() {
	case ipv4.ProtoICMP:
		if err := r.forwardNATICMP(ifrm); err != nil {
			return err
		}
	case ipv4.ProtoTCP:
		if err := r.forwardNATTCP(ifrm); err != nil {
			return err
		}
	}
	return r.routeAndSend(ifrm, in, true)
}

func (r *Router) forwardNATICMP(ifrm ipv4.Frame) error {
	cfrm, err := icmp.NewFrame(ifrm.Payload())
	if err != nil {
		r.drop("short-icmp-frame")
		return ErrParseFailure
	}
	if cfrm.Type() != icmp.TypeEcho {
		return nil
	}
	efrm := icmp.FrameEcho{Frame: cfrm}
	mapping := r.nat.InsertOrTouch(*ifrm.SourceAddr(), efrm.Identifier(), nat.TypeICMP)
	efrm.SetIdentifier(mapping.AuxExt)
	*ifrm.SourceAddr() = mapping.IPExt
	recomputeICMPChecksum(cfrm)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return nil
}

func (r *Router) forwardNATTCP(ifrm ipv4.Frame) error {
	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		r.drop("short-tcp-frame")
		return ErrParseFailure
	}
	srcPort := tfrm.SourcePort()
	dstAddr := *ifrm.DestinationAddr()
	dstPort := tfrm.DestinationPort()
	flags := tfrm.Flags()

	mapping := r.nat.InsertOrTouch(*ifrm.SourceAddr(), srcPort, nat.TypeTCP)
	key := mapping.Key()

	conn, found := r.nat.GetConnection(key, dstAddr, dstPort)
	if !found {
		r.nat.ResolveOrDropPending(dstAddr, mapping.AuxExt)
		r.nat.InsertConnection(key, dstAddr, dstPort)
	} else if flags.Mask() == 0 && !conn.State.IsEstablished() {
		r.drop("nat-tcp-zero-flags-not-established")
		return ErrParseFailure
	} else {
		next, _ := conn.State.Next(flags, true)
		r.nat.UpdateConnectionState(key, dstAddr, dstPort, conn.State, next)
	}

	tfrm.SetSourcePort(mapping.AuxExt)
	*ifrm.SourceAddr() = mapping.IPExt
	recomputeTCPChecksum(ifrm, tfrm)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return nil
}

// routeAndSend performs LPM on ifrm's destination, resolves the
// next-hop hardware address via the outgoing interface's ARP cache
// (queueing on miss), and transmits. If decrementTTL is false, ifrm is
// assumed freshly built by this router (an ICMP reply/error) and
// already carries the correct TTL.
func (r *Router) routeAndSend(ifrm ipv4.Frame, arrivalIface string, decrementTTL bool) error {
	dst := *ifrm.DestinationAddr()
	route, ok := r.routes.Lookup(dst)
	if !ok {
		r.emitICMPError(ifrm, arrivalIface, icmp.CodeNetUnreachable)
		return ErrNoRoute
	}
	if decrementTTL {
		ifrm.SetTTL(ifrm.TTL() - 1)
	}
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	nextHop := route.NextHop
	if nextHop == ([4]byte{}) {
		nextHop = dst
	}

	buf := make([]byte, ethernetHeaderLength+len(ifrm.RawData()))
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		return ErrParseFailure
	}
	copy(efrm.Payload(), ifrm.RawData())
	efrm.SetEtherType(ethernet.TypeIPv4)
	efrm.SetSourceHardwareAddr(r.ifaces[route.Iface].MAC)

	cache := r.arpCaches[route.Iface]
	hw, ok := cache.Lookup(nextHop)
	if ok {
		efrm.SetDestinationHardwareAddr(hw)
		return r.sender.Send(buf, route.Iface)
	}
	sendReq := cache.Queue(nextHop, arp.PendingPacket{Frame: buf, Iface: route.Iface})
	if sendReq {
		r.sendARPRequest(route.Iface, nextHop)
	}
	return ErrArpUnresolvable
}

// emitICMPError builds and routes an ICMP error referencing orig.
func (r *Router) emitICMPError(orig ipv4.Frame, arrivalIface string, code any) {
	arrivalAddr := r.ifaces[arrivalIface].Addr
	dst := make([]byte, icmp.ResponseSize)
	var resp ipv4.Frame
	var err error
	var kind string
	switch c := code.(type) {
	case icmp.CodeDestinationUnreachable:
		resp, err = icmp.BuildDestinationUnreachable(dst, orig, arrivalAddr, defaultTTL, c)
		kind = "destination-unreachable"
	case icmp.CodeTimeExceeded:
		resp, err = icmp.BuildTimeExceeded(dst, orig, arrivalAddr, defaultTTL)
		kind = "time-exceeded"
	default:
		return
	}
	if err != nil {
		r.error("pipeline:emitICMPError", slog.String("err", err.Error()))
		return
	}
	r.metrics.icmpEmitted.WithLabelValues(kind).Inc()
	r.routeAndSend(resp, arrivalIface, false)
}

func verifyICMPChecksum(cfrm icmp.Frame) bool {
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	return srouter.NeverZero(crc.Sum16()) == srouter.NeverZero(cfrm.CRC())
}

func recomputeICMPChecksum(cfrm icmp.Frame) {
	cfrm.SetCRC(0)
	var crc srouter.CRC791
	cfrm.CRCWrite(&crc)
	cfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
}

func recomputeTCPChecksum(ifrm ipv4.Frame, tfrm tcp.Frame) {
	tfrm.SetCRC(0)
	var crc srouter.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(srouter.NeverZero(crc.Sum16()))
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
