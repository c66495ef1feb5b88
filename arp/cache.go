package arp

import (
	"log/slog"
	"sync"
	"time"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/internal"
)

const (
	entryTTL     = 15 * time.Second
	retryPeriod  = 1 * time.Second
	maxRetries   = 5
)

// PendingPacket is an outgoing frame parked waiting for a hardware
// address to resolve. Frame is always an owned copy, never a slice
// aliasing a receive buffer, since it outlives the call that queued it.
type PendingPacket struct {
	Frame []byte
	Iface string
}

// request tracks an in-flight ARP resolution for a single protocol
// address: how many request retransmits have been sent and the packets
// accumulated waiting on the answer.
type request struct {
	proto     [4]byte
	retries   int
	nextRetry time.Time
	waiting   []PendingPacket
}

type cacheEntry struct {
	proto   [4]byte
	hw      [6]byte
	expires time.Time
}

// Cache is the router's ARP table: resolved protocol-to-hardware address
// mappings plus the set of addresses currently being resolved. Entries
// and pending requests are held in plain slices, scanned linearly, per
// the small working-set sizes typical of a router's directly-connected
// neighbors.
type Cache struct {
	mu       sync.Mutex
	entries  []cacheEntry
	pending  []*request
	ourHW    [6]byte
	ourProto [4]byte
	clock    srouter.Clock
	logger
}

// NewCache constructs a Cache for a router interface with hardware
// address ourHW and protocol address ourProto.
func NewCache(ourHW [6]byte, ourProto [4]byte, clock srouter.Clock, log *slog.Logger) *Cache {
	if clock == nil {
		clock = srouter.SystemClock{}
	}
	return &Cache{
		ourHW:    ourHW,
		ourProto: ourProto,
		clock:    clock,
		logger:   logger{log: log},
	}
}

// Lookup returns the hardware address cached for proto, if any and not
// expired.
func (c *Cache) Lookup(proto [4]byte) (hw [6]byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for i := range c.entries {
		e := &c.entries[i]
		if e.proto == proto {
			if now.After(e.expires) {
				return hw, false
			}
			return e.hw, true
		}
	}
	return hw, false
}

// Insert records or refreshes a resolved mapping, setting its TTL to
// entryTTL from now.
func (c *Cache) Insert(proto [4]byte, hw [6]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(proto, hw)
}

func (c *Cache) insertLocked(proto [4]byte, hw [6]byte) {
	now := c.clock.Now()
	for i := range c.entries {
		if c.entries[i].proto == proto {
			c.entries[i].hw = hw
			c.entries[i].expires = now.Add(entryTTL)
			return
		}
	}
	c.entries = append(c.entries, cacheEntry{proto: proto, hw: hw, expires: now.Add(entryTTL)})
}

// Destroy removes any cached entry and in-flight request for proto.
func (c *Cache) Destroy(proto [4]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = internal.DeleteZeroed(markEntryForDeletion(c.entries, proto))
	for i, r := range c.pending {
		if r.proto == proto {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
}

func markEntryForDeletion(entries []cacheEntry, proto [4]byte) []cacheEntry {
	for i := range entries {
		if entries[i].proto == proto {
			entries[i] = cacheEntry{}
		}
	}
	return entries
}

// Queue parks pkt to be sent once proto resolves. If no resolution is
// already in flight for proto, Queue reports sendRequest=true: the
// caller must transmit an ARP request for proto immediately.
func (c *Cache) Queue(proto [4]byte, pkt PendingPacket) (sendRequest bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.pending {
		if r.proto == proto {
			r.waiting = append(r.waiting, pkt)
			return false
		}
	}
	c.pending = append(c.pending, &request{
		proto:     proto,
		retries:   1,
		nextRetry: c.clock.Now().Add(retryPeriod),
		waiting:   []PendingPacket{pkt},
	})
	return true
}

// Resolve is called when an ARP reply for proto arrives with hardware
// address hw. It installs the mapping in the cache and returns every
// packet that had been parked awaiting this resolution, for the caller
// to address and transmit.
func (c *Cache) Resolve(proto [4]byte, hw [6]byte) []PendingPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(proto, hw)
	for i, r := range c.pending {
		if r.proto == proto {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return r.waiting
		}
	}
	return nil
}

// RetryRequest is a request the timeout driver must retransmit.
type RetryRequest struct {
	Proto [4]byte
}

// Tick runs the ARP timeout driver for one period: it collects
// in-flight requests due for a retransmit (advancing their retry
// counters), drops requests that have exhausted maxRetries (returning
// their abandoned packets so the caller can emit host-unreachable
// responses), and evicts expired cache entries.
func (c *Cache) Tick() (retries []RetryRequest, abandoned []PendingPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	kept := c.pending[:0]
	for _, r := range c.pending {
		if now.Before(r.nextRetry) {
			kept = append(kept, r)
			continue
		}
		if r.retries >= maxRetries {
			abandoned = append(abandoned, r.waiting...)
			c.trace("arp:request-abandoned", slog.Int("retries", r.retries))
			continue
		}
		r.retries++
		r.nextRetry = now.Add(retryPeriod)
		retries = append(retries, RetryRequest{Proto: r.proto})
		kept = append(kept, r)
	}
	c.pending = kept

	validOff := 0
	for i := range c.entries {
		if now.After(c.entries[i].expires) {
			continue
		}
		c.entries[validOff] = c.entries[i]
		validOff++
	}
	c.entries = c.entries[:validOff]
	return retries, abandoned
}

// BuildRequest fills buf (which must be at least sizeHeaderv4 bytes, and
// its enclosing Ethernet frame already zeroed for the destination MAC)
// with an ARP request for target, broadcast at the Ethernet layer.
func (c *Cache) BuildRequest(buf []byte, target [4]byte) (Frame, error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	afrm.ClearHeader()
	afrm.SetIPv4Defaults()
	afrm.SetOperation(OpRequest)
	hwSender, protoSender := afrm.Sender4()
	*hwSender = c.ourHW
	*protoSender = c.ourProto
	hwTarget, protoTarget := afrm.Target4()
	*hwTarget = [6]byte{}
	*protoTarget = target
	return afrm, nil
}

// BuildReply fills buf with an ARP reply answering req (a request frame
// targeting our protocol address), addressed back to the requester.
func (c *Cache) BuildReply(buf []byte, req Frame) (Frame, error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	reqHWSender, reqProtoSender := req.Sender4()
	afrm.ClearHeader()
	afrm.SetIPv4Defaults()
	afrm.SetOperation(OpReply)
	hwSender, protoSender := afrm.Sender4()
	*hwSender = c.ourHW
	*protoSender = c.ourProto
	hwTarget, protoTarget := afrm.Target4()
	*hwTarget = *reqHWSender
	*protoTarget = *reqProtoSender
	return afrm, nil
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
