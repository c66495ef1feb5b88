package pipeline

import "errors"

// Error kinds returned by Router.HandleFrame. The side-effecting
// response (silent drop, ICMP emission, ARP retry) has already
// happened by the time HandleFrame returns one of these; the error is
// for observability and tests, never something a caller must act on to
// get correct behavior.
var (
	ErrBadChecksum     = errors.New("pipeline: bad checksum")
	ErrTTLExpired      = errors.New("pipeline: ttl expired")
	ErrNoRoute         = errors.New("pipeline: no route")
	ErrArpUnresolvable = errors.New("pipeline: arp unresolvable")
	ErrUnreachablePort = errors.New("pipeline: unreachable port")
	ErrUnsolicitedSyn  = errors.New("pipeline: unsolicited syn parked")
	ErrParseFailure    = errors.New("pipeline: parse failure")
)
