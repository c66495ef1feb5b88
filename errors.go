package srouter

import "errors"

// Sentinel errors shared across packages. The codec packages and
// pipeline define their own sentinels for failures specific to that
// component; these cover cross-cutting conditions to compare against
// with errors.Is.
var (
	// ErrShortBuffer is returned by the icmp error-message builders when
	// the destination buffer is smaller than icmp.ResponseSize.
	ErrShortBuffer = errors.New("srouter: buffer too short for header")

	// ErrBadVersion names a header version field that does not match
	// the protocol being decoded. No function in this module returns it;
	// ipv4.Frame reports that case with its own unexported error.
	ErrBadVersion = errors.New("srouter: unexpected protocol version")

	// ErrNotIPv4 names an unsupported non-IPv4 address or packet. No
	// function in this module returns it.
	ErrNotIPv4 = errors.New("srouter: only IPv4 is supported")
)
