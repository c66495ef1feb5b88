package tcp

// Flags is the TCP flags bitfield, i.e. SYN, FIN, ACK.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

const flagMask = 0x01ff

// Mask returns the flags with non-flag bits unset.
func (f Flags) Mask() Flags { return f & flagMask }

// HasAll reports whether every bit in mask is set in f.
func (f Flags) HasAll(mask Flags) bool { return f&mask == mask }

// HasAny reports whether any bit in mask is set in f.
func (f Flags) HasAny(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	switch f.Mask() {
	case 0:
		return "[]"
	case FlagSYN:
		return "[SYN]"
	case FlagSYN | FlagACK:
		return "[SYN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagFIN:
		return "[FIN]"
	case FlagFIN | FlagACK:
		return "[FIN,ACK]"
	case FlagRST:
		return "[RST]"
	default:
		return "[...]"
	}
}

// State enumerates the connection states the NAT table tracks. This is a
// deliberately narrowed subset of RFC 9293's full state machine: the NAT
// never performs sequence-number admission, retransmission, or window
// accounting of its own, it only needs to know enough to drive idle
// timeouts and to decide whether an inbound segment on an established
// mapping is expected.
type State uint8

const (
	StateClosed State = iota
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateTimeWait
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateSynSent:
		return "syn_sent"
	case StateSynRcvd:
		return "syn_recv"
	case StateEstablished:
		return "established"
	case StateFinWait1:
		return "fin_wait1"
	case StateFinWait2:
		return "fin_wait2"
	case StateCloseWait:
		return "close_wait"
	case StateTimeWait:
		return "time_wait"
	case StateLastAck:
		return "last_ack"
	default:
		return "state(unknown)"
	}
}

// IsEstablished reports whether s is the fully open data-transfer state.
func (s State) IsEstablished() bool { return s == StateEstablished }

// IsTransitory reports whether s is any state other than established,
// for the purposes of selecting which idle timeout applies.
func (s State) IsTransitory() bool { return s != StateEstablished }

// Next applies the flag-driven transition table to the current state,
// returning the next state and whether any transition fired. Unknown or
// unexpected flag combinations leave the state unchanged (ok is false):
// callers still refresh last_used in that case, they just don't change
// state.
func (s State) Next(flags Flags, fromInternal bool) (next State, ok bool) {
	flags = flags.Mask()
	switch {
	case s == StateClosed && flags.HasAll(FlagSYN) && fromInternal:
		return StateSynSent, true
	case s == StateSynSent && flags.HasAll(FlagSYN) && !fromInternal:
		return StateSynRcvd, true
	case s == StateSynRcvd && flags.HasAll(FlagACK) && fromInternal:
		return StateEstablished, true
	case flags.HasAll(FlagFIN):
		return nextAfterFIN(s), true
	}
	return s, false
}

// nextAfterFIN advances s on receipt of a FIN, following the closing
// side of the standard state diagram far enough to drive idle-timeout
// bucketing; it does not distinguish who initiated the close.
func nextAfterFIN(s State) State {
	switch s {
	case StateEstablished:
		return StateFinWait1
	case StateFinWait1:
		return StateFinWait2
	case StateFinWait2:
		return StateTimeWait
	case StateCloseWait:
		return StateLastAck
	case StateLastAck, StateTimeWait:
		return StateClosed
	default:
		return StateCloseWait
	}
}
