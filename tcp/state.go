// Package tcp provides TCP state and timer constants, the raw kernel
// tcp_info/tcpvegas_info layouts, and the string tables used to name them.
package tcp

import "fmt"

// State is the enumeration of kernel TCP connection states.
// https://datatracker.ietf.org/doc/draft-ietf-tcpm-rfc793bis/
// and uapi/linux/tcp.h
type State uint8

// All of these constants' names make the linter complain, but we inherited
// these names from external C code, so we will keep them.
const (
	UNKNOWN     State = 0
	ESTABLISHED State = 1
	SYN_SENT    State = 2
	SYN_RECV    State = 3
	FIN_WAIT1   State = 4
	FIN_WAIT2   State = 5
	TIME_WAIT   State = 6
	CLOSE       State = 7
	CLOSE_WAIT  State = 8
	LAST_ACK    State = 9
	LISTEN      State = 10
	CLOSING     State = 11
)

// AllFlags includes flag bits for all TCP connection states. It corresponds
// to TCPF_ALL in linux code.
const AllFlags = 0xFFF

// ExcludedStates are the states the collector never reports: SYN_RECV,
// TIME_WAIT and CLOSE are excluded by design to match operator-relevant
// states (spec.md Non-goals).
const ExcludedStates = (1 << uint(SYN_RECV)) | (1 << uint(TIME_WAIT)) | (1 << uint(CLOSE))

// RequestedStates is the idiag_states mask the netlink client should send:
// every state except the excluded ones.
const RequestedStates = AllFlags &^ ExcludedStates

var stateName = map[State]string{
	UNKNOWN:     "INVALID",
	ESTABLISHED: "ESTABLISHED",
	SYN_SENT:    "SYN_SENT",
	SYN_RECV:    "SYN_RECV",
	FIN_WAIT1:   "FIN_WAIT1",
	FIN_WAIT2:   "FIN_WAIT2",
	TIME_WAIT:   "TIME_WAIT",
	CLOSE:       "CLOSE",
	CLOSE_WAIT:  "CLOSE_WAIT",
	LAST_ACK:    "LAST_ACK",
	LISTEN:      "LISTEN",
	CLOSING:     "CLOSING",
}

// String renders the Go-idiomatic constant name, e.g. for logging; UNKNOWN
// renders as "INVALID".
func (x State) String() string {
	s, ok := stateName[x]
	if !ok {
		return fmt.Sprintf("UNKNOWN_STATE_%d", x)
	}
	return s
}

// diagStateName is the ss(8)-style name table used for the state_name field
// of a delivered InetSockStat record (spec.md §6). It intentionally differs
// from String() above: "UNCONN" rather than "CLOSE", "ESTAB" rather than
// "ESTABLISHED", etc. Indices beyond CLOSING are never populated.
var diagStateName = [...]string{
	UNKNOWN:     "UNKNOWN",
	ESTABLISHED: "ESTAB",
	SYN_SENT:    "SYN-SENT",
	SYN_RECV:    "SYN-RECV",
	FIN_WAIT1:   "FIN-WAIT-1",
	FIN_WAIT2:   "FIN-WAIT-2",
	TIME_WAIT:   "TIME-WAIT",
	CLOSE:       "UNCONN",
	CLOSE_WAIT:  "CLOSE-WAIT",
	LAST_ACK:    "LAST-ACK",
	LISTEN:      "LISTEN",
	CLOSING:     "CLOSING",
}

// DiagName returns the ss(8)-style display name for a connection state, per
// the table in spec.md §6. Out-of-range values report as "UNKNOWN".
func DiagName(s State) string {
	if int(s) < len(diagStateName) {
		return diagStateName[s]
	}
	return "UNKNOWN"
}

// Timer is the enumeration of the active per-socket retransmission timer, as
// reported in inet_diag_msg.idiag_timer.
type Timer uint8

const (
	TimerOff         Timer = 0
	TimerRetransmit  Timer = 1
	TimerKeepalive   Timer = 2
	TimerTimeWait    Timer = 3
	TimerZeroWinProbe Timer = 4
	TimerUnknown     Timer = 5
)

var timerName = [...]string{
	TimerOff:          "OFF",
	TimerRetransmit:   "ON",
	TimerKeepalive:    "KEEPALIVE",
	TimerTimeWait:     "TIME-WAIT",
	TimerZeroWinProbe: "PERSIST",
	TimerUnknown:      "UNKNOWN",
}

// Clamp returns t if it is a recognized timer value, or TimerUnknown
// otherwise. inet_diag_msg.idiag_timer is clamped this way before indexing
// the name table (spec.md §4.4).
func (t Timer) Clamp() Timer {
	if t > TimerUnknown {
		return TimerUnknown
	}
	return t
}

// Name returns the display name for a (clamped) timer value.
func (t Timer) Name() string {
	c := t.Clamp()
	return timerName[c]
}
