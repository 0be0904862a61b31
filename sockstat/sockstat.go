// Package sockstat defines the records delivered to a collection's visitor
// and the visitor contract itself. These are the Go-native analogues of
// sock_probe.c's inet_show_sock output fields; unlike the teacher's
// nl-proto package, nothing here is a wire or DTO format -- these are plain
// in-process values.
package sockstat

import "github.com/m-lab/sockdiag/tcp"

// Family is the address family of a socket, restricted to the two this
// system enumerates.
type Family uint8

const (
	V4 Family = 4
	V6 Family = 6
)

func (f Family) String() string {
	switch f {
	case V4:
		return "v4"
	case V6:
		return "v6"
	default:
		return "unknown"
	}
}

// InetSockStat is the generic per-socket record, grounded on spec.md §3's
// InetSockStat entity and inet_show_sock's address/state/queue/memory
// output.
type InetSockStat struct {
	LocalAddress  string
	LocalPort     uint16
	RemoteAddress string
	RemotePort    uint16
	Family        Family

	ConnState tcp.State
	StateName string

	// Pid is the owning process, resolved via the proc inode index. Zero
	// when unresolved.
	Pid int
	Uid uint32
	// Username is empty when getpwuid-equivalent resolution failed or was
	// not attempted; Uid is always populated regardless.
	Username string

	// RequestQueue/WaitingQueue follow idiag_rqueue/idiag_wqueue: for a
	// LISTEN socket these are pending-connections and backlog-length; for
	// any other state they are incoming-data and send-available bytes.
	RequestQueue uint32
	WaitingQueue uint32

	RcvQueueMem    uint32
	SndQueueMem    uint32
	RcvSockBuf     uint32
	SndSockBuf     uint32
	TCPFwdAlloc    uint32
	TCPQueuedMem   uint32
	BacklogPackets uint32
}

// TcpStat is the per-socket TCP telemetry record, grounded on spec.md §3's
// TcpStat entity and tcp_info/tcpvegas_info decoding.
type TcpStat struct {
	Options     uint8
	Retransmits uint8
	Probes      uint8
	Backoff     uint8

	// SndWScale/RcvWScale are meaningful only when WScalePresent is true
	// (the kernel populated them only if TCPI_OPT_WSCALE was set).
	WScalePresent bool
	SndWScale     uint8
	RcvWScale     uint8

	SndMSS uint32
	RcvMSS uint32

	// RetransmitTimeout is zero when unset: either the raw value was zero,
	// or it hit the 3,000,000 sentinel (spec.md §4.4 item 5/§8).
	RetransmitTimeout  uint32
	AcknowledgeTimeout uint32

	RoundTripTime    uint32
	RoundTripTimeVar uint32
	TotalRetrans     uint32

	// SndCwnd is zero (unset) when the raw value was 2 (TCP's default for
	// an unconfirmed connection).
	SndCwnd uint32
	// SndSsthresh is zero (unset) when the raw value was >= 0xFFFF.
	SndSsthresh uint32

	// SndBandwidth is zero (unset) unless rtt, mss, and cwnd were all
	// positive when computed.
	SndBandwidth float64

	RcvRTT   uint32
	RcvSpace uint32

	Timer           tcp.Timer
	TimerName       string
	TimerRetransmits uint8
	TimerTimeout    uint32
}

// Visitor is invoked once per surviving socket with its two immutable
// records, per spec.md §6.
type Visitor func(stat InetSockStat, tcpStat TcpStat)
