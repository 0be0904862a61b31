package tcp

import "unsafe"

// LinuxTCPInfo is the linux defined structure returned in the
// INET_DIAG_INFO rtattr payload. It corresponds to struct tcp_info in
// https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/tree/include/uapi/linux/tcp.h
//
// Field layout must match the kernel's exactly: the decoder copies raw
// rtattr bytes directly onto this struct.
type LinuxTCPInfo struct {
	State       uint8
	CAState     uint8
	Retransmits uint8
	Probes      uint8
	Backoff     uint8
	Options     uint8
	WScale      uint8 // snd_wscale : 4, rcv_wscale : 4
	AppLimited  uint8 // delivery_rate_app_limited : 1

	RTO    uint32
	ATO    uint32
	SndMSS uint32
	RcvMSS uint32

	Unacked uint32
	Sacked  uint32
	Lost    uint32
	Retrans uint32
	Fackets uint32

	/* Times, in usec. These are elapsed-time fields, so they advance on
	   almost every sample. */
	LastDataSent uint32
	LastAckSent  uint32
	LastDataRecv uint32
	LastAckRecv  uint32

	/* Metrics. */
	PMTU        uint32
	RcvSsThresh uint32
	RTT         uint32
	RTTVar      uint32
	SndSsThresh uint32
	SndCwnd     uint32
	AdvMSS      uint32
	Reordering  uint32

	RcvRTT   uint32
	RcvSpace uint32

	TotalRetrans uint32

	PacingRate    int64
	MaxPacingRate int64

	BytesAcked    uint64
	BytesReceived uint64
	SegsOut       uint32
	SegsIn        uint32

	NotsentBytes uint32
	MinRTT       uint32
	DataSegsIn   uint32
	DataSegsOut  uint32

	DeliveryRate uint64

	BusyTime      uint64
	RWndLimited   uint64
	SndBufLimited uint64

	Delivered   uint32
	DeliveredCE uint32

	BytesSent    uint64
	BytesRetrans uint64

	DSackDups uint32
	ReordSeen uint32

	RcvOooPack uint32

	SndWnd uint32
}

// SizeofLinuxTCPInfo is the wire size of struct tcp_info on the running
// kernel version this struct was written against.
const SizeofLinuxTCPInfo = int(unsafe.Sizeof(LinuxTCPInfo{}))

// ParseLinuxTCPInfo decodes a raw INET_DIAG_INFO attribute payload. Older
// kernels report a shorter struct; per spec.md §4.4/§8, the payload is
// zero-padded on a scratch buffer before being reinterpreted, so that
// fields past the truncation point read as zero instead of decoding
// adjacent attribute bytes.
func ParseLinuxTCPInfo(b []byte) LinuxTCPInfo {
	var buf [SizeofLinuxTCPInfo]byte
	n := len(b)
	if n > SizeofLinuxTCPInfo {
		n = SizeofLinuxTCPInfo
	}
	copy(buf[:n], b[:n])
	return *(*LinuxTCPInfo)(unsafe.Pointer(&buf[0]))
}

// TCPIOptWScale mirrors TCPI_OPT_WSCALE from uapi/linux/tcp.h: the bit set
// in Options when the window-scale option was negotiated.
const TCPIOptWScale = 1 << 2

// SndWScale returns the 4-bit send window scale packed into WScale's low
// nibble.
func (i *LinuxTCPInfo) SndWScale() uint8 {
	return i.WScale & 0x0F
}

// RcvWScale returns the 4-bit receive window scale packed into WScale's high
// nibble.
func (i *LinuxTCPInfo) RcvWScale() uint8 {
	return i.WScale >> 4
}

// VegasInfo is the on-wire struct for INET_DIAG_VEGASINFO, corresponding to
// struct tcpvegas_info in uapi/linux/inet_diag.h. It is used transiently by
// the decoder to override the RTT sample used for bandwidth estimation; it
// is not itself part of the delivered record.
type VegasInfo struct {
	Enabled  uint32
	RTTCount uint32
	RTT      uint32
	MinRTT   uint32
}

// rttSentinel is the "unset" value the kernel uses for Vegas RTT samples.
const rttSentinel = 0x7FFFFFFF

// EffectiveRTT returns the Vegas RTT override if present, enabled and valid,
// otherwise falls back to the tcp_info RTT sample.
func EffectiveRTT(info *LinuxTCPInfo, vegas *VegasInfo) uint32 {
	if vegas != nil && vegas.Enabled != 0 && vegas.RTT != 0 && vegas.RTT != rttSentinel {
		return vegas.RTT
	}
	return info.RTT
}
