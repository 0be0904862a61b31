package collector

// Attribute decoding (C4): turns one inet_diag_msg plus its trailing
// rtattr chain into a sockstat.InetSockStat + sockstat.TcpStat pair,
// applying the uid/pid filter join against the proc inode index. Grounded
// on inetdiag.ParseRouteAttr (itself copied from vishvananda/netlink/nl)
// for rtattr walking, and on sock_probe.c's inet_show_sock for the
// field-by-field population and suppression rules.

import (
	"os/user"
	"strconv"
	"syscall"

	"github.com/m-lab/sockdiag/inetdiag"
	"github.com/m-lab/sockdiag/procfs"
	"github.com/m-lab/sockdiag/sockfilter"
	"github.com/m-lab/sockdiag/sockstat"
	"github.com/m-lab/sockdiag/tcp"
)

// retransmitTimeoutSentinel is the kernel's "just started, no real RTO
// sample yet" value (3 seconds in microseconds).
const retransmitTimeoutSentinel = 3_000_000

// ssthreshSuppressMin is the threshold at or above which snd_ssthresh is
// considered "not really set" (effectively infinite).
const ssthreshSuppressMin = 0xFFFF

// defaultUnconfirmedCwnd is the cwnd value the kernel reports for a
// connection that hasn't confirmed an initial window yet; not worth
// surfacing.
const defaultUnconfirmedCwnd = 2

// decodeMessage converts a raw netlink reply body into a delivered record,
// dropping unknown address families and applying the user/process filters
// in filter against the index in idx.
// It returns ok=false when the record should be dropped without invoking
// the visitor.
func decodeMessage(data []byte, idx *procfs.Index, filter *sockfilter.SockFilter) (sockstat.InetSockStat, sockstat.TcpStat, bool) {
	idm, attrBytes := inetdiag.ParseInetDiagMsg(data)
	if idm == nil {
		return sockstat.InetSockStat{}, sockstat.TcpStat{}, false
	}

	var family sockstat.Family
	switch idm.IDiagFamily {
	case syscall.AF_INET:
		family = sockstat.V4
	case syscall.AF_INET6:
		family = sockstat.V6
	default:
		// Unknown family: log-worthy in the kernel original, here simply
		// dropped per spec.md §4.4 step 1 / §8 scenario 4.
		return sockstat.InetSockStat{}, sockstat.TcpStat{}, false
	}

	if filter.OnlyCurrentUser && idm.IDiagUID != uint32(syscall.Getuid()) {
		return sockstat.InetSockStat{}, sockstat.TcpStat{}, false
	}

	pid, found := idx.Lookup(uint64(idm.IDiagInode))
	if !found && filter.OnlyCurrentProcess {
		return sockstat.InetSockStat{}, sockstat.TcpStat{}, false
	}
	if found && filter.OnlyCurrentProcess && pid != syscall.Getpid() {
		return sockstat.InetSockStat{}, sockstat.TcpStat{}, false
	}

	stat := sockstat.InetSockStat{
		LocalAddress:  idm.ID.SrcIP(idm.IDiagFamily).String(),
		LocalPort:     idm.ID.SPort(),
		RemoteAddress: idm.ID.DstIP(idm.IDiagFamily).String(),
		RemotePort:    idm.ID.DPort(),
		Family:        family,
		ConnState:     tcp.State(idm.IDiagState),
		StateName:     tcp.DiagName(tcp.State(idm.IDiagState)),
		Uid:           idm.IDiagUID,
		RequestQueue:  idm.IDiagRqueue,
		WaitingQueue:  idm.IDiagWqueue,
	}
	if found {
		stat.Pid = pid
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(idm.IDiagUID), 10)); err == nil {
		stat.Username = u.Username
	}

	// A timer is only reported if the kernel actually armed one
	// (idiag_timer != 0); otherwise TimerRetransmits/TimerTimeout stay
	// zero rather than echoing unrelated retransmit/expiry counters.
	tcpStat := sockstat.TcpStat{Timer: tcp.TimerOff, TimerName: tcp.TimerOff.Name()}
	if idm.IDiagTimer != 0 {
		timer := tcp.Timer(idm.IDiagTimer).Clamp()
		tcpStat.Timer = timer
		tcpStat.TimerName = timer.Name()
		tcpStat.TimerRetransmits = idm.IDiagRetrans
		tcpStat.TimerTimeout = idm.IDiagExpires
	}

	attrs, err := inetdiag.ParseRouteAttr(attrBytes)
	if err != nil {
		return stat, tcpStat, true
	}

	var vegas *tcp.VegasInfo
	for _, a := range attrs {
		switch a.Attr.Type {
		case inetdiag.INET_DIAG_SKMEMINFO:
			mem := inetdiag.ParseSocketMemInfo(a.Value)
			stat.RcvQueueMem = mem.RmemAlloc
			stat.SndQueueMem = mem.WmemAlloc
			stat.RcvSockBuf = mem.Rcvbuf
			stat.SndSockBuf = mem.Sndbuf
			stat.TCPFwdAlloc = mem.FwdAlloc
			stat.TCPQueuedMem = mem.WmemQueued
			stat.BacklogPackets = mem.Backlog
		case inetdiag.INET_DIAG_VEGASINFO:
			v := parseVegasInfo(a.Value)
			vegas = &v
		}
	}
	// A second pass picks up INET_DIAG_INFO after Vegas is known, since
	// bandwidth estimation needs both.
	for _, a := range attrs {
		if a.Attr.Type == inetdiag.INET_DIAG_INFO {
			fillTCPInfo(&tcpStat, tcp.ParseLinuxTCPInfo(a.Value), vegas)
		}
	}

	return stat, tcpStat, true
}

func parseVegasInfo(b []byte) tcp.VegasInfo {
	var padded [16]byte
	n := len(b)
	if n > 16 {
		n = 16
	}
	copy(padded[:n], b[:n])
	return tcp.VegasInfo{
		Enabled:  le32(padded[0:4]),
		RTTCount: le32(padded[4:8]),
		RTT:      le32(padded[8:12]),
		MinRTT:   le32(padded[12:16]),
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// fillTCPInfo applies sock_probe.c's inet_show_sock suppression rules when
// copying raw tcp_info fields into the delivered TcpStat.
func fillTCPInfo(out *sockstat.TcpStat, info tcp.LinuxTCPInfo, vegas *tcp.VegasInfo) {
	out.Options = info.Options
	out.Retransmits = info.Retransmits
	out.Probes = info.Probes
	out.Backoff = info.Backoff
	out.SndMSS = info.SndMSS
	out.RcvMSS = info.RcvMSS
	out.TotalRetrans = info.TotalRetrans
	out.RoundTripTimeVar = info.RTTVar

	if info.Options&tcp.TCPIOptWScale != 0 {
		out.WScalePresent = true
		out.SndWScale = info.SndWScale()
		out.RcvWScale = info.RcvWScale()
	}
	if info.RTO != 0 && info.RTO != retransmitTimeoutSentinel {
		out.RetransmitTimeout = info.RTO
	}
	if info.ATO != 0 {
		out.AcknowledgeTimeout = info.ATO
	}
	if info.RTT != 0 {
		out.RoundTripTime = info.RTT
	}
	if info.SndCwnd != defaultUnconfirmedCwnd {
		out.SndCwnd = info.SndCwnd
	}
	if info.SndSsThresh < ssthreshSuppressMin {
		out.SndSsthresh = info.SndSsThresh
	}
	if info.RcvRTT != 0 {
		out.RcvRTT = info.RcvRTT
	}
	if info.RcvSpace != 0 {
		out.RcvSpace = info.RcvSpace
	}

	rtt := tcp.EffectiveRTT(&info, vegas)
	if rtt > 0 && info.SndMSS > 0 && info.SndCwnd > 0 {
		out.SndBandwidth = float64(info.SndCwnd) * float64(info.SndMSS) * 8_000_000 / float64(rtt)
	}
}
