// Package collector drives one full socket-diagnostic pass (C5): build the
// proc inode index, compile the port filter, and for each selected
// (family, protocol) pair issue a netlink dump, decoding and filtering
// each reply and handing surviving records to the caller's visitor.
//
// Grounded on collector.Run/collectDefaultNamespace's per-cycle drive loop
// shape, generalized from "always v4+v6 TCP" to the full (family,
// protocol) cross product a SockFilter selects, in the fixed order
// (v4,tcp), (v4,udp), (v6,tcp), (v6,udp).
package collector

import (
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m-lab/sockdiag/bytecode"
	"github.com/m-lab/sockdiag/inetdiag"
	"github.com/m-lab/sockdiag/metrics"
	"github.com/m-lab/sockdiag/netlink"
	"github.com/m-lab/sockdiag/procfs"
	"github.com/m-lab/sockdiag/sockfilter"
	"github.com/m-lab/sockdiag/sockstat"
	"github.com/m-lab/sockdiag/tcp"
)

// extMask is the idiag_ext bitmask requested on every dump: MEMINFO, INFO,
// VEGASINFO, CONG, and SKMEMINFO, matching socket-monitor.go's makeReq
// (minus TCLASS/TOS/SHUTDOWN, which nothing in this system decodes).
var extMask = inetdiag.ExtBit(inetdiag.INET_DIAG_MEMINFO) |
	inetdiag.ExtBit(inetdiag.INET_DIAG_INFO) |
	inetdiag.ExtBit(inetdiag.INET_DIAG_VEGASINFO) |
	inetdiag.ExtBit(inetdiag.INET_DIAG_CONG) |
	inetdiag.ExtBit(inetdiag.INET_DIAG_SKMEMINFO)

func familyCode(f sockfilter.Family) uint8 {
	if f == sockfilter.V4 {
		return syscall.AF_INET
	}
	return syscall.AF_INET6
}

func protocolCode(p sockfilter.Protocol) uint8 {
	if p == sockfilter.TCP {
		return syscall.IPPROTO_TCP
	}
	return syscall.IPPROTO_UDP
}

func familyLabel(f sockfilter.Family) string {
	if f == sockfilter.V4 {
		return "ipv4"
	}
	return "ipv6"
}

// Collect runs one full pass: build the inode index, compile the port
// filter, and dump every selected (family, protocol) pair in order,
// invoking visit once per surviving socket. It returns the first error
// encountered — either a fatal condition (bytecode compile failure,
// EOPNOTSUPP from the kernel) or a dump-level error that the caller should
// treat as aborting the whole collection, per spec.md §4.5's "stop early
// on first failure" rule.
func Collect(filter *sockfilter.SockFilter, visit sockstat.Visitor) error {
	idx, err := procfs.BuildIndex(os.Getenv("PROC_ROOT"))
	if err != nil {
		return err
	}
	metrics.InodeIndexSize.Observe(float64(idx.Size()))

	bc, err := bytecode.CompileFilter(filter)
	if err != nil {
		metrics.FilterCompileErrors.Inc()
		return err
	}

	for _, family := range filter.WantFamilies() {
		for _, protocol := range filter.WantProtocols() {
			if err := dumpOne(family, protocol, bc, idx, filter, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpOne(family sockfilter.Family, protocol sockfilter.Protocol, bc []byte, idx *procfs.Index, filter *sockfilter.SockFilter, visit sockstat.Visitor) error {
	label := familyLabel(family)
	count := 0
	start := time.Now()
	defer func() {
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"af": label}).Observe(time.Since(start).Seconds())
		metrics.ConnectionCountHistogram.With(prometheus.Labels{"af": label}).Observe(float64(count))
	}()

	req := netlink.Request{
		Family:   familyCode(family),
		Protocol: protocolCode(protocol),
		States:   tcp.RequestedStates,
		Ext:      extMask,
		Bytecode: bc,
	}

	return netlink.Dump(req, func(msg *syscall.NetlinkMessage) error {
		count++
		stat, tcpStat, ok := decodeMessage(msg.Data, idx, filter)
		if !ok {
			return nil
		}
		visit(stat, tcpStat)
		return nil
	})
}
