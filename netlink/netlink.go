// Package netlink is the NETLINK_INET_DIAG dump client (C3): it opens a
// SOCK_DIAG_BY_FAMILY dump socket, sends an inet_diag_req_v2 carrying an
// optional compiled bytecode filter, and streams the multi-part reply back
// to the caller message by message. It is grounded on
// collector/socket-monitor.go's use of vishvananda/netlink's nl subpackage,
// generalized from a hardcoded TCP-only request into one parameterized by
// family, protocol, state mask, and filter bytecode.
package netlink

import (
	"errors"
	"log"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/m-lab/sockdiag/inetdiag"
	"github.com/m-lab/sockdiag/metrics"
)

// Error types.
var (
	// ErrBadSequence is used when the Netlink response has a bad sequence number.
	ErrBadSequence = errors.New("netlink: bad sequence number in response")

	// ErrBadPid is used when the PID is mismatched between the netlink socket and the calling process.
	ErrBadPid = errors.New("netlink: bad pid in response")

	// ErrBadMsgData is used when an NLMSG_ERROR payload is too short to read.
	ErrBadMsgData = errors.New("netlink: truncated NLMSG_ERROR payload")

	// ErrNotSupported is returned when the kernel replies EOPNOTSUPP,
	// e.g. an older kernel lacking the requested extension (spec.md §4.3/§7).
	ErrNotSupported = errors.New("netlink: kernel returned EOPNOTSUPP")
)

// Request describes one SOCK_DIAG_BY_FAMILY dump request.
type Request struct {
	Family   uint8
	Protocol uint8
	// States is the idiag_states bitmask; callers typically pass
	// tcp.RequestedStates.
	States uint32
	// Ext is the idiag_ext bitmask selecting which attributes the kernel
	// should attach to each reply (MEMINFO, SKMEMINFO, INFO, VEGASINFO, ...).
	Ext uint8
	// Bytecode is the optional compiled port filter; nil means no filter.
	Bytecode []byte
}

func makeRequest(r Request) *nl.NetlinkRequest {
	req := nl.NewNetlinkRequest(inetdiag.SockDiagByFamily, syscall.NLM_F_DUMP|syscall.NLM_F_REQUEST)
	msg := inetdiag.NewInetDiagReqV2(r.Family, r.Protocol, r.States)
	msg.IDiagExt = r.Ext
	req.AddData(msg)
	if len(r.Bytecode) > 0 {
		req.AddData(nl.NewRtAttr(inetdiag.InetDiagReqBytecode, r.Bytecode))
	}
	req.NlMsghdr.Type = inetdiag.SockDiagByFamily
	req.NlMsghdr.Flags |= syscall.NLM_F_DUMP | syscall.NLM_F_REQUEST
	return req
}

// Handler is invoked once per netlink message in a dump, excluding the
// terminating NLMSG_DONE. Returning an error stops the dump early.
type Handler func(msg *syscall.NetlinkMessage) error

// receiver is the subset of nl.NetlinkSocket's interface the dump loop
// needs; extracted so tests can inject a fake that fails a bounded number
// of times before succeeding, without opening a real netlink socket. The
// middle return value (the peer sockaddr) is ignored by dumpLoop.
type receiver interface {
	Receive() ([]syscall.NetlinkMessage, *unix.SockaddrNetlink, error)
}

// Dump issues req and feeds every reply message to handle, in the order the
// kernel delivers them, until NLMSG_DONE or an error. It mirrors
// recv_diag_msg's retry/log/stop rules from sock_probe.c: EINTR is retried
// transparently by nl.Socket.Receive, and any OTHER receive error is logged
// as an overrun and retried rather than aborting the dump (`perror("OVERRUN");
// continue;` in an unconditional loop) — only NLMSG_ERROR with EOPNOTSUPP
// surfaces as a fatal ErrNotSupported that stops the whole collection.
func Dump(req Request, handle Handler) error {
	nlReq := makeRequest(req)

	s, err := nl.Subscribe(unix.NETLINK_INET_DIAG)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Send(nlReq); err != nil {
		return err
	}
	pid, err := s.GetPid()
	if err != nil {
		return err
	}

	return dumpLoop(s, nlReq.Seq, pid, handle)
}

// dumpLoop runs the receive/dispatch loop against any receiver, so it can be
// exercised in tests against a fake that simulates OVERRUN-style errors.
func dumpLoop(s receiver, seq, pid uint32, handle Handler) error {
	for {
		msgs, _, err := s.Receive()
		if err != nil {
			log.Println("netlink: OVERRUN:", err)
			metrics.ErrorCount.With(prometheus.Labels{"type": "overrun"}).Inc()
			continue
		}
		for i := range msgs {
			m := &msgs[i]
			done, err := processOne(m, seq, pid, handle)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// processOne validates and dispatches a single reply message, returning
// done=true once NLMSG_DONE is observed.
func processOne(m *syscall.NetlinkMessage, seq, pid uint32, handle Handler) (done bool, err error) {
	if m.Header.Seq != seq {
		log.Printf("netlink: wrong seq %d, expected %d", m.Header.Seq, seq)
		metrics.ErrorCount.With(prometheus.Labels{"type": "wrong_seq"}).Inc()
		return false, ErrBadSequence
	}
	if m.Header.Pid != pid {
		log.Printf("netlink: wrong pid %d, expected %d", m.Header.Pid, pid)
		metrics.ErrorCount.With(prometheus.Labels{"type": "wrong_pid"}).Inc()
		return false, ErrBadPid
	}
	if m.Header.Type == unix.NLMSG_DONE {
		return true, nil
	}
	if m.Header.Type == unix.NLMSG_ERROR {
		return handleError(m)
	}
	return false, handle(m)
}

func handleError(m *syscall.NetlinkMessage) (done bool, err error) {
	if len(m.Data) < 4 {
		log.Println("netlink: ERROR truncated")
		metrics.ErrorCount.With(prometheus.Labels{"type": "truncated_error"}).Inc()
		return true, nil
	}
	errno := int32(nl.NativeEndian().Uint32(m.Data[0:4]))
	if errno == 0 {
		return false, nil
	}
	e := syscall.Errno(-errno)
	log.Println("netlink: NLMSG_ERROR:", e)
	metrics.ErrorCount.With(prometheus.Labels{"type": "nlmsg_error"}).Inc()
	if e == unix.EOPNOTSUPP {
		return false, ErrNotSupported
	}
	// Logged, dump terminated: any other kernel error stops this dump but
	// is not propagated as a fatal collection-wide failure.
	return true, nil
}
