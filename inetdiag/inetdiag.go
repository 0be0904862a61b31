// Package inetdiag provides basic structs and utilities for INET_DIAG
// messages, based on uapi/linux/inet_diag.h.
package inetdiag

// Pretty basic code slightly adapted from code copied from
// https://gist.github.com/gwind/05f5f649d93e6015cf47ffa2b2fd9713
// Original source no longer available at https://github.com/eleme/netlink/blob/master/inetdiag.go

// Adaptations are Copyright 2018 M-Lab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/* IMPORTANT NOTES
This 2002 article describes Netlink Sockets
https://pdfs.semanticscholar.org/6efd/e161a2582ba5846e4b8fea5a53bc305a64f3.pdf

"Netlink messages are aligned to 32 bits and, generally speaking, they contain data that is
expressed in host-byte order"
*/

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Error types.
var (
	ErrParseFailed = errors.New("inetdiag: unable to parse InetDiagMsg")
	ErrNotType20   = errors.New("inetdiag: NetlinkMessage wrong type")
)

// Constants from linux uapi headers.
const (
	// SockDiagByFamily is the netlink message type used for both the
	// request and the per-socket replies (uapi/linux/sock_diag.h).
	SockDiagByFamily = 20

	// InetDiagReqBytecode is the rtattr type carrying a compiled port
	// filter on the request: INET_DIAG_REQ_BYTECODE from the
	// inet_diag_req_attrs enum in uapi/linux/inet_diag.h.
	InetDiagReqBytecode = 1
)

// The INET_DIAG_* extension-id enum from uapi/linux/inet_diag.h. Each id's
// bit position in idiag_ext is (id - 1); see ExtBit.
const (
	INET_DIAG_NONE = iota
	INET_DIAG_MEMINFO
	INET_DIAG_INFO
	INET_DIAG_VEGASINFO
	INET_DIAG_CONG
	INET_DIAG_TOS
	INET_DIAG_TCLASS
	INET_DIAG_SKMEMINFO
	INET_DIAG_SHUTDOWN
	INET_DIAG_DCTCPINFO
	INET_DIAG_PROTOCOL
	INET_DIAG_SKV6ONLY
	INET_DIAG_LOCALS
	INET_DIAG_PEERS
	INET_DIAG_PAD
	INET_DIAG_MARK
	INET_DIAG_BBRINFO
	INET_DIAG_CLASS_ID
	INET_DIAG_MD5SIG
	INET_DIAG_MAX
)

// ExtBit returns the idiag_ext bit for extension id, per spec.md §4.3:
// "each encoded as 1 << (id - 1)".
func ExtBit(id int) uint8 {
	return 1 << uint(id-1)
}

var diagFamilyMap = map[uint8]string{
	syscall.AF_INET:  "tcp",
	syscall.AF_INET6: "tcp6",
}

// InetDiagSockID is the binary linux representation of a socket, as in
// linux/inet_diag.h. Linux code comments indicate this struct uses network
// byte order.
type InetDiagSockID struct {
	IDiagSPort  [2]byte
	IDiagDPort  [2]byte
	IDiagSrc    [16]byte
	IDiagDst    [16]byte
	IDiagIf     [4]byte
	IDiagCookie [8]byte
}

// Interface returns the interface number.
func (id *InetDiagSockID) Interface() uint32 {
	return binary.BigEndian.Uint32(id.IDiagIf[:])
}

// SrcIP returns a golang net encoding of the source address. family must be
// syscall.AF_INET or syscall.AF_INET6; the id itself carries no family.
func (id *InetDiagSockID) SrcIP(family uint8) net.IP {
	return ip(id.IDiagSrc, family)
}

// DstIP returns a golang net encoding of the destination address.
func (id *InetDiagSockID) DstIP(family uint8) net.IP {
	return ip(id.IDiagDst, family)
}

// SPort returns the host byte ordered source port.
func (id *InetDiagSockID) SPort() uint16 {
	return binary.BigEndian.Uint16(id.IDiagSPort[:])
}

// DPort returns the host byte ordered destination port.
func (id *InetDiagSockID) DPort() uint16 {
	return binary.BigEndian.Uint16(id.IDiagDPort[:])
}

func (id *InetDiagSockID) String(family uint8) string {
	return fmt.Sprintf("%s:%d -> %s:%d", id.SrcIP(family), id.SPort(), id.DstIP(family), id.DPort())
}

func ip(bytes [16]byte, family uint8) net.IP {
	if family == syscall.AF_INET {
		return net.IPv4(bytes[0], bytes[1], bytes[2], bytes[3]).To4()
	}
	return append([]byte(nil), bytes[:]...)
}

// InetDiagReqV2 is the Netlink request struct, as in linux/inet_diag.h.
// Note that netlink messages use host byte ordering, unless
// NLA_F_NET_BYTEORDER is present.
type InetDiagReqV2 struct {
	SDiagFamily   uint8
	SDiagProtocol uint8
	IDiagExt      uint8
	Pad           uint8
	IDiagStates   uint32
	ID            InetDiagSockID
}

// SizeofInetDiagReqV2 is the size of the struct (0x38 on amd64).
const SizeofInetDiagReqV2 = int(unsafe.Sizeof(InetDiagReqV2{}))

// Serialize renders the request in the layout the kernel expects.
func (req *InetDiagReqV2) Serialize() []byte {
	return (*(*[SizeofInetDiagReqV2]byte)(unsafe.Pointer(req)))[:]
}

// Len returns the request's wire length.
func (req *InetDiagReqV2) Len() int {
	return SizeofInetDiagReqV2
}

// NewInetDiagReqV2 creates a new request with the given family, protocol,
// and idiag_states mask. Extension bits and a bytecode filter are added by
// the caller (see netlink.Request).
func NewInetDiagReqV2(family, protocol uint8, states uint32) *InetDiagReqV2 {
	return &InetDiagReqV2{
		SDiagFamily:   family,
		SDiagProtocol: protocol,
		IDiagStates:   states,
	}
}

// InetDiagMsg is the linux binary representation of an InetDiag message
// header, as in linux/inet_diag.h. Note that netlink messages use host byte
// ordering, unless NLA_F_NET_BYTEORDER is present.
type InetDiagMsg struct {
	IDiagFamily  uint8
	IDiagState   uint8
	IDiagTimer   uint8
	IDiagRetrans uint8
	ID           InetDiagSockID
	IDiagExpires uint32
	IDiagRqueue  uint32
	IDiagWqueue  uint32
	IDiagUID     uint32
	IDiagInode   uint32
}

func (msg *InetDiagMsg) String() string {
	return fmt.Sprintf("%s, state=%d, %s", diagFamilyMap[msg.IDiagFamily], msg.IDiagState, msg.ID.String(msg.IDiagFamily))
}

// ParseInetDiagMsg returns the InetDiagMsg header and the remaining
// (rtattr-aligned) attribute bytes that follow it.
func ParseInetDiagMsg(data []byte) (*InetDiagMsg, []byte) {
	align := rtaAlignOf(int(unsafe.Sizeof(InetDiagMsg{})))
	if len(data) < align {
		log.Println("inetdiag: short InetDiagMsg:", len(data), "<", align)
		return nil, nil
	}
	return (*InetDiagMsg)(unsafe.Pointer(&data[0])), data[align:]
}

// ParseRouteAttr parses a byte array into a slice of NetlinkRouteAttr,
// copied from github.com/vishvananda/netlink/nl/nl_linux.go.
func ParseRouteAttr(b []byte) ([]syscall.NetlinkRouteAttr, error) {
	var attrs []syscall.NetlinkRouteAttr
	for len(b) >= unix.SizeofRtAttr {
		a, vbuf, alen, err := netlinkRouteAttrAndValue(b)
		if err != nil {
			return nil, err
		}
		ra := syscall.NetlinkRouteAttr{Attr: syscall.RtAttr(*a), Value: vbuf[:int(a.Len)-unix.SizeofRtAttr]}
		attrs = append(attrs, ra)
		b = b[alen:]
	}
	return attrs, nil
}

func rtaAlignOf(attrlen int) int {
	return (attrlen + unix.RTA_ALIGNTO - 1) & ^(unix.RTA_ALIGNTO - 1)
}

func netlinkRouteAttrAndValue(b []byte) (*unix.RtAttr, []byte, int, error) {
	a := (*unix.RtAttr)(unsafe.Pointer(&b[0]))
	if int(a.Len) < unix.SizeofRtAttr || int(a.Len) > len(b) {
		return nil, nil, 0, unix.EINVAL
	}
	return a, b[unix.SizeofRtAttr:], rtaAlignOf(int(a.Len)), nil
}

// SocketMemInfo corresponds to the attribute payload of INET_DIAG_SKMEMINFO.
// Field order matches the kernel's SK_MEMINFO_* index enum.
type SocketMemInfo struct {
	RmemAlloc  uint32
	Rcvbuf     uint32
	WmemAlloc  uint32
	Sndbuf     uint32
	FwdAlloc   uint32
	WmemQueued uint32
	Optmem     uint32
	Backlog    uint32
	Drops      uint32
}

// skMemInfoBacklogOffset is the byte offset of the Backlog field; a
// SKMEMINFO payload shorter than this plus 4 bytes does not carry a
// backlog count (spec.md §4.4 / §8 kernel-version tolerance).
const skMemInfoBacklogOffset = int(unsafe.Offsetof(SocketMemInfo{}.Backlog))

// ParseSocketMemInfo decodes a SKMEMINFO attribute payload, handling the
// kernel-version case where Backlog (and anything after it) is absent.
func ParseSocketMemInfo(b []byte) SocketMemInfo {
	var m SocketMemInfo
	words := make([]uint32, 9)
	for i := 0; i < 9 && (i+1)*4 <= len(b); i++ {
		words[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	m.RmemAlloc = words[0]
	m.Rcvbuf = words[1]
	m.WmemAlloc = words[2]
	m.Sndbuf = words[3]
	m.FwdAlloc = words[4]
	m.WmemQueued = words[5]
	m.Optmem = words[6]
	if len(b) >= skMemInfoBacklogOffset+4 {
		m.Backlog = words[7]
	}
	m.Drops = words[8]
	return m
}
