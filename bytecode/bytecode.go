// Package bytecode compiles a sockfilter.PortFilterExpr into the INET_DIAG
// bytecode accepted by the kernel as the INET_DIAG_REQ_BYTECODE attribute.
// It is a direct, from-scratch port of the filter_compile/filter_patch
// routines in iproute2/ss (as carried into CurioLoop's sock_probe.c), with
// the original's 8-bit length locals widened to the native int per
// spec.md §9 (the original silently truncates chains over 255 bytes).
package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/m-lab/sockdiag/sockfilter"
)

// Op codes, matching the kernel's INET_DIAG_BC_* constants from
// uapi/linux/inet_diag.h.
const (
	opNop  = 0
	opJMP  = 1
	opSGE  = 2
	opSLE  = 3
	opDGE  = 4
	opDLE  = 5
)

// opSize is the size in bytes of a leaf (GE/LE) bytecode instruction: a
// 4-byte {code, yes, no} header followed by a 4-byte port operand. JMP
// instructions are header-only and use jmpSize instead.
const opSize = 8

// maxDepth bounds the recursion over the filter AST (spec.md §9: "a sane
// limit: 32"). The kernel additionally caps total bytecode size at ~32KiB;
// Compile does not check the total size against that cap, and the depth
// limit alone does not keep a wide tree (many AND/OR leaves) under it.
const maxDepth = 32

// errTooDeep is returned when the expression tree exceeds maxDepth.
var errTooDeep = fmt.Errorf("bytecode: filter expression exceeds depth limit of %d", maxDepth)

// ErrNodeCountMismatch is returned by CompileFilter when a filter's
// ExpectedNodeCount does not match the number of nodes actually present in
// its Ports expression. There is no such counting mechanism in the kernel
// wire format or in the C original this package is grounded on (see
// DESIGN.md); it exists purely as an opt-in caller-side sanity check, named
// "port filter expected-count mismatch" in spec.md's fatal-error list.
var ErrNodeCountMismatch = fmt.Errorf("bytecode: port filter expected-count mismatch")

// errUnknownOp is returned for a PortFilterExpr with an unrecognized Op tag;
// this indicates a programmer error (a new variant added to sockfilter
// without a corresponding case here), not a runtime/user condition.
func errUnknownOp(op sockfilter.Op) error {
	return fmt.Errorf("bytecode: unknown filter expression op %d", op)
}

// putOp writes one bytecode instruction (header + 4-byte operand) at the
// start of dst, which must have length >= opSize.
func putOp(dst []byte, code byte, yes, no uint16, operand uint32) {
	dst[0] = code
	dst[1] = byte(yes)
	binary.LittleEndian.PutUint16(dst[2:4], no)
	binary.LittleEndian.PutUint32(dst[4:8], operand)
}

// jmpSize is the size in bytes of a JMP instruction: a bare 4-byte
// {code, yes, no} header with no operand slot, per filter_compile's
// `struct inet_diag_bc_op` placement for INET_DIAG_BC_JMP in sock_probe.c.
// Unlike a leaf GE/LE op, JMP never carries a second operand word.
const jmpSize = 4

// putJMP writes a 4-byte unconditional-jump instruction at the start of
// dst, which must have length >= jmpSize.
func putJMP(dst []byte, yes, no uint16) {
	dst[0] = opJMP
	dst[1] = byte(yes)
	binary.LittleEndian.PutUint16(dst[2:4], no)
}

// Compile translates expr into a kernel bytecode blob. A nil expr compiles
// to an empty (zero-length) blob, meaning "no filtering".
func Compile(expr *sockfilter.PortFilterExpr) ([]byte, error) {
	if expr == nil {
		return nil, nil
	}
	return compile(expr, 0)
}

// CompileFilter compiles filter.Ports, first checking filter.ExpectedNodeCount
// against the expression tree's actual node count when the caller set one.
func CompileFilter(filter *sockfilter.SockFilter) ([]byte, error) {
	if filter.ExpectedNodeCount != 0 && filter.Ports.NodeCount() != filter.ExpectedNodeCount {
		return nil, ErrNodeCountMismatch
	}
	return Compile(filter.Ports)
}

func compile(expr *sockfilter.PortFilterExpr, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	switch expr.Op() {
	case sockfilter.OpGE, sockfilter.OpLE:
		return compileLeaf(expr), nil
	case sockfilter.OpEQ:
		// EQ is sugar for AND(GE(side,p), LE(side,p)); rewrite and emit as AND.
		side, port := expr.Side(), expr.Port()
		rewritten := sockfilter.And(sockfilter.GE(side, port), sockfilter.LE(side, port))
		return compile(rewritten, depth+1)
	case sockfilter.OpAnd:
		return compileAnd(expr, depth)
	case sockfilter.OpOr:
		return compileOr(expr, depth)
	case sockfilter.OpNot:
		return compileNot(expr, depth)
	default:
		return nil, errUnknownOp(expr.Op())
	}
}

// compileLeaf emits a single 8-byte op record for a GE/LE leaf. On match
// (yes) it jumps past itself (8) to the next instruction; on mismatch (no)
// it jumps past a following possible "reject" slot (12 = 8 + 4), matching
// iproute2/ss's convention.
func compileLeaf(expr *sockfilter.PortFilterExpr) []byte {
	var code byte
	switch {
	case expr.Side() == sockfilter.Dst && expr.Op() == sockfilter.OpGE:
		code = opDGE
	case expr.Side() == sockfilter.Dst && expr.Op() == sockfilter.OpLE:
		code = opDLE
	case expr.Side() == sockfilter.Src && expr.Op() == sockfilter.OpGE:
		code = opSGE
	case expr.Side() == sockfilter.Src && expr.Op() == sockfilter.OpLE:
		code = opSLE
	}
	buf := make([]byte, opSize)
	putOp(buf, code, 8, 12, uint32(expr.Port()))
	return buf
}

// patch walks an emitted chain of length len, and for every instruction
// whose failure jump (no) pointed exactly past the end of the chain (i.e.
// "reject"), adds reloc to it so it instead skips past whatever was
// concatenated after the chain. This is the "backpatching in place" design
// note from spec.md §9: after laying out the left operand of an AND, scan
// it once and rewrite outbound failure jumps that escape the subchain.
func patch(chain []byte, reloc int) error {
	remaining := len(chain)
	a := 0
	for remaining > 0 {
		// Only the 4-byte {code,yes,no} header is ever read here; an
		// instruction's own length (8 for a leaf, jmpSize for a JMP) is
		// carried in its yes field, so a chain may freely mix both sizes
		// (e.g. an AND whose left operand is itself an OR or NOT).
		if a+4 > len(chain) {
			return fmt.Errorf("bytecode: malformed chain during patch")
		}
		yes := int(chain[a+1])
		no := int(binary.LittleEndian.Uint16(chain[a+2:a+4]))
		if no == remaining+4 {
			newNo := no + reloc
			binary.LittleEndian.PutUint16(chain[a+2:a+4], uint16(newNo))
		}
		remaining -= yes
		a += yes
	}
	if remaining < 0 {
		return fmt.Errorf("bytecode: malformed chain, remaining length went negative")
	}
	return nil
}

func compileAnd(expr *sockfilter.PortFilterExpr, depth int) ([]byte, error) {
	left, err := compile(expr.Left(), depth+1)
	if err != nil {
		return nil, err
	}
	right, err := compile(expr.Right(), depth+1)
	if err != nil {
		return nil, err
	}
	if err := patch(left, len(right)); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out, nil
}

func compileOr(expr *sockfilter.PortFilterExpr, depth int) ([]byte, error) {
	left, err := compile(expr.Left(), depth+1)
	if err != nil {
		return nil, err
	}
	right, err := compile(expr.Right(), depth+1)
	if err != nil {
		return nil, err
	}
	// A failed left's own "no" jump lands directly on right's first
	// instruction, skipping the JMP below entirely (try right next). A
	// successful left falls through onto the JMP, which unconditionally
	// skips right and lands past the whole OR chain (left already matched).
	jmp := make([]byte, jmpSize)
	putJMP(jmp, 4, uint16(len(right)+4))

	out := make([]byte, 0, len(left)+jmpSize+len(right))
	out = append(out, left...)
	out = append(out, jmp...)
	out = append(out, right...)
	return out, nil
}

func compileNot(expr *sockfilter.PortFilterExpr, depth int) ([]byte, error) {
	child, err := compile(expr.Left(), depth+1)
	if err != nil {
		return nil, err
	}
	// A failed child's own "no" jump (len(child)+4) lands exactly at the
	// end of this NOT's output, i.e. "accept" (NOT(false) = true). A
	// successful child falls through onto the JMP, which unconditionally
	// jumps its own no=8, landing 4 bytes past the end of this NOT's
	// output -- the chain-escape convention for "reject" (NOT(true) = false).
	jmp := make([]byte, jmpSize)
	putJMP(jmp, 4, 8)

	out := make([]byte, 0, len(child)+jmpSize)
	out = append(out, child...)
	out = append(out, jmp...)
	return out, nil
}
