package bytecode

import (
	"encoding/binary"
	"testing"

	"github.com/m-lab/sockdiag/sockfilter"
)

// run is a minimal interpreter for the bytecode this package emits, mirroring
// the kernel's bc_run loop closely enough to exercise semantic equivalence
// between expression trees (see spec.md §8, testable property 2). It is
// test-only: nothing in the production path needs to execute this bytecode
// itself, since the kernel does that.
//
// Execution starts at pc=0 and advances by an instruction's yes field on
// match, or its no field on mismatch. JMP (emitted only between an OR's
// operands or after a NOT's child) is unconditional and always takes its no
// field: it is only ever reached by falling through a preceding success, and
// its purpose is to skip forward past the instructions that success already
// made irrelevant. Reaching pc == len(code) means accept; any no-jump that
// carries pc past the end of the program means reject.
func run(code []byte, srcPort, dstPort uint16) bool {
	pc := 0
	for {
		if pc == len(code) {
			return true
		}
		if pc < 0 || pc+4 > len(code) {
			return false
		}
		instr := code[pc]
		yes := int(code[pc+1])
		no := int(binary.LittleEndian.Uint16(code[pc+2 : pc+4]))

		if instr == opJMP {
			pc += no
			continue
		}

		operand := uint16(binary.LittleEndian.Uint32(code[pc+4 : pc+8]))
		var field uint16
		switch instr {
		case opSGE, opSLE:
			field = srcPort
		case opDGE, opDLE:
			field = dstPort
		}
		var match bool
		switch instr {
		case opSGE, opDGE:
			match = field >= operand
		case opSLE, opDLE:
			match = field <= operand
		}
		if match {
			pc += yes
		} else {
			pc += no
		}
	}
}

func TestRunLeafGE(t *testing.T) {
	code, err := Compile(sockfilter.GE(sockfilter.Dst, 1024))
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !run(code, 0, 1024) {
		t.Error("GE(dst,1024) should match dst==1024")
	}
	if run(code, 0, 1023) {
		t.Error("GE(dst,1024) should not match dst==1023")
	}
}

func TestRunOrEitherSideMatches(t *testing.T) {
	code, err := Compile(sockfilter.Or(
		sockfilter.EQ(sockfilter.Dst, 80),
		sockfilter.EQ(sockfilter.Dst, 443),
	))
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	for _, tc := range []struct {
		dst  uint16
		want bool
	}{
		{80, true},
		{443, true},
		{8080, false},
	} {
		if got := run(code, 0, tc.dst); got != tc.want {
			t.Errorf("run(OR, dst=%d) = %v, want %v", tc.dst, got, tc.want)
		}
	}
}

// TestDoubleNegationEquivalence verifies spec.md §8's testable property 2:
// NOT(NOT(T)) is semantically equivalent to T, by running the compiled
// bytecode for both against a range of sample ports.
func TestDoubleNegationEquivalence(t *testing.T) {
	base := sockfilter.GE(sockfilter.Dst, 1024)
	doubled := sockfilter.Not(sockfilter.Not(sockfilter.GE(sockfilter.Dst, 1024)))

	baseCode, err := Compile(base)
	if err != nil {
		t.Fatalf("Compile(T) error = %v", err)
	}
	doubledCode, err := Compile(doubled)
	if err != nil {
		t.Fatalf("Compile(NOT(NOT(T))) error = %v", err)
	}

	for _, dst := range []uint16{0, 1, 1023, 1024, 1025, 65535} {
		want := run(baseCode, 0, dst)
		got := run(doubledCode, 0, dst)
		if got != want {
			t.Errorf("dst=%d: run(NOT(NOT(T)))=%v, run(T)=%v, want equal", dst, got, want)
		}
	}
}
