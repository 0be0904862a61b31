package bytecode_test

import (
	"bytes"
	"testing"

	"github.com/m-lab/sockdiag/bytecode"
	"github.com/m-lab/sockdiag/sockfilter"
)

func TestCompileNilIsEmpty(t *testing.T) {
	got, err := bytecode.Compile(nil)
	if err != nil {
		t.Fatalf("Compile(nil) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Compile(nil) = %v, want empty", got)
	}
}

func TestCompileEQDstPort443(t *testing.T) {
	// EQ desugars to AND(GE(dst,443), LE(dst,443)): GE is the AND's left
	// operand, so patch() extends its failure jump past LE's 8 bytes
	// (12 -> 20); LE is the right operand and keeps its own natural
	// escape (12), which already lands past the whole 16-byte chain.
	// 443 as a little-endian uint32 operand is 187, 1, 0, 0.
	want := []byte{
		4, 8, 20, 0, 187, 1, 0, 0,
		5, 8, 12, 0, 187, 1, 0, 0,
	}
	got, err := bytecode.Compile(sockfilter.EQ(sockfilter.Dst, 443))
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Compile(EQ(dst,443)) = %v, want %v", got, want)
	}
}

func TestCompileEQMatchesExplicitAndOfGELE(t *testing.T) {
	eq, err := bytecode.Compile(sockfilter.EQ(sockfilter.Dst, 443))
	if err != nil {
		t.Fatalf("Compile(EQ) error = %v", err)
	}
	and, err := bytecode.Compile(sockfilter.And(
		sockfilter.GE(sockfilter.Dst, 443),
		sockfilter.LE(sockfilter.Dst, 443),
	))
	if err != nil {
		t.Fatalf("Compile(AND) error = %v", err)
	}
	if !bytes.Equal(eq, and) {
		t.Errorf("Compile(EQ) = %v, Compile(AND(GE,LE)) = %v, want equal", eq, and)
	}
}

func TestCompileOrOfTwoEQ(t *testing.T) {
	expr := sockfilter.Or(
		sockfilter.EQ(sockfilter.Dst, 80),
		sockfilter.EQ(sockfilter.Dst, 443),
	)
	got, err := bytecode.Compile(expr)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if len(got) != 36 {
		t.Fatalf("Compile(OR(EQ,EQ)) length = %d, want 36", len(got))
	}
	// The 4-byte JMP instruction sits right after the 16-byte left (EQ)
	// chain, followed immediately by the 16-byte right (EQ) chain.
	jmp := got[16:20]
	if jmp[0] != 1 {
		t.Errorf("jmp code = %d, want 1 (JMP)", jmp[0])
	}
	if jmp[1] != 4 {
		t.Errorf("jmp yes = %d, want 4", jmp[1])
	}
	no := uint16(jmp[2]) | uint16(jmp[3])<<8
	if no != 20 {
		t.Errorf("jmp no = %d, want 20", no)
	}
}

func TestCompileNotWrapsChildWithJMP(t *testing.T) {
	got, err := bytecode.Compile(sockfilter.Not(sockfilter.GE(sockfilter.Src, 1024)))
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("Compile(NOT(...)) length = %d, want 12", len(got))
	}
	jmp := got[8:12]
	if jmp[0] != 1 || jmp[1] != 4 || jmp[2] != 8 {
		t.Errorf("NOT jmp = %v, want code=1 yes=4 no=8", jmp)
	}
}

func TestCompileFilterNodeCountMatch(t *testing.T) {
	filter := &sockfilter.SockFilter{
		Ports:             sockfilter.EQ(sockfilter.Dst, 443),
		ExpectedNodeCount: 1,
	}
	if _, err := bytecode.CompileFilter(filter); err != nil {
		t.Errorf("CompileFilter() error = %v, want nil", err)
	}
}

func TestCompileFilterNodeCountMismatch(t *testing.T) {
	filter := &sockfilter.SockFilter{
		Ports:             sockfilter.EQ(sockfilter.Dst, 443),
		ExpectedNodeCount: 2,
	}
	if _, err := bytecode.CompileFilter(filter); err != bytecode.ErrNodeCountMismatch {
		t.Errorf("CompileFilter() error = %v, want ErrNodeCountMismatch", err)
	}
}

func TestCompileFilterZeroExpectedCountSkipsCheck(t *testing.T) {
	filter := &sockfilter.SockFilter{Ports: sockfilter.EQ(sockfilter.Dst, 443)}
	if _, err := bytecode.CompileFilter(filter); err != nil {
		t.Errorf("CompileFilter() error = %v, want nil when ExpectedNodeCount is unset", err)
	}
}

func TestCompileDepthLimit(t *testing.T) {
	expr := sockfilter.GE(sockfilter.Dst, 1)
	for i := 0; i < 40; i++ {
		expr = sockfilter.Not(expr)
	}
	if _, err := bytecode.Compile(expr); err == nil {
		t.Error("Compile of over-deep expression should fail")
	}
}
