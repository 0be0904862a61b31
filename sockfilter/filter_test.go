package sockfilter_test

import (
	"testing"

	"github.com/m-lab/sockdiag/sockfilter"
)

func TestWantFamiliesDefaultsToBoth(t *testing.T) {
	f := &sockfilter.SockFilter{}
	got := f.WantFamilies()
	if len(got) != 2 || got[0] != sockfilter.V4 || got[1] != sockfilter.V6 {
		t.Errorf("WantFamilies() = %v, want [V4 V6]", got)
	}
}

func TestWantFamiliesHonorsMask(t *testing.T) {
	f := &sockfilter.SockFilter{Families: sockfilter.V6}
	got := f.WantFamilies()
	if len(got) != 1 || got[0] != sockfilter.V6 {
		t.Errorf("WantFamilies() = %v, want [V6]", got)
	}
}

func TestWantProtocolsDefaultsToBoth(t *testing.T) {
	f := &sockfilter.SockFilter{}
	got := f.WantProtocols()
	if len(got) != 2 || got[0] != sockfilter.TCP || got[1] != sockfilter.UDP {
		t.Errorf("WantProtocols() = %v, want [TCP UDP]", got)
	}
}

func TestWantProtocolsHonorsMask(t *testing.T) {
	f := &sockfilter.SockFilter{Protocols: sockfilter.UDP}
	got := f.WantProtocols()
	if len(got) != 1 || got[0] != sockfilter.UDP {
		t.Errorf("WantProtocols() = %v, want [UDP]", got)
	}
}

func TestEQBuildsUnexpandedNode(t *testing.T) {
	eq := sockfilter.EQ(sockfilter.Dst, 443)
	if eq.Op() != sockfilter.OpEQ || eq.Side() != sockfilter.Dst || eq.Port() != 443 {
		t.Errorf("EQ node fields wrong: op=%v side=%v port=%v", eq.Op(), eq.Side(), eq.Port())
	}
}

func TestStringRendersTree(t *testing.T) {
	expr := sockfilter.Or(sockfilter.EQ(sockfilter.Dst, 80), sockfilter.EQ(sockfilter.Dst, 443))
	want := "(dst==80 OR dst==443)"
	if got := expr.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNodeCountNil(t *testing.T) {
	var e *sockfilter.PortFilterExpr
	if got := e.NodeCount(); got != 0 {
		t.Errorf("nil.NodeCount() = %d, want 0", got)
	}
}

func TestNodeCountLeaf(t *testing.T) {
	if got := sockfilter.EQ(sockfilter.Dst, 443).NodeCount(); got != 1 {
		t.Errorf("EQ leaf NodeCount() = %d, want 1", got)
	}
}

func TestNodeCountCombinators(t *testing.T) {
	expr := sockfilter.Not(sockfilter.And(sockfilter.EQ(sockfilter.Dst, 80), sockfilter.EQ(sockfilter.Dst, 443)))
	// NOT(1) + AND(1) + two leaves(1 each) = 4.
	if got := expr.NodeCount(); got != 4 {
		t.Errorf("NodeCount() = %d, want 4", got)
	}
}

func TestSideString(t *testing.T) {
	if sockfilter.Src.String() != "src" {
		t.Errorf("Src.String() = %q, want src", sockfilter.Src.String())
	}
	if sockfilter.Dst.String() != "dst" {
		t.Errorf("Dst.String() = %q, want dst", sockfilter.Dst.String())
	}
}
