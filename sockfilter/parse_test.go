package sockfilter_test

import (
	"testing"

	"github.com/m-lab/sockdiag/sockfilter"
)

func TestParseExprLeaf(t *testing.T) {
	expr, err := sockfilter.ParseExpr("eq(dst, 443)")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	if expr.Op() != sockfilter.OpEQ || expr.Side() != sockfilter.Dst || expr.Port() != 443 {
		t.Errorf("ParseExpr leaf = %v, want dst==443", expr)
	}
}

func TestParseExprNested(t *testing.T) {
	expr, err := sockfilter.ParseExpr("and(ge(src,1024), not(eq(dst,22)))")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	want := "(src>=1024 AND NOT(dst==22))"
	if got := expr.String(); got != want {
		t.Errorf("ParseExpr nested = %q, want %q", got, want)
	}
}

func TestParseExprCaseInsensitive(t *testing.T) {
	expr, err := sockfilter.ParseExpr("EQ(DST, 80)")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	if expr.Side() != sockfilter.Dst || expr.Port() != 80 {
		t.Errorf("ParseExpr case-insensitive = %v", expr)
	}
}

func TestParseExprRejectsUnknownOperator(t *testing.T) {
	if _, err := sockfilter.ParseExpr("xor(eq(src,1),eq(dst,2))"); err == nil {
		t.Error("ParseExpr accepted unknown operator, want error")
	}
}

func TestParseExprRejectsOutOfRangePort(t *testing.T) {
	if _, err := sockfilter.ParseExpr("eq(dst,70000)"); err == nil {
		t.Error("ParseExpr accepted out-of-range port, want error")
	}
}

func TestParseExprRejectsTrailingInput(t *testing.T) {
	if _, err := sockfilter.ParseExpr("eq(dst,80) garbage"); err == nil {
		t.Error("ParseExpr accepted trailing input, want error")
	}
}

func TestParseExprRejectsUnknownSide(t *testing.T) {
	if _, err := sockfilter.ParseExpr("eq(up,80)"); err == nil {
		t.Error("ParseExpr accepted unknown side, want error")
	}
}
