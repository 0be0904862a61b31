package inetdiag_test

import (
	"testing"

	"github.com/m-lab/sockdiag/inetdiag"
)

func TestExtBit(t *testing.T) {
	cases := []struct {
		id   int
		want uint8
	}{
		{inetdiag.INET_DIAG_MEMINFO, 1},
		{inetdiag.INET_DIAG_INFO, 2},
		{inetdiag.INET_DIAG_SKMEMINFO, 1 << 6},
	}
	for _, c := range cases {
		if got := inetdiag.ExtBit(c.id); got != c.want {
			t.Errorf("ExtBit(%d) = %d, want %d", c.id, got, c.want)
		}
	}
}

func TestNewInetDiagReqV2SizeMatchesKernel(t *testing.T) {
	req := inetdiag.NewInetDiagReqV2(2, 6, 0xFFF)
	if req.Len() != 56 {
		t.Errorf("InetDiagReqV2 size = %d, want 56 (0x38)", req.Len())
	}
}

func TestParseSocketMemInfoFullPayload(t *testing.T) {
	raw := make([]byte, 9*4)
	for i := range raw {
		raw[i] = 0
	}
	// word 7 (Backlog) = 42, little endian.
	raw[7*4] = 42
	m := inetdiag.ParseSocketMemInfo(raw)
	if m.Backlog != 42 {
		t.Errorf("Backlog = %d, want 42", m.Backlog)
	}
}

func TestParseSocketMemInfoShortPayloadOmitsBacklog(t *testing.T) {
	// Only the first 7 words (RmemAlloc..Optmem) present; no Backlog/Drops.
	raw := make([]byte, 7*4)
	m := inetdiag.ParseSocketMemInfo(raw)
	if m.Backlog != 0 {
		t.Errorf("Backlog = %d, want 0 for short payload", m.Backlog)
	}
	if m.Drops != 0 {
		t.Errorf("Drops = %d, want 0 for short payload", m.Drops)
	}
}

func TestParseInetDiagMsgTooShort(t *testing.T) {
	msg, rest := inetdiag.ParseInetDiagMsg([]byte{1, 2, 3})
	if msg != nil || rest != nil {
		t.Error("ParseInetDiagMsg of too-short buffer should return nil, nil")
	}
}
