package models

import (
	"strings"
	"testing"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
)

func newTranscript(t *testing.T, rounds int) *DebateTranscript {
	t.Helper()
	tr, err := NewDebateTranscript([]consts.Role{consts.RoleBullResearcher, consts.RoleBearResearcher}, rounds)
	if err != nil {
		t.Fatalf("NewDebateTranscript: %v", err)
	}
	return tr
}

func TestTranscriptRotationAndRounds(t *testing.T) {
	tr := newTranscript(t, 2)
	order := []consts.Role{consts.RoleBullResearcher, consts.RoleBearResearcher, consts.RoleBullResearcher, consts.RoleBearResearcher}
	for i, party := range order {
		next, ok := tr.NextParty()
		if !ok || next != party {
			t.Fatalf("turn %d: next party = %s/%v, want %s", i, next, ok, party)
		}
		if err := tr.Append(Turn{Party: party, Utterance: "arg"}); err != nil {
			t.Fatalf("turn %d: Append: %v", i, err)
		}
	}
	if tr.RoundIndex != 2 {
		t.Fatalf("RoundIndex = %d, want 2", tr.RoundIndex)
	}
	if tr.Turns[2].Round != 2 || tr.Turns[1].Round != 1 {
		t.Fatalf("round numbers wrong: %+v", tr.Turns)
	}
	if _, ok := tr.NextParty(); ok {
		t.Fatal("no party should be next after the last round")
	}
	if err := tr.Append(Turn{Party: consts.RoleBullResearcher}); !errors.Is(err, errors.ErrInvariant) {
		t.Fatalf("append beyond max rounds: err = %v", err)
	}
	if err := tr.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTranscriptRejectsOutOfRotation(t *testing.T) {
	tr := newTranscript(t, 1)
	if err := tr.Append(Turn{Party: consts.RoleBearResearcher}); !errors.Is(err, errors.ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if len(tr.Turns) != 0 {
		t.Fatalf("rejected turn was stored")
	}
}

func TestTranscriptClose(t *testing.T) {
	tr := newTranscript(t, 2)
	if err := tr.Close(false); err == nil {
		t.Fatal("normal close before all rounds should fail")
	}
	_ = tr.Append(Turn{Party: consts.RoleBullResearcher})
	if err := tr.Close(true); err == nil {
		t.Fatal("close mid-round should fail")
	}
	_ = tr.Append(Turn{Party: consts.RoleBearResearcher})
	if err := tr.Close(true); err != nil {
		t.Fatalf("terminated close at boundary: %v", err)
	}
	if !tr.Closed || !tr.Terminated {
		t.Fatalf("flags not set: %+v", tr)
	}
	if err := tr.Append(Turn{Party: consts.RoleBullResearcher}); err == nil {
		t.Fatal("append after close should fail")
	}
	if err := tr.Close(true); err == nil {
		t.Fatal("double close should fail")
	}
}

func TestZeroRoundTranscript(t *testing.T) {
	tr := newTranscript(t, 0)
	if _, ok := tr.NextParty(); ok {
		t.Fatal("zero-round debate has no speaker")
	}
	if err := tr.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(tr.Turns) != 0 {
		t.Fatalf("expected empty transcript")
	}
}

func TestNewTranscriptValidation(t *testing.T) {
	if _, err := NewDebateTranscript(nil, 1); err == nil {
		t.Fatal("no parties should fail")
	}
	if _, err := NewDebateTranscript([]consts.Role{consts.RoleTrader}, -1); err == nil {
		t.Fatal("negative rounds should fail")
	}
	if _, err := NewDebateTranscript([]consts.Role{consts.RoleTrader, consts.RoleTrader}, 1); err == nil {
		t.Fatal("duplicate party should fail")
	}
}

func TestVerdictWriteOnce(t *testing.T) {
	tr := newTranscript(t, 0)
	rec := DebateRecord{Name: consts.DebateResearch, Transcript: *tr}
	if err := rec.SetVerdict(Verdict{Text: "early"}); err == nil {
		t.Fatal("verdict before close should fail")
	}
	if err := rec.Transcript.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.SetVerdict(Verdict{Text: "first"}); err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	if err := rec.SetVerdict(Verdict{Text: "second"}); err == nil {
		t.Fatal("second verdict should fail")
	}
	if rec.VerdictText() != "first" {
		t.Fatalf("verdict = %q", rec.VerdictText())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tr := newTranscript(t, 1)
	_ = tr.Append(Turn{Party: consts.RoleBullResearcher, Utterance: "up", Memories: []MemoryMatch{{Lesson: "l"}}})
	cp := tr.Clone()
	cp.Turns[0].Utterance = "changed"
	cp.Turns[0].Memories[0].Lesson = "changed"
	if tr.Turns[0].Utterance != "up" || tr.Turns[0].Memories[0].Lesson != "l" {
		t.Fatalf("clone shares memory with original")
	}
}

func TestHistoryLabels(t *testing.T) {
	tr := newTranscript(t, 1)
	_ = tr.Append(Turn{Party: consts.RoleBullResearcher, Utterance: "growth"})
	_ = tr.Append(Turn{Party: consts.RoleBearResearcher, Utterance: "valuation"})
	h := tr.History(func(r consts.Role) string { return strings.ToUpper(string(r)) })
	want := "[round 1] BULL_RESEARCHER: growth\n[round 1] BEAR_RESEARCHER: valuation"
	if h != want {
		t.Fatalf("History = %q, want %q", h, want)
	}
	if tr.LastUtterance(consts.RoleBearResearcher) != "valuation" {
		t.Fatal("LastUtterance mismatch")
	}
}
