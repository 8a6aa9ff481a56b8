package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyike/cortexdesk/models"
)

func fixedNow() time.Time { return time.Date(2024, 5, 10, 16, 30, 0, 0, time.UTC) }

func TestRunNowRunsEachTickerOnce(t *testing.T) {
	type call struct{ ticker, date string }
	var calls []call
	run := func(ctx context.Context, ticker, date string) (*models.RunResult, error) {
		calls = append(calls, call{ticker, date})
		if ticker == "FAIL" {
			return nil, errors.New("provider down")
		}
		return &models.RunResult{RunID: "r-" + ticker, Decision: models.FinalDecision{Action: models.ActionHold}}, nil
	}
	watch := func() []string { return []string{"acme", "FAIL", " ACME ", "", "globex"} }

	s := NewScheduler(context.Background(), run, watch, nil)
	s.now = fixedNow

	out := s.RunNow()
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %+v", out)
	}
	if out[0].Ticker != "ACME" || out[0].Err != nil || out[0].Result.RunID != "r-ACME" {
		t.Fatalf("unexpected first outcome: %+v", out[0])
	}
	if out[1].Err == nil {
		t.Fatal("failure should be reported")
	}
	if out[2].Ticker != "GLOBEX" || out[2].Err != nil {
		t.Fatalf("a failure should not stop later tickers: %+v", out[2])
	}
	for _, c := range calls {
		if c.date != "2024-05-10" {
			t.Fatalf("run date = %s", c.date)
		}
	}
}

func TestRunNowAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s := NewScheduler(ctx, func(context.Context, string, string) (*models.RunResult, error) {
		called = true
		return nil, nil
	}, func() []string { return []string{"ACME"} }, nil)

	out := s.RunNow()
	if called {
		t.Fatal("no run should start after cancellation")
	}
	if len(out) != 1 || !errors.Is(out[0].Err, context.Canceled) {
		t.Fatalf("unexpected outcomes: %+v", out)
	}
}

func TestRegister(t *testing.T) {
	s := NewScheduler(context.Background(), nil, func() []string { return nil }, nil)
	if err := s.Register("not a schedule"); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
	if !s.Next().IsZero() {
		t.Fatal("nothing registered yet")
	}
	if err := s.Register("30 16 * * 1-5"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start()
	defer s.Stop()
	if s.Next().IsZero() {
		t.Fatal("next run should be scheduled once started")
	}
}
