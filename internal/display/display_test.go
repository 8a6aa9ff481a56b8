package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

func sampleResult() *models.RunResult {
	d := models.FinalDecision{
		Action:     models.ActionHold,
		Rationale:  "Nothing conclusive.",
		Source:     consts.RolePortfolioManager,
		Confidence: models.ConfidenceLow,
	}
	d.Warn("risk debate terminated early")
	return &models.RunResult{
		RunID:    "run-1",
		Decision: d,
		Trail: models.AuditTrail{
			Ticker: "ACME",
			AsOf:   "2024-05-10",
			AnalystReports: []models.AnalystReport{
				{Kind: consts.AnalystMarket, Status: models.ReportOK, Text: "Uptrend intact."},
				models.UnavailableReport(consts.AnalystNews, "news data unavailable"),
			},
			ResearchDebate: models.DebateRecord{
				Transcript: models.DebateTranscript{
					MaxRounds: 1, RoundIndex: 1,
					Turns: []models.Turn{
						{Party: consts.RoleBullResearcher, Round: 1, Utterance: "Buy the dip.", Status: models.TurnOK},
						{Party: consts.RoleBearResearcher, Round: 1, Utterance: "(skipped)", Status: models.TurnSkipped},
					},
				},
				Verdict: &models.Verdict{Judge: consts.RoleResearchManager, Text: "Lean long."},
			},
			TradePlan:  models.TradePlan{Text: "Scale in.", Degraded: true, Note: "canceled"},
			RiskDebate: models.DebateRecord{Transcript: models.DebateTranscript{MaxRounds: 1, Terminated: true}},
		},
	}
}

func TestRenderRun(t *testing.T) {
	out := RenderRun(sampleResult())
	for _, want := range []string{
		"ACME", "2024-05-10", "HOLD", "flagged for review", "risk debate terminated early",
		"Market Analyst", "unavailable: news data unavailable",
		"Bull Researcher", "Bear Researcher (skipped)", "Research Manager verdict", "Lean long.",
		"degraded: canceled", "no arguments were presented", "terminated early", "Nothing conclusive.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered run missing %q", want)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	if !strings.Contains(RenderHistory(nil), "No runs") {
		t.Fatal("empty history should say so")
	}
	out := RenderHistory([]models.RunSummary{
		{RunID: "r2", Ticker: "ACME", AsOf: "2024-05-11", Action: models.ActionSell, Flagged: true, CreatedAt: time.Now()},
		{RunID: "r1", Ticker: "ACME", AsOf: "2024-05-10", Action: models.ActionBuy, CreatedAt: time.Now()},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], "r2") || !strings.Contains(lines[1], "yes") {
		t.Fatalf("unexpected history:\n%s", out)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf)
	clock := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	p.Handle(models.StageEvent{Stage: consts.StageResearchDebate, Status: models.StageStarted})
	clock = clock.Add(1500 * time.Millisecond)
	p.Handle(models.StageEvent{Stage: consts.StageResearchDebate, Status: models.StageFinished, Detail: "2 turns over 1 round(s)"})
	p.Handle(models.StageEvent{Stage: consts.StageRiskDebate, Status: models.StageFailed, Detail: "boom"})

	out := buf.String()
	for _, want := range []string{"research debate...", "2 turns over 1 round(s)", "(1.5s)", "risk debate boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output missing %q:\n%s", want, out)
		}
	}
}
