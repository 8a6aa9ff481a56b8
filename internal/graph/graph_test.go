package graph

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows/flowtest"
	"github.com/dyike/cortexdesk/internal/llm"
	"github.com/dyike/cortexdesk/internal/llm/llmtest"
	"github.com/dyike/cortexdesk/internal/memory"
	"github.com/dyike/cortexdesk/internal/storage"
	"github.com/dyike/cortexdesk/internal/storage/sqlite"
	"github.com/dyike/cortexdesk/models"
)

const (
	bullish = "Momentum and earnings both point up. I recommend we BUY."
	neutral = "Balanced outlook with no clear edge."
)

var asOf = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func acmeInvoker() *llmtest.Scripted {
	return llmtest.New(map[consts.Role]string{
		consts.RoleBullResearcher:    bullish,
		consts.RoleTrader:            bullish,
		consts.RoleAggressiveDebator: bullish,
	}, neutral)
}

func newPipeline(t *testing.T, fetcher *flowtest.Stub, inv llm.Invoker, mem *memory.Store) *Pipeline {
	t.Helper()
	deps := Deps{Fetcher: fetcher, Invoker: inv}
	if mem != nil {
		deps.Memory = mem
	}
	p, err := NewPipeline(context.Background(), deps)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func oneRound() config.RunConfig {
	rc := config.DefaultRunConfig()
	rc.MaxResearchRounds = 1
	rc.MaxRiskRounds = 1
	return rc
}

func TestRunBullishScenario(t *testing.T) {
	inv := acmeInvoker()
	p := newPipeline(t, flowtest.Full("ACME"), inv, nil)

	res, err := p.Run(context.Background(), "acme", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	trail := res.Trail

	if trail.Ticker != "ACME" || trail.AsOf != "2024-05-10" {
		t.Fatalf("unexpected identity %s %s", trail.Ticker, trail.AsOf)
	}
	if !reflect.DeepEqual(trail.Stages, consts.Stages()) {
		t.Fatalf("stages = %v", trail.Stages)
	}
	if len(trail.AnalystReports) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(trail.AnalystReports))
	}
	for _, r := range trail.AnalystReports {
		if !r.Available() {
			t.Fatalf("report %s unavailable: %s", r.Kind, r.Reason)
		}
	}
	if n := len(trail.ResearchDebate.Transcript.Turns); n != 2 {
		t.Fatalf("research debate should have 2 turns, got %d", n)
	}
	if n := len(trail.RiskDebate.Transcript.Turns); n != 3 {
		t.Fatalf("risk debate should have 3 turns, got %d", n)
	}
	if !trail.ResearchDebate.Complete() || !trail.RiskDebate.Complete() {
		t.Fatal("both debates should be complete")
	}

	d := res.Decision
	if d.Action != models.ActionBuy {
		t.Fatalf("expected BUY, got %s", d.Action)
	}
	if d.Source != consts.RoleTrader {
		t.Fatalf("expected the trade plan to carry the decision, got %s", d.Source)
	}
	if !d.Flagged || d.Confidence != models.ConfidenceNormal {
		t.Fatalf("adopted decision should be flagged with normal confidence: %+v", d)
	}
	if len(d.Warnings) != 1 || !strings.Contains(d.Warnings[0], "named no action") {
		t.Fatalf("expected one adoption warning, got %v", d.Warnings)
	}
	if inv.Calls(consts.RolePortfolioManager) != 1 || inv.Calls(consts.RoleResearchManager) != 1 {
		t.Fatal("each judge and the portfolio manager should be invoked once")
	}
	if res.RunID == "" {
		t.Fatal("run id should be generated")
	}
}

func TestRunMarketDataUnavailable(t *testing.T) {
	fetcher := flowtest.Full("ACME")
	fetcher.Fail = map[consts.AnalystKind]bool{consts.AnalystMarket: true}
	p := newPipeline(t, fetcher, acmeInvoker(), nil)

	res, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var market models.AnalystReport
	for _, r := range res.Trail.AnalystReports {
		if r.Kind == consts.AnalystMarket {
			market = r
		}
	}
	if market.Status != models.ReportUnavailable || market.Reason == "" {
		t.Fatalf("market report should be unavailable with a reason: %+v", market)
	}
	if !res.Decision.Action.Valid() {
		t.Fatalf("a decision should still be produced, got %q", res.Decision.Action)
	}
}

func TestRunConflictingDecisionHolds(t *testing.T) {
	inv := acmeInvoker()
	inv.Responses[consts.RolePortfolioManager] = "FINAL DECISION: BUY\n\nOn reflection, FINAL DECISION: SELL"
	p := newPipeline(t, flowtest.Full("ACME"), inv, nil)

	res, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	d := res.Decision
	if d.Action != models.ActionHold || !d.Flagged {
		t.Fatalf("expected flagged HOLD, got %+v", d)
	}
	if len(d.Warnings) == 0 || !strings.Contains(d.Warnings[0], "HOLD") {
		t.Fatalf("expected a parse warning, got %v", d.Warnings)
	}
}

func TestRunGarbledDecisionIsFlagged(t *testing.T) {
	inv := acmeInvoker()
	inv.Responses[consts.RolePortfolioManager] = "???"
	p := newPipeline(t, flowtest.Full("ACME"), inv, nil)

	res, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	d := res.Decision
	if d.Action != models.ActionBuy || d.Source != consts.RoleTrader {
		t.Fatalf("expected BUY adopted from the trader, got %+v", d)
	}
	if !d.Flagged || len(d.Warnings) == 0 || !strings.Contains(d.Warnings[0], "adopted BUY from trader") {
		t.Fatalf("garbled manager output must be flagged, got %+v", d)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() []byte {
		p := newPipeline(t, flowtest.Full("ACME"), acmeInvoker(), memory.NewInMemoryStore(64))
		res, err := p.Run(context.Background(), "ACME", asOf, oneRound(), WithRunID("fixed"))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		out, err := json.Marshal(res.Trail)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}
	first, second := run(), run()
	if string(first) != string(second) {
		t.Fatalf("audit trails differ:\n%s\n%s", first, second)
	}
}

func TestRunAllReportsUnavailable(t *testing.T) {
	fetcher := flowtest.Full("ACME")
	fetcher.Fail = make(map[consts.AnalystKind]bool)
	for _, k := range consts.AnalystKinds() {
		fetcher.Fail[k] = true
	}
	p := newPipeline(t, fetcher, acmeInvoker(), nil)

	res, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Trail.Stages[len(res.Trail.Stages)-1] != consts.StageEnd {
		t.Fatalf("run should reach END, got %v", res.Trail.Stages)
	}
	d := res.Decision
	if d.Confidence != models.ConfidenceLow || !d.Flagged {
		t.Fatalf("expected low-confidence flagged decision, got %+v", d)
	}
}

func TestRunZeroRounds(t *testing.T) {
	inv := acmeInvoker()
	p := newPipeline(t, flowtest.Full("ACME"), inv, nil)
	rc := oneRound()
	rc.MaxResearchRounds = 0

	res, err := p.Run(context.Background(), "ACME", asOf, rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(res.Trail.ResearchDebate.Transcript.Turns); n != 0 {
		t.Fatalf("expected no research turns, got %d", n)
	}
	if inv.Calls(consts.RoleBullResearcher) != 0 {
		t.Fatal("bull should not speak with zero rounds")
	}
	if inv.Calls(consts.RoleResearchManager) != 1 {
		t.Fatal("research manager should still judge")
	}
}

func TestRunCanceledMidDebate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := acmeInvoker()
	var once sync.Once
	inv.OnInvoke = func(_ context.Context, req llm.Request) {
		if req.Role == consts.RoleBullResearcher {
			once.Do(cancel)
		}
	}
	p := newPipeline(t, flowtest.Full("ACME"), inv, nil)

	res, err := p.Run(ctx, "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("canceled run should still return a record: %v", err)
	}
	trail := res.Trail
	if !reflect.DeepEqual(trail.Stages, consts.Stages()) {
		t.Fatalf("stages = %v", trail.Stages)
	}

	research := trail.ResearchDebate.Transcript
	if !research.Terminated || len(research.Turns) != 2 {
		t.Fatalf("research debate should be terminated with a padded round: %+v", research)
	}
	if research.Turns[0].Status != models.TurnOK || research.Turns[1].Status != models.TurnSkipped {
		t.Fatalf("in-flight turn should finish and the next be skipped: %+v", research.Turns)
	}
	if !trail.RiskDebate.Transcript.Terminated || len(trail.RiskDebate.Transcript.Turns) != 0 {
		t.Fatalf("risk debate should terminate before any turn: %+v", trail.RiskDebate.Transcript)
	}
	if !trail.TradePlan.Degraded {
		t.Fatal("trade plan should be degraded")
	}

	d := res.Decision
	if d.Action != models.ActionHold || d.Confidence != models.ConfidenceLow || !d.Flagged {
		t.Fatalf("expected low-confidence HOLD, got %+v", d)
	}
	if inv.Calls(consts.RoleBearResearcher) != 0 || inv.Calls(consts.RolePortfolioManager) != 0 {
		t.Fatal("no role should be invoked after cancellation")
	}
}

func TestRunEmitsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		events []models.StageEvent
	)
	p := newPipeline(t, flowtest.Full("ACME"), acmeInvoker(), nil)
	res, err := p.Run(context.Background(), "ACME", asOf, oneRound(), WithProgress(func(ev models.StageEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 10 {
		t.Fatalf("expected a start and finish per stage, got %d: %+v", len(events), events)
	}
	stages := consts.Stages()[1:6]
	for i, st := range stages {
		start, end := events[2*i], events[2*i+1]
		if start.Stage != st || start.Status != models.StageStarted {
			t.Fatalf("event %d = %+v, want %s started", 2*i, start, st)
		}
		if end.Stage != st || end.Status != models.StageFinished {
			t.Fatalf("event %d = %+v, want %s finished", 2*i+1, end, st)
		}
		if start.RunID != res.RunID {
			t.Fatalf("event carries run id %q, want %q", start.RunID, res.RunID)
		}
	}
	if !strings.Contains(events[9].Detail, "BUY") {
		t.Fatalf("final stage detail should name the action: %q", events[9].Detail)
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	p := newPipeline(t, flowtest.Full("ACME"), acmeInvoker(), nil)

	if _, err := p.Run(context.Background(), "  ", asOf, oneRound()); err == nil {
		t.Fatal("expected an error for an empty ticker")
	}
	if _, err := p.Run(context.Background(), "AC ME", asOf, oneRound()); err == nil {
		t.Fatal("expected an error for an invalid ticker")
	}
	rc := oneRound()
	rc.AnalystKinds = nil
	if _, err := p.Run(context.Background(), "ACME", asOf, rc); err == nil {
		t.Fatal("expected an error for an empty analyst selection")
	}
}

func TestPropagatePersistsRunAndEvents(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	var captured []models.RunRecord
	capture := storage.WriterFunc(func(_ context.Context, rec models.RunRecord) error {
		captured = append(captured, rec)
		return nil
	})

	var progressed int
	g := NewTradingAgentsGraph(newPipeline(t, flowtest.Full("ACME"), acmeInvoker(), nil), nil,
		WithWriters(storage.NewSQLiteWriter(store), capture),
		WithEventStore(store))

	res, err := g.Propagate(context.Background(), "ACME", "2024-05-10", oneRound(), func(models.StageEvent) { progressed++ })
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if progressed != 10 {
		t.Fatalf("progress should still be forwarded, got %d events", progressed)
	}
	if len(captured) != 1 || captured[0].RunID != res.RunID {
		t.Fatalf("writer got %+v", captured)
	}

	loaded, err := store.LoadRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.Trail.FinalDecision.Action != models.ActionBuy {
		t.Fatalf("stored action = %s", loaded.Trail.FinalDecision.Action)
	}
	events, err := store.ListEvents(context.Background(), res.RunID)
	if err != nil || len(events) != 10 {
		t.Fatalf("ListEvents = %d, %v", len(events), err)
	}

	if _, err := g.Propagate(context.Background(), "ACME", "10 May", oneRound(), nil); err == nil {
		t.Fatal("expected an error for an unparseable date")
	}
}

func TestReflectRecordsLessons(t *testing.T) {
	mem := memory.NewInMemoryStore(64)
	inv := acmeInvoker()
	inv.Responses[consts.RoleReflector] = "Lesson: momentum calls paid off when fundamentals agreed."
	p := newPipeline(t, flowtest.Full("ACME"), inv, mem)

	res, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	reflector, err := NewReflector(p.Team(), mem, nil)
	if err != nil {
		t.Fatalf("NewReflector: %v", err)
	}
	g := NewTradingAgentsGraph(p, nil, WithReflector(reflector))

	n, err := g.ReflectAndRemember(context.Background(), res.Trail, 0.042)
	if err != nil {
		t.Fatalf("ReflectAndRemember: %v", err)
	}
	if want := len(Contributions(res.Trail)); n != want || n == 0 {
		t.Fatalf("recorded %d lessons, want %d", n, want)
	}
	for role, want := range map[consts.Role]int{
		consts.RoleBullResearcher:   1,
		consts.RoleTrader:           1,
		consts.RoleRiskJudge:        1,
		consts.RolePortfolioManager: 0,
	} {
		got, err := mem.Count(context.Background(), role)
		if err != nil || got != want {
			t.Fatalf("%s lessons = %d (%v), want %d", role, got, err, want)
		}
	}

	// the next run sees the lesson
	again, err := p.Run(context.Background(), "ACME", asOf, oneRound())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(again.Trail.ResearchDebate.Transcript.Turns[0].Memories) == 0 {
		t.Fatal("bull should recall the recorded lesson")
	}

	if _, err := reflector.Reflect(context.Background(), res.Trail, 1.0/zero()); err == nil {
		t.Fatal("expected an error for a non-finite return")
	}
}

func TestReflectWithoutReflector(t *testing.T) {
	g := NewTradingAgentsGraph(newPipeline(t, flowtest.Full("ACME"), acmeInvoker(), nil), nil)
	if _, err := g.ReflectAndRemember(context.Background(), models.AuditTrail{}, 0.01); err == nil {
		t.Fatal("expected an error without a reflector")
	}
}

func zero() float64 { return 0 }
