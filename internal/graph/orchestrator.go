// Package graph drives one decision run through the fixed stage sequence
// START -> ANALYSTS -> RESEARCH_DEBATE -> TRADE_PLAN -> RISK_DEBATE ->
// FINAL_DECISION -> END and produces the audit trail.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/agents"
	"github.com/dyike/cortexdesk/internal/analysts"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/debate"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/llm"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/internal/synthesis"
	"github.com/dyike/cortexdesk/models"
)

const dateLayout = "2006-01-02"

// Deps are the external collaborators of a pipeline. Memory may be nil;
// Registry defaults to the embedded role table.
type Deps struct {
	Fetcher  dataflows.Fetcher
	Invoker  llm.Invoker
	Registry *agents.Registry
	Memory   debate.MemoryReader
	Logger   *logging.Logger
}

// Pipeline is the orchestrator. It is the only writer of a run's
// DecisionState; stages receive snapshot views and return values that the
// pipeline merges. A Pipeline may run several tickers concurrently.
type Pipeline struct {
	team     *agents.Team
	analysts *analysts.Stage
	engine   *debate.Engine
	trader   *synthesis.Trader
	pm       *synthesis.PortfolioManager
	logger   *logging.Logger
	runnable compose.Runnable[*runState, *runState]
}

func NewPipeline(ctx context.Context, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Invoker == nil {
		return nil, fmt.Errorf("pipeline: fetcher and invoker are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	reg := deps.Registry
	if reg == nil {
		var err error
		if reg, err = agents.LoadRegistry(); err != nil {
			return nil, err
		}
	}
	team := agents.NewTeam(reg, deps.Invoker)

	trader, err := synthesis.NewTrader(team, deps.Memory, logger)
	if err != nil {
		return nil, err
	}
	pm, err := synthesis.NewPortfolioManager(team, deps.Memory, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		team:     team,
		analysts: analysts.NewStage(deps.Fetcher, team, logger),
		engine:   debate.NewEngine(deps.Memory, logger),
		trader:   trader,
		pm:       pm,
		logger:   logger,
	}
	if p.runnable, err = buildGraph(ctx, p); err != nil {
		return nil, fmt.Errorf("pipeline: compile graph: %w", err)
	}
	return p, nil
}

// Team exposes the agents, for reflection.
func (p *Pipeline) Team() *agents.Team { return p.team }

func newRunID() string { return uuid.NewString() }

type runOptions struct {
	runID    string
	progress ProgressFunc
}

type RunOption func(*runOptions)

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

func WithProgress(fn ProgressFunc) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// runState is what flows through the graph. caller is the context the run
// was started with; stages consult it for cancellation while the graph
// itself runs detached so every stage still executes.
type runState struct {
	caller context.Context
	rc     config.RunConfig
	asOf   time.Time
	logic  *ConditionalLogic
	state  *models.DecisionState
}

// Run executes one decision run for ticker as of asOf.
//
// Cancellation never aborts a run: stages reached after cancellation
// produce degraded output and Run still returns a complete, well-formed
// result. An error is returned only for invalid input or a broken
// state-machine invariant.
func (p *Pipeline) Run(ctx context.Context, ticker string, asOf time.Time, rc config.RunConfig, opts ...RunOption) (*models.RunResult, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = newRunID()
	}

	ticker = dataflows.NormalizeSymbol(ticker)
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	log := p.logger.WithRun(o.runID, ticker)
	rs := &runState{
		caller: ctx,
		rc:     rc,
		asOf:   asOf,
		logic:  NewConditionalLogic(p.team, rc),
		state:  models.NewDecisionState(ticker, asOf.Format(dateLayout), rc.AnalystKinds),
	}

	log.Info("run started", "as_of", rs.state.AsOf, "analysts", len(rc.AnalystKinds),
		"research_rounds", rc.MaxResearchRounds, "risk_rounds", rc.MaxRiskRounds)

	out, err := p.runnable.Invoke(context.WithoutCancel(ctx), rs,
		compose.WithCallbacks(NewLoggerCallback(o.runID, log, o.progress)))
	if err != nil {
		log.Error("run failed", "error", err)
		return nil, fmt.Errorf("run %s: %w", o.runID, err)
	}
	if err := out.state.Advance(consts.StageEnd); err != nil {
		return nil, err
	}
	trail, err := out.state.AuditTrail(rc.Params())
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		log.Warn("run canceled, returning degraded record", "error", ctx.Err())
	}

	log.Info("run finished", "action", trail.FinalDecision.Action,
		"confidence", trail.FinalDecision.Confidence, "flagged", trail.FinalDecision.Flagged)
	return &models.RunResult{RunID: o.runID, Decision: trail.FinalDecision.Clone(), Trail: trail}, nil
}

func (p *Pipeline) runAnalysts(_ context.Context, rs *runState) (*runState, error) {
	if err := rs.state.Advance(consts.StageAnalysts); err != nil {
		return nil, err
	}
	reports := p.analysts.Run(rs.caller, rs.state.Ticker, rs.asOf, rs.rc.AnalystKinds, rs.rc.AnalystTimeout)
	return rs, rs.state.ApplyAnalystReports(reports)
}

func (p *Pipeline) runResearchDebate(_ context.Context, rs *runState) (*runState, error) {
	// every configured analyst must have reached a terminal status
	if len(rs.state.AnalystReports) != len(rs.state.AnalystKinds) {
		return nil, errors.Invariantf("research debate opened with %d of %d analyst reports",
			len(rs.state.AnalystReports), len(rs.state.AnalystKinds))
	}
	if err := rs.state.Advance(consts.StageResearchDebate); err != nil {
		return nil, err
	}
	rec, err := p.engine.Run(rs.caller, rs.logic.ResearchDebate(), ResearchContext(rs.state.View()))
	if err != nil {
		return nil, err
	}
	return rs, rs.state.ApplyResearchDebate(*rec)
}

func (p *Pipeline) runTradePlan(_ context.Context, rs *runState) (*runState, error) {
	if err := rs.state.Advance(consts.StageTradePlan); err != nil {
		return nil, err
	}
	plan := p.trader.Plan(rs.caller, rs.state.View(), rs.rc.MemoryK)
	return rs, rs.state.ApplyTradePlan(plan)
}

func (p *Pipeline) runRiskDebate(_ context.Context, rs *runState) (*runState, error) {
	if err := rs.state.Advance(consts.StageRiskDebate); err != nil {
		return nil, err
	}
	rec, err := p.engine.Run(rs.caller, rs.logic.RiskDebate(), RiskContext(rs.state.View()))
	if err != nil {
		return nil, err
	}
	return rs, rs.state.ApplyRiskDebate(*rec)
}

func (p *Pipeline) runFinalDecision(_ context.Context, rs *runState) (*runState, error) {
	if err := rs.state.Advance(consts.StageFinalDecision); err != nil {
		return nil, err
	}
	d := p.pm.Decide(rs.caller, rs.state.View(), rs.rc.MemoryK)
	return rs, rs.state.ApplyFinalDecision(d)
}

// summary is the one-line outcome of stage, for logs and progress.
func (rs *runState) summary(stage consts.Stage) string {
	s := rs.state
	switch stage {
	case consts.StageAnalysts:
		ok := 0
		for _, r := range s.AnalystReports {
			if r.Available() {
				ok++
			}
		}
		return fmt.Sprintf("%d of %d reports available", ok, len(s.AnalystReports))
	case consts.StageResearchDebate:
		return debateSummary(s.ResearchDebate)
	case consts.StageRiskDebate:
		return debateSummary(s.RiskDebate)
	case consts.StageTradePlan:
		if s.TradePlan != nil && s.TradePlan.Degraded {
			return "degraded: " + s.TradePlan.Note
		}
		return "plan ready"
	case consts.StageFinalDecision:
		if s.FinalDecision == nil {
			return ""
		}
		out := fmt.Sprintf("%s (%s confidence)", s.FinalDecision.Action, s.FinalDecision.Confidence)
		if len(s.FinalDecision.Warnings) > 0 {
			out += ": " + strings.Join(s.FinalDecision.Warnings, "; ")
		}
		return out
	}
	return ""
}

func debateSummary(rec *models.DebateRecord) string {
	if rec == nil {
		return ""
	}
	out := fmt.Sprintf("%d turns over %d round(s)", len(rec.Transcript.Turns), rec.Transcript.RoundIndex)
	switch {
	case rec.Transcript.Terminated:
		out += ", terminated early"
	case rec.Verdict != nil && rec.Verdict.Degraded:
		out += ", verdict degraded"
	}
	return out
}
