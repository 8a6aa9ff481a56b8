package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/agents"
	"github.com/dyike/cortexdesk/internal/debate"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

// PortfolioManager turns the risk verdict and trade plan into the final
// decision.
type PortfolioManager struct {
	agent   *agents.Agent
	memory  debate.MemoryReader
	signals *SignalProcessor
	logger  *logging.Logger
}

func NewPortfolioManager(team *agents.Team, memory debate.MemoryReader, logger *logging.Logger) (*PortfolioManager, error) {
	agent, err := team.Agent(consts.RolePortfolioManager)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &PortfolioManager{
		agent:   agent,
		memory:  memory,
		signals: NewSignalProcessor(),
		logger:  logger.WithRole(string(consts.RolePortfolioManager)),
	}, nil
}

// Decide always returns a decision whose action is BUY, SELL or HOLD.
//
// The manager's own text decides when it names one action. Text naming
// conflicting or unknown actions fails closed to HOLD with a warning. Text
// naming no action adopts, with a warning, the first resolvable action of the
// risk verdict, then of the trade plan, and falls back to HOLD with a warning
// when neither resolves. An adopted upstream action keeps normal confidence
// unless the inputs were degraded.
func (pm *PortfolioManager) Decide(ctx context.Context, view models.StateView, k int) models.FinalDecision {
	d := models.FinalDecision{Source: consts.RolePortfolioManager}
	adopted := false

	switch {
	case ctx.Err() != nil:
		d.Action = models.ActionHold
		d.Rationale = "(no decision: run canceled before the portfolio manager was consulted)"
		d.Warn("run canceled: defaulted to HOLD")
	default:
		adopted = pm.decide(ctx, view, k, &d)
	}

	pm.assessConfidence(view, &d, adopted)
	return d
}

// decide reports whether the action was adopted from an upstream stage.
func (pm *PortfolioManager) decide(ctx context.Context, view models.StateView, k int, d *models.FinalDecision) bool {
	text, err := pm.agent.Produce(ctx, agents.PromptContext{
		Ticker: view.Ticker,
		AsOf:   view.AsOf,
		Sections: []models.Section{
			{Title: "Trader's plan", Body: orPlaceholder(view.TradePlanText(), "No trade plan was produced.")},
			{Title: "Risk judge's assessment", Body: orPlaceholder(view.RiskDebate.VerdictText(), "No risk assessment was produced.")},
		},
		Memories: recall(ctx, pm.memory, consts.RolePortfolioManager, view.Situation(), k, pm.logger),
	})
	if err != nil {
		pm.logger.Warn("portfolio manager failed, holding", "error", err)
		d.Action = models.ActionHold
		d.Rationale = "(no decision: the portfolio manager could not be reached)"
		d.Warn("portfolio manager unavailable: defaulted to HOLD")
		return false
	}
	d.Rationale = strings.TrimSpace(text)

	sig := pm.signals.Extract(text)
	switch {
	case sig.Resolved():
		d.Action = sig.Action
		return false
	case sig.Ambiguous:
		malformed := &errors.MalformedOutputError{Role: string(consts.RolePortfolioManager), Reason: sig.Reason}
		pm.logger.Warn("decision not parseable, holding", "error", malformed)
		d.Action = models.ActionHold
		d.Warn(malformed.Error() + ": defaulted to HOLD")
		return false
	}

	fallbacks := []struct {
		role consts.Role
		text string
	}{
		{consts.RoleRiskJudge, view.RiskDebate.VerdictText()},
		{consts.RoleTrader, view.TradePlanText()},
	}
	for _, fb := range fallbacks {
		if s := pm.signals.Extract(fb.text); s.Resolved() {
			pm.logger.Info("decision taken from upstream stage", "source", fb.role, "action", s.Action)
			d.Action = s.Action
			d.Source = fb.role
			d.Warn(fmt.Sprintf("portfolio manager named no action; adopted %s from %s", s.Action, fb.role))
			return true
		}
	}

	malformed := &errors.MalformedOutputError{Role: string(consts.RolePortfolioManager), Reason: sig.Reason}
	pm.logger.Warn("no action anywhere, holding", "error", malformed)
	d.Action = models.ActionHold
	d.Warn(malformed.Error() + ": defaulted to HOLD")
	return false
}

// assessConfidence lowers confidence for degraded inputs and for any HOLD
// forced by decide. An adopted upstream action is flagged but not degraded.
func (pm *PortfolioManager) assessConfidence(view models.StateView, d *models.FinalDecision, adopted bool) {
	low := d.Flagged && !adopted
	if view.AllReportsUnavailable() {
		d.Warn("no analyst report was available")
		low = true
	}
	for _, rec := range []*models.DebateRecord{view.ResearchDebate, view.RiskDebate} {
		if rec == nil {
			continue
		}
		if rec.Transcript.Terminated {
			d.Warn(rec.Name + " debate terminated early")
			low = true
		} else if rec.Verdict != nil && rec.Verdict.Degraded {
			d.Warn(rec.Name + " verdict degraded: " + rec.Verdict.Note)
			low = true
		}
	}
	if view.TradePlan != nil && view.TradePlan.Degraded {
		d.Warn("trade plan degraded: " + view.TradePlan.Note)
		low = true
	}
	d.Confidence = models.ConfidenceNormal
	if low {
		d.Confidence = models.ConfidenceLow
	}
}
