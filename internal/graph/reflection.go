package graph

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/agents"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

// MemoryWriter is the write side of the memory store.
type MemoryWriter interface {
	Record(ctx context.Context, role consts.Role, situation, lesson string, outcome *float64) (models.MemoryRecord, error)
}

// Reflector turns a finished run and its realized return into one lesson
// per contributing role. It runs out of band, never during a live run.
type Reflector struct {
	agent  *agents.Agent
	memory MemoryWriter
	logger *logging.Logger
}

func NewReflector(team *agents.Team, memory MemoryWriter, logger *logging.Logger) (*Reflector, error) {
	agent, err := team.Agent(consts.RoleReflector)
	if err != nil {
		return nil, err
	}
	if memory == nil {
		return nil, fmt.Errorf("reflector: memory store is required")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Reflector{agent: agent, memory: memory, logger: logger.WithRole(string(consts.RoleReflector))}, nil
}

// Contribution is what one role said during a run.
type Contribution struct {
	Role consts.Role
	Text string
}

// Contributions lists every memory-bearing role that said something in
// trail, in stage order. Failed and skipped debate turns are left out.
func Contributions(trail models.AuditTrail) []Contribution {
	var out []Contribution
	add := func(role consts.Role, text string) {
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, Contribution{Role: role, Text: text})
		}
	}
	spoken := func(rec models.DebateRecord, role consts.Role) string {
		var parts []string
		for _, t := range rec.Transcript.TurnsBy(role) {
			if t.Status == models.TurnOK {
				parts = append(parts, t.Utterance)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	verdict := func(rec models.DebateRecord) string {
		if rec.Verdict == nil || rec.Verdict.Degraded {
			return ""
		}
		return rec.Verdict.Text
	}

	add(consts.RoleBullResearcher, spoken(trail.ResearchDebate, consts.RoleBullResearcher))
	add(consts.RoleBearResearcher, spoken(trail.ResearchDebate, consts.RoleBearResearcher))
	add(consts.RoleResearchManager, verdict(trail.ResearchDebate))
	if !trail.TradePlan.Degraded {
		add(consts.RoleTrader, trail.TradePlan.Text)
	}
	add(consts.RoleAggressiveDebator, spoken(trail.RiskDebate, consts.RoleAggressiveDebator))
	add(consts.RoleConservativeDebator, spoken(trail.RiskDebate, consts.RoleConservativeDebator))
	add(consts.RoleNeutralDebator, spoken(trail.RiskDebate, consts.RoleNeutralDebator))
	add(consts.RoleRiskJudge, verdict(trail.RiskDebate))
	if d := trail.FinalDecision; d.Source == consts.RolePortfolioManager {
		add(consts.RolePortfolioManager, fmt.Sprintf("Decision: %s\n\n%s", d.Action, d.Rationale))
	}
	return out
}

// Reflect records one lesson per contributing role. A failure for one role
// does not stop the others; all failures are returned joined.
func (r *Reflector) Reflect(ctx context.Context, trail models.AuditTrail, returns float64) (int, error) {
	if math.IsNaN(returns) || math.IsInf(returns, 0) {
		return 0, fmt.Errorf("reflector: returns must be finite, got %v", returns)
	}
	situation := trail.Situation()
	outcome := fmt.Sprintf("Final action: %s\nRealized return: %+.2f%%", trail.FinalDecision.Action, returns*100)

	var (
		recorded int
		errs     []error
	)
	for _, c := range Contributions(trail) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		lesson, err := r.agent.Produce(ctx, agents.PromptContext{
			Ticker: trail.Ticker,
			AsOf:   trail.AsOf,
			Sections: []models.Section{
				{Title: "Market situation", Body: situation},
				{Title: "Role", Body: string(c.Role)},
				{Title: "Contribution", Body: c.Text},
				{Title: "Outcome", Body: outcome},
			},
		})
		if err == nil && strings.TrimSpace(lesson) == "" {
			err = &errors.MalformedOutputError{Role: string(consts.RoleReflector), Reason: "empty lesson"}
		}
		if err != nil {
			r.logger.Warn("reflection failed", "target", c.Role, "error", err)
			errs = append(errs, fmt.Errorf("reflect %s: %w", c.Role, err))
			continue
		}
		ret := returns
		if _, err := r.memory.Record(ctx, c.Role, situation, strings.TrimSpace(lesson), &ret); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", c.Role, err))
			continue
		}
		recorded++
	}
	r.logger.Info("reflection finished", "ticker", trail.Ticker, "as_of", trail.AsOf, "recorded", recorded)
	return recorded, errors.Join(errs...)
}
