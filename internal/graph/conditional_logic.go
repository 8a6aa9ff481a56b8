package graph

import (
	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/agents"
	"github.com/dyike/cortexdesk/internal/debate"
	"github.com/dyike/cortexdesk/models"
)

// ConditionalLogic derives both debates from the run configuration. The
// round bound is the only loop condition of the pipeline; the debate engine
// enforces it.
type ConditionalLogic struct {
	team *agents.Team
	rc   config.RunConfig
}

func NewConditionalLogic(team *agents.Team, rc config.RunConfig) *ConditionalLogic {
	return &ConditionalLogic{team: team, rc: rc}
}

// ResearchDebate is the bull/bear debate judged by the research manager.
func (cl *ConditionalLogic) ResearchDebate() debate.Spec {
	return cl.spec(consts.DebateResearch, cl.rc.MaxResearchRounds, consts.RoleResearchManager,
		consts.RoleBullResearcher, consts.RoleBearResearcher)
}

// RiskDebate is the aggressive/conservative/neutral debate judged by the
// risk judge.
func (cl *ConditionalLogic) RiskDebate() debate.Spec {
	return cl.spec(consts.DebateRisk, cl.rc.MaxRiskRounds, consts.RoleRiskJudge,
		consts.RoleAggressiveDebator, consts.RoleConservativeDebator, consts.RoleNeutralDebator)
}

func (cl *ConditionalLogic) spec(name string, rounds int, judge consts.Role, parties ...consts.Role) debate.Spec {
	ps := make([]debate.Party, len(parties))
	for i, role := range parties {
		ps[i] = debate.Party{Role: role, Speaker: cl.team.Debater(role)}
	}
	return debate.Spec{
		Name:        name,
		Parties:     ps,
		MaxRounds:   rounds,
		Judge:       cl.team.Judge(judge),
		JudgeRole:   judge,
		MemoryK:     cl.rc.MemoryK,
		TurnTimeout: cl.rc.TurnTimeout,
	}
}

// ResearchContext is what the research debate sees: the analyst reports.
func ResearchContext(v models.StateView) debate.Shared {
	return debate.Shared{
		Ticker:    v.Ticker,
		AsOf:      v.AsOf,
		Situation: v.Situation(),
		Sections:  v.ReportSections(),
	}
}

// RiskContext adds the research verdict and the trade plan.
func RiskContext(v models.StateView) debate.Shared {
	shared := ResearchContext(v)
	shared.Sections = append(shared.Sections,
		models.Section{Title: "Research manager's investment plan", Body: orNone(v.ResearchDebate.VerdictText())},
		models.Section{Title: "Trader's plan", Body: orNone(v.TradePlanText())},
	)
	return shared
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
