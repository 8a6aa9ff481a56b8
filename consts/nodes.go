package consts

// Stage is a node of the decision graph. Stages only move forward.
type Stage string

const (
	StageStart          Stage = "START"
	StageAnalysts       Stage = "ANALYSTS"
	StageResearchDebate Stage = "RESEARCH_DEBATE"
	StageTradePlan      Stage = "TRADE_PLAN"
	StageRiskDebate     Stage = "RISK_DEBATE"
	StageFinalDecision  Stage = "FINAL_DECISION"
	StageEnd            Stage = "END"
)

var stageOrder = []Stage{
	StageStart,
	StageAnalysts,
	StageResearchDebate,
	StageTradePlan,
	StageRiskDebate,
	StageFinalDecision,
	StageEnd,
}

// Stages returns the stage sequence from START to END.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Next returns the successor of s. END has no successor.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Graph node keys used by the orchestrator.
const (
	NodeAnalysts       = "analysts"
	NodeResearchDebate = "research_debate"
	NodeTradePlan      = "trade_plan"
	NodeRiskDebate     = "risk_debate"
	NodeFinalDecision  = "final_decision"

	GraphName = "cortexdesk-decision"
)

// Debate names.
const (
	DebateResearch = "research"
	DebateRisk     = "risk"
)
