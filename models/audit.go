package models

import (
	"time"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
)

// RunParams are the run-level parameters echoed into the audit trail.
type RunParams struct {
	AnalystKinds      []consts.AnalystKind `json:"analyst_kinds"`
	MaxResearchRounds int                  `json:"max_research_rounds"`
	MaxRiskRounds     int                  `json:"max_risk_rounds"`
	MemoryK           int                  `json:"memory_k"`
}

// AuditTrail reconstructs the decision path of one run. It holds no
// wall-clock data, so identical inputs serialize identically.
type AuditTrail struct {
	Ticker         string          `json:"ticker"`
	AsOf           string          `json:"as_of"`
	Params         RunParams       `json:"params"`
	Stages         []consts.Stage  `json:"stages"`
	AnalystReports []AnalystReport `json:"analyst_reports"`
	ResearchDebate DebateRecord    `json:"research_debate"`
	TradePlan      TradePlan       `json:"trade_plan"`
	RiskDebate     DebateRecord    `json:"risk_debate"`
	FinalDecision  FinalDecision   `json:"final_decision"`
}

// Situation is the memory query text the run used.
func (t AuditTrail) Situation() string {
	return SituationFromReports(t.AnalystReports)
}

// AuditTrail snapshots a finished state.
func (s *DecisionState) AuditTrail(params RunParams) (AuditTrail, error) {
	if s.Stage != consts.StageEnd {
		return AuditTrail{}, errors.Invariantf("audit trail requested at stage %s", s.Stage)
	}
	if s.ResearchDebate == nil || s.TradePlan == nil || s.RiskDebate == nil || s.FinalDecision == nil {
		return AuditTrail{}, errors.Invariantf("audit trail requested for incomplete state")
	}
	params.AnalystKinds = append([]consts.AnalystKind(nil), params.AnalystKinds...)
	return AuditTrail{
		Ticker:         s.Ticker,
		AsOf:           s.AsOf,
		Params:         params,
		Stages:         append([]consts.Stage(nil), s.Stages...),
		AnalystReports: append([]AnalystReport(nil), s.AnalystReports...),
		ResearchDebate: s.ResearchDebate.Clone(),
		TradePlan:      *s.TradePlan,
		RiskDebate:     s.RiskDebate.Clone(),
		FinalDecision:  s.FinalDecision.Clone(),
	}, nil
}

// RunResult is what a pipeline run returns.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Decision FinalDecision `json:"decision"`
	Trail    AuditTrail    `json:"trail"`
}

// RunRecord is what result persistence stores, keyed by (ticker, as_of, run_id).
type RunRecord struct {
	RunID     string     `json:"run_id"`
	CreatedAt time.Time  `json:"created_at"`
	Trail     AuditTrail `json:"trail"`
}

// RunSummary is a row of the run history listing.
type RunSummary struct {
	RunID     string
	Ticker    string
	AsOf      string
	Action    Action
	Flagged   bool
	CreatedAt time.Time
}
