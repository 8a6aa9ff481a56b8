package models

import (
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
)

// DecisionState is the per-run record threaded through the stage graph.
// Only the orchestrator mutates it, through the Apply methods; each field is
// written once, in stage order.
type DecisionState struct {
	Ticker         string               `json:"ticker"`
	AsOf           string               `json:"as_of"`
	Stage          consts.Stage         `json:"stage"`
	Stages         []consts.Stage       `json:"stages"`
	AnalystKinds   []consts.AnalystKind `json:"analyst_kinds"`
	AnalystReports []AnalystReport      `json:"analyst_reports"`
	ResearchDebate *DebateRecord        `json:"research_debate,omitempty"`
	TradePlan      *TradePlan           `json:"trade_plan,omitempty"`
	RiskDebate     *DebateRecord        `json:"risk_debate,omitempty"`
	FinalDecision  *FinalDecision       `json:"final_decision,omitempty"`

	reportsWritten bool
}

func NewDecisionState(ticker, asOf string, kinds []consts.AnalystKind) *DecisionState {
	return &DecisionState{
		Ticker:       ticker,
		AsOf:         asOf,
		Stage:        consts.StageStart,
		Stages:       []consts.Stage{consts.StageStart},
		AnalystKinds: append([]consts.AnalystKind(nil), kinds...),
	}
}

// Advance moves to the successor stage. Any other target is rejected.
func (s *DecisionState) Advance(to consts.Stage) error {
	next, ok := s.Stage.Next()
	if !ok || next != to {
		return errors.Invariantf("transition %s -> %s not allowed", s.Stage, to)
	}
	s.Stage = to
	s.Stages = append(s.Stages, to)
	return nil
}

func (s *DecisionState) requireStage(stage consts.Stage, what string) error {
	if s.Stage != stage {
		return errors.Invariantf("%s written during %s, expected %s", what, s.Stage, stage)
	}
	return nil
}

// ApplyAnalystReports stores one report per configured kind, in configured
// order.
func (s *DecisionState) ApplyAnalystReports(reports []AnalystReport) error {
	if err := s.requireStage(consts.StageAnalysts, "analyst reports"); err != nil {
		return err
	}
	if s.reportsWritten {
		return errors.Invariantf("analyst reports already written")
	}
	byKind := make(map[consts.AnalystKind]AnalystReport, len(reports))
	for _, r := range reports {
		if _, dup := byKind[r.Kind]; dup {
			return errors.Invariantf("analyst report %s written twice", r.Kind)
		}
		byKind[r.Kind] = r
	}
	ordered := make([]AnalystReport, 0, len(s.AnalystKinds))
	for _, kind := range s.AnalystKinds {
		r, ok := byKind[kind]
		if !ok {
			return errors.Invariantf("analyst report %s missing", kind)
		}
		ordered = append(ordered, r)
		delete(byKind, kind)
	}
	if len(byKind) > 0 {
		return errors.Invariantf("%d analyst report(s) were not requested", len(byKind))
	}
	s.AnalystReports = ordered
	s.reportsWritten = true
	return nil
}

func (s *DecisionState) ApplyResearchDebate(rec DebateRecord) error {
	if err := s.requireStage(consts.StageResearchDebate, "research debate"); err != nil {
		return err
	}
	if s.ResearchDebate != nil {
		return errors.Invariantf("research debate already written")
	}
	if !rec.Complete() {
		return errors.Invariantf("research debate record incomplete")
	}
	s.ResearchDebate = &rec
	return nil
}

func (s *DecisionState) ApplyTradePlan(plan TradePlan) error {
	if err := s.requireStage(consts.StageTradePlan, "trade plan"); err != nil {
		return err
	}
	if s.TradePlan != nil {
		return errors.Invariantf("trade plan already written")
	}
	s.TradePlan = &plan
	return nil
}

func (s *DecisionState) ApplyRiskDebate(rec DebateRecord) error {
	if err := s.requireStage(consts.StageRiskDebate, "risk debate"); err != nil {
		return err
	}
	if s.RiskDebate != nil {
		return errors.Invariantf("risk debate already written")
	}
	if !rec.Complete() {
		return errors.Invariantf("risk debate record incomplete")
	}
	s.RiskDebate = &rec
	return nil
}

func (s *DecisionState) ApplyFinalDecision(d FinalDecision) error {
	if err := s.requireStage(consts.StageFinalDecision, "final decision"); err != nil {
		return err
	}
	if s.FinalDecision != nil {
		return errors.Invariantf("final decision already written")
	}
	if !d.Action.Valid() {
		return errors.Invariantf("final decision action %q invalid", d.Action)
	}
	s.FinalDecision = &d
	return nil
}

// StateView is a read-only snapshot handed to stage functions.
type StateView struct {
	Ticker         string
	AsOf           string
	Stage          consts.Stage
	AnalystReports []AnalystReport
	ResearchDebate *DebateRecord
	TradePlan      *TradePlan
	RiskDebate     *DebateRecord
}

// View deep-copies the state so stage code cannot reach the live record.
func (s *DecisionState) View() StateView {
	v := StateView{
		Ticker:         s.Ticker,
		AsOf:           s.AsOf,
		Stage:          s.Stage,
		AnalystReports: append([]AnalystReport(nil), s.AnalystReports...),
	}
	if s.ResearchDebate != nil {
		rec := s.ResearchDebate.Clone()
		v.ResearchDebate = &rec
	}
	if s.TradePlan != nil {
		plan := *s.TradePlan
		v.TradePlan = &plan
	}
	if s.RiskDebate != nil {
		rec := s.RiskDebate.Clone()
		v.RiskDebate = &rec
	}
	return v
}

// Situation is the memory query text for this run.
func (v StateView) Situation() string {
	return SituationFromReports(v.AnalystReports)
}

// AllReportsUnavailable is true when no analyst produced a report.
func (v StateView) AllReportsUnavailable() bool {
	for _, r := range v.AnalystReports {
		if r.Available() {
			return false
		}
	}
	return true
}

// ReportSections renders each analyst report as a prompt section.
func (v StateView) ReportSections() []Section {
	out := make([]Section, 0, len(v.AnalystReports))
	for _, r := range v.AnalystReports {
		body := r.Text
		if !r.Available() {
			body = "Report unavailable: " + r.Reason
		}
		out = append(out, Section{Title: string(r.Kind) + " report", Body: body})
	}
	return out
}

func (v StateView) TradePlanText() string {
	if v.TradePlan == nil {
		return ""
	}
	return v.TradePlan.Text
}
