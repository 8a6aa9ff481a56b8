package models

import "github.com/dyike/cortexdesk/consts"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

type Confidence string

const (
	ConfidenceNormal Confidence = "normal"
	ConfidenceLow    Confidence = "low"
)

// FinalDecision is the terminal output of a run.
type FinalDecision struct {
	Action     Action      `json:"action"`
	Rationale  string      `json:"rationale"`
	Source     consts.Role `json:"source"`
	Confidence Confidence  `json:"confidence"`
	Warnings   []string    `json:"warnings,omitempty"`
	Flagged    bool        `json:"flagged"`
}

// Warn records a warning and flags the decision.
func (d *FinalDecision) Warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
	d.Flagged = true
}

func (d FinalDecision) Clone() FinalDecision {
	d.Warnings = append([]string(nil), d.Warnings...)
	return d
}

// TradePlan is the trader's synthesis of the research verdict.
type TradePlan struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
	Note     string `json:"note,omitempty"`
}

type ReportStatus string

const (
	ReportOK          ReportStatus = "ok"
	ReportUnavailable ReportStatus = "unavailable"
)

// AnalystReport is one analyst's output. Unavailable reports carry the
// reason instead of text.
type AnalystReport struct {
	Kind   consts.AnalystKind `json:"kind"`
	Status ReportStatus       `json:"status"`
	Text   string             `json:"text,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Source string             `json:"source,omitempty"`
}

func (r AnalystReport) Available() bool {
	return r.Status == ReportOK
}

// UnavailableReport builds the degraded report for kind.
func UnavailableReport(kind consts.AnalystKind, reason string) AnalystReport {
	return AnalystReport{Kind: kind, Status: ReportUnavailable, Reason: reason}
}

// Section is one titled block of context handed to a role.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
