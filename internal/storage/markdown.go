package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyike/cortexdesk/models"
)

// MarkdownWriter writes one directory per run under
// <root>/<TICKER>/<AS_OF>/<run_id>/ with a markdown file per stage and the
// raw trail as JSON.
type MarkdownWriter struct {
	root string
}

func NewMarkdownWriter(root string) *MarkdownWriter {
	return &MarkdownWriter{root: root}
}

// Dir is where rec is written.
func (w *MarkdownWriter) Dir(rec models.RunRecord) string {
	return filepath.Join(w.root, rec.Trail.Ticker, rec.Trail.AsOf, rec.RunID)
}

func (w *MarkdownWriter) Write(ctx context.Context, rec models.RunRecord) error {
	dir := w.Dir(rec)
	trail := rec.Trail

	files := []struct{ name, body string }{
		{"final_decision.md", RenderDecision(trail)},
		{"research_debate.md", RenderDebate("Research Debate", trail.ResearchDebate)},
		{"trade_plan.md", renderTradePlan(trail.TradePlan)},
		{"risk_debate.md", RenderDebate("Risk Debate", trail.RiskDebate)},
	}
	for _, r := range trail.AnalystReports {
		files = append(files, struct{ name, body string }{
			filepath.Join("reports", string(r.Kind)+"_report.md"), renderReport(r),
		})
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeMarkdown(filepath.Join(dir, filepath.Dir(f.name)), filepath.Base(f.name), f.body); err != nil {
			return err
		}
	}

	raw, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trail: %w", err)
	}
	return writeMarkdown(dir, "trail.json", string(raw))
}

func writeMarkdown(dir, fileName, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

// RenderDecision renders the final decision with its warnings.
func RenderDecision(trail models.AuditTrail) string {
	d := trail.FinalDecision
	var b strings.Builder
	fmt.Fprintf(&b, "# Final Decision: %s %s (%s)\n\n", trail.Ticker, trail.AsOf, d.Action)
	fmt.Fprintf(&b, "- Action: **%s**\n- Source: %s\n- Confidence: %s\n", d.Action, d.Source, d.Confidence)
	if len(d.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range d.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	b.WriteString("\n## Rationale\n\n")
	b.WriteString(strings.TrimSpace(d.Rationale))
	b.WriteString("\n")
	return b.String()
}

// RenderDebate renders a transcript turn by turn followed by the verdict.
func RenderDebate(title string, rec models.DebateRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	tr := rec.Transcript
	fmt.Fprintf(&b, "Rounds: %d of %d", tr.RoundIndex, tr.MaxRounds)
	if tr.Terminated {
		b.WriteString(" (terminated early)")
	}
	b.WriteString("\n")
	for _, t := range tr.Turns {
		fmt.Fprintf(&b, "\n## Round %d: %s", t.Round, t.Party)
		if t.Status != models.TurnOK {
			fmt.Fprintf(&b, " [%s]", t.Status)
		}
		fmt.Fprintf(&b, "\n\n%s\n", strings.TrimSpace(t.Utterance))
	}
	if rec.Verdict != nil {
		fmt.Fprintf(&b, "\n## Verdict (%s)", rec.Verdict.Judge)
		if rec.Verdict.Degraded {
			fmt.Fprintf(&b, " [degraded: %s]", rec.Verdict.Note)
		}
		fmt.Fprintf(&b, "\n\n%s\n", strings.TrimSpace(rec.Verdict.Text))
	}
	return b.String()
}

func renderTradePlan(plan models.TradePlan) string {
	head := "# Trade Plan\n\n"
	if plan.Degraded {
		head += fmt.Sprintf("> degraded: %s\n\n", plan.Note)
	}
	return head + strings.TrimSpace(plan.Text) + "\n"
}

func renderReport(r models.AnalystReport) string {
	if !r.Available() {
		return fmt.Sprintf("# %s report\n\nUnavailable: %s\n", r.Kind, r.Reason)
	}
	return fmt.Sprintf("# %s report\n\nSource: %s\n\n%s\n", r.Kind, r.Source, strings.TrimSpace(r.Text))
}
