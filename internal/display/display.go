// Package display renders decision runs for the terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(80)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F59E0B"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	actionStyles = map[models.Action]lipgloss.Style{
		models.ActionBuy:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		models.ActionSell: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		models.ActionHold: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B")),
	}
)

const wrapWidth = 76

// ResultsDisplay renders one run.
type ResultsDisplay struct {
	out io.Writer
}

func NewResultsDisplay(out io.Writer) *ResultsDisplay {
	return &ResultsDisplay{out: out}
}

// DisplayRun writes the full report of res.
func (d *ResultsDisplay) DisplayRun(res *models.RunResult) {
	fmt.Fprint(d.out, RenderRun(res))
}

// RenderRun renders header, analyst reports, both debates, the trade plan
// and the final decision.
func RenderRun(res *models.RunResult) string {
	var b strings.Builder
	t := res.Trail

	b.WriteString(headerStyle.Render(fmt.Sprintf("ANALYSIS RESULTS  %s  |  %s  |  run %s", t.Ticker, t.AsOf, res.RunID)))
	b.WriteString("\n\n")

	b.WriteString(renderDecision(res.Decision))

	section(&b, "ANALYST REPORTS")
	for _, r := range t.AnalystReports {
		if r.Available() {
			fmt.Fprintf(&b, "%s %s\n", okStyle.Render("●"), analystTitle(r.Kind))
			b.WriteString(wrap(r.Text, "   "))
		} else {
			fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("○"), analystTitle(r.Kind))
			b.WriteString(mutedStyle.Render(wrap("unavailable: "+r.Reason, "   ")))
		}
		b.WriteString("\n")
	}

	section(&b, "RESEARCH DEBATE")
	b.WriteString(renderDebate(t.ResearchDebate))

	section(&b, "TRADE PLAN")
	if t.TradePlan.Degraded {
		b.WriteString(warnStyle.Render("   degraded: "+t.TradePlan.Note) + "\n")
	}
	b.WriteString(wrap(t.TradePlan.Text, "   "))

	section(&b, "RISK DEBATE")
	b.WriteString(renderDebate(t.RiskDebate))

	section(&b, "FINAL RATIONALE")
	b.WriteString(wrap(res.Decision.Rationale, "   "))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("This analysis is for informational purposes only and is not financial advice."))
	b.WriteString("\n")
	return b.String()
}

func renderDecision(d models.FinalDecision) string {
	var b strings.Builder
	style, ok := actionStyles[d.Action]
	if !ok {
		style = mutedStyle
	}
	fmt.Fprintf(&b, "%s %s   confidence: %s   source: %s\n",
		titleStyle.Render("DECISION"), style.Render(string(d.Action)), d.Confidence, roleTitle(d.Source))
	if d.Flagged {
		b.WriteString(warnStyle.Render("flagged for review") + "\n")
	}
	for _, w := range d.Warnings {
		b.WriteString(warnStyle.Render("  ! ") + w + "\n")
	}
	return b.String()
}

func renderDebate(rec models.DebateRecord) string {
	var b strings.Builder
	tr := rec.Transcript
	if len(tr.Turns) == 0 {
		b.WriteString(mutedStyle.Render("   (no arguments were presented)") + "\n")
	}
	for _, turn := range tr.Turns {
		label := fmt.Sprintf("[round %d] %s", turn.Round, roleTitle(turn.Party))
		switch turn.Status {
		case models.TurnOK:
			b.WriteString(sectionStyle.Render(label) + "\n")
		default:
			b.WriteString(mutedStyle.Render(label+" ("+string(turn.Status)+")") + "\n")
		}
		b.WriteString(wrap(turn.Utterance, "   "))
	}
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render(fmt.Sprintf("%d of %d round(s) completed", tr.RoundIndex, tr.MaxRounds)))
	if tr.Terminated {
		b.WriteString(warnStyle.Render("terminated early") + "\n")
	}
	if rec.Verdict != nil {
		b.WriteString(sectionStyle.Render(roleTitle(rec.Verdict.Judge)+" verdict") + "\n")
		b.WriteString(wrap(rec.Verdict.Text, "   "))
	}
	return b.String()
}

// RenderHistory lists stored runs, newest first.
func RenderHistory(runs []models.RunSummary) string {
	if len(runs) == 0 {
		return mutedStyle.Render("No runs recorded yet.") + "\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-8s  %-10s  %-5s  %-7s  %s\n", "RUN", "TICKER", "AS OF", "ACTION", "FLAGGED", "CREATED")
	for _, r := range runs {
		flagged := ""
		if r.Flagged {
			flagged = "yes"
		}
		fmt.Fprintf(&b, "%-36s  %-8s  %-10s  %-6s  %-7s  %s\n",
			r.RunID, r.Ticker, r.AsOf, r.Action, flagged, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(strings.Repeat("─", 74)))
	b.WriteString("\n")
}

// wrap word-wraps text at wrapWidth, keeping paragraph breaks.
func wrap(text, indent string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(text), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		line := indent + words[0]
		for _, w := range words[1:] {
			if len(line)+1+len(w) > wrapWidth {
				b.WriteString(line + "\n")
				line = indent + w
			} else {
				line += " " + w
			}
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func analystTitle(kind consts.AnalystKind) string {
	return strings.ToUpper(string(kind)[:1]) + string(kind)[1:] + " Analyst"
}

func roleTitle(role consts.Role) string {
	if role == "" {
		return "none"
	}
	words := strings.Split(string(role), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ProgressPrinter prints stage events as they arrive.
type ProgressPrinter struct {
	out     io.Writer
	started map[consts.Stage]time.Time
	now     func() time.Time
}

func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out, started: make(map[consts.Stage]time.Time), now: time.Now}
}

// Handle is a graph.ProgressFunc.
func (p *ProgressPrinter) Handle(ev models.StageEvent) {
	name := strings.ReplaceAll(strings.ToLower(string(ev.Stage)), "_", " ")
	switch ev.Status {
	case models.StageStarted:
		p.started[ev.Stage] = p.now()
		fmt.Fprintf(p.out, "%s %s...\n", mutedStyle.Render("…"), name)
	case models.StageFinished:
		fmt.Fprintf(p.out, "%s %s %s %s\n", okStyle.Render("✓"), name, ev.Detail, mutedStyle.Render(p.elapsed(ev.Stage)))
	case models.StageFailed:
		fmt.Fprintf(p.out, "%s %s %s\n", warnStyle.Render("✗"), name, ev.Detail)
	}
}

func (p *ProgressPrinter) elapsed(stage consts.Stage) string {
	start, ok := p.started[stage]
	if !ok {
		return ""
	}
	return "(" + p.now().Sub(start).Round(100*time.Millisecond).String() + ")"
}

func DisplayError(out io.Writer, err error) {
	fmt.Fprintln(out, warnStyle.Render("Error: "+err.Error()))
}

func DisplayInfo(out io.Writer, message string) {
	fmt.Fprintln(out, lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Render(message))
}

func DisplaySuccess(out io.Writer, message string) {
	fmt.Fprintln(out, okStyle.Render(message))
}
