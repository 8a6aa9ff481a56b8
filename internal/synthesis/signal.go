package synthesis

import (
	"regexp"
	"strings"

	"github.com/dyike/cortexdesk/models"
)

// SignalProcessor extracts a canonical action from free-form stage text.
type SignalProcessor struct {
	marker *regexp.Regexp
	words  map[models.Action]*regexp.Regexp
}

// Signal is the parse result for one text.
type Signal struct {
	Action models.Action
	// Found is false when the text names no action at all.
	Found bool
	// Ambiguous is set when the text names conflicting actions or an
	// explicit marker carries a value outside BUY/SELL/HOLD.
	Ambiguous bool
	Reason    string
}

// Resolved reports whether the signal yields exactly one action.
func (s Signal) Resolved() bool { return s.Found && !s.Ambiguous }

func NewSignalProcessor() *SignalProcessor {
	return &SignalProcessor{
		marker: regexp.MustCompile(`(?i)FINAL\s+(?:DECISION|TRANSACTION\s+PROPOSAL)\s*:\s*[*_\s]*([A-Za-z]+)`),
		words: map[models.Action]*regexp.Regexp{
			models.ActionBuy:  regexp.MustCompile(`(?i)\bbuy\b`),
			models.ActionSell: regexp.MustCompile(`(?i)\bsell\b`),
			models.ActionHold: regexp.MustCompile(`(?i)\bhold\b`),
		},
	}
}

var actionOrder = []models.Action{models.ActionBuy, models.ActionSell, models.ActionHold}

// Extract parses text. Explicit markers win over plain mentions; without a
// marker the distinct whole-word mentions must name a single action.
func (sp *SignalProcessor) Extract(text string) Signal {
	if matches := sp.marker.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		return sp.fromMarkers(matches)
	}

	var seen []models.Action
	for _, a := range actionOrder {
		if sp.words[a].MatchString(text) {
			seen = append(seen, a)
		}
	}
	switch len(seen) {
	case 0:
		return Signal{Action: models.ActionHold, Reason: "no action named"}
	case 1:
		return Signal{Action: seen[0], Found: true}
	default:
		return Signal{
			Action:    models.ActionHold,
			Found:     true,
			Ambiguous: true,
			Reason:    "conflicting actions " + joinActions(seen),
		}
	}
}

func (sp *SignalProcessor) fromMarkers(matches [][]string) Signal {
	var picked models.Action
	for _, m := range matches {
		a := models.Action(strings.ToUpper(m[1]))
		if !a.Valid() {
			return Signal{
				Action:    models.ActionHold,
				Found:     true,
				Ambiguous: true,
				Reason:    "decision marker names " + strings.ToUpper(m[1]),
			}
		}
		if picked != "" && picked != a {
			return Signal{
				Action:    models.ActionHold,
				Found:     true,
				Ambiguous: true,
				Reason:    "conflicting decision markers " + joinActions([]models.Action{picked, a}),
			}
		}
		picked = a
	}
	return Signal{Action: picked, Found: true}
}

func joinActions(actions []models.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, "/")
}
