package models

import (
	"fmt"
	"strings"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
)

type TurnStatus string

const (
	TurnOK      TurnStatus = "ok"
	TurnFailed  TurnStatus = "failed"
	TurnSkipped TurnStatus = "skipped"
)

// Turn is one party's contribution within a round. Round is 1-based.
type Turn struct {
	Party     consts.Role   `json:"party"`
	Round     int           `json:"round"`
	Utterance string        `json:"utterance"`
	Status    TurnStatus    `json:"status"`
	Memories  []MemoryMatch `json:"memories,omitempty"`
}

// DebateTranscript is the append-only record of a debate.
// While open, len(Turns) == RoundIndex*len(Parties) at every round boundary
// and parties speak in the fixed rotation order.
type DebateTranscript struct {
	Parties    []consts.Role `json:"parties"`
	MaxRounds  int           `json:"max_rounds"`
	RoundIndex int           `json:"round_index"`
	Turns      []Turn        `json:"turns"`
	Closed     bool          `json:"closed"`
	Terminated bool          `json:"terminated"`
}

func NewDebateTranscript(parties []consts.Role, maxRounds int) (*DebateTranscript, error) {
	if len(parties) == 0 {
		return nil, errors.Invariantf("debate needs at least one party")
	}
	if maxRounds < 0 {
		return nil, errors.Invariantf("max rounds must be >= 0, got %d", maxRounds)
	}
	seen := make(map[consts.Role]bool, len(parties))
	for _, p := range parties {
		if seen[p] {
			return nil, errors.Invariantf("party %s listed twice", p)
		}
		seen[p] = true
	}
	ps := make([]consts.Role, len(parties))
	copy(ps, parties)
	return &DebateTranscript{Parties: ps, MaxRounds: maxRounds, Turns: []Turn{}}, nil
}

// NextParty returns the party whose turn it is. ok is false when the
// transcript is closed or every round has been spoken.
func (t *DebateTranscript) NextParty() (consts.Role, bool) {
	if t.Closed || t.RoundIndex >= t.MaxRounds {
		return "", false
	}
	return t.Parties[len(t.Turns)%len(t.Parties)], true
}

// AtRoundBoundary reports whether no round is partially spoken.
func (t *DebateTranscript) AtRoundBoundary() bool {
	return len(t.Turns)%len(t.Parties) == 0
}

// Append adds the next turn. The turn's party must match the rotation slot;
// Round is assigned here.
func (t *DebateTranscript) Append(turn Turn) error {
	expected, ok := t.NextParty()
	if !ok {
		if t.Closed {
			return errors.Invariantf("append to closed transcript")
		}
		return errors.Invariantf("append beyond max rounds %d", t.MaxRounds)
	}
	if turn.Party != expected {
		return errors.Invariantf("turn by %s out of rotation, expected %s", turn.Party, expected)
	}
	if turn.Status == "" {
		turn.Status = TurnOK
	}
	turn.Round = t.RoundIndex + 1
	t.Turns = append(t.Turns, turn)
	if t.AtRoundBoundary() {
		t.RoundIndex++
	}
	return nil
}

// Close seals the transcript. A normal close requires all rounds; a
// terminated close only requires the current round to be complete.
func (t *DebateTranscript) Close(terminated bool) error {
	if t.Closed {
		return errors.Invariantf("transcript already closed")
	}
	if !t.AtRoundBoundary() {
		return errors.Invariantf("close with partial round (%d turns, %d parties)", len(t.Turns), len(t.Parties))
	}
	if !terminated && t.RoundIndex != t.MaxRounds {
		return errors.Invariantf("close after %d of %d rounds", t.RoundIndex, t.MaxRounds)
	}
	t.Closed = true
	t.Terminated = terminated
	return nil
}

func (t DebateTranscript) Clone() DebateTranscript {
	out := t
	out.Parties = append([]consts.Role(nil), t.Parties...)
	out.Turns = make([]Turn, len(t.Turns))
	for i, turn := range t.Turns {
		turn.Memories = append([]MemoryMatch(nil), turn.Memories...)
		out.Turns[i] = turn
	}
	return out
}

// TurnsBy returns every turn spoken by role, in order.
func (t DebateTranscript) TurnsBy(role consts.Role) []Turn {
	var out []Turn
	for _, turn := range t.Turns {
		if turn.Party == role {
			out = append(out, turn)
		}
	}
	return out
}

// LastUtterance returns the most recent utterance of role, or "".
func (t DebateTranscript) LastUtterance(role consts.Role) string {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Party == role {
			return t.Turns[i].Utterance
		}
	}
	return ""
}

// History renders the transcript as labeled lines, oldest first.
func (t DebateTranscript) History(label func(consts.Role) string) string {
	if label == nil {
		label = func(r consts.Role) string { return string(r) }
	}
	var b strings.Builder
	for i, turn := range t.Turns {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[round %d] %s: %s", turn.Round, label(turn.Party), turn.Utterance)
	}
	return b.String()
}

// Verdict is the judge's output for a closed debate.
type Verdict struct {
	Judge    consts.Role `json:"judge"`
	Text     string      `json:"text"`
	Degraded bool        `json:"degraded"`
	Note     string      `json:"note,omitempty"`
}

// DebateRecord pairs a transcript with its verdict.
type DebateRecord struct {
	Name       string           `json:"name"`
	Transcript DebateTranscript `json:"transcript"`
	Verdict    *Verdict         `json:"verdict"`
}

// SetVerdict stores the verdict. Allowed exactly once, after close.
func (r *DebateRecord) SetVerdict(v Verdict) error {
	if !r.Transcript.Closed {
		return errors.Invariantf("%s verdict before transcript closed", r.Name)
	}
	if r.Verdict != nil {
		return errors.Invariantf("%s verdict already set", r.Name)
	}
	r.Verdict = &v
	return nil
}

func (r DebateRecord) Clone() DebateRecord {
	out := DebateRecord{Name: r.Name, Transcript: r.Transcript.Clone()}
	if r.Verdict != nil {
		v := *r.Verdict
		out.Verdict = &v
	}
	return out
}

// Complete reports whether the record is closed and judged.
func (r DebateRecord) Complete() bool {
	return r.Transcript.Closed && r.Verdict != nil
}

// VerdictText returns the verdict text or "".
func (r *DebateRecord) VerdictText() string {
	if r == nil || r.Verdict == nil {
		return ""
	}
	return r.Verdict.Text
}
