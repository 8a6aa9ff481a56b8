// Package debate runs round-bounded debates between N parties followed by a
// single judgment. The same engine drives the two-party research debate and
// the three-party risk debate.
package debate

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

// Shared is the context every party and the judge see.
type Shared struct {
	Ticker    string
	AsOf      string
	Situation string
	Sections  []models.Section
}

// TurnInput is what a party receives for one turn. Transcript is a snapshot
// of every earlier turn.
type TurnInput struct {
	Debate     string
	Role       consts.Role
	Round      int
	Transcript models.DebateTranscript
	Shared     Shared
	Memories   []models.MemoryMatch
}

// JudgeInput is what the judge receives once the transcript is closed.
type JudgeInput struct {
	Debate     string
	Role       consts.Role
	Transcript models.DebateTranscript
	Shared     Shared
	Memories   []models.MemoryMatch
}

type Speaker interface {
	Speak(ctx context.Context, in TurnInput) (string, error)
}

type Judge interface {
	Judge(ctx context.Context, in JudgeInput) (string, error)
}

type SpeakerFunc func(ctx context.Context, in TurnInput) (string, error)

func (f SpeakerFunc) Speak(ctx context.Context, in TurnInput) (string, error) { return f(ctx, in) }

type JudgeFunc func(ctx context.Context, in JudgeInput) (string, error)

func (f JudgeFunc) Judge(ctx context.Context, in JudgeInput) (string, error) { return f(ctx, in) }

// MemoryReader is the read side of the memory store.
type MemoryReader interface {
	Retrieve(ctx context.Context, role consts.Role, situation string, k int) ([]models.MemoryMatch, error)
}

type Party struct {
	Role    consts.Role
	Speaker Speaker
}

// Spec describes one debate. Parties speak in slice order every round.
type Spec struct {
	Name        string
	Parties     []Party
	MaxRounds   int
	Judge       Judge
	JudgeRole   consts.Role
	MemoryK     int
	TurnTimeout time.Duration
}

func (s Spec) validate() error {
	if len(s.Parties) == 0 {
		return errors.Invariantf("debate %s has no parties", s.Name)
	}
	for i, p := range s.Parties {
		if p.Speaker == nil {
			return errors.Invariantf("debate %s party %d (%s) has no speaker", s.Name, i, p.Role)
		}
	}
	if s.Judge == nil {
		return errors.Invariantf("debate %s has no judge", s.Name)
	}
	if s.MaxRounds < 0 {
		return errors.Invariantf("debate %s max rounds %d < 0", s.Name, s.MaxRounds)
	}
	return nil
}

type Engine struct {
	memory MemoryReader
	logger *logging.Logger
}

// NewEngine returns an engine. memory may be nil, in which case no party
// receives past lessons.
func NewEngine(memory MemoryReader, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{memory: memory, logger: logger}
}

// Run executes the debate. Party and judge failures degrade to flagged
// placeholders; the returned error is reserved for invalid specs and
// invariant violations.
//
// Cancellation of ctx is observed between turns. The turn in flight runs to
// completion on a detached context, the current round is padded with
// skipped turns, and the record is closed as terminated with a degraded
// verdict. The judge is not invoked in that case.
func (e *Engine) Run(ctx context.Context, spec Spec, shared Shared) (*models.DebateRecord, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	roles := make([]consts.Role, len(spec.Parties))
	for i, p := range spec.Parties {
		roles[i] = p.Role
	}
	tr, err := models.NewDebateTranscript(roles, spec.MaxRounds)
	if err != nil {
		return nil, err
	}
	log := e.logger.WithStage(spec.Name)

	for {
		role, ok := tr.NextParty()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			break
		}
		party := spec.Parties[len(tr.Turns)%len(spec.Parties)]
		turn := e.takeTurn(ctx, spec, party, tr, shared)
		if err := tr.Append(turn); err != nil {
			return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
		}
		log.Debug("turn complete", "role", role, "round", turn.Round, "status", turn.Status)
	}

	rec := &models.DebateRecord{Name: spec.Name}
	if ctx.Err() != nil {
		for !tr.AtRoundBoundary() {
			role, _ := tr.NextParty()
			if err := tr.Append(models.Turn{Party: role, Status: models.TurnSkipped, Utterance: "(skipped: run canceled)"}); err != nil {
				return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
			}
		}
		if err := tr.Close(true); err != nil {
			return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
		}
		rec.Transcript = *tr
		log.Warn("debate terminated early", "rounds", tr.RoundIndex, "max_rounds", spec.MaxRounds)
		verdict := models.Verdict{
			Judge:    spec.JudgeRole,
			Text:     fmt.Sprintf("Debate terminated early after %d of %d round(s); no judgment was made and the stance defaults to neutral.", tr.RoundIndex, spec.MaxRounds),
			Degraded: true,
			Note:     "terminated",
		}
		if err := rec.SetVerdict(verdict); err != nil {
			return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
		}
		return rec, nil
	}

	if err := tr.Close(false); err != nil {
		return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
	}
	rec.Transcript = *tr
	if err := rec.SetVerdict(e.judge(ctx, spec, tr, shared)); err != nil {
		return nil, fmt.Errorf("debate %s: %w", spec.Name, err)
	}
	return rec, nil
}

func (e *Engine) detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	c := context.WithoutCancel(ctx)
	if timeout > 0 {
		return context.WithTimeout(c, timeout)
	}
	return context.WithCancel(c)
}

func (e *Engine) takeTurn(ctx context.Context, spec Spec, party Party, tr *models.DebateTranscript, shared Shared) models.Turn {
	turnCtx, cancel := e.detached(ctx, spec.TurnTimeout)
	defer cancel()

	memories := e.recall(turnCtx, party.Role, shared.Situation, spec.MemoryK)
	in := TurnInput{
		Debate:     spec.Name,
		Role:       party.Role,
		Round:      tr.RoundIndex + 1,
		Transcript: tr.Clone(),
		Shared:     shared,
		Memories:   memories,
	}

	var text string
	var err error
	var pc panics.Catcher
	pc.Try(func() { text, err = party.Speaker.Speak(turnCtx, in) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		e.logger.WithStage(spec.Name).WithRole(string(party.Role)).Warn("party failed, using placeholder", "round", in.Round, "error", err)
		return models.Turn{
			Party:     party.Role,
			Utterance: fmt.Sprintf("(no argument from %s this round: reasoning unavailable)", party.Role),
			Status:    models.TurnFailed,
			Memories:  memories,
		}
	}
	return models.Turn{Party: party.Role, Utterance: text, Status: models.TurnOK, Memories: memories}
}

func (e *Engine) judge(ctx context.Context, spec Spec, tr *models.DebateTranscript, shared Shared) models.Verdict {
	judgeCtx, cancel := e.detached(ctx, spec.TurnTimeout)
	defer cancel()

	in := JudgeInput{
		Debate:     spec.Name,
		Role:       spec.JudgeRole,
		Transcript: tr.Clone(),
		Shared:     shared,
		Memories:   e.recall(judgeCtx, spec.JudgeRole, shared.Situation, spec.MemoryK),
	}

	var text string
	var err error
	var pc panics.Catcher
	pc.Try(func() { text, err = spec.Judge.Judge(judgeCtx, in) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		e.logger.WithStage(spec.Name).WithRole(string(spec.JudgeRole)).Warn("judge failed, using placeholder verdict", "error", err)
		return models.Verdict{
			Judge:    spec.JudgeRole,
			Text:     "(verdict unavailable: the judge could not be reached; the stance defaults to neutral)",
			Degraded: true,
			Note:     "judge failed",
		}
	}
	return models.Verdict{Judge: spec.JudgeRole, Text: text}
}

func (e *Engine) recall(ctx context.Context, role consts.Role, situation string, k int) []models.MemoryMatch {
	if e.memory == nil || k <= 0 || role == "" {
		return nil
	}
	matches, err := e.memory.Retrieve(ctx, role, situation, k)
	if err != nil {
		e.logger.WithRole(string(role)).Warn("memory retrieval failed", "error", err)
		return nil
	}
	return matches
}
