package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/debate"
	"github.com/dyike/cortexdesk/internal/llm"
	"github.com/dyike/cortexdesk/models"
)

// Team hands out agents that share one invoker.
type Team struct {
	registry *Registry
	invoker  llm.Invoker
}

func NewTeam(registry *Registry, invoker llm.Invoker) *Team {
	return &Team{registry: registry, invoker: invoker}
}

func (t *Team) Registry() *Registry { return t.registry }

func (t *Team) Agent(role consts.Role) (*Agent, error) {
	spec, ok := t.registry.Spec(role)
	if !ok {
		return nil, fmt.Errorf("no agent registered for role %s", role)
	}
	return &Agent{spec: spec, invoker: t.invoker}, nil
}

func (t *Team) mustAgent(role consts.Role) *Agent {
	a, err := t.Agent(role)
	if err != nil {
		// LoadRegistry guarantees every role is present.
		panic(err)
	}
	return a
}

// Debater adapts role to a debate party.
func (t *Team) Debater(role consts.Role) debate.Speaker {
	return &debater{agent: t.mustAgent(role), title: t.registry.Title}
}

// Judge adapts role to a debate judge.
func (t *Team) Judge(role consts.Role) debate.Judge {
	return &judge{agent: t.mustAgent(role), title: t.registry.Title}
}

// Report runs the analyst for kind over the fetched data.
func (t *Team) Report(ctx context.Context, kind consts.AnalystKind, ticker, asOf string, raw *dataflows.RawData) (string, error) {
	agent, err := t.Agent(kind.Role())
	if err != nil {
		return "", err
	}
	return agent.Produce(ctx, PromptContext{
		Ticker: ticker,
		AsOf:   asOf,
		Sections: []models.Section{{
			Title: fmt.Sprintf("%s data (source: %s)", kind, raw.Source),
			Body:  raw.Body,
		}},
	})
}

type debater struct {
	agent *Agent
	title func(consts.Role) string
}

func (d *debater) Speak(ctx context.Context, in debate.TurnInput) (string, error) {
	sections := append([]models.Section(nil), in.Shared.Sections...)

	history := in.Transcript.History(d.title)
	if history == "" {
		history = "No arguments yet. You open the debate."
	}
	sections = append(sections, models.Section{Title: "Debate history", Body: history})

	var latest []string
	for _, p := range in.Transcript.Parties {
		if p == in.Role {
			continue
		}
		if u := in.Transcript.LastUtterance(p); u != "" {
			latest = append(latest, fmt.Sprintf("%s: %s", d.title(p), u))
		}
	}
	if len(latest) > 0 {
		sections = append(sections, models.Section{
			Title: "Latest arguments to respond to",
			Body:  strings.Join(latest, "\n\n"),
		})
	}
	sections = append(sections, models.Section{
		Title: "Turn",
		Body:  fmt.Sprintf("Round %d of %d. Respond as the %s.", in.Round, in.Transcript.MaxRounds, d.title(in.Role)),
	})

	return d.agent.Produce(ctx, PromptContext{
		Ticker:   in.Shared.Ticker,
		AsOf:     in.Shared.AsOf,
		Sections: sections,
		Memories: in.Memories,
	})
}

type judge struct {
	agent *Agent
	title func(consts.Role) string
}

func (j *judge) Judge(ctx context.Context, in debate.JudgeInput) (string, error) {
	sections := append([]models.Section(nil), in.Shared.Sections...)
	history := in.Transcript.History(j.title)
	if len(in.Transcript.Turns) == 0 {
		history = "No arguments were presented. Judge from the shared context alone."
	}
	sections = append(sections, models.Section{Title: "Debate transcript", Body: history})

	return j.agent.Produce(ctx, PromptContext{
		Ticker:   in.Shared.Ticker,
		AsOf:     in.Shared.AsOf,
		Sections: sections,
		Memories: in.Memories,
	})
}
