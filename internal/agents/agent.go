package agents

import (
	"context"
	"fmt"

	"github.com/dyike/cortexdesk/internal/llm"
	"github.com/dyike/cortexdesk/models"
)

// PromptContext is everything a role sees for one call.
type PromptContext struct {
	Ticker   string
	AsOf     string
	Sections []models.Section
	Memories []models.MemoryMatch
}

// Agent is one role bound to an invoker.
type Agent struct {
	spec    RoleSpec
	invoker llm.Invoker
}

func (a *Agent) Spec() RoleSpec { return a.spec }

// Request builds the reasoning call. The instrument section always comes
// first; memory roles get a lessons section last.
func (a *Agent) Request(pc PromptContext) llm.Request {
	sections := make([]models.Section, 0, len(pc.Sections)+2)
	sections = append(sections, models.Section{
		Title: "Instrument",
		Body:  fmt.Sprintf("Ticker: %s\nTrade date: %s", pc.Ticker, pc.AsOf),
	})
	sections = append(sections, pc.Sections...)
	if a.spec.Memory {
		sections = append(sections, models.Section{
			Title: "Lessons from similar past situations",
			Body:  models.FormatLessons(pc.Memories),
		})
	}
	return llm.Request{
		Role:     a.spec.Role,
		System:   a.spec.Instructions,
		Sections: sections,
		Deep:     a.spec.Tier == TierDeep,
	}
}

func (a *Agent) Produce(ctx context.Context, pc PromptContext) (string, error) {
	return a.invoker.Invoke(ctx, a.Request(pc))
}
