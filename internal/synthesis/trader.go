// Package synthesis holds the single-agent stages that turn debate verdicts
// into a trade plan and a final decision.
package synthesis

import (
	"context"
	"fmt"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/agents"
	"github.com/dyike/cortexdesk/internal/debate"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

// Trader writes the trade plan once the research debate is closed.
type Trader struct {
	agent  *agents.Agent
	memory debate.MemoryReader
	logger *logging.Logger
}

func NewTrader(team *agents.Team, memory debate.MemoryReader, logger *logging.Logger) (*Trader, error) {
	agent, err := team.Agent(consts.RoleTrader)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Trader{agent: agent, memory: memory, logger: logger.WithRole(string(consts.RoleTrader))}, nil
}

// Plan never fails: a canceled run or a failed invocation yields a degraded
// placeholder plan.
func (t *Trader) Plan(ctx context.Context, view models.StateView, k int) models.TradePlan {
	if ctx.Err() != nil {
		return models.TradePlan{
			Text:     "(no trade plan: run canceled before the trader was consulted)",
			Degraded: true,
			Note:     "canceled",
		}
	}

	sections := view.ReportSections()
	sections = append(sections, models.Section{
		Title: "Research manager's investment plan",
		Body:  orPlaceholder(view.ResearchDebate.VerdictText(), "No investment plan was produced."),
	})

	text, err := t.agent.Produce(ctx, agents.PromptContext{
		Ticker:   view.Ticker,
		AsOf:     view.AsOf,
		Sections: sections,
		Memories: recall(ctx, t.memory, consts.RoleTrader, view.Situation(), k, t.logger),
	})
	if err != nil {
		t.logger.Warn("trader failed, using placeholder plan", "error", err)
		return models.TradePlan{
			Text:     "(trade plan unavailable: the trader could not be reached)",
			Degraded: true,
			Note:     fmt.Sprintf("trader failed: %v", err),
		}
	}
	return models.TradePlan{Text: text}
}

func recall(ctx context.Context, memory debate.MemoryReader, role consts.Role, situation string, k int, log *logging.Logger) []models.MemoryMatch {
	if memory == nil || k <= 0 {
		return nil
	}
	matches, err := memory.Retrieve(ctx, role, situation, k)
	if err != nil {
		log.Warn("memory retrieval failed", "error", err)
		return nil
	}
	return matches
}

func orPlaceholder(text, placeholder string) string {
	if text == "" {
		return placeholder
	}
	return text
}
