package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/display"
)

func newInteractiveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Choose ticker, date, analysts and debate depth interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveMode(cmd, root)
		},
	}
}

// runInteractiveMode asks for the run parameters, runs, shows the result
// and offers another round.
func runInteractiveMode(cmd *cobra.Command, root *rootOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	base, err := cfg.RunConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	display.DisplayInfo(out, "cortexdesk v"+Version+" - multi-agent trading decisions")

	engine, err := root.engine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	for {
		s, err := askSelections(base)
		if errors.Is(err, terminal.InterruptErr) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err := PromptForConfirmation(s)
		if err != nil {
			return ignoreInterrupt(err)
		}
		if ok {
			rc := base
			rc.AnalystKinds = s.Analysts
			rc.MaxResearchRounds = s.ResearchRounds
			rc.MaxRiskRounds = s.RiskRounds

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			res, err := engine.Graph.Propagate(ctx, s.Ticker, s.AnalysisDate.Format("2006-01-02"), rc,
				display.NewProgressPrinter(cmd.ErrOrStderr()).Handle)
			stop()
			if err != nil {
				display.DisplayError(cmd.ErrOrStderr(), err)
			}
			if res != nil {
				display.NewResultsDisplay(out).DisplayRun(res)
				fmt.Fprintf(out, "Run id: %s (reflect later with: cortexdesk reflect %s --returns <r>)\n", res.RunID, res.RunID)
			}
		}

		again, err := PromptForRestartOrExit()
		if err != nil {
			return ignoreInterrupt(err)
		}
		if !again {
			return nil
		}
	}
}

func askSelections(base config.RunConfig) (Selections, error) {
	var s Selections
	var err error
	if s.Ticker, err = PromptForTicker(); err != nil {
		return s, err
	}
	if s.AnalysisDate, err = PromptForAnalysisDate(); err != nil {
		return s, err
	}
	if s.Analysts, err = PromptForAnalysts(base.AnalystKinds); err != nil {
		return s, err
	}
	if s.ResearchRounds, err = PromptForRounds("bull/bear research", base.MaxResearchRounds); err != nil {
		return s, err
	}
	if s.RiskRounds, err = PromptForRounds("risk", base.MaxRiskRounds); err != nil {
		return s, err
	}
	return s, nil
}

func ignoreInterrupt(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}
