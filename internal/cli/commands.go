package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/app"
	"github.com/dyike/cortexdesk/internal/debug"
	"github.com/dyike/cortexdesk/internal/display"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/internal/scheduler"
	"github.com/dyike/cortexdesk/internal/storage"
	"github.com/dyike/cortexdesk/models"
)

const Version = "1.0.0"

// buildEngine is replaced in tests.
var buildEngine = app.BuildEngine

type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cortexdesk",
		Short: "cortexdesk - multi-agent trading decision pipeline",
		Long: `cortexdesk runs a team of analysts, two structured debates, a trader and a
portfolio manager over one ticker and date, and records how the decision was reached.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveMode(cmd, opts)
		},
	}

	rootCmd.AddCommand(newAnalyzeCmd(opts))
	rootCmd.AddCommand(newInteractiveCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newReflectCmd(opts))
	rootCmd.AddCommand(newScheduleCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path (JSON)")

	return rootCmd
}

// manager opens the JSON config file named by --config, or the default one.
func (o *rootOptions) manager() (*config.Manager, error) {
	level := "WARN"
	if o.debug {
		level = "DEBUG"
	}
	return config.OpenManager(o.configPath, config.WithLogger(logging.NewWriterLogger(os.Stderr, level)))
}

// loadConfig resolves the configuration for a one-shot command: the
// --config file when given, otherwise defaults; the environment applies on
// top of either.
func (o *rootOptions) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		mgr, err := o.manager()
		if err != nil {
			return config.Config{}, err
		}
		cfg = mgr.Get()
	} else {
		cfg = *config.DefaultConfig()
	}
	o.applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return config.Config{}, fmt.Errorf("failed to create directories: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) applyFlags(cfg *config.Config) {
	if o.debug {
		cfg.Debug = true
		cfg.LogLevel = "DEBUG"
	}
}

// engine builds a decision engine, starting the eino debugger first when
// enabled so the compiled graphs register with it.
func (o *rootOptions) engine(ctx context.Context, cfg config.Config) (*app.Engine, error) {
	dbg := debug.NewEinoDebugger(cfg, consoleLogger(cfg))
	if err := dbg.Initialize(ctx); err != nil {
		return nil, err
	}
	return buildEngine(cfg)
}

func consoleLogger(cfg config.Config) *logging.Logger {
	return logging.NewWriterLogger(os.Stderr, cfg.LogLevel)
}

type analyzeOptions struct {
	date           string
	quick          bool
	analysts       []string
	researchRounds int
	riskRounds     int
	asJSON         bool
	quiet          bool
}

// newAnalyzeCmd creates the analyze command
func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Run one decision for a ticker",
		Long: `Run the full decision pipeline for a ticker as of a date.
Example: cortexdesk analyze AAPL --date=2024-03-15`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyzeCommand(cmd, root, o, args[0])
		},
	}

	cmd.Flags().StringVar(&o.date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().BoolVar(&o.quick, "quick", false, "One round per debate with the market and news analysts only")
	cmd.Flags().StringSliceVar(&o.analysts, "analysts", nil, "Analysts to run (market,sentiment,news,fundamentals)")
	cmd.Flags().IntVar(&o.researchRounds, "research-rounds", -1, "Bull/bear debate rounds (config value if negative)")
	cmd.Flags().IntVar(&o.riskRounds, "risk-rounds", -1, "Risk debate rounds (config value if negative)")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "Print the run result as JSON")
	cmd.Flags().BoolVar(&o.quiet, "quiet", false, "Do not print stage progress")

	return cmd
}

func (o *analyzeOptions) runConfig(cfg config.Config) (config.RunConfig, error) {
	rc, err := cfg.RunConfig()
	if err != nil {
		return rc, err
	}
	if o.quick {
		rc = rc.Quick()
	}
	if len(o.analysts) > 0 {
		if rc.AnalystKinds, err = config.ParseAnalystKinds(o.analysts); err != nil {
			return rc, err
		}
	}
	if o.researchRounds >= 0 {
		rc.MaxResearchRounds = o.researchRounds
	}
	if o.riskRounds >= 0 {
		rc.MaxRiskRounds = o.riskRounds
	}
	return rc, rc.Validate()
}

// runAnalyzeCommand executes one run and prints the result
func runAnalyzeCommand(cmd *cobra.Command, root *rootOptions, o *analyzeOptions, symbol string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	rc, err := o.runConfig(cfg)
	if err != nil {
		return err
	}
	date := o.date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := root.engine(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()
	var progress func(models.StageEvent)
	if !o.quiet && !o.asJSON {
		progress = display.NewProgressPrinter(cmd.ErrOrStderr()).Handle
	}

	res, err := engine.Graph.Propagate(ctx, symbol, date, rc, progress)
	if res == nil {
		return err
	}
	if err != nil {
		display.DisplayError(cmd.ErrOrStderr(), err)
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	display.NewResultsDisplay(out).DisplayRun(res)
	if cfg.PersistResults {
		display.DisplayInfo(out, "Reports saved under "+engine.ResultsDir(symbol))
	}
	return nil
}

func newShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.SharedSQLiteStore(cfg)
			if err != nil {
				return err
			}
			rec, err := store.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			display.NewResultsDisplay(cmd.OutOrStdout()).DisplayRun(&models.RunResult{
				RunID:    rec.RunID,
				Decision: rec.Trail.FinalDecision,
				Trail:    rec.Trail,
			})
			return nil
		},
	}
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [SYMBOL]",
		Short: "List stored runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.SharedSQLiteStore(cfg)
			if err != nil {
				return err
			}
			ticker := ""
			if len(args) == 1 {
				ticker = args[0]
			}
			runs, err := store.ListRuns(cmd.Context(), ticker, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), display.RenderHistory(runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newReflectCmd(root *rootOptions) *cobra.Command {
	var returns float64
	cmd := &cobra.Command{
		Use:   "reflect RUN_ID",
		Short: "Record lessons from a stored run once its return is known",
		Long: `Reflect on a stored run given its realized return (0.05 for +5%) and add one
lesson per contributing role to memory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("returns") {
				return fmt.Errorf("--returns is required")
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			engine, err := root.engine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			rec, err := engine.Store.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			n, err := engine.Graph.ReflectAndRemember(cmd.Context(), rec.Trail, returns)
			if err != nil {
				display.DisplayInfo(cmd.OutOrStdout(), fmt.Sprintf("Recorded %d lesson(s) from run %s, %d failed", n, rec.RunID, countErrors(err)))
				return fmt.Errorf("reflection incomplete: %w", err)
			}
			display.DisplaySuccess(cmd.OutOrStdout(), fmt.Sprintf("Recorded %d lesson(s) from run %s", n, rec.RunID))
			return nil
		},
	}
	cmd.Flags().Float64Var(&returns, "returns", 0, "Realized return of the position as a fraction")
	return cmd
}

// countErrors counts the errors joined into err.
func countErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	var (
		once       bool
		healthPort int
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the watchlist on the configured cron schedule",
		Long: `Run every watchlist ticker on schedule_cron. The config file is watched and
the engine is rebuilt when it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := root.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			logger := consoleLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := debug.NewEinoDebugger(cfg, logger).Initialize(ctx); err != nil {
				return err
			}
			rt, err := app.NewRuntime(mgr,
				app.WithRuntimeLogger(logger),
				app.WithBuilder(func(c config.Config) (*app.Engine, error) {
					root.applyFlags(&c)
					return buildEngine(c)
				}))
			if err != nil {
				return err
			}
			defer rt.Close()

			run := func(ctx context.Context, ticker, date string) (*models.RunResult, error) {
				return rt.Propagate(ctx, ticker, date, nil)
			}
			watchlist := func() []string { return rt.Config().Watchlist }
			sched := scheduler.NewScheduler(ctx, run, watchlist, logger)

			if once {
				return reportOutcomes(cmd, sched.RunNow())
			}
			if len(cfg.Watchlist) == 0 {
				display.DisplayInfo(cmd.OutOrStdout(), "Watchlist is empty; add tickers with: cortexdesk config set '{\"watchlist\":[\"AAPL\"]}'")
			}
			if err := sched.Register(cfg.ScheduleCron); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
			display.DisplayInfo(cmd.OutOrStdout(), fmt.Sprintf("Next run at %s", sched.Next().Format(time.RFC1123)))

			if healthPort > 0 {
				health := debug.NewHealthServer(healthPort, func() map[string]any {
					doc := map[string]any{"next_run": sched.Next().Format(time.RFC3339)}
					if e := rt.Engine(); e != nil {
						doc["engine_version"] = e.Version
					}
					return doc
				}, logger)
				go func() {
					if err := health.Serve(ctx); err != nil {
						logger.Error("health server stopped", "error", err)
					}
				}()
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run the watchlist once and exit")
	cmd.Flags().IntVar(&healthPort, "health-port", 0, "Serve /health on this port (disabled when 0)")
	return cmd
}

func reportOutcomes(cmd *cobra.Command, outcomes []scheduler.Outcome) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			display.DisplayError(cmd.ErrOrStderr(), fmt.Errorf("%s: %w", o.Ticker, o.Err))
		}
		if o.Result != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-5s run %s\n", o.Ticker, o.Result.Decision.Action, o.Result.RunID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d watchlist runs failed", failed, len(outcomes))
	}
	return nil
}

// newConfigCmd creates the config command
func newConfigCmd(root *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return showConfig(cmd, cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if _, err := cfg.RunConfig(); err != nil {
				return err
			}
			display.DisplaySuccess(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set JSON",
		Short: "Merge a JSON object into the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := root.manager()
			if err != nil {
				return err
			}
			if err := mgr.Merge(args[0]); err != nil {
				return err
			}
			display.DisplaySuccess(cmd.OutOrStdout(), "Updated "+mgr.Path())
			return nil
		},
	})

	return configCmd
}

var secretKeys = []string{
	"deepseek_api_key", "openai_api_key", "finnhub_api_key",
	"reddit_client_id", "reddit_secret",
	"longport_app_key", "longport_app_secret", "longport_access_token",
	"memory_dsn",
}

// showConfig prints cfg as JSON with credentials masked.
func showConfig(cmd *cobra.Command, cfg config.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, k := range secretKeys {
		if s, ok := doc[k].(string); ok && s != "" {
			doc[k] = mask(s)
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cortexdesk v%s\n", Version)
		},
	}
}
