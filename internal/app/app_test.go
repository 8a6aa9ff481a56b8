package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows/flowtest"
	"github.com/dyike/cortexdesk/internal/llm/llmtest"
)

func stubEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	inv := llmtest.New(map[consts.Role]string{
		consts.RoleTrader:    "FINAL TRANSACTION PROPOSAL: **SELL**",
		consts.RoleReflector: "Lesson: the sell call held up.",
	}, "Mixed signals.")
	e, err := BuildEngineWith(cfg, WithInvoker(inv), WithFetcher(flowtest.Full("ACME")))
	if err != nil {
		t.Fatalf("BuildEngineWith: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEngineRunsAndPersists(t *testing.T) {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	e := stubEngine(t, cfg)
	if e.Version == 0 || e.Store == nil || e.Memory == nil {
		t.Fatalf("engine not fully built: %+v", e)
	}

	rc, err := cfg.RunConfig()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	res, err := e.Graph.Propagate(ctx, "acme", "2024-05-10", rc, nil)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if res.Decision.Action != "SELL" {
		t.Fatalf("expected SELL from the trade plan, got %s", res.Decision.Action)
	}

	report := filepath.Join(e.ResultsDir("acme"), "2024-05-10", res.RunID, "final_decision.md")
	if _, err := os.Stat(report); err != nil {
		t.Fatalf("markdown report missing: %v", err)
	}
	if _, err := e.Store.LoadRun(ctx, res.RunID); err != nil {
		t.Fatalf("run not stored: %v", err)
	}

	n, err := e.Graph.ReflectAndRemember(ctx, res.Trail, -0.03)
	if err != nil || n == 0 {
		t.Fatalf("ReflectAndRemember = %d, %v", n, err)
	}
	count, err := e.Memory.Count(ctx, consts.RoleTrader)
	if err != nil || count != 1 {
		t.Fatalf("trader lessons = %d, %v", count, err)
	}
}

func TestEngineInMemoryBackendSkipsMarkdown(t *testing.T) {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.MemoryBackend = config.MemoryBackendInMemory
	cfg.PersistResults = false
	cfg.SelectedAnalysts = []string{"market"}
	e := stubEngine(t, cfg)

	rc, _ := cfg.RunConfig()
	res, err := e.Graph.Propagate(context.Background(), "ACME", "2024-05-10", rc, nil)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if len(res.Trail.AnalystReports) != 1 {
		t.Fatalf("expected only the market report, got %d", len(res.Trail.AnalystReports))
	}
	if _, err := os.Stat(e.ResultsDir("ACME")); !os.IsNotExist(err) {
		t.Fatalf("no markdown should be written, stat err = %v", err)
	}
}

func TestBuildEngineRejectsInvalidConfig(t *testing.T) {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.MemoryBackend = "redis"
	if _, err := BuildEngineWith(cfg, WithInvoker(llmtest.New(nil, "x")), WithFetcher(flowtest.Full("ACME"))); err == nil {
		t.Fatal("expected an error for an unknown memory backend")
	}

	cfg = *config.DefaultConfigWithRoot(t.TempDir())
	cfg.DeepSeekAPIKey = ""
	if _, err := BuildEngine(cfg); err == nil {
		t.Fatal("expected an error without provider credentials")
	}
}

func TestRuntimeReloadsOnConfigChange(t *testing.T) {
	mgr, err := config.OpenManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("OpenManager: %v", err)
	}

	var (
		mu     sync.Mutex
		topics []string
	)
	builder := func(cfg config.Config) (*Engine, error) {
		if cfg.MaxDebateRounds == 5 {
			return nil, errors.New("refusing five rounds")
		}
		return &Engine{Config: cfg, Version: engineSeq.Add(1)}, nil
	}
	rt, err := NewRuntime(mgr, WithBuilder(builder), WithNotifier(func(topic, _ string) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close()

	first := rt.Engine()
	if err := rt.UpdateConfigJSON(`{"max_debate_rounds": 3}`); err != nil {
		t.Fatalf("UpdateConfigJSON: %v", err)
	}
	second := rt.Engine()
	if second == first || second.Config.MaxDebateRounds != 3 {
		t.Fatalf("engine not rebuilt: %+v", second)
	}

	if err := rt.UpdateConfigJSON(`{"max_debate_rounds": 5}`); err != nil {
		t.Fatalf("UpdateConfigJSON: %v", err)
	}
	if rt.Engine() != second {
		t.Fatal("a failed rebuild should keep the previous engine")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"engine.reloaded", "engine.reloaded", "engine.reload_failed"}
	if len(topics) < len(want) {
		t.Fatalf("topics = %v", topics)
	}
	for i, topic := range want {
		if topics[i] != topic {
			t.Fatalf("topics = %v, want prefix %v", topics, want)
		}
	}
}

func TestNewRuntimeRequiresManager(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatal("expected an error without a config manager")
	}
}
