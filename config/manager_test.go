package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Manager {
	t.Helper()
	mgr, err := OpenManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("OpenManager: %v", err)
	}
	return mgr
}

func TestOpenManagerKeepsEnvOutOfFile(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-from-env")
	mgr := openTemp(t)

	if got := mgr.Get().DeepSeekAPIKey; got != "sk-from-env" {
		t.Fatalf("effective key = %q", got)
	}
	if got := mgr.Stored().DeepSeekAPIKey; got != "" {
		t.Fatalf("stored key = %q, want empty", got)
	}
	data, err := os.ReadFile(mgr.Path())
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if strings.Contains(string(data), "sk-from-env") {
		t.Fatal("environment secret written to the config file")
	}
	if got := mgr.Get().ResultsDir; got != filepath.Join(filepath.Dir(mgr.Path()), "results") {
		t.Fatalf("defaults not rooted at the config dir: %s", got)
	}
}

func TestMergePersistsPartialUpdate(t *testing.T) {
	mgr := openTemp(t)
	before := mgr.Get()

	if err := mgr.Merge(`{"max_debate_rounds": 4, "watchlist": ["ACME"]}`); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	reopened, err := OpenManager(mgr.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	after := reopened.Get()
	if after.MaxDebateRounds != 4 || len(after.Watchlist) != 1 {
		t.Fatalf("update not persisted: %+v", after)
	}
	if after.LLMProvider != before.LLMProvider || len(after.SelectedAnalysts) != len(before.SelectedAnalysts) {
		t.Fatalf("partial update clobbered other fields: %+v", after)
	}
}

func TestEnvOverridesStoredValue(t *testing.T) {
	t.Setenv("MAX_DEBATE_ROUNDS", "2")
	mgr := openTemp(t)

	if err := mgr.Merge(`{"max_debate_rounds": 4}`); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mgr.Stored().MaxDebateRounds; got != 4 {
		t.Fatalf("stored rounds = %d", got)
	}
	if got := mgr.Get().MaxDebateRounds; got != 2 {
		t.Fatalf("effective rounds = %d, want the environment's 2", got)
	}
}

func TestMergeRejectsUnusableConfig(t *testing.T) {
	mgr := openTemp(t)
	original, _ := os.ReadFile(mgr.Path())

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", `{"max_rounds": 2}`},
		{"unknown analyst", `{"selected_analysts": ["astrology"]}`},
		{"no analysts", `{"selected_analysts": []}`},
		{"pgvector without dsn", `{"memory_backend": "pgvector"}`},
		{"not json", `max_debate_rounds=2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mgr.Merge(tt.doc); err == nil {
				t.Fatalf("Merge(%s) accepted", tt.doc)
			}
		})
	}

	if mgr.Get().MemoryBackend != MemoryBackendSQLite {
		t.Fatal("rejected update was applied")
	}
	if now, _ := os.ReadFile(mgr.Path()); string(now) != string(original) {
		t.Fatal("rejected update was written")
	}
}

func TestMergeNotifiesWatchers(t *testing.T) {
	mgr := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	if err := mgr.Watch(ctx, func(cfg Config) { got = append(got, cfg.MaxDebateRounds) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := mgr.Merge(`{"max_debate_rounds": 3}`); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := mgr.Merge(`{"max_debate_rounds": 3}`); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("notifications = %v, want [3]", got)
	}
}

func TestWatchReloadsExternalEdit(t *testing.T) {
	mgr := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	if err := mgr.Watch(ctx, func(cfg Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	edited := mgr.Stored()
	edited.MaxRiskDiscussRounds = 3
	if err := writeConfigFile(mgr.Path(), edited); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.MaxRiskDiscussRounds != 3 {
			t.Fatalf("reloaded config = %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not pick up the edit")
	}
	if mgr.Get().MaxRiskDiscussRounds != 3 {
		t.Fatal("Get does not reflect the reload")
	}
}

func TestWatchKeepsConfigOnUnusableEdit(t *testing.T) {
	mgr := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	if err := mgr.Watch(ctx, func(cfg Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	broken := mgr.Stored()
	broken.SelectedAnalysts = []string{"astrology"}
	if err := writeConfigFile(mgr.Path(), broken); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDelay)
	if got := mgr.Get().SelectedAnalysts; len(got) != 4 {
		t.Fatalf("unusable edit was installed: %v", got)
	}

	fixed := mgr.Stored()
	fixed.SelectedAnalysts = []string{"news"}
	if err := writeConfigFile(mgr.Path(), fixed); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloaded:
		if len(cfg.SelectedAnalysts) != 1 || cfg.SelectedAnalysts[0] != "news" {
			t.Fatalf("first delivered config = %v, want the valid edit", cfg.SelectedAnalysts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not pick up the valid edit")
	}
}
