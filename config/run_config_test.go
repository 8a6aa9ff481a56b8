package config

import (
	"testing"
	"time"

	"github.com/dyike/cortexdesk/consts"
)

func TestParseAnalystKinds(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []consts.AnalystKind
		wantErr bool
	}{
		{"all", []string{"market", "sentiment", "news", "fundamentals"}, consts.AnalystKinds(), false},
		{"social alias and dedupe", []string{" Social ", "market", "sentiment"}, []consts.AnalystKind{consts.AnalystSentiment, consts.AnalystMarket}, false},
		{"unknown", []string{"astrology"}, nil, true},
		{"empty", []string{" ", ""}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalystKinds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestConfigRunConfig(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.MaxDebateRounds = 2
	cfg.MaxRiskDiscussRounds = 3
	cfg.SelectedAnalysts = []string{"news"}
	cfg.TurnTimeoutSeconds = 5

	rc, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if rc.MaxResearchRounds != 2 || rc.MaxRiskRounds != 3 {
		t.Fatalf("rounds = %d/%d", rc.MaxResearchRounds, rc.MaxRiskRounds)
	}
	if len(rc.AnalystKinds) != 1 || rc.AnalystKinds[0] != consts.AnalystNews {
		t.Fatalf("kinds = %v", rc.AnalystKinds)
	}
	if rc.TurnTimeout != 5*time.Second {
		t.Fatalf("turn timeout = %s", rc.TurnTimeout)
	}

	params := rc.Params()
	params.AnalystKinds[0] = consts.AnalystMarket
	if rc.AnalystKinds[0] != consts.AnalystNews {
		t.Fatal("Params shares the analyst slice")
	}
}

func TestRunConfigQuickAndValidate(t *testing.T) {
	rc := DefaultRunConfig()
	rc.MaxResearchRounds = 5
	q := rc.Quick()
	if q.MaxResearchRounds != 1 || q.MaxRiskRounds != 1 || len(q.AnalystKinds) != 2 {
		t.Fatalf("quick config = %+v", q)
	}
	if rc.MaxResearchRounds != 5 {
		t.Fatal("Quick mutated the receiver")
	}

	bad := DefaultRunConfig()
	bad.MaxRiskRounds = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("negative rounds accepted")
	}
	bad = DefaultRunConfig()
	bad.AnalystKinds = []consts.AnalystKind{consts.AnalystNews, consts.AnalystNews}
	if err := bad.Validate(); err == nil {
		t.Fatal("duplicate analyst accepted")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_DEBATE_ROUNDS", "4")
	t.Setenv("SELECTED_ANALYSTS", "market, news")
	t.Setenv("MEMORY_BACKEND", "memory")
	t.Setenv("ONLINE_TOOLS", "false")

	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.loadFromEnv()

	if cfg.MaxDebateRounds != 4 {
		t.Fatalf("MaxDebateRounds = %d", cfg.MaxDebateRounds)
	}
	if len(cfg.SelectedAnalysts) != 2 || cfg.SelectedAnalysts[1] != "news" {
		t.Fatalf("SelectedAnalysts = %v", cfg.SelectedAnalysts)
	}
	if cfg.MemoryBackend != MemoryBackendInMemory || cfg.OnlineTools {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
