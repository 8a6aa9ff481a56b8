package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

// RunConfig holds the parameters of a single run. It is passed by value
// through every stage and never changes once a run has started.
type RunConfig struct {
	AnalystKinds      []consts.AnalystKind
	MaxResearchRounds int
	MaxRiskRounds     int
	MemoryK           int
	TurnTimeout       time.Duration
	AnalystTimeout    time.Duration
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		AnalystKinds:      consts.AnalystKinds(),
		MaxResearchRounds: 1,
		MaxRiskRounds:     1,
		MemoryK:           2,
	}
}

// RunConfig derives the run parameters from the loaded configuration.
func (c Config) RunConfig() (RunConfig, error) {
	kinds, err := ParseAnalystKinds(c.SelectedAnalysts)
	if err != nil {
		return RunConfig{}, err
	}
	rc := RunConfig{
		AnalystKinds:      kinds,
		MaxResearchRounds: c.MaxDebateRounds,
		MaxRiskRounds:     c.MaxRiskDiscussRounds,
		MemoryK:           c.MemoryTopK,
		TurnTimeout:       time.Duration(c.TurnTimeoutSeconds) * time.Second,
		AnalystTimeout:    time.Duration(c.AnalystTimeoutSeconds) * time.Second,
	}
	return rc, rc.Validate()
}

// Quick is the reduced configuration: one round per debate with the market
// and news analysts only.
func (r RunConfig) Quick() RunConfig {
	r.AnalystKinds = []consts.AnalystKind{consts.AnalystMarket, consts.AnalystNews}
	r.MaxResearchRounds = 1
	r.MaxRiskRounds = 1
	return r
}

func (r RunConfig) Validate() error {
	if len(r.AnalystKinds) == 0 {
		return fmt.Errorf("config: at least one analyst is required")
	}
	seen := make(map[consts.AnalystKind]bool, len(r.AnalystKinds))
	for _, k := range r.AnalystKinds {
		if !k.Valid() {
			return fmt.Errorf("config: unknown analyst %q", k)
		}
		if seen[k] {
			return fmt.Errorf("config: analyst %q selected twice", k)
		}
		seen[k] = true
	}
	if r.MaxResearchRounds < 0 || r.MaxRiskRounds < 0 {
		return fmt.Errorf("config: debate rounds must be >= 0")
	}
	if r.MemoryK < 0 {
		return fmt.Errorf("config: memory k must be >= 0")
	}
	return nil
}

// Params is the audit-trail view of the run parameters.
func (r RunConfig) Params() models.RunParams {
	return models.RunParams{
		AnalystKinds:      append([]consts.AnalystKind(nil), r.AnalystKinds...),
		MaxResearchRounds: r.MaxResearchRounds,
		MaxRiskRounds:     r.MaxRiskRounds,
		MemoryK:           r.MemoryK,
	}
}

// ParseAnalystKinds accepts analyst names as used in config files and flags.
// "social" is accepted as an alias for sentiment.
func ParseAnalystKinds(names []string) ([]consts.AnalystKind, error) {
	out := make([]consts.AnalystKind, 0, len(names))
	seen := make(map[consts.AnalystKind]bool)
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		if n == "social" {
			n = string(consts.AnalystSentiment)
		}
		kind := consts.AnalystKind(n)
		if !kind.Valid() {
			return nil, fmt.Errorf("config: unknown analyst %q", name)
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: at least one analyst is required")
	}
	return out, nil
}
