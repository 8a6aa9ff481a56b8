package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/internal/storage"
	"github.com/dyike/cortexdesk/internal/storage/sqlite"
	"github.com/dyike/cortexdesk/models"
)

// TradingAgentsGraph pairs the pipeline with persistence and reflection.
type TradingAgentsGraph struct {
	pipeline  *Pipeline
	reflector *Reflector
	writers   []storage.Writer
	events    *sqlite.Store
	logger    *logging.Logger
	now       func() time.Time
}

type GraphOption func(*TradingAgentsGraph)

// WithWriters adds result persistence targets.
func WithWriters(ws ...storage.Writer) GraphOption {
	return func(g *TradingAgentsGraph) { g.writers = append(g.writers, ws...) }
}

// WithEventStore records stage events of every run in store.
func WithEventStore(store *sqlite.Store) GraphOption {
	return func(g *TradingAgentsGraph) { g.events = store }
}

// WithReflector enables ReflectAndRemember.
func WithReflector(r *Reflector) GraphOption {
	return func(g *TradingAgentsGraph) { g.reflector = r }
}

func NewTradingAgentsGraph(pipeline *Pipeline, logger *logging.Logger, opts ...GraphOption) *TradingAgentsGraph {
	if logger == nil {
		logger = logging.NopLogger()
	}
	g := &TradingAgentsGraph{pipeline: pipeline, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Propagate runs the pipeline for symbol on date (YYYY-MM-DD) and hands the
// record to every writer. A persistence failure is returned together with
// the result; the decision itself stands.
func (g *TradingAgentsGraph) Propagate(ctx context.Context, symbol, date string, rc config.RunConfig, progress ProgressFunc) (*models.RunResult, error) {
	asOf, err := dataflows.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date format: %w", err)
	}

	opts := []RunOption{WithProgress(progress)}
	var recorder *storage.EventRecorder
	if g.events != nil {
		runID := newRunID()
		recorder, err = storage.NewEventRecorder(g.events, runID, g.logger)
		if err != nil {
			return nil, err
		}
		opts = []RunOption{WithRunID(runID), WithProgress(func(ev models.StageEvent) {
			recorder.Record(ev)
			if progress != nil {
				progress(ev)
			}
		})}
	}

	result, err := g.pipeline.Run(ctx, symbol, asOf, rc, opts...)
	if recorder != nil {
		if cerr := recorder.Close(); cerr != nil {
			g.logger.Warn("stage events not fully recorded", "error", cerr)
		}
	}
	if err != nil {
		return nil, err
	}

	rec := models.RunRecord{RunID: result.RunID, CreatedAt: g.now(), Trail: result.Trail}
	// persistence must not be skipped because the run itself was canceled
	if err := storage.WriteAll(context.WithoutCancel(ctx), g.writers, rec); err != nil {
		g.logger.Error("persist run", "run_id", result.RunID, "error", err)
		return result, fmt.Errorf("persist run %s: %w", result.RunID, err)
	}
	return result, nil
}

// ReflectAndRemember stores lessons from a finished run once its realized
// return is known. It returns how many lessons were recorded.
func (g *TradingAgentsGraph) ReflectAndRemember(ctx context.Context, trail models.AuditTrail, returns float64) (int, error) {
	if g.reflector == nil {
		return 0, fmt.Errorf("reflection is not configured")
	}
	return g.reflector.Reflect(ctx, trail, returns)
}
