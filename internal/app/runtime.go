package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/graph"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

// WithNotifier receives "engine.reloaded" and "engine.reload_failed" events
// with a JSON payload.
func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithRuntimeLogger(l *logging.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runtime holds the current Engine and swaps it whenever the config file
// changes. A failed rebuild keeps the previous engine.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  func(string, string)
	logger  *logging.Logger
	cancel  context.CancelFunc

	mu      sync.Mutex
	retired []*Engine
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: BuildEngine,
		logger:  logging.NopLogger(),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := rt.reload(cfg); err != nil {
			rt.logger.Error("engine reload failed", "error", err)
		}
	}); err != nil {
		cancel()
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

func (r *Runtime) Config() config.Config {
	return r.cfgMgr.Get()
}

// Close stops watching and releases every engine built so far.
func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	retired := r.retired
	r.retired = nil
	r.mu.Unlock()
	for _, e := range retired {
		e.Close()
	}
	if e := r.engine.Swap(nil); e != nil {
		e.Close()
	}
}

// Propagate runs ticker on the current engine with the run parameters of
// the current config.
func (r *Runtime) Propagate(ctx context.Context, ticker, date string, progress graph.ProgressFunc) (*models.RunResult, error) {
	e := r.Engine()
	if e == nil || e.Graph == nil {
		return nil, fmt.Errorf("engine is not ready")
	}
	rc, err := e.Config.RunConfig()
	if err != nil {
		return nil, err
	}
	return e.Graph.Propagate(ctx, ticker, date, rc, progress)
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.Merge(jsonStr)
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	// runs may still hold the previous engine, so it is closed with the runtime
	if old := r.engine.Swap(engine); old != nil {
		r.mu.Lock()
		r.retired = append(r.retired, old)
		r.mu.Unlock()
	}
	r.logger.Info("engine ready", "version", engine.Version)
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
