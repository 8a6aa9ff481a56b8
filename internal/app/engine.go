// Package app assembles a decision engine from configuration and keeps it
// current while the config file changes.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/graph"
	"github.com/dyike/cortexdesk/internal/llm"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/internal/memory"
	"github.com/dyike/cortexdesk/internal/storage"
	"github.com/dyike/cortexdesk/internal/storage/sqlite"
)

// Engine is one immutable build of the pipeline and its collaborators.
// A config change produces a new Engine; runs in flight keep the old one.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Graph  *graph.TradingAgentsGraph
	Store  *sqlite.Store
	Memory *memory.Store
	Logger *logging.Logger

	closers []func()
}

var engineSeq atomic.Uint64

type buildOptions struct {
	invoker llm.Invoker
	fetcher dataflows.Fetcher
	logger  *logging.Logger
}

type EngineOption func(*buildOptions)

// WithInvoker replaces the provider-backed reasoning service.
func WithInvoker(inv llm.Invoker) EngineOption {
	return func(o *buildOptions) { o.invoker = inv }
}

// WithFetcher replaces the network toolkit.
func WithFetcher(f dataflows.Fetcher) EngineOption {
	return func(o *buildOptions) { o.fetcher = f }
}

func WithLogger(l *logging.Logger) EngineOption {
	return func(o *buildOptions) { o.logger = l }
}

// BuildEngine builds an engine with the provider, toolkit and memory
// backend that cfg selects.
func BuildEngine(cfg config.Config) (*Engine, error) {
	return BuildEngineWith(cfg)
}

func BuildEngineWith(cfg config.Config, opts ...EngineOption) (*Engine, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()

	e := &Engine{Config: cfg, BuiltAt: time.Now(), Logger: o.logger}
	if e.Logger == nil {
		logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		e.Logger = logger
		e.closers = append(e.closers, func() { _ = logger.Close() })
	}

	inv := o.invoker
	if inv == nil {
		eino, err := llm.NewEinoInvokerFromConfig(ctx, cfg)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("build invoker: %w", err)
		}
		inv = eino
	}
	inv = llm.WithRetry(inv, llm.PolicyFromConfig(cfg), e.Logger)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = dataflows.NewToolkit(cfg, e.Logger)
	}

	store, err := storage.SharedSQLiteStore(cfg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.Store = store

	if e.Memory, err = e.openMemory(ctx, cfg); err != nil {
		e.Close()
		return nil, err
	}

	pipeline, err := graph.NewPipeline(ctx, graph.Deps{
		Fetcher: fetcher,
		Invoker: inv,
		Memory:  e.Memory,
		Logger:  e.Logger,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	reflector, err := graph.NewReflector(pipeline.Team(), e.Memory, e.Logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	gopts := []graph.GraphOption{
		graph.WithReflector(reflector),
		graph.WithEventStore(store),
		graph.WithWriters(storage.NewSQLiteWriter(store)),
	}
	if cfg.PersistResults && cfg.ResultsDir != "" {
		gopts = append(gopts, graph.WithWriters(storage.NewMarkdownWriter(cfg.ResultsDir)))
	}
	e.Graph = graph.NewTradingAgentsGraph(pipeline, e.Logger, gopts...)
	e.Version = engineSeq.Add(1)
	return e, nil
}

func (e *Engine) openMemory(ctx context.Context, cfg config.Config) (*memory.Store, error) {
	var backend memory.Backend
	switch cfg.MemoryBackend {
	case config.MemoryBackendInMemory:
		backend = memory.NewInMemoryBackend()
	case config.MemoryBackendSQLite:
		backend = e.Store.MemoryBackend()
	case config.MemoryBackendPGVector:
		pg, err := memory.NewPGVectorBackend(ctx, cfg.MemoryDSN, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("open pgvector memory: %w", err)
		}
		e.closers = append(e.closers, pg.Close)
		backend = pg
	default:
		return nil, fmt.Errorf("unsupported memory backend %q", cfg.MemoryBackend)
	}
	return memory.NewStore(memory.NewHashEmbedder(cfg.EmbeddingDim), backend,
		memory.WithCapacity(cfg.MemoryCapacity),
		memory.WithLogger(e.Logger),
	), nil
}

// ResultsDir is where markdown reports of ticker are written.
func (e *Engine) ResultsDir(ticker string) string {
	return filepath.Join(e.Config.ResultsDir, dataflows.NormalizeSymbol(ticker))
}

// Close releases resources owned by this engine. The sqlite store is
// shared across engines and stays open.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
