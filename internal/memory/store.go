// Package memory is the per-role lesson store consulted by debaters,
// judges, the trader and the portfolio manager. Records are append-only and
// each role has its own collection.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

type Store struct {
	embedder embedding.Embedder
	backend  Backend
	capacity int
	logger   *logging.Logger
}

type Option func(*Store)

// WithCapacity limits retrieval to the newest n records per role.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(embedder embedding.Embedder, backend Backend, opts ...Option) *Store {
	s := &Store{
		embedder: embedder,
		backend:  backend,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryStore is a hashing-embedder store backed by process memory.
func NewInMemoryStore(dim int, opts ...Option) *Store {
	return NewStore(NewHashEmbedder(dim), NewInMemoryBackend(), opts...)
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}
	return ToFloat32(vecs[0]), nil
}

// Record appends a lesson to role's collection.
func (s *Store) Record(ctx context.Context, role consts.Role, situation, lesson string, outcome *float64) (models.MemoryRecord, error) {
	if !role.Valid() {
		return models.MemoryRecord{}, errors.Invariantf("memory record for unknown role %q", role)
	}
	if strings.TrimSpace(lesson) == "" {
		return models.MemoryRecord{}, errors.Invariantf("memory record for %s has empty lesson", role)
	}
	vec, err := s.embed(ctx, situation)
	if err != nil {
		return models.MemoryRecord{}, err
	}
	rec, err := s.backend.Insert(ctx, models.MemoryRecord{
		Role:         role,
		Situation:    situation,
		Embedding:    vec,
		Lesson:       lesson,
		OutcomeScore: outcome,
	})
	if err != nil {
		return models.MemoryRecord{}, fmt.Errorf("insert memory for %s: %w", role, err)
	}
	s.logger.WithRole(string(role)).Debug("memory recorded", "seq", rec.Seq)
	return rec, nil
}

// Retrieve returns up to k lessons most similar to situation, most similar
// first with newer records winning ties. An empty collection yields an
// empty slice.
func (s *Store) Retrieve(ctx context.Context, role consts.Role, situation string, k int) ([]models.MemoryMatch, error) {
	if k <= 0 {
		return []models.MemoryMatch{}, nil
	}
	if !role.Valid() {
		return nil, errors.Invariantf("memory lookup for unknown role %q", role)
	}
	n, err := s.backend.Count(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("count memories for %s: %w", role, err)
	}
	if n == 0 {
		return []models.MemoryMatch{}, nil
	}
	vec, err := s.embed(ctx, situation)
	if err != nil {
		return nil, err
	}
	matches, err := s.backend.Search(ctx, role, vec, k, s.capacity)
	if err != nil {
		return nil, fmt.Errorf("search memories for %s: %w", role, err)
	}
	if matches == nil {
		matches = []models.MemoryMatch{}
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, role consts.Role) (int, error) {
	return s.backend.Count(ctx, role)
}
