package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

// PGVectorBackend stores memories in Postgres and ranks them with the
// pgvector cosine distance operator.
type PGVectorBackend struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPGVectorBackend(ctx context.Context, dsn string, dim int) (*PGVectorBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: ping: %w", err)
	}
	b := &PGVectorBackend{pool: pool, dim: dim}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PGVectorBackend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			seq           BIGSERIAL PRIMARY KEY,
			role          TEXT NOT NULL,
			situation     TEXT NOT NULL,
			lesson        TEXT NOT NULL,
			outcome_score DOUBLE PRECISION,
			embedding     vector(%d) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, b.dim),
		`CREATE INDEX IF NOT EXISTS memories_role_seq ON memories (role, seq DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

func (b *PGVectorBackend) Insert(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error) {
	err := b.pool.QueryRow(ctx,
		`INSERT INTO memories (role, situation, lesson, outcome_score, embedding)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		string(rec.Role), rec.Situation, rec.Lesson, rec.OutcomeScore, pgvector.NewVector(rec.Embedding),
	).Scan(&rec.Seq)
	if err != nil {
		return models.MemoryRecord{}, fmt.Errorf("memory: insert: %w", err)
	}
	return rec, nil
}

// searchSQL returns the $3 best matches for $2 among the newest $4 records of
// role $1.
// The cosine distance of a zero vector is NaN in pgvector; it scores 0 like
// Cosine does, so every backend orders that case the same way.
const searchSQL = `SELECT lesson, similarity, seq FROM (
	SELECT lesson, seq, COALESCE(NULLIF(1 - (embedding <=> $2), 'NaN'::float8), 0) AS similarity
	FROM (SELECT lesson, embedding, seq FROM memories WHERE role = $1 ORDER BY seq DESC LIMIT $4) w
) ranked
ORDER BY similarity DESC, seq DESC
LIMIT $3`

func (b *PGVectorBackend) Search(ctx context.Context, role consts.Role, query []float32, k, capacity int) ([]models.MemoryMatch, error) {
	if k <= 0 {
		return []models.MemoryMatch{}, nil
	}
	if capacity <= 0 {
		capacity = math.MaxInt32
	}
	rows, err := b.pool.Query(ctx, searchSQL, string(role), pgvector.NewVector(query), k, capacity)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer rows.Close()

	out := []models.MemoryMatch{}
	for rows.Next() {
		var m models.MemoryMatch
		if err := rows.Scan(&m.Lesson, &m.Similarity, &m.Seq); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *PGVectorBackend) Count(ctx context.Context, role consts.Role) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT count(*) FROM memories WHERE role = $1`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

func (b *PGVectorBackend) Close() {
	b.pool.Close()
}
