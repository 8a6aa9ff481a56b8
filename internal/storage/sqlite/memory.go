package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/memory"
	"github.com/dyike/cortexdesk/models"
)

// MemoryBackend keeps role memories in the memories table. Similarity is
// computed in process over the role's capacity window.
type MemoryBackend struct {
	store *Store
}

func (s *Store) MemoryBackend() *MemoryBackend {
	return &MemoryBackend{store: s}
}

func (b *MemoryBackend) Insert(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error) {
	emb, err := json.Marshal(rec.Embedding)
	if err != nil {
		return rec, fmt.Errorf("marshal embedding: %w", err)
	}
	var outcome sql.NullFloat64
	if rec.OutcomeScore != nil {
		outcome = sql.NullFloat64{Float64: *rec.OutcomeScore, Valid: true}
	}
	res, err := b.store.db.ExecContext(ctx, `
INSERT INTO memories (role, situation, embedding, lesson, outcome)
VALUES (?, ?, ?, ?, ?)
`, string(rec.Role), rec.Situation, string(emb), rec.Lesson, outcome)
	if err != nil {
		return rec, fmt.Errorf("insert memory: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return rec, fmt.Errorf("memory seq: %w", err)
	}
	rec.Seq = seq
	return rec, nil
}

func (b *MemoryBackend) Search(ctx context.Context, role consts.Role, query []float32, k, capacity int) ([]models.MemoryMatch, error) {
	if k <= 0 {
		return []models.MemoryMatch{}, nil
	}
	q := `SELECT seq, lesson, embedding FROM memories WHERE role = ? ORDER BY seq DESC`
	args := []any{string(role)}
	if capacity > 0 {
		q += ` LIMIT ?`
		args = append(args, capacity)
	}
	rows, err := b.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var records []models.MemoryRecord
	for rows.Next() {
		var (
			rec models.MemoryRecord
			emb string
		)
		if err := rows.Scan(&rec.Seq, &rec.Lesson, &emb); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(emb), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memory.Rank(records, query, k, 0), nil
}

func (b *MemoryBackend) Count(ctx context.Context, role consts.Role) (int, error) {
	var n int
	if err := b.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE role = ?`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}
