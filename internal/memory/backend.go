package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

// Backend persists memory records per role. Insert assigns Seq. Search ranks
// only the newest capacity records of role (all of them when capacity <= 0)
// and must not create a collection for an unknown role.
type Backend interface {
	Insert(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error)
	Search(ctx context.Context, role consts.Role, query []float32, k, capacity int) ([]models.MemoryMatch, error)
	Count(ctx context.Context, role consts.Role) (int, error)
}

// Rank orders records by descending cosine similarity to query, breaking
// ties by newer Seq, and returns at most k matches. The result is never nil.
func Rank(records []models.MemoryRecord, query []float32, k, capacity int) []models.MemoryMatch {
	if k <= 0 || len(records) == 0 {
		return []models.MemoryMatch{}
	}
	window := records
	if capacity > 0 && len(window) > capacity {
		window = append([]models.MemoryRecord(nil), records...)
		sort.Slice(window, func(i, j int) bool { return window[i].Seq > window[j].Seq })
		window = window[:capacity]
	}

	matches := make([]models.MemoryMatch, len(window))
	for i, rec := range window {
		matches[i] = models.MemoryMatch{
			Lesson:     rec.Lesson,
			Similarity: Cosine(query, rec.Embedding),
			Seq:        rec.Seq,
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Seq > matches[j].Seq
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// InMemoryBackend keeps records in process. Each role's collection has its
// own lock so writers to one role never block readers of another.
type InMemoryBackend struct {
	mu          sync.RWMutex
	seq         int64
	collections map[consts.Role]*collection
}

type collection struct {
	mu      sync.RWMutex
	records []models.MemoryRecord
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{collections: make(map[consts.Role]*collection)}
}

func (b *InMemoryBackend) Insert(ctx context.Context, rec models.MemoryRecord) (models.MemoryRecord, error) {
	b.mu.Lock()
	b.seq++
	rec.Seq = b.seq
	c, ok := b.collections[rec.Role]
	if !ok {
		c = &collection{}
		b.collections[rec.Role] = c
	}
	c.mu.Lock()
	b.mu.Unlock()
	defer c.mu.Unlock()

	rec.Embedding = append([]float32(nil), rec.Embedding...)
	c.records = append(c.records, rec)
	return rec, nil
}

func (b *InMemoryBackend) lookup(role consts.Role) *collection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collections[role]
}

func (b *InMemoryBackend) Search(ctx context.Context, role consts.Role, query []float32, k, capacity int) ([]models.MemoryMatch, error) {
	c := b.lookup(role)
	if c == nil {
		return []models.MemoryMatch{}, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Rank(c.records, query, k, capacity), nil
}

func (b *InMemoryBackend) Count(ctx context.Context, role consts.Role) (int, error) {
	c := b.lookup(role)
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}

// Roles lists roles that have at least one record.
func (b *InMemoryBackend) Roles() []consts.Role {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]consts.Role, 0, len(b.collections))
	for r := range b.collections {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
