package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

// ErrNotFound is returned by LoadRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// EventRecord is one stage transition logged while a run executes.
type EventRecord struct {
	RunID     string
	Seq       int
	Stage     string
	Status    string
	Detail    string
	CreatedAt time.Time
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    ticker TEXT NOT NULL,
    as_of TEXT NOT NULL,
    action TEXT NOT NULL,
    confidence TEXT NOT NULL,
    flagged INTEGER NOT NULL DEFAULT 0,
    trail_json TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(ticker, as_of, run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_ticker_created ON runs(ticker, created_at);

CREATE TABLE IF NOT EXISTS turns (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    debate TEXT NOT NULL,
    seq INTEGER NOT NULL,
    party TEXT NOT NULL,
    round INTEGER NOT NULL,
    status TEXT NOT NULL,
    utterance TEXT NOT NULL DEFAULT '',
    PRIMARY KEY(run_id, debate, seq)
);

CREATE TABLE IF NOT EXISTS run_events (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    stage TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(run_id, seq)
);

CREATE TABLE IF NOT EXISTS memories (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    role TEXT NOT NULL,
    situation TEXT NOT NULL,
    embedding TEXT NOT NULL,
    lesson TEXT NOT NULL,
    outcome REAL
);

CREATE INDEX IF NOT EXISTS idx_memories_role_seq ON memories(role, seq);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// SaveRun stores the record and its debate turns in one transaction.
// Saving the same run id twice is rejected.
func (s *Store) SaveRun(ctx context.Context, rec models.RunRecord) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	trail, err := json.Marshal(rec.Trail)
	if err != nil {
		return fmt.Errorf("marshal trail: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	d := rec.Trail.FinalDecision
	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (run_id, ticker, as_of, action, confidence, flagged, trail_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, rec.RunID, rec.Trail.Ticker, rec.Trail.AsOf, string(d.Action), string(d.Confidence), d.Flagged, string(trail), createdAt.UTC()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, debate := range []models.DebateRecord{rec.Trail.ResearchDebate, rec.Trail.RiskDebate} {
		for i, turn := range debate.Transcript.Turns {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO turns (run_id, debate, seq, party, round, status, utterance)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.RunID, debate.Name, i+1, string(turn.Party), turn.Round, string(turn.Status), turn.Utterance); err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) LoadRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var (
		trailJSON string
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `SELECT trail_json, created_at FROM runs WHERE run_id = ?`, runID).
		Scan(&trailJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	rec := &models.RunRecord{RunID: runID, CreatedAt: createdAt}
	if err := json.Unmarshal([]byte(trailJSON), &rec.Trail); err != nil {
		return nil, fmt.Errorf("decode trail: %w", err)
	}
	return rec, nil
}

// ListRuns returns the newest runs first. An empty ticker lists every run.
func (s *Store) ListRuns(ctx context.Context, ticker string, limit int) ([]models.RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT run_id, ticker, as_of, action, flagged, created_at FROM runs`
	args := []any{}
	if ticker != "" {
		query += ` WHERE ticker = ?`
		args = append(args, strings.ToUpper(ticker))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		var (
			r      models.RunSummary
			action string
		)
		if err := rows.Scan(&r.RunID, &r.Ticker, &r.AsOf, &action, &r.Flagged, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Action = models.Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Turns returns the stored turns of one debate of a run, in order.
func (s *Store) Turns(ctx context.Context, runID, debate string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT party, round, status, utterance FROM turns
WHERE run_id = ? AND debate = ?
ORDER BY seq ASC
`, runID, debate)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var (
			t             models.Turn
			party, status string
		)
		if err := rows.Scan(&party, &t.Round, &status, &t.Utterance); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Party = consts.Role(party)
		t.Status = models.TurnStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertEvent(ctx context.Context, ev EventRecord) error {
	if ev.Seq <= 0 {
		return fmt.Errorf("event seq must be positive")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_events (run_id, seq, stage, status, detail)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO NOTHING
`, ev.RunID, ev.Seq, ev.Stage, ev.Status, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, stage, status, detail, created_at FROM run_events
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Stage, &ev.Status, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
