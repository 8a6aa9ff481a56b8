// Package flowtest provides an in-memory Fetcher for tests.
package flowtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/errors"
)

// Stub serves canned bodies per analyst kind. Kinds in Fail return a
// data-unavailable error; kinds with no body return one too.
type Stub struct {
	Bodies map[consts.AnalystKind]string
	Fail   map[consts.AnalystKind]bool
	// Block makes Fetch wait for ctx for the listed kinds.
	Block map[consts.AnalystKind]bool

	mu    sync.Mutex
	calls []Call
}

type Call struct {
	Kind   consts.AnalystKind
	Ticker string
	AsOf   time.Time
}

// Full returns a stub with a body for every analyst kind.
func Full(ticker string) *Stub {
	bodies := make(map[consts.AnalystKind]string)
	for _, k := range consts.AnalystKinds() {
		bodies[k] = fmt.Sprintf("%s data for %s", k, ticker)
	}
	return &Stub{Bodies: bodies}
}

func (s *Stub) Fetch(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) (*dataflows.RawData, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Kind: kind, Ticker: ticker, AsOf: asOf})
	s.mu.Unlock()

	if s.Block[kind] {
		<-ctx.Done()
		return nil, errors.NewDataUnavailableError(string(kind), "stub", ctx.Err())
	}
	if s.Fail[kind] {
		return nil, errors.NewDataUnavailableError(string(kind), "stub", fmt.Errorf("provider down"))
	}
	body, ok := s.Bodies[kind]
	if !ok {
		return nil, errors.NewDataUnavailableError(string(kind), "stub", fmt.Errorf("no data"))
	}
	return &dataflows.RawData{Kind: kind, Source: "stub", Body: body}, nil
}

func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
