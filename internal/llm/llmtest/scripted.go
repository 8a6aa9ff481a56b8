// Package llmtest provides a scripted Invoker for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/llm"
)

// Scripted answers each role with a fixed response. Roles listed in Fail
// always return that error; FailFirst[role] fails the first n calls.
type Scripted struct {
	Responses map[consts.Role]string
	Default   string
	Fail      map[consts.Role]error
	FailFirst map[consts.Role]int
	// OnInvoke runs before the response is chosen.
	OnInvoke func(ctx context.Context, req llm.Request)

	mu       sync.Mutex
	requests []llm.Request
	counts   map[consts.Role]int
}

func New(responses map[consts.Role]string, def string) *Scripted {
	return &Scripted{Responses: responses, Default: def}
}

func (s *Scripted) Invoke(ctx context.Context, req llm.Request) (string, error) {
	if s.OnInvoke != nil {
		s.OnInvoke(ctx, req)
	}

	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[consts.Role]int)
	}
	s.counts[req.Role]++
	n := s.counts[req.Role]
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err, ok := s.Fail[req.Role]; ok {
		return "", err
	}
	if n <= s.FailFirst[req.Role] {
		return "", fmt.Errorf("%s: scripted transient failure %d", req.Role, n)
	}
	if out, ok := s.Responses[req.Role]; ok {
		return out, nil
	}
	return s.Default, nil
}

// Calls returns how many times role was invoked.
func (s *Scripted) Calls(role consts.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[role]
}

// Requests returns every request in arrival order.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// RolesInOrder returns the role of every request in arrival order.
func (s *Scripted) RolesInOrder() []consts.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consts.Role, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Role
	}
	return out
}
