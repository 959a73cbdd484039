// Package enginetest provides in-memory engine adapters for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
)

// Handle is a trivial engine.Handle.
type Handle struct {
	ID string
}

// RuleID implements engine.Handle.
func (h Handle) RuleID() string { return h.ID }

// Rule is a shorthand for a built-in descriptor.
func Rule(id string) core.RuleDescriptor {
	return core.RuleDescriptor{ID: id, Name: id, Description: "test rule " + id, Origin: core.OriginBuiltin}
}

type base struct {
	mu       sync.Mutex
	name     string
	builtins []core.RuleDescriptor
	custom   map[string]engine.Handle
	token    any
}

func (b *base) init(name string, token any, rules []core.RuleDescriptor) {
	b.name = name
	b.builtins = rules
	b.custom = make(map[string]engine.Handle)
	b.token = token
}

func (b *base) Name() string { return b.name }

func (b *base) Rules() []core.RuleDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.RuleDescriptor, len(b.builtins))
	copy(out, b.builtins)
	return out
}

func (b *base) Register(h engine.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := h.RuleID()
	for _, r := range b.builtins {
		if r.ID == id {
			return fmt.Errorf("rule %q already registered", id)
		}
	}
	if _, ok := b.custom[id]; ok {
		return fmt.Errorf("rule %q already registered", id)
	}
	b.custom[id] = h
	return nil
}

func (b *base) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.custom, id)
}

func (b *base) EnableToken() any { return b.token }

// Registered returns the ids of registered custom rules, sorted.
func (b *base) Registered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.custom))
	for id := range b.custom {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyFunc produces a raw result for a source and ruleset.
type VerifyFunc func(source string, rules engine.Ruleset) (engine.RawResult, error)

// Call records one engine invocation.
type Call struct {
	Source string
	Rules  engine.Ruleset
}

// Sync is a SyncAdapter driven by a VerifyFunc.
type Sync struct {
	base
	VerifyFunc   VerifyFunc
	RequireInput bool

	callsMu sync.Mutex
	calls   []Call
}

var (
	_ engine.SyncAdapter   = (*Sync)(nil)
	_ engine.InputRequirer = (*Sync)(nil)
)

// NewSync returns a synchronous fake using CSSLint's enable token (1).
func NewSync(rules ...core.RuleDescriptor) *Sync {
	s := &Sync{}
	s.init("fake-sync", 1, rules)
	return s
}

// Verify implements engine.SyncAdapter.
func (s *Sync) Verify(source string, rules engine.Ruleset) (engine.RawResult, error) {
	s.callsMu.Lock()
	s.calls = append(s.calls, Call{Source: source, Rules: rules})
	s.callsMu.Unlock()
	if s.VerifyFunc == nil {
		return engine.RawResult{}, nil
	}
	return s.VerifyFunc(source, rules)
}

// RequiresInput implements engine.InputRequirer.
func (s *Sync) RequiresInput() bool { return s.RequireInput }

// Calls returns a copy of the recorded invocations.
func (s *Sync) Calls() []Call {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Async is an AsyncAdapter whose pending results are settled by the test.
type Async struct {
	base

	// RequireInput makes the fake refuse empty code.
	RequireInput bool

	callMu   sync.Mutex
	requests []engine.Request
	pendings []*engine.Pending
	called   chan struct{}
}

var _ engine.AsyncAdapter = (*Async)(nil)

// NewAsync returns an asynchronous fake using stylelint's enable token (true).
func NewAsync(rules ...core.RuleDescriptor) *Async {
	a := &Async{called: make(chan struct{}, 64)}
	a.init("fake-async", true, rules)
	return a
}

// Lint implements engine.AsyncAdapter. The returned pending stays open until
// the test settles it through Pending(i).
func (a *Async) Lint(_ context.Context, req engine.Request) *engine.Pending {
	p := engine.NewPending()
	a.callMu.Lock()
	a.requests = append(a.requests, req)
	a.pendings = append(a.pendings, p)
	a.callMu.Unlock()
	a.called <- struct{}{}
	return p
}

// RequiresInput implements engine.InputRequirer.
func (a *Async) RequiresInput() bool { return a.RequireInput }

// Called receives one value per Lint call.
func (a *Async) Called() <-chan struct{} { return a.called }

// Pending returns the pending of the i-th call.
func (a *Async) Pending(i int) *engine.Pending {
	a.callMu.Lock()
	defer a.callMu.Unlock()
	return a.pendings[i]
}

// Requests returns a copy of the recorded requests.
func (a *Async) Requests() []engine.Request {
	a.callMu.Lock()
	defer a.callMu.Unlock()
	out := make([]engine.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Substring returns a VerifyFunc that reports one CSSLint-style warning per
// source line containing the marker of an enabled rule.
func Substring(markers map[string]string) VerifyFunc {
	return func(source string, rules engine.Ruleset) (engine.RawResult, error) {
		return engine.RawResult{Messages: SubstringMessages(source, rules, markers)}, nil
	}
}

// SubstringMessages is the message list Substring would produce.
// Rule ids are visited in sorted order so results are deterministic.
func SubstringMessages(source string, rules engine.Ruleset, markers map[string]string) []engine.RawMessage {
	ids := make([]string, 0, len(markers))
	for id := range markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var msgs []engine.RawMessage
	for n, text := range strings.Split(source, "\n") {
		for _, id := range ids {
			if _, enabled := rules[id]; !enabled {
				continue
			}
			if strings.Contains(text, markers[id]) {
				line := n + 1
				msgs = append(msgs, engine.RawMessage{
					Type:    "warning",
					Line:    &line,
					Message: fmt.Sprintf("found %q", markers[id]),
					RuleID:  id,
				})
			}
		}
	}
	return msgs
}
