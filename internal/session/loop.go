package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"github.com/leapstack-labs/leaplint/pkg/lint"
)

// onLoaded applies the loader outcome. Only the first outcome counts.
func (s *Session) onLoaded(err error) {
	if s.readiness != core.Loading {
		return
	}

	if err != nil {
		var loadErr *core.EngineLoadError
		if !errors.As(err, &loadErr) {
			err = &core.EngineLoadError{URL: s.cfg.BundleURL, Reason: "failed", Err: err}
		}
		s.readiness = core.Failed
		s.loadErr = err
		s.lastErr = err
		close(s.settled)
		s.logger.Error("engine failed to load", slog.String("url", s.cfg.BundleURL), slog.String("error", err.Error()))
		s.notifier.Broadcast()
		return
	}

	s.builtins = s.cfg.Adapter.Rules()
	s.rebuild()
	s.readiness = core.Ready
	close(s.settled)
	s.logger.Info("engine ready",
		slog.Int("builtin_rules", len(s.builtins)),
		slog.Int("custom_rules", len(s.registered)),
		slog.Int("rejected", len(s.rejections)))

	s.schedule("engine ready")
	s.notifier.Broadcast()
}

// customsChanged persists the definition list and relints. The registry
// must already match s.customs.
func (s *Session) customsChanged(ctx context.Context) {
	if err := s.store.Save(ctx, s.customs); err != nil {
		s.advise("custom rules could not be saved", err)
	}
	s.schedule("custom rules changed")
	s.notifier.Broadcast()
}

func (s *Session) buildOptions() []lint.BuildOption {
	opts := []lint.BuildOption{lint.WithCustomEnabled(!s.cfg.CustomOptIn)}
	if s.cfg.DefaultEnabled != nil {
		opts = append(opts, lint.WithDefaultEnabled(s.cfg.DefaultEnabled...))
	}
	if s.registry != nil {
		opts = append(opts, lint.WithPrevious(s.registry))
	}
	return opts
}

// rebuild replaces the registry with one built from the current definitions
// and swaps the engine's custom rules to match. A definition the engine
// refuses to register is rejected and the build is repeated without it.
// The refusals are returned keyed by definition name.
func (s *Session) rebuild() map[string]error {
	defs := s.customs
	var refused []error
	byName := make(map[string]error)

	for {
		reg, rejected := lint.Build(s.builtins, defs, s.cfg.Compiler, s.buildOptions()...)

		s.unregisterAll()
		failed := s.registerAll(reg)

		kept := make([]core.CustomRuleDefinition, 0, len(defs))
		for _, def := range defs {
			id, _ := reg.CustomID(def.Name)
			if err, ok := failed[id]; ok {
				err = withRuleName(err, def.Name)
				refused = append(refused, err)
				byName[def.Name] = err
				delete(failed, id)
				continue
			}
			kept = append(kept, def)
		}

		if len(kept) == len(defs) {
			// Anything left over could not be traced to a definition.
			for id, err := range failed {
				reg.SetEnabled(id, false)
				refused = append(refused, err)
			}
			s.registry = reg
			s.rejections = append(refused, rejected...)
			break
		}
		defs = kept
	}

	for _, err := range s.rejections {
		s.logger.Warn("custom rule rejected", slog.String("error", err.Error()))
	}
	return byName
}

func (s *Session) unregisterAll() {
	for _, id := range s.registered {
		s.cfg.Adapter.Unregister(id)
	}
	s.registered = nil
}

// registerAll hands the registry's custom handles to the engine and returns
// the registration errors keyed by rule id.
func (s *Session) registerAll(reg *lint.Registry) map[string]error {
	failed := make(map[string]error)
	for _, h := range reg.Handles() {
		id := h.RuleID()
		if err := s.register(h); err != nil {
			var collision *core.CollisionError
			if !errors.As(err, &collision) {
				err = &core.ValidationError{RuleName: core.UnnamedRule, Field: "id", Reason: "engine refused registration: " + err.Error(), Err: err}
			}
			failed[id] = err
			continue
		}
		s.registered = append(s.registered, id)
	}
	return failed
}

func withRuleName(err error, name string) error {
	var verr *core.ValidationError
	if errors.As(err, &verr) && verr.RuleName == core.UnnamedRule {
		verr.RuleName = name
	}
	return err
}

func (s *Session) register(h engine.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return s.cfg.Adapter.Register(h)
}

// schedule starts a lint run for the current source and rule config.
// Any run still outstanding is superseded.
func (s *Session) schedule(reason string) {
	if s.readiness != core.Ready {
		return
	}

	s.token++
	token := s.token

	// The engine is not called, but the run still completes with no diagnostics.
	if s.source == "" && requiresInput(s.cfg.Adapter) {
		s.metrics.runsSuppressed.Inc()
		s.logger.Debug("lint run suppressed: engine requires input", slog.Uint64("token", token))
		s.inflight = false
		s.diagnostics = nil
		s.hasRun = true
		s.lastErr = nil
		s.publish()
		return
	}

	ruleset := s.registry.EngineRuleset(s.cfg.Adapter.EnableToken())
	s.metrics.runsStarted.Inc()
	s.logger.Debug("lint run started",
		slog.Uint64("token", token),
		slog.String("reason", reason),
		slog.Int("rules", len(ruleset)))

	start := time.Now()
	switch a := s.cfg.Adapter.(type) {
	case engine.AsyncAdapter:
		pending, err := s.lint(a, ruleset)
		if err != nil {
			s.complete(runResult{token: token, err: err, elapsed: time.Since(start)})
			return
		}
		s.inflight = true
		go s.await(token, pending, start)
	case engine.SyncAdapter:
		raw, err := s.verify(a, ruleset)
		s.complete(runResult{token: token, raw: raw, err: err, elapsed: time.Since(start)})
	}
}

func (s *Session) lint(a engine.AsyncAdapter, ruleset engine.Ruleset) (p *engine.Pending, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("engine panicked: %v", r)
		}
	}()
	p = a.Lint(s.runCtx, engine.Request{Code: s.source, RulesConfig: ruleset})
	if p == nil {
		return nil, errors.New("engine returned no pending result")
	}
	return p, nil
}

func (s *Session) verify(a engine.SyncAdapter, ruleset engine.Ruleset) (raw engine.RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return a.Verify(s.source, ruleset)
}

// await posts the outcome of a pending run back to the loop.
func (s *Session) await(token uint64, p *engine.Pending, start time.Time) {
	select {
	case <-p.Done():
	case <-s.done:
		return
	}
	raw, err := p.Result()
	select {
	case s.results <- runResult{token: token, raw: raw, err: err, elapsed: time.Since(start)}:
	case <-s.done:
	}
}

// complete applies a finished run if it is still the latest one.
func (s *Session) complete(r runResult) {
	s.metrics.runDuration.Observe(r.elapsed.Seconds())

	if r.token != s.token {
		s.metrics.staleResults.Inc()
		s.logger.Debug("discarding stale lint result", slog.Uint64("token", r.token), slog.Uint64("latest", s.token))
		return
	}
	s.inflight = false

	if r.err != nil {
		s.metrics.invocationErrors.Inc()
		s.lastErr = &core.LintInvocationError{Token: r.token, Err: r.err}
		s.logger.Warn("lint run failed", slog.Uint64("token", r.token), slog.String("error", r.err.Error()))
		s.notifier.Broadcast()
		s.flushIdle()
		return
	}

	s.diagnostics = lint.Adapt(r.raw)
	s.hasRun = true
	s.lastErr = nil
	s.metrics.runsApplied.Inc()
	s.logger.Debug("lint run applied",
		slog.Uint64("token", r.token),
		slog.Int("diagnostics", len(s.diagnostics)),
		slog.Duration("elapsed", r.elapsed))

	s.publish()
}

// publish hands the current diagnostics to the callback and wakes waiters.
func (s *Session) publish() {
	if s.cfg.OnDiagnostics != nil {
		s.cfg.OnDiagnostics(append([]core.Diagnostic{}, s.diagnostics...))
	}
	s.notifier.Broadcast()
	s.flushIdle()
}

func (s *Session) flushIdle() {
	if len(s.idle) == 0 {
		return
	}
	st := s.snapshot()
	for _, ch := range s.idle {
		ch <- st
	}
	s.idle = nil
}

func requiresInput(a engine.Adapter) bool {
	r, ok := a.(engine.InputRequirer)
	return ok && r.RequiresInput()
}
