package starengine

import (
	"context"
	"fmt"
	"sort"

	starctx "github.com/leapstack-labs/leaplint/internal/starlark"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/leapstack-labs/leaplint/pkg/engine"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// activeRule is one enabled rule taking part in a run.
type activeRule struct {
	rule     *starctx.CompiledRule
	severity core.Severity
	thread   *starlark.Thread
	failed   bool
}

type listener struct {
	rule *activeRule
	fn   starlark.Callable
}

// run is the state of one Verify call. It is confined to the calling goroutine.
type run struct {
	listeners map[string][]listener
	messages  []engine.RawMessage
}

func (r *run) execute(ctx context.Context, pool *starctx.ThreadPool, rules []*activeRule, events []Event) error {
	r.listeners = make(map[string][]listener)

	for _, ar := range rules {
		ar.thread = pool.Get(ar.rule.RuleID())
		stop := starctx.Bind(ctx, ar.thread)
		defer func(ar *activeRule) {
			stop()
			pool.Put(ar.thread)
		}(ar)

		args := starlark.Tuple{r.parser(ar), r.reporter(ar)}
		if _, err := starlark.Call(ar.thread, ar.rule.Init(), args, nil); err != nil {
			r.fail(ar, err)
		}
	}

	for _, ev := range events {
		ls := r.listeners[ev.Type]
		if len(ls) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := starctx.NewStruct("event", ev.fields())
		if err != nil {
			return fmt.Errorf("building %s event: %w", ev.Type, err)
		}
		for _, l := range ls {
			if l.rule.failed {
				continue
			}
			if _, err := starlark.Call(l.rule.thread, l.fn, starlark.Tuple{v}, nil); err != nil {
				r.fail(l.rule, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sortMessages(r.messages)
	return nil
}

// fail reports a rule's runtime error as an error message and silences the rule.
func (r *run) fail(ar *activeRule, err error) {
	ar.failed = true
	r.messages = append(r.messages, engine.RawMessage{
		Type:    core.SeverityError.String(),
		Message: fmt.Sprintf("Rule %s failed: %v", ar.rule.RuleID(), err),
		RuleID:  ar.rule.RuleID(),
	})
}

func (r *run) parser(ar *activeRule) starlark.Value {
	addListener := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			event string
			fn    starlark.Callable
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &event, &fn); err != nil {
			return nil, err
		}
		if !knownEvents[event] {
			return nil, fmt.Errorf("%s: unknown event %q", b.Name(), event)
		}
		r.listeners[event] = append(r.listeners[event], listener{rule: ar, fn: fn})
		return starlark.None, nil
	}

	return starlarkstruct.FromStringDict(starlark.String("parser"), starlark.StringDict{
		"add_listener": starlark.NewBuiltin("add_listener", addListener),
		"addListener":  starlark.NewBuiltin("addListener", addListener),
	})
}

func (r *run) reporter(ar *activeRule) starlark.Value {
	reportAs := func(sev *core.Severity) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				message   string
				line, col starlark.Value = starlark.None, starlark.None
				ignored   starlark.Value
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "message", &message, "line?", &line, "col?", &col, "rule?", &ignored); err != nil {
				return nil, err
			}
			l, err := position(line)
			if err != nil {
				return nil, fmt.Errorf("%s: line: %w", b.Name(), err)
			}
			c, err := position(col)
			if err != nil {
				return nil, fmt.Errorf("%s: col: %w", b.Name(), err)
			}

			severity := ar.severity
			if sev != nil {
				severity = *sev
			}
			r.messages = append(r.messages, engine.RawMessage{
				Type:    severity.String(),
				Line:    l,
				Col:     c,
				Message: message,
				RuleID:  ar.rule.RuleID(),
			})
			return starlark.None, nil
		}
	}

	warn, fatal := core.SeverityWarning, core.SeverityError
	return starlarkstruct.FromStringDict(starlark.String("reporter"), starlark.StringDict{
		"report": starlark.NewBuiltin("report", reportAs(nil)),
		"warn":   starlark.NewBuiltin("warn", reportAs(&warn)),
		"error":  starlark.NewBuiltin("error", reportAs(&fatal)),
	})
}

// position converts an optional line or column argument. None means unknown.
func position(v starlark.Value) (*int, error) {
	g, err := starctx.ToGo(v)
	if err != nil {
		return nil, err
	}
	switch n := g.(type) {
	case nil:
		return nil, nil
	case int64:
		p := int(n)
		return &p, nil
	default:
		return nil, fmt.Errorf("want int or None, got %s", v.Type())
	}
}

// sortMessages orders messages by position; messages without a line go last.
// Ties keep report order.
func sortMessages(msgs []engine.RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		switch {
		case a.Line == nil || b.Line == nil:
			return a.Line != nil && b.Line == nil
		case *a.Line != *b.Line:
			return *a.Line < *b.Line
		case a.Col == nil || b.Col == nil:
			return a.Col != nil && b.Col == nil
		default:
			return *a.Col < *b.Col
		}
	})
}
