// Package state persists user-authored custom rules.
//
// Every store implements Port. Failures are returned as *core.PersistenceError;
// callers treat them as advisories and carry on with an empty list.
package state

import (
	"context"
	"errors"

	"github.com/leapstack-labs/leaplint/pkg/core"
)

// Operation names carried by core.PersistenceError.
const (
	OpLoad = "load"
	OpSave = "save"
)

var errNotOpened = errors.New("database not opened")

// Port loads and saves the ordered list of custom rule definitions.
// Save replaces the whole list.
type Port interface {
	Load(ctx context.Context) ([]core.CustomRuleDefinition, error)
	Save(ctx context.Context, defs []core.CustomRuleDefinition) error
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *core.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &core.PersistenceError{Op: op, Err: err}
}

func cloneDefs(defs []core.CustomRuleDefinition) []core.CustomRuleDefinition {
	if len(defs) == 0 {
		return []core.CustomRuleDefinition{}
	}
	out := make([]core.CustomRuleDefinition, len(defs))
	copy(out, defs)
	return out
}
