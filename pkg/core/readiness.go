package core

import "fmt"

// Readiness is the lifecycle state of a lint session.
type Readiness int

// Readiness states. Loading is the initial state.
const (
	// Loading means the engine bundle has not been confirmed loaded yet.
	Loading Readiness = iota
	// Ready means the engine is loaded and the rule registry is built.
	Ready
	// Failed means the engine could not be loaded. Terminal for the session.
	Failed
)

// String returns the string representation of the readiness state.
func (r Readiness) String() string {
	switch r {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (r Readiness) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a state name.
func (r *Readiness) UnmarshalText(b []byte) error {
	switch string(b) {
	case "loading":
		*r = Loading
	case "ready":
		*r = Ready
	case "error":
		*r = Failed
	default:
		return fmt.Errorf("unknown readiness %q", b)
	}
	return nil
}
