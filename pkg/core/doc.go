// Package core defines the shared language of the leaplint system.
//
// This package contains:
//   - Rule identity (RuleDescriptor, RuleOrigin)
//   - Diagnostics and severities
//   - Custom rule definitions as persisted by the store
//   - Session readiness states
//   - The error taxonomy shared by loader, compiler, registry, session and store
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
