package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leaplint/pkg/core"
	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Version int        `yaml:"version"`
	Rules   []fileRule `yaml:"rules"`
}

type fileRule struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// MarshalYAML always writes the source double-quoted so that it reads back
// byte for byte, leading indentation included.
func (r fileRule) MarshalYAML() (any, error) {
	return struct {
		Name   string     `yaml:"name"`
		Source *yaml.Node `yaml:"source"`
	}{
		Name: r.Name,
		Source: &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Style: yaml.DoubleQuotedStyle,
			Value: r.Source,
		},
	}, nil
}

func toFileRules(defs []core.CustomRuleDefinition) []fileRule {
	out := make([]fileRule, len(defs))
	for i, d := range defs {
		out[i] = fileRule{Name: d.Name, Source: d.Source}
	}
	return out
}

func fromFileRules(rules []fileRule) []core.CustomRuleDefinition {
	out := make([]core.CustomRuleDefinition, len(rules))
	for i, r := range rules {
		out[i] = core.CustomRuleDefinition{Name: r.Name, Source: r.Source}
	}
	return out
}

// FileStore keeps custom rules in a YAML file.
// A missing file reads as an empty list.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the stored definitions.
func (s *FileStore) Load(ctx context.Context) ([]core.CustomRuleDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError(OpLoad, err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []core.CustomRuleDefinition{}, nil
	}
	if err != nil {
		return nil, persistenceError(OpLoad, fmt.Errorf("failed to read %s: %w", s.path, err))
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, persistenceError(OpLoad, fmt.Errorf("failed to parse %s: %w", s.path, err))
	}
	if doc.Version > fileVersion {
		return nil, persistenceError(OpLoad, fmt.Errorf("%s: unsupported version %d", s.path, doc.Version))
	}
	return fromFileRules(doc.Rules), nil
}

// Save writes the list to a temp file and renames it over the target.
func (s *FileStore) Save(ctx context.Context, defs []core.CustomRuleDefinition) error {
	if err := ctx.Err(); err != nil {
		return persistenceError(OpSave, err)
	}

	data, err := yaml.Marshal(fileDocument{Version: fileVersion, Rules: toFileRules(defs)})
	if err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to encode custom rules: %w", err))
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to create %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return persistenceError(OpSave, fmt.Errorf("failed to write %s: %w", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return persistenceError(OpSave, fmt.Errorf("failed to sync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to close %s: %w", tmpName, err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to replace %s: %w", s.path, err))
	}
	return nil
}
