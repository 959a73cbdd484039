package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leaplint/internal/cli/config"
)

// ConfigField represents a configuration field definition.
type ConfigField struct {
	Name        string
	Type        string
	Default     string
	Description string
}

// getConfigSchema lists the keys of leaplint.yaml with their defaults.
func getConfigSchema() []ConfigField {
	def := config.Default()
	return []ConfigField{
		{Name: "bundle_url", Type: "string", Default: def.BundleURL, Description: "Rule bundle: builtin:<name>, a file path or an http(s) URL"},
		{Name: "load_timeout", Type: "duration", Default: def.LoadTimeout.String(), Description: "How long a session waits for the bundle before failing"},
		{Name: "store.kind", Type: "string", Default: def.Store.Kind, Description: "Custom rule store: sqlite, file or memory"},
		{Name: "store.path", Type: "string", Default: config.DefaultSQLitePath, Description: "Store location (" + config.DefaultFilePath + " for the file store)"},
		{Name: "engine.mode", Type: "string", Default: def.Engine.Mode, Description: "sync runs rules inline, async through the pending-result engine"},
		{Name: "engine.max_steps", Type: "int", Default: "0", Description: "Starlark step budget per rule invocation (0 for unlimited)"},
		{Name: "engine.latency", Type: "duration", Default: "0s", Description: "Artificial delay of the async engine"},
		{Name: "rules.enabled", Type: "[]string", Default: strings.Join(def.Rules.Enabled, ","), Description: "Built-in rules enabled at start; " + InlineCode(config.AllRules) + " enables all"},
		{Name: "rules.custom_enabled", Type: "bool", Default: fmt.Sprint(def.Rules.CustomEnabled), Description: "Whether custom rules start enabled"},
		{Name: "server.addr", Type: "string", Default: def.Server.Addr, Description: "Listen address of leaplint serve"},
		{Name: "server.watch", Type: "string", Default: "", Description: "Style sheet leaplint serve relints on change"},
		{Name: "output", Type: "string", Default: def.OutputFormat, Description: "Output format: auto, text, markdown or json"},
		{Name: "log_level", Type: "string", Default: def.LogLevel, Description: "Log level: debug, info, warn or error"},
	}
}

// generateConfigDocs writes the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating config docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "leaplint configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("leaplint reads " + InlineCode("leaplint.yaml") + " (or " + InlineCode("leaplint.yml") + ") from the working directory, or the file given with " + InlineCode("--config") + ".")

	headers := []string{"Key", "Type", "Default", "Description"}
	var rows [][]string
	for _, f := range getConfigSchema() {
		defVal := "-"
		if f.Default != "" {
			defVal = InlineCode(f.Default)
		}
		rows = append(rows, []string{InlineCode(f.Name), f.Type, defVal, f.Description})
	}
	w.Table(headers, rows)

	w.Header(2, "Environment Variables")
	w.Paragraph("Every key can be set with the " + InlineCode(config.EnvPrefix) + " prefix, upper-cased, with dots replaced by underscores: " +
		InlineCode("store.kind") + " becomes " + InlineCode(config.EnvPrefix+"STORE_KIND") + ".")

	w.Header(2, "Full Configuration Example")
	w.CodeBlock("yaml", `# leaplint.yaml
bundle_url: builtin:csslint
load_timeout: 10s

store:
  kind: sqlite
  path: .leaplint/rules.db

engine:
  mode: sync
  max_steps: 1000000

rules:
  enabled: [important, ids, zero-units]
  custom_enabled: true

server:
  addr: 127.0.0.1:8765
  watch: site.css

output: auto
log_level: warn`)

	return os.WriteFile(filepath.Join(outDir, "configuration.md"), w.Bytes(), 0600)
}
