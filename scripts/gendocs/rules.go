package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/leaplint/internal/starengine"
	"github.com/leapstack-labs/leaplint/pkg/core"
)

// generateRuleDocs writes the reference page of the built-in rule bundle.
func generateRuleDocs(outDir string) error {
	log.Printf("Generating rule docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	bundle, err := fs.ReadFile(starengine.Bundles(), starengine.DefaultBundle+".star")
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	eng := starengine.New()
	if err := eng.Install(bundle); err != nil {
		return fmt.Errorf("failed to install bundle: %w", err)
	}
	rules := eng.Rules()
	slices.SortFunc(rules, func(a, b core.RuleDescriptor) int { return strings.Compare(a.ID, b.ID) })

	w := NewMarkdownWriter()
	w.Frontmatter("Rules", "Built-in rules of the "+starengine.DefaultBundle+" bundle")
	w.GeneratedMarker()

	w.Header(1, "Rules")
	w.Paragraph(fmt.Sprintf("The %s bundle ships %d rules. Rules marked as default are enabled when a session starts; the others are switched on with %s or %s.",
		InlineCode(starengine.DefaultBundle), len(rules), InlineCode("--enable"), InlineCode("rules.enabled")))

	headers := []string{"Rule", "Name", "Default", "Description"}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		def := ""
		if slices.Contains(starengine.DefaultEnabled, r.ID) {
			def = "yes"
		}
		rows = append(rows, []string{InlineCode(r.ID), r.Name, def, cleanDescription(r.Description)})
	}
	w.Table(headers, rows)

	w.Header(2, "Custom Rules")
	w.Paragraph("Custom rules are Starlark programs that bind a " + InlineCode("rule") + " dict with " +
		InlineCode("id") + ", " + InlineCode("name") + ", " + InlineCode("desc") + " and an " + InlineCode("init") +
		" function. This one is installed by " + InlineCode("leaplint custom example --add") + ":")
	w.CodeBlock("python", starengine.ExampleRule)

	return os.WriteFile(filepath.Join(outDir, "index.md"), w.Bytes(), 0600)
}
