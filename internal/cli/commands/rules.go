package commands

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leaplint/internal/cli/output"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/spf13/cobra"
)

// RulesOptions holds options for the rules command.
type RulesOptions struct {
	Origin  string // Filter by origin: builtin, custom
	Enabled bool   // Only list enabled rules
	Verbose bool   // Show descriptions
	Format  string // Output format
}

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	opts := &RulesOptions{}
	cmd := &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List available lint rules",
		Long: `List the rules of the loaded engine bundle and your custom rules,
sorted by name, with the flag each one starts with.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # List all rules
  leaplint rules

  # Show details for a specific rule
  leaplint rules important

  # List custom rules only
  leaplint rules --origin custom

  # Show descriptions
  leaplint rules -V

  # Output as JSON
  leaplint rules --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd).WithFormat(cmd, opts.Format)
			return withRuntime(cmd, cmdCtx, "", func(s *session.Session) error {
				st, err := s.State(cmd.Context())
				if err != nil {
					return err
				}
				if len(args) > 0 {
					return showRule(cmdCtx.Renderer, st, args[0])
				}
				return listRules(cmdCtx.Renderer, st, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Origin, "origin", "", "Filter by origin: builtin, custom")
	cmd.Flags().BoolVar(&opts.Enabled, "enabled", false, "Only list enabled rules")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "V", false, "Show rule descriptions")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")

	return cmd
}

func filterRules(rules []session.RuleState, opts *RulesOptions) []session.RuleState {
	out := make([]session.RuleState, 0, len(rules))
	for _, r := range rules {
		if opts.Origin != "" && string(r.Origin) != opts.Origin {
			continue
		}
		if opts.Enabled && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out
}

// sortRules orders rules by name, then id.
func sortRules(rules []session.RuleState) {
	slices.SortFunc(rules, func(a, b session.RuleState) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}

func listRules(r *output.Renderer, st session.State, opts *RulesOptions) error {
	switch opts.Origin {
	case "", string(core.OriginBuiltin), string(core.OriginCustom):
	default:
		return fmt.Errorf("invalid --origin %q: want builtin or custom", opts.Origin)
	}

	rules := filterRules(st.Rules, opts)
	sortRules(rules)
	summary := fmt.Sprintf("%d / %d rules enabled", st.EnabledCount(), len(st.Rules))

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return listRulesJSON(r, st, rules)
	case output.ModeMarkdown:
		listRulesMarkdown(r, rules, summary, opts.Verbose)
	default:
		listRulesText(r, rules, summary, opts.Verbose)
	}
	return nil
}

func listRulesText(r *output.Renderer, rules []session.RuleState, summary string, verbose bool) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Lint Rules"))
	r.Println(styles.Muted.Render(summary))
	r.Println("")

	for _, rule := range rules {
		mark := styles.Muted.Render("[ ]")
		if rule.Enabled {
			mark = styles.Success.Render("[x]")
		}
		line := fmt.Sprintf("  %s %s  %s", mark, rule.Name, styles.Muted.Render(rule.ID))
		if rule.Origin == core.OriginCustom {
			line += " " + styles.Warning.Render("custom")
		}
		r.Println(line)
		if verbose && rule.Description != "" {
			r.Println(styles.Muted.Render("        " + rule.Description))
		}
	}

	r.Println("")
	r.Println(styles.Muted.Render("Use 'leaplint rules <rule-id>' for details"))
}

func listRulesMarkdown(r *output.Renderer, rules []session.RuleState, summary string, verbose bool) {
	r.Println("# Lint Rules")
	r.Println("")
	r.Println(summary)
	r.Println("")

	for _, rule := range rules {
		mark := " "
		if rule.Enabled {
			mark = "x"
		}
		r.Printf("- [%s] **%s** (`%s`, %s)\n", mark, rule.Name, rule.ID, rule.Origin)
		if verbose && rule.Description != "" {
			r.Println("  " + rule.Description)
		}
	}
	r.Println("")
}

// RulesJSONOutput is the JSON output structure for rules listing.
type RulesJSONOutput struct {
	Rules   []session.RuleState `json:"rules"`
	Enabled int                 `json:"enabled"`
	Total   int                 `json:"total"`
}

func listRulesJSON(r *output.Renderer, st session.State, rules []session.RuleState) error {
	if rules == nil {
		rules = []session.RuleState{}
	}
	return r.JSON(RulesJSONOutput{
		Rules:   rules,
		Enabled: st.EnabledCount(),
		Total:   len(st.Rules),
	})
}

func showRule(r *output.Renderer, st session.State, id string) error {
	rule, ok := st.Rule(id)
	if !ok {
		return fmt.Errorf("rule %q not found", id)
	}

	status := "disabled"
	if rule.Enabled {
		status = "enabled"
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(rule)
	case output.ModeMarkdown:
		r.Printf("# %s\n\n", rule.Name)
		r.Printf("- **ID:** `%s`\n", rule.ID)
		r.Printf("- **Origin:** %s\n", rule.Origin)
		r.Printf("- **Status:** %s\n\n", status)
		r.Println(rule.Description)
	default:
		styles := r.Styles()
		r.Println("")
		r.Println(styles.Header1.Render(fmt.Sprintf("%s - %s", rule.ID, rule.Name)))
		r.Println("")
		r.Printf("  %s: %s\n", styles.Bold.Render("Origin"), rule.Origin)
		r.Printf("  %s: %s\n", styles.Bold.Render("Status"), status)
		r.Println("")
		r.Println(styles.Bold.Render("Description"))
		r.Println("  " + rule.Description)
		r.Println("")
	}
	return nil
}
