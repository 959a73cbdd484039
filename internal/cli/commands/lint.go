package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leaplint/internal/cli/output"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/spf13/cobra"
)

// ErrIssuesFound is returned when lint findings reach the --fail-on level.
var ErrIssuesFound = errors.New("lint found issues")

// Fail-on levels.
const (
	FailOnError   = "error"
	FailOnWarning = "warning"
	FailOnNone    = "none"
)

// LintOptions holds options for the lint command.
type LintOptions struct {
	Path    string   // File to lint; "-" or empty reads standard input
	Format  string   // Output format: text, markdown, json
	Enable  []string // Rule IDs to enable on top of the configured set
	Disable []string // Rule IDs to disable
	FailOn  string   // error, warning, none
}

// NewLintCommand creates the lint command.
func NewLintCommand() *cobra.Command {
	opts := &LintOptions{}
	cmd := &cobra.Command{
		Use:   "lint [file|-]",
		Short: "Lint a style sheet",
		Long: `Lint a style sheet with the built-in rules and your custom rules.

The file is read from standard input when no path or "-" is given.
Custom rules are loaded from the configured rule store.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Lint a file
  leaplint lint site.css

  # Lint from standard input
  cat site.css | leaplint lint -

  # Enable an extra rule and disable another
  leaplint lint site.css --enable order-alphabetical --disable ids

  # Fail on warnings too
  leaplint lint site.css --fail-on warning

  # Output as JSON
  leaplint lint site.css --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Path = args[0]
			}
			return runLint(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")
	cmd.Flags().StringSliceVar(&opts.Enable, "enable", nil, "Rule IDs to enable")
	cmd.Flags().StringSliceVar(&opts.Disable, "disable", nil, "Rule IDs to disable")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", FailOnError, "Exit with an error on: error, warning, none")

	_ = cmd.RegisterFlagCompletionFunc("fail-on", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{FailOnError, FailOnWarning, FailOnNone}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runLint(cmd *cobra.Command, opts *LintOptions) error {
	switch opts.FailOn {
	case FailOnError, FailOnWarning, FailOnNone:
	default:
		return fmt.Errorf("invalid --fail-on %q: want error, warning or none", opts.FailOn)
	}

	source, err := readSource(cmd, opts.Path)
	if err != nil {
		return err
	}

	cmdCtx := NewCommandContext(cmd).WithFormat(cmd, opts.Format)
	return withRuntime(cmd, cmdCtx, source, func(s *session.Session) error {
		ctx := cmd.Context()
		for _, id := range opts.Enable {
			if err := s.SetEnabled(ctx, id, true); err != nil {
				return err
			}
		}
		for _, id := range opts.Disable {
			if err := s.SetEnabled(ctx, id, false); err != nil {
				return err
			}
		}

		st, err := s.WaitRun(ctx)
		if err != nil {
			return err
		}
		if st.LastError != nil {
			return fmt.Errorf("lint run failed: %w", st.LastError)
		}

		if err := renderDiagnostics(cmdCtx.Renderer, displayName(opts.Path), st); err != nil {
			return err
		}
		return checkFailOn(opts.FailOn, st)
	})
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "<stdin>"
	}
	return path
}

func checkFailOn(level string, st session.State) error {
	switch {
	case level == FailOnError && st.ErrorCount() > 0:
		return fmt.Errorf("%w: %d errors", ErrIssuesFound, st.ErrorCount())
	case level == FailOnWarning && len(st.Diagnostics) > 0:
		return fmt.Errorf("%w: %d issues", ErrIssuesFound, len(st.Diagnostics))
	default:
		return nil
	}
}

// LintJSONOutput is the JSON output structure for lint results.
type LintJSONOutput struct {
	File        string            `json:"file"`
	Linted      bool              `json:"linted"`
	Diagnostics []core.Diagnostic `json:"diagnostics"`
	Summary     struct {
		Errors   int `json:"errors"`
		Warnings int `json:"warnings"`
		Total    int `json:"total"`
	} `json:"summary"`
	EnabledRules int `json:"enabled_rules"`
}

// renderDiagnostics shows one of three states: not linted yet, all clear,
// or a table of findings.
func renderDiagnostics(r *output.Renderer, name string, st session.State) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := LintJSONOutput{
			File:         name,
			Linted:       st.HasRun,
			Diagnostics:  st.Diagnostics,
			EnabledRules: st.EnabledCount(),
		}
		if out.Diagnostics == nil {
			out.Diagnostics = []core.Diagnostic{}
		}
		out.Summary.Errors = st.ErrorCount()
		out.Summary.Total = len(st.Diagnostics)
		out.Summary.Warnings = out.Summary.Total - out.Summary.Errors
		return r.JSON(out)
	}

	switch {
	case !st.HasRun:
		r.Println(r.Muted("Ready to lint. Provide some CSS to see results."))
	case len(st.Diagnostics) == 0:
		r.Println(r.Success(fmt.Sprintf("All clear! No issues found in %s.", name)))
	default:
		r.Header(fmt.Sprintf("Lint Results: %s", name))
		rows := make([][]string, 0, len(st.Diagnostics))
		for _, d := range st.Diagnostics {
			rows = append(rows, []string{
				severityLabel(r, d.Severity),
				position(d.Line),
				position(d.Column),
				d.Message,
				d.RuleID,
			})
		}
		r.Table([]string{"Type", "Line", "Col", "Message", "Rule"}, rows)
		r.Println("")
		errs := st.ErrorCount()
		r.Printf("%d errors, %d warnings\n", errs, len(st.Diagnostics)-errs)
	}
	return nil
}

func severityLabel(r *output.Renderer, s core.Severity) string {
	if r.EffectiveMode() != output.ModeText {
		return s.String()
	}
	if s == core.SeverityError {
		return r.Error(s.String())
	}
	return r.Warning(s.String())
}

// position formats an optional line or column; a missing one is N/A, never 0.
func position(p *int) string {
	if p == nil {
		return "N/A"
	}
	return strconv.Itoa(*p)
}
