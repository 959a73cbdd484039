package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/leapstack-labs/leaplint/internal/cli/output"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/leapstack-labs/leaplint/internal/starengine"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/spf13/cobra"
)

// NewCustomCommand creates the custom command and its subcommands.
func NewCustomCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Manage custom lint rules",
		Long: `Add, list, remove and check custom lint rules.

A custom rule is a Starlark dict or struct with id, name, description and
an init(parser, reporter) handler. Rules are kept in the configured rule
store and loaded by every lint session.`,
		Example: `  # Print the example rule
  leaplint custom example

  # Store the example rule
  leaplint custom example --add

  # Add a rule from a file
  leaplint custom add no-red red.star

  # List stored rules
  leaplint custom list`,
	}

	cmd.AddCommand(newCustomAddCommand())
	cmd.AddCommand(newCustomListCommand())
	cmd.AddCommand(newCustomRemoveCommand())
	cmd.AddCommand(newCustomCheckCommand())
	cmd.AddCommand(newCustomExampleCommand())
	return cmd
}

func newCustomAddCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "add <name> [file|-]",
		Short: "Add or replace a custom rule",
		Long: `Compile a custom rule and store it under name. A rule already stored
under the same name is replaced. The rule is rejected when it fails to
compile or its id is taken by another rule.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("source") {
				path := ""
				if len(args) > 1 {
					path = args[1]
				}
				var err error
				if source, err = readSource(cmd, path); err != nil {
					return err
				}
			}
			return addCustomRule(cmd, args[0], source)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Rule source text instead of a file")
	return cmd
}

func addCustomRule(cmd *cobra.Command, name, source string) error {
	cmdCtx := NewCommandContext(cmd)
	return withRuntime(cmd, cmdCtx, "", func(s *session.Session) error {
		desc, err := s.AddCustomRule(cmd.Context(), name, source)
		if err != nil {
			return fmt.Errorf("custom rule rejected: %w", err)
		}
		r := cmdCtx.Renderer
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(desc)
		}
		r.Println(r.Success(fmt.Sprintf("Added custom rule %q (%s)", name, desc.ID)))
		return nil
	})
}

func newCustomListCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored custom rules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd).WithFormat(cmd, format)
			return withRuntime(cmd, cmdCtx, "", func(s *session.Session) error {
				rules, err := s.CustomRules(cmd.Context())
				if err != nil {
					return err
				}
				st, err := s.State(cmd.Context())
				if err != nil {
					return err
				}
				return renderCustomRules(cmdCtx.Renderer, rules, st.Rejections)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: text, markdown, json")
	return cmd
}

// CustomJSONOutput is the JSON output structure for custom rule listing.
type CustomJSONOutput struct {
	Rules      []session.CustomRule `json:"rules"`
	Rejections []string             `json:"rejections"`
}

func renderCustomRules(r *output.Renderer, rules []session.CustomRule, rejections []error) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := CustomJSONOutput{Rules: rules, Rejections: make([]string, 0, len(rejections))}
		if out.Rules == nil {
			out.Rules = []session.CustomRule{}
		}
		for _, err := range rejections {
			out.Rejections = append(out.Rejections, err.Error())
		}
		return r.JSON(out)
	}

	if len(rules) == 0 {
		r.Println(r.Muted("No custom rules. Try 'leaplint custom example --add'."))
		return nil
	}

	r.Header("Custom Rules")
	rows := make([][]string, 0, len(rules))
	for _, c := range rules {
		id, status := c.ID, "active"
		if !c.Accepted() {
			id, status = "-", "rejected"
		}
		rows = append(rows, []string{c.Name, id, status})
	}
	r.Table([]string{"Name", "ID", "Status"}, rows)

	if len(rejections) > 0 {
		r.Println("")
		for _, err := range rejections {
			r.Println(r.Error("rejected:") + " " + err.Error())
		}
	}
	return nil
}

func newCustomRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a stored custom rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			return withRuntime(cmd, cmdCtx, "", func(s *session.Session) error {
				if err := s.RemoveCustomRule(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmdCtx.Renderer.Println(cmdCtx.Renderer.Success(fmt.Sprintf("Removed custom rule %q", args[0])))
				return nil
			})
		},
	}
}

func newCustomCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [file|-]",
		Short: "Compile a custom rule without storing it",
		Long: `Compile a custom rule and report its identity or the first problem found.
The rule store and engine are not touched, so id collisions are not checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			source, err := readSource(cmd, path)
			if err != nil {
				return err
			}
			return checkCustomRule(cmd, source)
		},
	}
}

func checkCustomRule(cmd *cobra.Command, source string) error {
	cmdCtx := NewCommandContext(cmd)
	rt := &Runtime{Cfg: cmdCtx.Cfg, Logger: cmdCtx.Logger}
	desc, _, err := rt.Compiler().Compile(source)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) && verr.Field != "" {
			return fmt.Errorf("invalid rule (field %s): %w", verr.Field, err)
		}
		return fmt.Errorf("invalid rule: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(desc)
	}
	r.Println(r.Success("Rule is valid"))
	r.Printf("  id:          %s\n", desc.ID)
	r.Printf("  name:        %s\n", desc.Name)
	r.Printf("  description: %s\n", desc.Description)
	return nil
}

func newCustomExampleCommand() *cobra.Command {
	var add bool
	cmd := &cobra.Command{
		Use:   "example",
		Short: "Print an example custom rule",
		Long: fmt.Sprintf(`Print a complete custom rule that flags z-index values above 99.
With --add it is stored as %q.`, starengine.ExampleRuleName),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if add {
				return addCustomRule(cmd, starengine.ExampleRuleName, starengine.ExampleRule)
			}
			_, err := io.WriteString(cmd.OutOrStdout(), starengine.ExampleRule)
			return err
		},
	}
	cmd.Flags().BoolVar(&add, "add", false, "Store the example rule")
	return cmd
}
