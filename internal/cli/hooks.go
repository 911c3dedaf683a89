package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/i2y/clawkit/plugin"
)

func newHooksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "List and fire plugin hooks",
	}
	cmd.AddCommand(newHooksListCommand(a))
	cmd.AddCommand(newHooksRunCommand(a))
	return cmd
}

func newHooksListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hook names with their handler counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			runner := plugin.NewHookRunner(reg, plugin.HookRunnerOptions{})
			names := reg.HookNames()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hooks registered.")
				return nil
			}
			for _, name := range names {
				kind := "untyped"
				if plugin.IsTypedHook(name) {
					kind = "typed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d handler(s)\t%s\n", name, runner.HookCount(name), kind)
			}
			return nil
		},
	}
}

func newHooksRunCommand(a *app) *cobra.Command {
	var (
		payload     string
		prompt      string
		catchErrors bool
	)
	cmd := &cobra.Command{
		Use:   "run <hook>",
		Short: "Fire a hook and print the merged result as JSON",
		Long: `Fire every handler registered under <hook>, typed handlers first, and print
the merged result. The payload is a JSON object; for typed hooks its keys are
the event fields and "context" carries the hook context.`,
		Example: `  clawkit hooks run before_agent_start --prompt "review main.go"
  clawkit hooks run before_tool_call --payload '{"toolName": "workspace_write"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &in); err != nil {
					return fmt.Errorf("--payload: %w", err)
				}
			}
			if prompt != "" {
				in["prompt"] = prompt
			}

			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			runner := plugin.NewHookRunner(reg, plugin.HookRunnerOptions{
				CatchErrors: catchErrors,
				Logger:      a.hookLogger(cmd),
			})
			if !runner.HasHooks(args[0]) {
				return fmt.Errorf("no handlers registered for %q", args[0])
			}

			out, err := runner.Run(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Hook payload as a JSON object")
	cmd.Flags().StringVar(&prompt, "prompt", "", `Shorthand for the payload's "prompt" key`)
	cmd.Flags().BoolVar(&catchErrors, "catch-errors", false, "Log failing handlers and continue instead of stopping")
	return cmd
}
