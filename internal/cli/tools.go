package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/i2y/clawkit/llm"
	"github.com/i2y/clawkit/plugin"
)

func newToolsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call plugin tools",
	}
	cmd.AddCommand(newToolsListCommand(a))
	cmd.AddCommand(newToolsCallCommand(a))
	return cmd
}

func newToolsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tPLUGIN\tDESCRIPTION")
			for _, t := range reg.Tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Tool.Name(), t.PluginID, t.Tool.Description())
			}
			return w.Flush()
		},
	}
}

func newToolsCallCommand(a *app) *cobra.Command {
	var args string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool with JSON arguments",
		Long: `Call a registered tool. before_tool_call hooks run first and may rewrite the
arguments or block the call; after_tool_call hooks see the result.`,
		Example: `  clawkit tools call workspace_glob --args '{"pattern": "**/*.go"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			name := argv[0]
			params := map[string]any{}
			if args != "" {
				if err := json.Unmarshal([]byte(args), &params); err != nil {
					return fmt.Errorf("--args: %w", err)
				}
			}

			ctx := cmd.Context()
			runner := plugin.NewHookRunner(reg, plugin.HookRunnerOptions{CatchErrors: true, Logger: a.hookLogger(cmd)})
			before, err := runner.RunBeforeToolCall(ctx, &plugin.BeforeToolCallEvent{ToolName: name, Params: params}, nil)
			if err != nil {
				return err
			}
			if before != nil {
				if before.Block {
					return &llm.ToolBlockedError{Name: name, Reason: before.BlockReason}
				}
				if before.Params != nil {
					params = before.Params
				}
			}

			raw, err := json.Marshal(params)
			if err != nil {
				return err
			}
			result, callErr := reg.ToolSet().Execute(ctx, name, raw)

			after := &plugin.AfterToolCallEvent{ToolName: name, Params: params, Result: result}
			if callErr != nil {
				after.Error = callErr.Error()
			}
			if err := runner.RunAfterToolCall(ctx, after, nil); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), llm.FormatResult(result, callErr))
			return callErr
		},
	}
	cmd.Flags().StringVar(&args, "args", "", "Tool arguments as a JSON object")
	return cmd
}

func newExecCommand(a *app) *cobra.Command {
	var channel, sender string
	cmd := &cobra.Command{
		Use:     "exec <input>",
		Short:   "Run a slash command such as \"/greet world\"",
		Example: `  clawkit exec "/files **/*.md"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			res, err := reg.ExecuteCommand(cmd.Context(), args[0], &plugin.CommandContext{ChannelID: channel, SenderID: sender})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "cli", "Channel id passed to the command")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender id passed to the command")
	return cmd
}
