package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/i2y/clawkit/plugin"
)

func newPluginsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect discovered plugins",
		Example: `  # Show what loads under the current configuration
  clawkit plugins list

  # Details of one plugin
  clawkit plugins info greeter

  # Check a plugin directory and its configuration entry
  clawkit plugins validate ./extensions/greeter`,
	}

	cmd.AddCommand(newPluginsListCommand(a))
	cmd.AddCommand(newPluginsInfoCommand(a))
	cmd.AddCommand(newPluginsValidateCommand(a))

	return cmd
}

func newPluginsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every discovered plugin and its load outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			if len(reg.Plugins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tORIGIN\tVERSION\tDETAIL")
			for _, p := range reg.Plugins {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Status, p.Origin, dash(p.Version), dash(p.Message()))
			}
			return w.Flush()
		},
	}
}

func newPluginsInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show one plugin's outcome and contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd)
			if err != nil {
				return err
			}
			p, ok := reg.Plugin(args[0])
			if !ok {
				return fmt.Errorf("plugin %q was not discovered", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", p.ID)
			fmt.Fprintf(out, "Name:        %s\n", dash(p.Name))
			fmt.Fprintf(out, "Description: %s\n", dash(p.Description))
			fmt.Fprintf(out, "Version:     %s\n", dash(p.Version))
			fmt.Fprintf(out, "Source:      %s (%s)\n", p.Source, p.Origin)
			fmt.Fprintf(out, "Status:      %s\n", p.Status)
			if msg := p.Message(); msg != "" {
				fmt.Fprintf(out, "Detail:      %s\n", msg)
			}
			if p.Status != plugin.StatusLoaded {
				return nil
			}
			fmt.Fprintf(out, "Tools:       %s\n", list(p.ToolNames))
			fmt.Fprintf(out, "Commands:    %s\n", list(p.CommandNames))
			fmt.Fprintf(out, "Hooks:       %s\n", list(p.HookNames))
			fmt.Fprintf(out, "Channels:    %s\n", list(p.ChannelIDs))
			return nil
		},
	}
}

func newPluginsValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a plugin manifest and its configuration entry",
		Long: `Parse the manifest in <dir> and validate the plugin's entry from the host
configuration against the manifest's configSchema. The plugin's code is not run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := plugin.LoadManifest(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.hostConfig()
			if err != nil {
				return err
			}
			var raw map[string]any
			if e, ok := cfg.Plugins.Entry(m.ID); ok {
				raw = e.Config
			}
			normalized, err := m.ValidateConfig(raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: manifest ok\n", m.ID)
			if m.Main != "" {
				if _, err := os.Stat(filepath.Join(m.Dir, filepath.FromSlash(m.Main))); errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("%s: main %q does not exist", m.ID, m.Main)
				}
			}
			fmt.Fprintf(out, "%s: config ok (%d keys after defaults)\n", m.ID, len(normalized))
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
