// Package cli implements the clawkit command line: inspecting which plugins
// load under a host configuration and exercising their commands, tools and
// hooks without a running agent.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	_ "github.com/i2y/clawkit/luaplugin" // Register the .lua importer
	"github.com/i2y/clawkit/plugin"
	"github.com/i2y/clawkit/workspace"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = "clawkit.yaml"

// app holds the global flags and the registry built from them.
type app struct {
	configPath string
	logLevel   string
	paths      []string
	bundledDir string
	mcp        bool

	reg *plugin.Registry
}

// NewRootCommand builds the clawkit command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "clawkit",
		Short: "Inspect and exercise clawkit plugins",
		Long: `clawkit loads plugins the way an embedding host does and reports what
happened to each one. Loaded plugins can then be exercised from the command
line: run their slash commands, call their tools and fire hooks.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.reg == nil {
				return nil
			}
			return a.reg.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Host config file (.json, .yaml or .toml; default ./"+DefaultConfigFile+" when present)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringSliceVarP(&a.paths, "path", "p", nil, "Extra plugin directories, added to plugins.load.paths")
	flags.StringVar(&a.bundledDir, "bundled-dir", "", `Bundled plugin directory ("-" to skip; default $`+plugin.BundledDirEnv+")")
	flags.BoolVar(&a.mcp, "mcp", false, "Start MCP servers declared by plugin manifests")

	rootCmd.AddCommand(newPluginsCommand(a))
	rootCmd.AddCommand(newHooksCommand(a))
	rootCmd.AddCommand(newToolsCommand(a))
	rootCmd.AddCommand(newExecCommand(a))

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hostConfig reads the configuration file, if any, and applies flag overrides.
func (a *app) hostConfig() (plugin.HostConfig, error) {
	var cfg plugin.HostConfig
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		loaded, err := plugin.LoadHostConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
		// Relative load paths are relative to the config file.
		base := filepath.Dir(path)
		for i, p := range cfg.Plugins.Load.Paths {
			if !filepath.IsAbs(p) {
				cfg.Plugins.Load.Paths[i] = filepath.Join(base, p)
			}
		}
	}
	cfg.Plugins.Load.Paths = append(cfg.Plugins.Load.Paths, a.paths...)
	return cfg, nil
}

// registry loads plugins once per invocation.
func (a *app) registry(cmd *cobra.Command) (*plugin.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	cfg, err := a.hostConfig()
	if err != nil {
		return nil, err
	}
	a.reg = plugin.Load(cmd.Context(), plugin.LoadOptions{
		Config:      cfg,
		Logger:      plugin.NewConsoleLogger(cmd.ErrOrStderr(), plugin.WithLevel(a.logLevel)),
		Definitions: []plugin.Definition{workspace.Definition()},
		BundledDir:  a.bundledDir,
		ConnectMCP:  a.mcp,
	})
	return a.reg, nil
}

// hookLogger is the logger caught hook failures are reported to.
func (a *app) hookLogger(cmd *cobra.Command) plugin.Logger {
	return plugin.NewConsoleLogger(cmd.ErrOrStderr(), plugin.WithLevel(a.logLevel), plugin.WithPrefix("clawkit: "))
}
