// Package workspace is a builtin plugin that gives the agent file tools
// confined to one directory.
package workspace

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/i2y/clawkit/plugin"
	"github.com/i2y/clawkit/schema"
)

// ID is the plugin id used in configuration entries.
const ID = "workspace"

// Config is the workspace plugin configuration.
type Config struct {
	Root       string `json:"root,omitempty" jsonschema:"description=Directory the tools are confined to (default: current directory)"`
	Writable   bool   `json:"writable,omitempty" jsonschema:"description=Also register the workspace_write tool"`
	MaxMatches int    `json:"maxMatches,omitempty" jsonschema:"description=Default cap on grep matches (default: 100)"`
}

// Definition returns the builtin plugin definition.
func Definition() plugin.Definition {
	return plugin.Definition{
		ID:           ID,
		Name:         "Workspace",
		Description:  "File tools confined to a workspace directory",
		Version:      "0.1.0",
		ConfigSchema: schema.MustConfigSchema[Config](),
		Register:     register,
	}
}

func register(ctx context.Context, api *plugin.API) error {
	var cfg Config
	if err := api.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 100
	}

	root, err := os.OpenRoot(api.ResolvePath(cfg.Root))
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	api.OnClose(root.Close)

	ws := &workspace{root: root, maxMatches: cfg.MaxMatches}
	api.AddTool(ws.readTool())
	api.AddTool(ws.globTool())
	api.AddTool(ws.grepTool())
	if cfg.Writable {
		api.AddTool(ws.writeTool())
	}
	api.AddCommand(plugin.Command{
		Name:        "files",
		Description: "List workspace files matching a glob pattern",
		AcceptsArgs: true,
		Handler:     ws.filesCommand,
	})
	if l, ok := api.Logger.(plugin.DebugLogger); ok {
		l.Debug(fmt.Sprintf("[workspace] serving %s (writable=%t)", root.Name(), cfg.Writable))
	}
	return nil
}

// workspace holds the directory shared by all tools of one plugin instance.
type workspace struct {
	root       *os.Root
	maxMatches int
}

func (w *workspace) filesCommand(ctx context.Context, cc *plugin.CommandContext) (*plugin.CommandResult, error) {
	pattern := strings.TrimSpace(cc.Args)
	if pattern == "" {
		pattern = "*"
	}
	matches, err := doublestar.Glob(w.root.FS(), pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &plugin.CommandResult{Text: "no files match " + pattern}, nil
	}
	return &plugin.CommandResult{Text: strings.Join(matches, "\n")}, nil
}
