package plugin

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/i2y/clawkit/llm"
	"github.com/i2y/clawkit/mcp"
)

// connectMCPServer starts one declared server and returns its tools and a
// closer for the session.
var connectMCPServer = func(ctx context.Context, cfg MCPServerConfig) ([]llm.Tool, func() error, error) {
	return mcp.ToolsFromMCP(ctx, cfg.Command, cfg.Args, mcp.WithEnv(cfg.Env))
}

// PluginRootVar is replaced with the plugin directory in MCP server settings.
const PluginRootVar = "${CLAWKIT_PLUGIN_ROOT}"

// expandPluginRoot replaces ${CLAWKIT_PLUGIN_ROOT} with the plugin directory.
func expandPluginRoot(cfg MCPServerConfig, pluginRoot string) MCPServerConfig {
	cfg.Command = strings.ReplaceAll(cfg.Command, PluginRootVar, pluginRoot)
	args := make([]string, len(cfg.Args))
	for i, arg := range cfg.Args {
		args[i] = strings.ReplaceAll(arg, PluginRootVar, pluginRoot)
	}
	cfg.Args = args
	if cfg.Env != nil {
		env := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			env[k] = strings.ReplaceAll(v, PluginRootVar, pluginRoot)
		}
		cfg.Env = env
	}
	return cfg
}

// stageMCPServers connects to each declared MCP server and stages its tools.
// Sessions are closed when the registry closes, or right away if the plugin
// does not load.
func stageMCPServers(ctx context.Context, api *API, servers map[string]MCPServerConfig) error {
	for _, name := range slices.Sorted(maps.Keys(servers)) {
		cfg := servers[name]
		tools, closeFn, err := connectMCPServer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", name, err)
		}
		api.OnClose(closeFn)
		for _, t := range tools {
			api.AddTool(t)
		}
		debugf(api.Logger, fmt.Sprintf("[plugins] %s: mcp server %q provided %d tools", api.ID, name, len(tools)))
	}
	return nil
}
