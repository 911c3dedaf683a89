package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/clawkit/llm"
	"github.com/i2y/clawkit/plugin"
)

const guardManifest = `{
	"id": "guard",
	"version": "0.2.0",
	"configSchema": {
		"type": "object",
		"additionalProperties": false,
		"properties": {"blocked": {"type": "string", "default": "workspace_write"}}
	}
}`

const guardScript = `
function register(api)
  api.on("before_agent_start", function(event, ctx)
    return { prependContext = "guarded: " .. event.prompt }
  end)
  api.on("before_tool_call", function(event, ctx)
    if event.toolName == api.config.blocked then
      return { block = true, blockReason = "read only" }
    end
  end)
  api.register_command{
    name = "ping",
    accepts_args = true,
    handler = function(ctx) return "pong " .. ctx.args .. " on " .. ctx.channel_id end,
  }
end
`

// setup writes a plugin directory and a YAML host config pointing at it, and
// returns the config path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("extensions/guard/"+plugin.ManifestFile, guardManifest)
	write("extensions/guard/index.lua", guardScript)
	write("extensions/broken/"+plugin.ManifestFile, `{"id": "broken"}`)
	write("extensions/broken/index.lua", "function register(api) error('nope') end")
	write("workspace/readme.md", "hello")
	write("clawkit.yaml", `
plugins:
  allow: "*"
  load:
    paths: [extensions]
  entries:
    workspace:
      config:
        root: `+filepath.Join(dir, "workspace")+`
`)
	return filepath.Join(dir, "clawkit.yaml")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--bundled-dir", "-"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPluginsList(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "plugins", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `guard\s+loaded\s+config\s+0\.2\.0`, out)
	assert.Regexp(t, `broken\s+error\s+config`, out)
	assert.Contains(t, out, "nope")
	assert.Regexp(t, `workspace\s+loaded\s+builtin`, out)
}

func TestPluginsInfo(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "plugins", "info", "guard", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      loaded")
	assert.Contains(t, out, "Commands:    ping")
	assert.Contains(t, out, "Hooks:       before_agent_start, before_tool_call")

	_, err = run(t, "plugins", "info", "missing", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "missing" was not discovered`)
}

func TestPluginsValidate(t *testing.T) {
	cfg := setup(t)
	dir := filepath.Join(filepath.Dir(cfg), "extensions", "guard")

	out, err := run(t, "plugins", "validate", dir, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "guard: manifest ok")
	assert.Contains(t, out, "guard: config ok (1 keys after defaults)")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"plugins": {"entries": {"guard": {"config": {"foo": 1}}}}}`), 0o644))
	_, err = run(t, "plugins", "validate", dir, "--config", bad)
	var ve *plugin.SchemaValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "foo", ve.Field)
}

func TestHooks(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "hooks", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "before_agent_start\t1 handler(s)\ttyped")

	out, err = run(t, "hooks", "run", "before_agent_start", "--prompt", "hi", "--config", cfg)
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "guarded: hi", res["prependContext"])

	_, err = run(t, "hooks", "run", "session_start", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handlers registered")

	_, err = run(t, "hooks", "run", "before_agent_start", "--payload", "{", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--payload")
}

func TestToolsCall(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "tools", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "workspace_read")

	out, err = run(t, "tools", "call", "workspace_read", "--args", `{"path": "readme.md"}`, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"content":"hello"`)

	_, err = run(t, "tools", "call", "workspace_write", "--args", `{"path": "x", "content": "y"}`, "--config", cfg)
	var blocked *llm.ToolBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "read only", blocked.Reason)

	_, err = run(t, "tools", "call", "nope", "--config", cfg)
	var nf *llm.ToolNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestExec(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "exec", "/ping there", "--channel", "test", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "pong there on test\n", out)

	_, err = run(t, "exec", "/missing", "--config", cfg)
	assert.ErrorIs(t, err, plugin.ErrCommandNotFound)
}

func TestExtraPathFlag(t *testing.T) {
	cfg := setup(t)
	extra := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extra, "solo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extra, "solo", plugin.ManifestFile), []byte(`{"id": "solo", "skills": ["skills"]}`), 0o644))

	out, err := run(t, "plugins", "list", "--config", cfg, "--path", extra)
	require.NoError(t, err)
	assert.Regexp(t, `solo\s+loaded`, out)
}
