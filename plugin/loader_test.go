package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/clawkit/llm"
)

type memLogger struct {
	mu    sync.Mutex
	lines []string
}

func (m *memLogger) add(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, level+" "+msg)
}

func (m *memLogger) Info(msg string)  { m.add("info", msg) }
func (m *memLogger) Warn(msg string)  { m.add("warn", msg) }
func (m *memLogger) Error(msg string) { m.add("error", msg) }

func (m *memLogger) contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// The fake importer treats the entry file content as a tiny program: the
// first word selects the behavior and the rest names a command to register.
func init() {
	RegisterImporter(".fake", ImporterFunc(func(_ context.Context, m *Manifest, entry string) (RegisterFunc, error) {
		data, err := os.ReadFile(entry)
		if err != nil {
			return nil, err
		}
		word, arg, _ := strings.Cut(strings.TrimSpace(string(data)), " ")
		switch word {
		case "fail":
			return nil, errors.New("cannot import")
		case "panic":
			panic("import panic")
		case "nil":
			return nil, nil
		case "command":
			return func(_ context.Context, api *API) error {
				api.AddCommand(Command{Name: arg, AcceptsArgs: true, Handler: echoHandler})
				return nil
			}, nil
		default:
			return nil, errors.New("unknown fake program " + word)
		}
	}))
}

func echoHandler(_ context.Context, cc *CommandContext) (*CommandResult, error) {
	return &CommandResult{Text: cc.Args}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writePluginDir creates root/dir with a manifest. An empty manifest writes
// {"id": dir}.
func writePluginDir(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	if manifest == "" {
		manifest = `{"id": "` + dir + `"}`
	}
	p := filepath.Join(root, dir)
	writeFile(t, filepath.Join(p, ManifestFile), manifest)
	return p
}

func toolDef(id, tool string) Definition {
	return Definition{
		ID: id,
		Register: func(_ context.Context, api *API) error {
			api.AddTool(llm.MustNewTool(tool, "test tool", func(context.Context, struct{}) (string, error) {
				return id, nil
			}))
			return nil
		},
	}
}

func testLoad(t *testing.T, opts LoadOptions) (*Registry, *memLogger) {
	t.Helper()
	logger := &memLogger{}
	opts.Logger = logger
	if opts.BundledDir == "" {
		opts.BundledDir = "-"
	}
	reg := Load(context.Background(), opts)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, logger
}

func pathsConfig(paths ...string) HostConfig {
	return HostConfig{Plugins: PluginsConfig{Load: LoadConfig{Paths: paths}}}
}

func requireOutcome(t *testing.T, reg *Registry, id string, status Status) Outcome {
	t.Helper()
	o, ok := reg.Plugin(id)
	require.True(t, ok, "no outcome for %s", id)
	require.Equal(t, status, o.Status, o.Message())
	return o
}

func TestLoad_DirectoryPlugins(t *testing.T) {
	root := t.TempDir()
	alphaDir := writePluginDir(t, root, "alpha", `{"id": "alpha", "name": "Alpha", "version": "1.0.0"}`)
	writePluginDir(t, root, "beta", "")

	reg, logger := testLoad(t, LoadOptions{
		Config:      pathsConfig(root),
		Definitions: []Definition{toolDef("alpha", "alpha_tool"), toolDef("beta", "beta_tool")},
	})

	require.Len(t, reg.Plugins, 2)
	assert.Equal(t, "alpha", reg.Plugins[0].ID)
	assert.Equal(t, "beta", reg.Plugins[1].ID)

	alpha := requireOutcome(t, reg, "alpha", StatusLoaded)
	assert.Equal(t, "Alpha", alpha.Name)
	assert.Equal(t, "1.0.0", alpha.Version)
	assert.Equal(t, OriginConfig, alpha.Origin)
	assert.Equal(t, alphaDir, alpha.Source)
	assert.Equal(t, []string{"alpha_tool"}, alpha.ToolNames)

	assert.Equal(t, []string{"alpha_tool", "beta_tool"}, reg.ToolSet().Names())
	assert.Len(t, reg.Loaded(), 2)
	assert.True(t, logger.contains("[plugins] loaded alpha from "+alphaDir))
}

func TestLoad_BuiltinDefinition(t *testing.T) {
	reg, _ := testLoad(t, LoadOptions{Definitions: []Definition{toolDef("solo", "solo_tool")}})

	o := requireOutcome(t, reg, "solo", StatusLoaded)
	assert.Equal(t, OriginBuiltin, o.Origin)
	assert.Equal(t, "builtin:solo", o.Source)

	tool, ok := reg.Tool("solo_tool")
	require.True(t, ok)
	assert.Equal(t, "solo", tool.PluginID)
}

func TestLoad_Gating(t *testing.T) {
	tests := []struct {
		name       string
		plugins    PluginsConfig
		wantStatus map[string]Status
		wantReason string
	}{
		{
			name:       "wildcard allow",
			plugins:    PluginsConfig{Allow: AllowAll()},
			wantStatus: map[string]Status{"alpha": StatusLoaded, "beta": StatusLoaded},
		},
		{
			name:       "allow list",
			plugins:    PluginsConfig{Allow: AllowOnly("ALPHA")},
			wantStatus: map[string]Status{"alpha": StatusLoaded, "beta": StatusSkipped},
			wantReason: "not in plugins.allow",
		},
		{
			name:       "deny wins over allow",
			plugins:    PluginsConfig{Allow: AllowAll(), Deny: []string{"beta"}},
			wantStatus: map[string]Status{"alpha": StatusLoaded, "beta": StatusSkipped},
			wantReason: "listed in plugins.deny",
		},
		{
			name: "entry disabled",
			plugins: PluginsConfig{Entries: map[string]ConfigEntry{
				"beta": {Enabled: boolPtr(false)},
			}},
			wantStatus: map[string]Status{"alpha": StatusLoaded, "beta": StatusSkipped},
			wantReason: "disabled in plugins.entries",
		},
		{
			name:       "globally disabled",
			plugins:    PluginsConfig{Enabled: boolPtr(false)},
			wantStatus: map[string]Status{"alpha": StatusSkipped, "beta": StatusSkipped},
			wantReason: "plugins are disabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := testLoad(t, LoadOptions{
				Config:      HostConfig{Plugins: tt.plugins},
				Definitions: []Definition{toolDef("alpha", "alpha_tool"), toolDef("beta", "beta_tool")},
			})
			for id, status := range tt.wantStatus {
				o := requireOutcome(t, reg, id, status)
				if status == StatusSkipped {
					assert.Equal(t, tt.wantReason, o.Reason)
					assert.Empty(t, o.ToolNames)
				}
			}
			_, ok := reg.Tool("beta_tool")
			assert.Equal(t, tt.wantStatus["beta"] == StatusLoaded, ok)
		})
	}
}

func TestLoad_ConfigValidation(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "greeter", `{
		"id": "greeter",
		"configSchema": {
			"type": "object",
			"additionalProperties": false,
			"properties": {"greeting": {"type": "string", "default": "hello"}}
		}
	}`)

	var got map[string]any
	called := 0
	def := Definition{ID: "greeter", Register: func(_ context.Context, api *API) error {
		called++
		got = api.Config
		return nil
	}}

	t.Run("defaults reach the plugin", func(t *testing.T) {
		reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root), Definitions: []Definition{def}})
		requireOutcome(t, reg, "greeter", StatusLoaded)
		assert.Equal(t, map[string]any{"greeting": "hello"}, got)
	})

	t.Run("unknown key rejects the plugin", func(t *testing.T) {
		called = 0
		cfg := pathsConfig(root)
		cfg.Plugins.Entries = map[string]ConfigEntry{"greeter": {Config: map[string]any{"foo": 1}}}
		reg, _ := testLoad(t, LoadOptions{Config: cfg, Definitions: []Definition{def}})

		o := requireOutcome(t, reg, "greeter", StatusError)
		var ve *SchemaValidationError
		require.ErrorAs(t, o.Err, &ve)
		assert.Equal(t, "foo", ve.Field)
		assert.Contains(t, o.Message(), "foo")
		assert.Zero(t, called, "register must not run with invalid config")
	})
}

func TestLoad_RegisterFailureIsolated(t *testing.T) {
	tests := []struct {
		name     string
		register RegisterFunc
		wantErr  string
	}{
		{
			name: "returns error",
			register: func(_ context.Context, api *API) error {
				api.AddTool(llm.MustNewTool("half_tool", "", func(context.Context, struct{}) (string, error) { return "", nil }))
				api.AddCommand(Command{Name: "half", Handler: echoHandler})
				return errors.New("boom")
			},
			wantErr: "boom",
		},
		{
			name: "panics",
			register: func(_ context.Context, api *API) error {
				api.AddCommand(Command{Name: "half", Handler: echoHandler})
				panic("kaboom")
			},
			wantErr: "panic: kaboom",
		},
		{
			name: "invalid registration",
			register: func(_ context.Context, api *API) error {
				api.AddCommand(Command{Name: "half", Handler: echoHandler})
				api.AddCommand(Command{Name: "Bad Name", Handler: echoHandler})
				return nil
			},
			wantErr: `invalid command name "Bad Name"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed := false
			broken := Definition{ID: "broken", Register: func(ctx context.Context, api *API) error {
				api.OnClose(func() error { closed = true; return nil })
				return tt.register(ctx, api)
			}}

			reg, logger := testLoad(t, LoadOptions{Definitions: []Definition{broken, toolDef("sibling", "sibling_tool")}})

			o := requireOutcome(t, reg, "broken", StatusError)
			var re *RegisterError
			require.ErrorAs(t, o.Err, &re)
			assert.Contains(t, o.Message(), tt.wantErr)
			assert.Empty(t, o.ToolNames)
			assert.Empty(t, o.CommandNames)
			assert.True(t, closed, "resources of a failed plugin are released")

			_, ok := reg.Command("half")
			assert.False(t, ok)
			_, ok = reg.Tool("half_tool")
			assert.False(t, ok)

			requireOutcome(t, reg, "sibling", StatusLoaded)
			assert.True(t, logger.contains("[plugins] broken failed to load"))
		})
	}
}

func TestLoad_ManifestContentFailureRunsClosers(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "leaky", `{"id": "leaky", "commands": "missing"}`)
	closed := 0
	def := Definition{
		ID: "leaky",
		Register: func(_ context.Context, api *API) error {
			api.OnClose(func() error { closed++; return nil })
			api.AddCommand(Command{Name: "leak", Handler: echoHandler})
			return nil
		},
	}

	reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root), Definitions: []Definition{def}})

	o := requireOutcome(t, reg, "leaky", StatusError)
	var ie *ImportError
	require.ErrorAs(t, o.Err, &ie)
	assert.ErrorIs(t, o.Err, os.ErrNotExist)
	assert.Equal(t, 1, closed)
	assert.Empty(t, reg.Commands)

	require.NoError(t, reg.Close())
	assert.Equal(t, 1, closed, "closers of a failed plugin are not kept")
}

func TestLoad_MissingManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "orphan", "index.fake"), "command orphan")
	writePluginDir(t, root, "ok", "")

	reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root), Definitions: []Definition{toolDef("ok", "ok_tool")}})

	o := requireOutcome(t, reg, "orphan", StatusError)
	var pe *ManifestParseError
	require.ErrorAs(t, o.Err, &pe)
	assert.True(t, errors.Is(o.Err, os.ErrNotExist))
	requireOutcome(t, reg, "ok", StatusLoaded)
}

func TestLoad_DuplicateID(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	firstDir := writePluginDir(t, first, "dup", "")
	secondDir := writePluginDir(t, second, "other-name", `{"id": "DUP"}`)

	reg, _ := testLoad(t, LoadOptions{
		Config:      pathsConfig(first, second),
		Definitions: []Definition{toolDef("dup", "dup_tool")},
	})

	require.Len(t, reg.Plugins, 2)
	assert.Equal(t, StatusLoaded, reg.Plugins[0].Status)
	assert.Equal(t, firstDir, reg.Plugins[0].Source)

	dupe := reg.Plugins[1]
	assert.Equal(t, StatusError, dupe.Status)
	var de *DuplicatePluginError
	require.ErrorAs(t, dupe.Err, &de)
	assert.Equal(t, secondDir, de.Source)
	assert.Equal(t, firstDir, de.FirstSource)
}

func TestLoad_DuplicateAfterFailedCopy(t *testing.T) {
	first, second, third := t.TempDir(), t.TempDir(), t.TempDir()
	writePluginDir(t, first, "dup", `{"id": "dup", "configSchema": {"type": "array"}}`)
	goodDir := writePluginDir(t, second, "dup2", `{"id": "dup"}`)
	lateDir := writePluginDir(t, third, "dup3", `{"id": "dup"}`)

	reg, _ := testLoad(t, LoadOptions{
		Config:      pathsConfig(first, second, third),
		Definitions: []Definition{toolDef("dup", "dup_tool")},
	})

	require.Len(t, reg.Plugins, 3)
	var pe *ManifestParseError
	require.ErrorAs(t, reg.Plugins[0].Err, &pe)

	assert.Equal(t, StatusLoaded, reg.Plugins[1].Status, reg.Plugins[1].Message())
	assert.Equal(t, goodDir, reg.Plugins[1].Source)

	var de *DuplicatePluginError
	require.ErrorAs(t, reg.Plugins[2].Err, &de)
	assert.Equal(t, lateDir, de.Source)
	assert.Equal(t, goodDir, de.FirstSource)

	o := requireOutcome(t, reg, "dup", StatusLoaded)
	assert.Equal(t, []string{"dup_tool"}, o.ToolNames)
}

func TestLoad_ImportErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		files    map[string]string
		wantIs   error
		wantErr  string
	}{
		{
			name:   "no entry point",
			wantIs: ErrNoEntryPoint,
		},
		{
			name:     "no importer for extension",
			manifest: `{"id": "p", "main": "main.xyz"}`,
			files:    map[string]string{"main.xyz": ""},
			wantIs:   ErrNoImporter,
			wantErr:  `".xyz"`,
		},
		{
			name:     "main missing",
			manifest: `{"id": "p", "main": "main.fake"}`,
			wantIs:   os.ErrNotExist,
		},
		{
			name:     "main escapes directory",
			manifest: `{"id": "p", "main": "../main.fake"}`,
			wantErr:  "escapes the plugin directory",
		},
		{
			name:    "importer fails",
			files:   map[string]string{"index.fake": "fail"},
			wantErr: "cannot import",
		},
		{
			name:    "importer panics",
			files:   map[string]string{"index.fake": "panic"},
			wantErr: "panic: import panic",
		},
		{
			name:   "importer returns nil entry point",
			files:  map[string]string{"index.fake": "nil"},
			wantIs: ErrNoEntryPoint,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			manifest := tt.manifest
			if manifest == "" {
				manifest = `{"id": "p"}`
			}
			dir := writePluginDir(t, root, "p", manifest)
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}

			reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root)})

			o := requireOutcome(t, reg, "p", StatusError)
			var ie *ImportError
			require.ErrorAs(t, o.Err, &ie)
			assert.Equal(t, "p", ie.PluginID)
			if tt.wantIs != nil {
				assert.ErrorIs(t, o.Err, tt.wantIs)
			}
			if tt.wantErr != "" {
				assert.Contains(t, o.Message(), tt.wantErr)
			}
		})
	}
}

func TestLoad_ImporterEntryPoint(t *testing.T) {
	root := t.TempDir()
	dir := writePluginDir(t, root, "scripted", "")
	writeFile(t, filepath.Join(dir, "index.fake"), "command shout")

	reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root)})

	o := requireOutcome(t, reg, "scripted", StatusLoaded)
	assert.Equal(t, []string{"shout"}, o.CommandNames)
	res, err := reg.ExecuteCommand(context.Background(), "/shout hey", &CommandContext{})
	require.NoError(t, err)
	assert.Equal(t, "hey", res.Text)
}

func TestLoad_Conflicts(t *testing.T) {
	t.Run("later plugin is rejected", func(t *testing.T) {
		reg, _ := testLoad(t, LoadOptions{Definitions: []Definition{
			toolDef("first", "shared_tool"),
			toolDef("second", "shared_tool"),
		}})

		requireOutcome(t, reg, "first", StatusLoaded)
		o := requireOutcome(t, reg, "second", StatusError)
		var ce *ConflictError
		require.ErrorAs(t, o.Err, &ce)
		assert.Equal(t, "tool", ce.Kind)
		assert.Equal(t, "shared_tool", ce.Name)
		assert.Equal(t, "first", ce.Owner)

		tool, ok := reg.Tool("shared_tool")
		require.True(t, ok)
		assert.Equal(t, "first", tool.PluginID)
		assert.Len(t, reg.Tools, 1)
	})

	t.Run("repeat within one plugin", func(t *testing.T) {
		reg, _ := testLoad(t, LoadOptions{Definitions: []Definition{{
			ID: "twice",
			Register: func(_ context.Context, api *API) error {
				api.AddCommand(Command{Name: "again", Handler: echoHandler})
				api.AddCommand(Command{Name: "/again", Handler: echoHandler})
				return nil
			},
		}}})

		o := requireOutcome(t, reg, "twice", StatusError)
		assert.Contains(t, o.Message(), `registers command "again" more than once`)
		assert.Empty(t, reg.Commands)
	})
}

func TestLoad_Cache(t *testing.T) {
	defer ClearCache()
	opts := LoadOptions{Definitions: []Definition{toolDef("cached", "cached_tool")}, Cache: true}

	first, _ := testLoad(t, opts)
	second, _ := testLoad(t, opts)
	assert.Same(t, first, second)

	opts.Config.Plugins.Deny = []string{"cached"}
	third, _ := testLoad(t, opts)
	assert.NotSame(t, first, third, "different options are cached separately")

	ClearCache()
	opts.Config.Plugins.Deny = nil
	fourth, _ := testLoad(t, opts)
	assert.NotSame(t, first, fourth)

	opts.Cache = false
	fifth, _ := testLoad(t, opts)
	assert.NotSame(t, fourth, fifth)
}

func TestLoad_CacheSkipsClosedRegistry(t *testing.T) {
	defer ClearCache()
	closed := 0
	opts := LoadOptions{
		Cache: true,
		Definitions: []Definition{{
			ID: "session",
			Register: func(_ context.Context, api *API) error {
				api.OnClose(func() error { closed++; return nil })
				return nil
			},
		}},
	}

	first, _ := testLoad(t, opts)
	require.NoError(t, first.Close())
	assert.Equal(t, 1, closed)

	second, _ := testLoad(t, opts)
	assert.NotSame(t, first, second, "a closed registry is not reused")
	requireOutcome(t, second, "session", StatusLoaded)

	third, _ := testLoad(t, opts)
	assert.Same(t, second, third)

	// Closing a registry that was already evicted leaves the newer entry alone.
	ClearCache()
	fourth, _ := testLoad(t, opts)
	require.NoError(t, third.Close())
	fifth, _ := testLoad(t, opts)
	assert.Same(t, fourth, fifth)
}

func TestLoad_BundledDir(t *testing.T) {
	bundled := t.TempDir()
	writePluginDir(t, bundled, "shipped", "")
	t.Setenv(BundledDirEnv, bundled)
	assert.Equal(t, bundled, BundledDir())

	logger := &memLogger{}
	reg := Load(context.Background(), LoadOptions{
		Logger:      logger,
		Definitions: []Definition{toolDef("shipped", "shipped_tool")},
	})
	t.Cleanup(func() { _ = reg.Close() })

	o := requireOutcome(t, reg, "shipped", StatusLoaded)
	assert.Equal(t, OriginBundled, o.Origin)
}

func TestLoad_MissingConfiguredPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	reg, logger := testLoad(t, LoadOptions{Config: pathsConfig(missing)})

	assert.Empty(t, reg.Plugins)
	assert.True(t, logger.contains("[plugins] cannot scan"))
}

func TestLoad_DeclarativeManifest(t *testing.T) {
	root := t.TempDir()
	dir := writePluginDir(t, root, "prompts", `{
		"id": "prompts",
		"commands": "commands",
		"skills": ["skills"]
	}`)
	writeFile(t, filepath.Join(dir, "commands", "review.md"), "---\ndescription: Review code\n---\nReview $ARGUMENTS carefully.")
	writeFile(t, filepath.Join(dir, "skills", "testing", "SKILL.md"), "---\ndescription: Write tests\ntools: [workspace_read]\n---\nUse table-driven tests.")

	reg, _ := testLoad(t, LoadOptions{Config: pathsConfig(root)})

	o := requireOutcome(t, reg, "prompts", StatusLoaded)
	assert.Equal(t, []string{"review"}, o.CommandNames)

	res, err := reg.ExecuteCommand(context.Background(), "/review main.go", &CommandContext{})
	require.NoError(t, err)
	assert.Equal(t, "Review main.go carefully.", res.Text)

	skills, err := reg.AllSkills(context.Background())
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "testing", skills[0].Name)
	assert.Equal(t, []string{"workspace_read"}, skills[0].Tools)
	assert.Contains(t, reg.CommandsIndexSystemMessage(), "- /review: Review code")
}

func TestLoad_SealedAfterLoad(t *testing.T) {
	var captured *API
	reg, logger := testLoad(t, LoadOptions{Definitions: []Definition{{
		ID: "late",
		Register: func(_ context.Context, api *API) error {
			captured = api
			return nil
		},
	}}})
	requireOutcome(t, reg, "late", StatusLoaded)
	require.NotNil(t, captured)

	captured.AddCommand(Command{Name: "late", Handler: echoHandler})

	_, ok := reg.Command("late")
	assert.False(t, ok)
	assert.True(t, logger.contains("registration after load ignored"))
}

func TestRegistry_Close(t *testing.T) {
	var order []string
	def := func(id string) Definition {
		return Definition{ID: id, Register: func(_ context.Context, api *API) error {
			api.OnClose(func() error {
				order = append(order, id)
				return errors.New(id + " close failed")
			})
			return nil
		}}
	}

	logger := &memLogger{}
	reg := Load(context.Background(), LoadOptions{
		Logger:      logger,
		BundledDir:  "-",
		Definitions: []Definition{def("a"), def("b")},
	})

	err := reg.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a close failed")
	assert.Contains(t, err.Error(), "b close failed")
	assert.Equal(t, []string{"b", "a"}, order, "closers run in reverse registration order")

	assert.Equal(t, err, reg.Close())
	assert.Len(t, order, 2, "close runs once")
}
