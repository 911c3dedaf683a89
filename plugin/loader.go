package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// LoadOptions configures Load.
type LoadOptions struct {
	// Config is the host configuration; only its plugins section is read.
	Config HostConfig

	// Logger receives loader diagnostics and is handed to plugins.
	// Nil uses a ConsoleLogger on stderr.
	Logger Logger

	// Cache reuses the registry of an earlier Load with identical options.
	// When false a fresh registry is always built.
	Cache bool

	// Definitions are Go plugins compiled into the host. They take precedence
	// over definitions added with RegisterDefinition.
	Definitions []Definition

	// BundledDir overrides BundledDir(). Set it to "-" to skip bundled plugins.
	BundledDir string

	// ConnectMCP starts the MCP servers declared in manifests and registers
	// their tools under the declaring plugin.
	ConnectMCP bool
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*Registry)
)

// uncache removes r from the cache if it is still the entry for its key.
func uncache(r *Registry) {
	if r.cacheKey == "" {
		return
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache[r.cacheKey] == r {
		delete(cache, r.cacheKey)
	}
}

// ClearCache drops all cached registries.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]*Registry)
}

// Load discovers, validates and registers plugins and returns the registry.
//
// Plugin failures never abort the load: each discovered plugin ends up with
// exactly one Outcome, and only loaded plugins contribute registrations.
func Load(ctx context.Context, opts LoadOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = NewConsoleLogger(nil)
	}
	key := cacheKey(opts)
	if opts.Cache {
		cacheMu.Lock()
		reg, ok := cache[key]
		cacheMu.Unlock()
		if ok {
			return reg
		}
	}

	l := &loader{
		opts:   opts,
		logger: WrapLogger(opts.Logger),
		reg:    &Registry{},
		seen:   make(map[string]string),
	}
	l.run(ctx)

	if opts.Cache {
		l.reg.cacheKey = key
		cacheMu.Lock()
		cache[key] = l.reg
		cacheMu.Unlock()
	}
	return l.reg
}

func cacheKey(opts LoadOptions) string {
	ids := make([]string, 0, len(opts.Definitions))
	for _, d := range opts.Definitions {
		ids = append(ids, d.ID)
	}
	data, _ := json.Marshal(struct {
		Config     HostConfig
		Defs       []string
		Bundled    string
		ConnectMCP bool
	}{opts.Config, ids, opts.BundledDir, opts.ConnectMCP})
	return string(data)
}

// loadState is a step of the per-plugin state machine.
type loadState int

const (
	stateDiscovered loadState = iota
	stateAllowed
	stateManifestParsed
	stateConfigValidated
	stateImported
	stateRegistered
)

func (s loadState) String() string {
	switch s {
	case stateDiscovered:
		return "discovered"
	case stateAllowed:
		return "allowed"
	case stateManifestParsed:
		return "manifest-parsed"
	case stateConfigValidated:
		return "config-validated"
	case stateImported:
		return "imported"
	case stateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// pluginLoad is the working state of one plugin moving through the machine.
type pluginLoad struct {
	cand     candidate
	state    loadState
	manifest *Manifest
	config   map[string]any
	register RegisterFunc
	outcome  Outcome
}

type loader struct {
	opts   LoadOptions
	logger Logger
	reg    *Registry
	seen   map[string]string // normalized id of a loaded plugin -> source
}

func (l *loader) run(ctx context.Context) {
	for _, c := range l.candidates() {
		out := l.loadOne(ctx, c)
		l.reg.Plugins = append(l.reg.Plugins, out)
		switch out.Status {
		case StatusLoaded:
			l.logger.Info(fmt.Sprintf("[plugins] loaded %s from %s", out.ID, out.Source))
		case StatusError:
			l.logger.Warn(fmt.Sprintf("[plugins] %s failed to load: %v", out.ID, out.Err))
		case StatusSkipped:
			debugf(l.logger, fmt.Sprintf("[plugins] %s skipped: %s", out.ID, out.Reason))
		}
	}
}

// candidates returns every discovered plugin in discovery order: configured
// load paths, then the bundled directory, then builtin definitions without a
// directory.
func (l *loader) candidates() []candidate {
	var roots []searchRoot
	for _, p := range l.opts.Config.Plugins.Load.Paths {
		roots = append(roots, searchRoot{dir: p, origin: OriginConfig})
	}
	switch bundled := l.opts.BundledDir; bundled {
	case "-":
	case "":
		roots = append(roots, searchRoot{dir: BundledDir(), origin: OriginBundled})
	default:
		roots = append(roots, searchRoot{dir: bundled, origin: OriginBundled})
	}

	cands := discoverDirs(roots, func(dir string, err error) {
		l.logger.Warn(fmt.Sprintf("[plugins] cannot scan %s: %v", dir, err))
	})

	dirIDs := make(map[string]bool, len(cands))
	for _, c := range cands {
		dirIDs[NormalizeID(c.id)] = true
	}
	for _, def := range l.definitions() {
		if dirIDs[NormalizeID(def.ID)] {
			continue
		}
		d := def
		cands = append(cands, candidate{id: def.ID, origin: OriginBuiltin, def: &d})
	}
	return cands
}

// definitions returns LoadOptions.Definitions followed by registered ones
// whose ids are not already present.
func (l *loader) definitions() []Definition {
	defs := append([]Definition(nil), l.opts.Definitions...)
	have := make(map[string]bool, len(defs))
	for _, d := range defs {
		have[NormalizeID(d.ID)] = true
	}
	for _, d := range registeredDefinitions() {
		if !have[NormalizeID(d.ID)] {
			defs = append(defs, d)
		}
	}
	return defs
}

func (l *loader) definition(id string) (Definition, bool) {
	id = NormalizeID(id)
	for _, d := range l.definitions() {
		if NormalizeID(d.ID) == id {
			return d, true
		}
	}
	return Definition{}, false
}

// loadOne drives one candidate through the state machine until it reaches a
// terminal status.
func (l *loader) loadOne(ctx context.Context, c candidate) Outcome {
	job := &pluginLoad{
		cand:  c,
		state: stateDiscovered,
		outcome: Outcome{
			ID:     c.id,
			Source: c.source(),
			Origin: c.origin,
		},
	}
	for {
		var err error
		var done bool
		switch job.state {
		case stateDiscovered:
			done, err = l.checkDuplicate(job)
		case stateAllowed:
			done = l.checkAllowed(job)
		case stateManifestParsed:
			err = l.parseManifest(job)
		case stateConfigValidated:
			err = l.validateConfig(job)
		case stateImported:
			err = l.importCode(ctx, job)
		case stateRegistered:
			err = l.register(ctx, job)
			if err == nil {
				job.outcome.Status = StatusLoaded
				l.seen[NormalizeID(job.cand.id)] = job.cand.source()
				return job.outcome
			}
		}
		if err != nil {
			job.outcome.Status = StatusError
			job.outcome.Err = err
			return job.outcome
		}
		if done {
			return job.outcome
		}
		job.state++
	}
}

// checkDuplicate rejects a candidate whose id already loaded. A copy that
// failed or was skipped does not claim the id.
func (l *loader) checkDuplicate(job *pluginLoad) (bool, error) {
	if first, ok := l.seen[NormalizeID(job.cand.id)]; ok {
		return true, &DuplicatePluginError{PluginID: job.cand.id, Source: job.cand.source(), FirstSource: first}
	}
	return false, nil
}

func (l *loader) checkAllowed(job *pluginLoad) bool {
	cfg := l.opts.Config.Plugins
	id := job.cand.id
	reason := ""
	switch {
	case !cfg.GloballyEnabled():
		reason = "plugins are disabled"
	case cfg.Denied(id):
		reason = "listed in plugins.deny"
	case !cfg.Allow.Allows(id):
		reason = "not in plugins.allow"
	default:
		if e, ok := cfg.Entry(id); ok && e.Enabled != nil && !*e.Enabled {
			reason = "disabled in plugins.entries"
		}
	}
	if reason == "" {
		return false
	}
	job.outcome.Status = StatusSkipped
	job.outcome.Reason = reason
	return true
}

func (l *loader) parseManifest(job *pluginLoad) error {
	var (
		m   *Manifest
		err error
	)
	if job.cand.dir != "" {
		m, err = LoadManifest(job.cand.dir)
	} else {
		m, err = manifestFromDefinition(*job.cand.def)
	}
	if err != nil {
		return err
	}
	job.manifest = m
	job.outcome.Name = m.Name
	job.outcome.Description = m.Description
	job.outcome.Version = m.Version
	return nil
}

func (l *loader) validateConfig(job *pluginLoad) error {
	var raw map[string]any
	if e, ok := l.opts.Config.Plugins.Entry(job.cand.id); ok {
		raw = e.Config
	}
	cfg, err := job.manifest.ValidateConfig(raw)
	if err != nil {
		return err
	}
	job.config = cfg
	return nil
}

func (l *loader) importCode(ctx context.Context, job *pluginLoad) (err error) {
	id := job.manifest.ID
	if def, ok := l.definition(id); ok {
		if def.Register == nil {
			return &ImportError{PluginID: id, Cause: ErrNoEntryPoint}
		}
		job.register = def.Register
		return nil
	}

	entry, err := l.entryFile(job)
	if errors.Is(err, ErrNoEntryPoint) && job.manifest.declarative() {
		job.register = func(context.Context, *API) error { return nil }
		return nil
	}
	if err != nil {
		return &ImportError{PluginID: id, Entry: entry, Cause: err}
	}
	imp, ok := importerFor(filepath.Ext(entry))
	if !ok {
		return &ImportError{PluginID: id, Entry: entry, Cause: noImporterError(filepath.Ext(entry))}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ImportError{PluginID: id, Entry: entry, Cause: panicError(r)}
		}
	}()
	fn, err := imp.Import(ctx, job.manifest, entry)
	if err != nil {
		return &ImportError{PluginID: id, Entry: entry, Cause: err}
	}
	if fn == nil {
		return &ImportError{PluginID: id, Entry: entry, Cause: ErrNoEntryPoint}
	}
	job.register = fn
	return nil
}

// entryFile resolves the entry script: the manifest's main, or the single
// index.* file of the plugin directory.
func (l *loader) entryFile(job *pluginLoad) (string, error) {
	dir := job.cand.dir
	if dir == "" {
		return "", ErrNoEntryPoint
	}
	if main := job.manifest.Main; main != "" {
		entry := filepath.Join(dir, filepath.FromSlash(main))
		rel, err := filepath.Rel(dir, entry)
		if err != nil || strings.HasPrefix(rel, "..") {
			return entry, fmt.Errorf("main %q escapes the plugin directory", main)
		}
		if _, err := os.Stat(entry); err != nil {
			return entry, err
		}
		return entry, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "index.*")
	if err != nil || len(matches) == 0 {
		return "", ErrNoEntryPoint
	}
	return filepath.Join(dir, matches[0]), nil
}

func (l *loader) register(ctx context.Context, job *pluginLoad) error {
	m := job.manifest
	api := newAPI(m.ID, m.Name, m.Version, job.cand.dir, job.config, l.logger)

	// The entry point runs first so that closers it attaches (script
	// states, sessions) are released when manifest content fails to stage.
	if err := callRegister(ctx, job.register, api); err != nil {
		discard(api.seal())
		return &RegisterError{PluginID: m.ID, Cause: err}
	}

	if err := l.stageManifestContributions(ctx, api, m); err != nil {
		discard(api.seal())
		return &ImportError{PluginID: m.ID, Entry: job.cand.dir, Cause: err}
	}

	staged := api.seal()
	if err := l.reg.commit(m.ID, staged); err != nil {
		discard(staged)
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		return &RegisterError{PluginID: m.ID, Cause: err}
	}
	summarize(&job.outcome, staged)
	return nil
}

// callRegister runs a plugin entry point, converting panics into errors.
func callRegister(ctx context.Context, fn RegisterFunc, api *API) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(ctx, api)
}

// discard releases resources held by a staging area that will not be committed.
func discard(s *staging) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// stageManifestContributions stages what the manifest declares directly:
// markdown commands, skill directories and MCP server tools.
func (l *loader) stageManifestContributions(ctx context.Context, api *API, m *Manifest) error {
	if m.Dir == "" {
		return nil
	}
	if m.Commands != "" {
		cmds, err := loadCommands(api.ResolvePath(m.Commands))
		if err != nil {
			return fmt.Errorf("loading commands: %w", err)
		}
		for _, c := range cmds {
			api.AddCommand(c.asCommand())
		}
	}
	if len(m.Skills) > 0 {
		dirs := make([]string, len(m.Skills))
		for i, s := range m.Skills {
			dirs[i] = api.ResolvePath(s)
		}
		api.AddSkillPlugin(&dirSkillPlugin{id: m.ID, dirs: dirs})
	}
	if l.opts.ConnectMCP && len(m.MCPServers) > 0 {
		if err := stageMCPServers(ctx, api, m.MCPServers); err != nil {
			return err
		}
	}
	return nil
}
