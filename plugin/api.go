package plugin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/i2y/clawkit/llm"
)

// commandNamePattern validates slash command names.
var commandNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// API is the capability surface handed to one plugin's Register entry point.
//
// Every Add method records into a staging area private to this plugin. The
// loader merges the staging area into the registry only if Register succeeds;
// afterwards the API is sealed and further registrations are dropped.
type API struct {
	ID      string
	Name    string
	Version string
	Source  string // plugin directory, empty for builtin plugins

	// Config is the validated configuration with schema defaults applied.
	Config map[string]any

	// Logger is the host logger, bound to its original instance.
	Logger Logger

	mu     sync.Mutex
	stage  *staging
	sealed bool
}

// staging collects one plugin's registrations until the loader commits them.
type staging struct {
	hooks      []HookRegistration
	typedHooks []TypedHookRegistration
	tools      []ToolRegistration
	commands   []CommandRegistration
	channels   []ChannelRegistration
	skills     []SkillRegistration
	memory     []MemoryRegistration
	closers    []func() error
	errs       []error
}

func newAPI(id, name, version, source string, config map[string]any, logger Logger) *API {
	return &API{
		ID:      id,
		Name:    name,
		Version: version,
		Source:  source,
		Config:  config,
		Logger:  logger,
		stage:   &staging{},
	}
}

// ResolvePath resolves a path relative to the plugin directory.
func (a *API) ResolvePath(p string) string {
	if filepath.IsAbs(p) || a.Source == "" {
		return p
	}
	return filepath.Join(a.Source, p)
}

// DecodeConfig decodes the validated configuration into out, which is
// usually a pointer to a struct with json tags.
func (a *API) DecodeConfig(out any) error {
	data, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s config: %w", a.ID, err)
	}
	return nil
}

// AddHook registers a handler by hook name. A typed event name is adapted
// with NewTypedHook, so the typed Run methods see the handler too.
func (a *API) AddHook(name string, h HookHandler) {
	name = strings.TrimSpace(name)
	a.record(func(s *staging) error {
		if name == "" {
			return fmt.Errorf("hook name is required")
		}
		if h == nil {
			return fmt.Errorf("hook %q: nil handler", name)
		}
		if IsTypedHook(name) {
			typed, err := NewTypedHook(HookName(name), h)
			if err != nil {
				return err
			}
			s.typedHooks = append(s.typedHooks, TypedHookRegistration{PluginID: a.ID, HookName: HookName(name), Handler: typed})
			return nil
		}
		s.hooks = append(s.hooks, HookRegistration{PluginID: a.ID, HookName: name, Handler: h})
		return nil
	})
}

// AddTypedHook registers a typed lifecycle handler, such as a
// BeforeAgentStartHandler.
func (a *API) AddTypedHook(h TypedHook) {
	a.record(func(s *staging) error {
		if err := handlerFor(h); err != nil {
			return err
		}
		s.typedHooks = append(s.typedHooks, TypedHookRegistration{PluginID: a.ID, HookName: h.HookName(), Handler: h})
		return nil
	})
}

// AddTool registers a tool for the agent.
func (a *API) AddTool(t llm.Tool) {
	a.record(func(s *staging) error {
		if t == nil || t.Name() == "" {
			return fmt.Errorf("tool must have a name")
		}
		s.tools = append(s.tools, ToolRegistration{PluginID: a.ID, Tool: t})
		return nil
	})
}

// AddCommand registers a slash command.
func (a *API) AddCommand(c Command) {
	c.Name = strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
	a.record(func(s *staging) error {
		if !commandNamePattern.MatchString(c.Name) {
			return fmt.Errorf("invalid command name %q", c.Name)
		}
		if c.Handler == nil {
			return fmt.Errorf("command %q: nil handler", c.Name)
		}
		s.commands = append(s.commands, CommandRegistration{PluginID: a.ID, Command: c})
		return nil
	})
}

// AddChannelPlugin registers a messaging channel integration.
func (a *API) AddChannelPlugin(ch ChannelPlugin) {
	a.record(func(s *staging) error {
		if ch == nil || ch.ID() == "" {
			return fmt.Errorf("channel must have an id")
		}
		s.channels = append(s.channels, ChannelRegistration{PluginID: a.ID, Channel: ch})
		return nil
	})
}

// AddSkillPlugin registers a skill provider.
func (a *API) AddSkillPlugin(p SkillPlugin) {
	a.record(func(s *staging) error {
		if p == nil {
			return fmt.Errorf("nil skill provider")
		}
		s.skills = append(s.skills, SkillRegistration{PluginID: a.ID, Provider: p})
		return nil
	})
}

// AddMemoryPlugin registers a memory provider.
func (a *API) AddMemoryPlugin(p MemoryPlugin) {
	a.record(func(s *staging) error {
		if p == nil || p.ID() == "" {
			return fmt.Errorf("memory provider must have an id")
		}
		s.memory = append(s.memory, MemoryRegistration{PluginID: a.ID, Provider: p})
		return nil
	})
}

// OnClose registers a function the registry calls from Close.
func (a *API) OnClose(fn func() error) {
	a.record(func(s *staging) error {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
		return nil
	})
}

func (a *API) record(fn func(s *staging) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		a.Logger.Warn(fmt.Sprintf("[plugins] %s: registration after load ignored", a.ID))
		return
	}
	if err := fn(a.stage); err != nil {
		a.stage.errs = append(a.stage.errs, err)
	}
}

// seal stops further registrations and hands back the staging area.
func (a *API) seal() *staging {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	s := a.stage
	a.stage = &staging{}
	return s
}
