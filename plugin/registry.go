package plugin

import (
	"errors"
	"slices"
	"sync"

	"github.com/i2y/clawkit/llm"
)

// Registry is the result of one Load call: an outcome per discovered plugin and
// everything the loaded plugins registered, in registration order.
//
// A Registry is read-only once Load returns and may be shared by concurrent
// hook runs. Callers must not modify the slices.
type Registry struct {
	Plugins    []Outcome
	Hooks      []HookRegistration
	TypedHooks []TypedHookRegistration
	Tools      []ToolRegistration
	Commands   []CommandRegistration
	Channels   []ChannelRegistration
	Skills     []SkillRegistration
	Memory     []MemoryRegistration

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
	cacheKey  string
}

// commit merges one plugin's staged registrations. Names that collide with an
// earlier plugin, or repeat within the same plugin, reject the whole plugin.
func (r *Registry) commit(id string, s *staging) error {
	if len(s.errs) > 0 {
		return errors.Join(s.errs...)
	}

	type key struct{ kind, name string }
	owners := make(map[key]string)
	for _, t := range r.Tools {
		owners[key{"tool", t.Tool.Name()}] = t.PluginID
	}
	for _, c := range r.Commands {
		owners[key{"command", c.Command.Name}] = c.PluginID
	}
	for _, c := range r.Channels {
		owners[key{"channel", c.Channel.ID()}] = c.PluginID
	}
	for _, m := range r.Memory {
		owners[key{"memory", m.Provider.ID()}] = m.PluginID
	}

	claim := func(kind, name string) error {
		k := key{kind, name}
		if owner, ok := owners[k]; ok {
			return &ConflictError{PluginID: id, Kind: kind, Name: name, Owner: owner}
		}
		owners[k] = id
		return nil
	}
	for _, t := range s.tools {
		if err := claim("tool", t.Tool.Name()); err != nil {
			return err
		}
	}
	for _, c := range s.commands {
		if err := claim("command", c.Command.Name); err != nil {
			return err
		}
	}
	for _, c := range s.channels {
		if err := claim("channel", c.Channel.ID()); err != nil {
			return err
		}
	}
	for _, m := range s.memory {
		if err := claim("memory", m.Provider.ID()); err != nil {
			return err
		}
	}

	r.Hooks = append(r.Hooks, s.hooks...)
	r.TypedHooks = append(r.TypedHooks, s.typedHooks...)
	r.Tools = append(r.Tools, s.tools...)
	r.Commands = append(r.Commands, s.commands...)
	r.Channels = append(r.Channels, s.channels...)
	r.Skills = append(r.Skills, s.skills...)
	r.Memory = append(r.Memory, s.memory...)
	r.closers = append(r.closers, s.closers...)
	return nil
}

// Plugin returns the outcome for id. When several directories carry the id,
// the loaded copy is preferred, then the first discovered.
func (r *Registry) Plugin(id string) (Outcome, bool) {
	id = NormalizeID(id)
	var (
		first Outcome
		found bool
	)
	for _, o := range r.Plugins {
		if NormalizeID(o.ID) != id {
			continue
		}
		if o.Status == StatusLoaded {
			return o, true
		}
		if !found {
			first, found = o, true
		}
	}
	return first, found
}

// Loaded returns the outcomes with StatusLoaded.
func (r *Registry) Loaded() []Outcome {
	var out []Outcome
	for _, o := range r.Plugins {
		if o.Status == StatusLoaded {
			out = append(out, o)
		}
	}
	return out
}

// Tool returns the tool registered under name.
func (r *Registry) Tool(name string) (ToolRegistration, bool) {
	for _, t := range r.Tools {
		if t.Tool.Name() == name {
			return t, true
		}
	}
	return ToolRegistration{}, false
}

// ToolSet returns the registered tools as an llm.ToolRegistry.
func (r *Registry) ToolSet() *llm.ToolRegistry {
	set := llm.NewToolRegistry()
	for _, t := range r.Tools {
		set.Register(t.Tool)
	}
	return set
}

// Command returns the command registered under name.
func (r *Registry) Command(name string) (CommandRegistration, bool) {
	for _, c := range r.Commands {
		if c.Command.Name == name {
			return c, true
		}
	}
	return CommandRegistration{}, false
}

// Channel returns the channel registered under id.
func (r *Registry) Channel(id string) (ChannelRegistration, bool) {
	for _, c := range r.Channels {
		if c.Channel.ID() == id {
			return c, true
		}
	}
	return ChannelRegistration{}, false
}

// MemoryProvider returns the memory provider registered under id.
func (r *Registry) MemoryProvider(id string) (MemoryRegistration, bool) {
	for _, m := range r.Memory {
		if m.Provider.ID() == id {
			return m, true
		}
	}
	return MemoryRegistration{}, false
}

// HookNames returns the distinct hook names with at least one handler, typed first.
func (r *Registry) HookNames() []string {
	var names []string
	for _, h := range r.TypedHooks {
		if !slices.Contains(names, string(h.HookName)) {
			names = append(names, string(h.HookName))
		}
	}
	for _, h := range r.Hooks {
		if !slices.Contains(names, h.HookName) {
			names = append(names, h.HookName)
		}
	}
	return names
}

// Close releases resources plugins attached to the registry, such as MCP
// sessions. It is safe to call more than once. A closed registry is no longer
// returned by a cached Load.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		uncache(r)
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// summarize fills the contribution fields of o from a committed staging area.
func summarize(o *Outcome, s *staging) {
	for _, t := range s.tools {
		o.ToolNames = append(o.ToolNames, t.Tool.Name())
	}
	for _, c := range s.commands {
		o.CommandNames = append(o.CommandNames, c.Command.Name)
	}
	for _, h := range s.typedHooks {
		o.HookNames = append(o.HookNames, string(h.HookName))
	}
	for _, h := range s.hooks {
		o.HookNames = append(o.HookNames, h.HookName)
	}
	for _, c := range s.channels {
		o.ChannelIDs = append(o.ChannelIDs, c.Channel.ID())
	}
}
