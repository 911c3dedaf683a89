// Package plugin implements the clawkit plugin runtime: discovery and loading of
// plugin packages, configuration validation against each plugin's declared schema,
// the per-plugin capability surface, the shared registry, and the lifecycle hook runner.
package plugin

import (
	"context"

	"github.com/i2y/clawkit/llm"
)

// Status is the terminal state of one plugin after a load.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Origin tells where a plugin was discovered.
type Origin string

const (
	OriginConfig  Origin = "config"  // plugins.load.paths
	OriginBundled Origin = "bundled" // bundled extensions directory
	OriginBuiltin Origin = "builtin" // Go definition without a directory
)

// Outcome records what happened to one discovered plugin.
type Outcome struct {
	ID          string
	Name        string
	Description string
	Version     string
	Source      string // directory or "builtin:<id>"
	Origin      Origin
	Status      Status
	Err         error // set when Status is StatusError
	Reason      string

	// Contribution summary, filled for loaded plugins.
	ToolNames    []string
	CommandNames []string
	HookNames    []string
	ChannelIDs   []string
}

// Message returns the error text of a failed outcome, or the skip reason.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Reason
}

// Definition is a plugin entry point compiled into the host.
//
// When a discovered plugin directory has the same id, the directory supplies the
// manifest and the definition supplies the code. A definition with no matching
// directory is loaded as a builtin plugin using its own ConfigSchema.
type Definition struct {
	ID          string
	Name        string
	Description string
	Version     string

	// ConfigSchema is a JSON schema document; empty means no configuration is accepted.
	ConfigSchema []byte

	// Register is called once with the plugin's capability surface.
	Register RegisterFunc
}

// HookRegistration is an untyped hook contributed by a plugin.
type HookRegistration struct {
	PluginID string
	HookName string
	Handler  HookHandler
}

// TypedHookRegistration is a typed lifecycle hook contributed by a plugin.
type TypedHookRegistration struct {
	PluginID string
	HookName HookName
	Handler  TypedHook
}

// ToolRegistration is a tool contributed by a plugin.
type ToolRegistration struct {
	PluginID string
	Tool     llm.Tool
}

// CommandRegistration is a slash command contributed by a plugin.
type CommandRegistration struct {
	PluginID string
	Command  Command
}

// ChannelRegistration is a channel integration contributed by a plugin.
type ChannelRegistration struct {
	PluginID string
	Channel  ChannelPlugin
}

// SkillRegistration is a skill provider contributed by a plugin.
type SkillRegistration struct {
	PluginID string
	Provider SkillPlugin
}

// MemoryRegistration is a memory provider contributed by a plugin.
type MemoryRegistration struct {
	PluginID string
	Provider MemoryPlugin
}

// Command represents a slash command a plugin exposes.
type Command struct {
	Name        string // invoked as /Name
	Description string
	AcceptsArgs bool
	Handler     CommandHandler
}

// CommandHandler executes a command.
type CommandHandler func(ctx context.Context, cc *CommandContext) (*CommandResult, error)

// CommandContext carries one command invocation.
type CommandContext struct {
	ChannelID string
	SenderID  string
	Args      string // text after the command name
	RawInput  string
}

// CommandResult is what a command returns to the host.
type CommandResult struct {
	Text string
}

// Skill represents an agent skill.
type Skill struct {
	Name        string   // Derived from directory name
	Description string   // From frontmatter
	Tools       []string // Tools this skill requires
	Content     string   // Markdown content (skill instructions)
	FilePath    string   // Original file path
}

// SkillPlugin provides skills to the host.
type SkillPlugin interface {
	ID() string
	Skills(ctx context.Context) ([]Skill, error)
}

// ChannelPlugin is a messaging channel integration. The runtime only stores it;
// the host starts and stops channels.
type ChannelPlugin interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MemoryItem is one stored memory.
type MemoryItem struct {
	ID      string
	Text    string
	Score   float64
	Tags    []string
	Created int64 // unix millis
}

// MemoryPlugin stores and recalls memories for agents.
type MemoryPlugin interface {
	ID() string
	Store(ctx context.Context, item MemoryItem) error
	Recall(ctx context.Context, query string, limit int) ([]MemoryItem, error)
}

// MCPServerConfig represents an MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// commandFrontmatter represents the YAML frontmatter in command files.
type commandFrontmatter struct {
	Description string   `yaml:"description"`
	Allowed     []string `yaml:"allowed,omitempty"` // Allowed tools/contexts
}

// skillFrontmatter represents the YAML frontmatter in SKILL.md files.
type skillFrontmatter struct {
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools,omitempty"`
}
