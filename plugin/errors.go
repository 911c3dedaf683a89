package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEntryPoint is returned when a plugin has neither a Go definition nor a main script.
	ErrNoEntryPoint = errors.New("plugin has no entry point")

	// ErrNoImporter is returned when no importer handles the manifest's main file.
	ErrNoImporter = errors.New("no importer registered for entry point")
)

// ManifestParseError is returned when a plugin manifest is missing or malformed.
type ManifestParseError struct {
	Path  string
	Cause error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Cause)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Cause
}

// SchemaValidationError is returned when a plugin configuration violates the
// manifest's configSchema. Field is the dotted path of the offending property.
type SchemaValidationError struct {
	PluginID string
	Field    string
	Reason   string
}

func (e *SchemaValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid config for plugin %q: %s", e.PluginID, e.Reason)
	}
	return fmt.Sprintf("invalid config for plugin %q: %q %s", e.PluginID, e.Field, e.Reason)
}

// ImportError is returned when a plugin's code cannot be loaded.
type ImportError struct {
	PluginID string
	Entry    string
	Cause    error
}

func (e *ImportError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("importing plugin %q: %v", e.PluginID, e.Cause)
	}
	return fmt.Sprintf("importing plugin %q from %s: %v", e.PluginID, e.Entry, e.Cause)
}

func (e *ImportError) Unwrap() error {
	return e.Cause
}

// RegisterError is returned when a plugin's Register entry point fails or panics.
type RegisterError struct {
	PluginID string
	Cause    error
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("plugin %q register failed: %v", e.PluginID, e.Cause)
}

func (e *RegisterError) Unwrap() error {
	return e.Cause
}

// ConflictError is returned when a plugin contributes a name already owned by another plugin.
type ConflictError struct {
	PluginID string
	Kind     string // "tool", "command", "channel", "memory"
	Name     string
	Owner    string // plugin that registered Name first
}

func (e *ConflictError) Error() string {
	if e.Owner == e.PluginID {
		return fmt.Sprintf("plugin %q registers %s %q more than once", e.PluginID, e.Kind, e.Name)
	}
	return fmt.Sprintf("plugin %q: %s %q already registered by plugin %q", e.PluginID, e.Kind, e.Name, e.Owner)
}

// DuplicatePluginError is returned for a plugin whose id was already discovered.
type DuplicatePluginError struct {
	PluginID    string
	Source      string
	FirstSource string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("duplicate plugin id %q at %s (first seen at %s)", e.PluginID, e.Source, e.FirstSource)
}

// HookHandlerError is returned when a hook handler fails during a run.
type HookHandlerError struct {
	PluginID string
	HookName string
	RunID    string
	Cause    error
}

func (e *HookHandlerError) Error() string {
	return fmt.Sprintf("hook %s from plugin %q failed: %v", e.HookName, e.PluginID, e.Cause)
}

func (e *HookHandlerError) Unwrap() error {
	return e.Cause
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	switch v := r.(type) {
	case error:
		return fmt.Errorf("panic: %w", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
