package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Wildcard is the allow-list value that permits every plugin.
const Wildcard = "*"

// HostConfig is the part of the host configuration the plugin runtime reads.
type HostConfig struct {
	Plugins PluginsConfig `json:"plugins"`
}

// PluginsConfig is the plugins section of the host configuration.
type PluginsConfig struct {
	// Enabled switches the whole plugin system off when false.
	Enabled *bool `json:"enabled,omitempty"`

	// Allow restricts which plugin ids may load. Nil allows everything.
	Allow *AllowList `json:"allow,omitempty"`

	// Deny lists plugin ids that never load. Deny wins over Allow.
	Deny []string `json:"deny,omitempty"`

	Load LoadConfig `json:"load,omitempty"`

	// Entries holds per-plugin settings keyed by plugin id.
	Entries map[string]ConfigEntry `json:"entries,omitempty"`
}

// LoadConfig lists extra plugin search directories.
type LoadConfig struct {
	Paths []string `json:"paths,omitempty"`
}

// ConfigEntry is the per-plugin host configuration.
type ConfigEntry struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

// AllowList is either the wildcard or a set of plugin ids.
type AllowList struct {
	All bool
	IDs []string
}

// AllowAll returns the wildcard allow-list.
func AllowAll() *AllowList {
	return &AllowList{All: true}
}

// AllowOnly returns an allow-list of the given ids.
func AllowOnly(ids ...string) *AllowList {
	return &AllowList{IDs: ids}
}

// Allows reports whether id passes the allow-list. A nil list allows everything.
func (a *AllowList) Allows(id string) bool {
	if a == nil || a.All {
		return true
	}
	id = NormalizeID(id)
	for _, allowed := range a.IDs {
		if NormalizeID(allowed) == Wildcard || NormalizeID(allowed) == id {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the wildcard as "*" and a set as a string array.
func (a AllowList) MarshalJSON() ([]byte, error) {
	if a.All {
		return json.Marshal(Wildcard)
	}
	ids := a.IDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts "*" or an array of ids.
func (a *AllowList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) != Wildcard {
			return fmt.Errorf("plugins.allow: string value must be %q, got %q", Wildcard, s)
		}
		*a = AllowList{All: true}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("plugins.allow: expected %q or a list of ids: %w", Wildcard, err)
	}
	*a = AllowList{IDs: ids, All: slices.Contains(ids, Wildcard)}
	return nil
}

// NormalizeID trims and lower-cases a plugin id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// GloballyEnabled reports whether the plugin system is switched on.
func (c PluginsConfig) GloballyEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Entry returns the configuration entry for id, matching ids after normalization.
func (c PluginsConfig) Entry(id string) (ConfigEntry, bool) {
	if e, ok := c.Entries[id]; ok {
		return e, true
	}
	want := NormalizeID(id)
	for k, e := range c.Entries {
		if NormalizeID(k) == want {
			return e, true
		}
	}
	return ConfigEntry{}, false
}

// Denied reports whether id is on the deny list.
func (c PluginsConfig) Denied(id string) bool {
	id = NormalizeID(id)
	for _, d := range c.Deny {
		if NormalizeID(d) == id {
			return true
		}
	}
	return false
}

// LoadHostConfig reads a host configuration file. The format is chosen by
// extension: .json, .yaml/.yml or .toml.
func LoadHostConfig(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseHostConfig(data, filepath.Ext(path))
}

// ParseHostConfig parses host configuration data in the format named by ext.
//
// YAML and TOML documents are decoded generically and re-encoded as JSON so a
// single set of json tags (and AllowList's JSON decoding) covers all formats.
func ParseHostConfig(data []byte, ext string) (*HostConfig, error) {
	var raw any
	switch strings.ToLower(ext) {
	case ".json", "":
		var cfg HostConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		return &cfg, nil
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		raw = m
	case ".toml":
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
		raw = tree.ToMap()
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	var cfg HostConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
