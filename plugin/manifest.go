package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/i2y/clawkit/schema"
)

// ManifestFile is the manifest file name expected in every plugin directory.
const ManifestFile = "clawkit.plugin.json"

// Manifest describes a plugin package.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// Main is the entry script relative to the plugin directory. Plugins
	// implemented by a Go Definition leave it empty.
	Main string `json:"main,omitempty"`

	// ConfigSchema describes the accepted configuration object.
	ConfigSchema *jsonschema.Schema `json:"-"`

	// Skills lists skill directories relative to the plugin directory.
	Skills []string `json:"skills,omitempty"`

	// Commands is a directory of markdown prompt commands.
	Commands string `json:"commands,omitempty"`

	// MCPServers are MCP servers whose tools are contributed by this plugin.
	MCPServers map[string]MCPServerConfig `json:"mcpServers,omitempty"`

	// Dir is the plugin directory the manifest was read from.
	Dir string `json:"-"`
}

type manifestFile struct {
	Manifest
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// LoadManifest reads and parses the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Cause: err}
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Cause: err}
	}
	m.Dir = dir
	for name, cfg := range m.MCPServers {
		m.MCPServers[name] = expandPluginRoot(cfg, dir)
	}
	return m, nil
}

// ParseManifest parses manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw manifestFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if raw.ID == "" {
		return nil, errors.New("plugin id is required in manifest")
	}
	s, err := schema.ParseObjectSchema(raw.ConfigSchema)
	if err != nil {
		return nil, fmt.Errorf("configSchema: %w", err)
	}
	m := raw.Manifest
	m.ConfigSchema = s
	return &m, nil
}

// peekManifestID reads only the id of the manifest in dir.
func peekManifestID(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return "", false
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.ID == "" {
		return "", false
	}
	return head.ID, true
}

// ValidateConfig validates a configuration object against the manifest's
// schema and returns it normalized with defaults applied.
func (m *Manifest) ValidateConfig(config any) (map[string]any, error) {
	out, err := schema.ValidateObject(m.ConfigSchema, config)
	if err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			return nil, &SchemaValidationError{PluginID: m.ID, Field: ve.Field, Reason: ve.Reason}
		}
		return nil, &SchemaValidationError{PluginID: m.ID, Reason: err.Error()}
	}
	return out, nil
}

// manifestFromDefinition builds the manifest of a builtin plugin.
func manifestFromDefinition(def Definition) (*Manifest, error) {
	s, err := schema.ParseObjectSchema(def.ConfigSchema)
	if err != nil {
		return nil, &ManifestParseError{Path: "builtin:" + def.ID, Cause: fmt.Errorf("configSchema: %w", err)}
	}
	return &Manifest{
		ID:           def.ID,
		Name:         def.Name,
		Description:  def.Description,
		Version:      def.Version,
		ConfigSchema: s,
	}, nil
}

// declarative reports whether the manifest contributes anything without
// code, so a missing entry script is not an error.
func (m *Manifest) declarative() bool {
	return m.Dir != "" && (m.Commands != "" || len(m.Skills) > 0 || len(m.MCPServers) > 0)
}
