package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RegisterFunc is a plugin's registration entry point.
type RegisterFunc func(ctx context.Context, api *API) error

// Importer loads the code of a plugin whose manifest names a main script.
// Import must not call the returned entry point.
type Importer interface {
	Import(ctx context.Context, m *Manifest, entry string) (RegisterFunc, error)
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(ctx context.Context, m *Manifest, entry string) (RegisterFunc, error)

func (f ImporterFunc) Import(ctx context.Context, m *Manifest, entry string) (RegisterFunc, error) {
	return f(ctx, m, entry)
}

var (
	importers   = make(map[string]Importer)
	definitions = make(map[string]Definition)
	mu          sync.RWMutex
)

// RegisterImporter makes an importer available for entry files with the given
// extension (".lua"). This is typically called from an importer package's init().
func RegisterImporter(ext string, imp Importer) {
	mu.Lock()
	defer mu.Unlock()
	importers[strings.ToLower(ext)] = imp
}

// RegisterDefinition adds a Go plugin to the process-wide descriptor table.
// Definitions passed in LoadOptions take precedence over these.
func RegisterDefinition(def Definition) {
	mu.Lock()
	defer mu.Unlock()
	definitions[NormalizeID(def.ID)] = def
}

func importerFor(ext string) (Importer, bool) {
	mu.RLock()
	defer mu.RUnlock()
	imp, ok := importers[strings.ToLower(ext)]
	return imp, ok
}

// registeredDefinitions returns the process-wide definitions sorted by id.
func registeredDefinitions() []Definition {
	mu.RLock()
	defer mu.RUnlock()
	defs := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// AvailableImporters returns the registered entry file extensions.
func AvailableImporters() []string {
	mu.RLock()
	defer mu.RUnlock()
	exts := make([]string, 0, len(importers))
	for ext := range importers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func noImporterError(ext string) error {
	return fmt.Errorf("%w: %q (available: %v)", ErrNoImporter, ext, AvailableImporters())
}
