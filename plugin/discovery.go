package plugin

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// BundledDirEnv names the environment variable that replaces the default
// bundled plugin directory.
const BundledDirEnv = "CLAWKIT_BUNDLED_PLUGINS_DIR"

// candidatePattern matches files that mark a directory as a plugin: the
// manifest or an index entry script.
const candidatePattern = "*/{" + ManifestFile + ",index.*}"

// candidate is a discovered plugin before any validation.
type candidate struct {
	id     string
	dir    string
	origin Origin
	def    *Definition
}

func (c candidate) source() string {
	if c.dir == "" {
		return "builtin:" + c.id
	}
	return c.dir
}

// BundledDir returns the bundled plugin directory: $CLAWKIT_BUNDLED_PLUGINS_DIR
// when set, otherwise "extensions" next to the executable.
func BundledDir() string {
	if dir := os.Getenv(BundledDirEnv); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "extensions")
}

// searchRoot is one directory scanned for plugins.
type searchRoot struct {
	dir    string
	origin Origin
}

// discoverDirs lists plugin directories under each root in root order, and
// within a root in lexical order. A root that is itself a plugin directory is
// returned as a single candidate. Missing roots are reported through warn.
func discoverDirs(roots []searchRoot, warn func(string, error)) []candidate {
	var out []candidate
	for _, root := range roots {
		if root.dir == "" {
			continue
		}
		abs, err := filepath.Abs(root.dir)
		if err != nil {
			warn(root.dir, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) || root.origin == OriginConfig {
				warn(abs, err)
			}
			continue
		}
		if !info.IsDir() {
			warn(abs, errors.New("not a directory"))
			continue
		}

		if isPluginDir(abs) {
			out = append(out, newDirCandidate(abs, root.origin))
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(abs), candidatePattern)
		if err != nil {
			warn(abs, err)
			continue
		}
		var dirs []string
		for _, m := range matches {
			d := path.Dir(m)
			if !slices.Contains(dirs, d) {
				dirs = append(dirs, d)
			}
		}
		slices.Sort(dirs)
		for _, d := range dirs {
			out = append(out, newDirCandidate(filepath.Join(abs, filepath.FromSlash(d)), root.origin))
		}
	}
	return out
}

func isPluginDir(dir string) bool {
	matches, err := doublestar.Glob(os.DirFS(dir), "{"+ManifestFile+",index.*}")
	return err == nil && len(matches) > 0
}

// newDirCandidate resolves the id of a plugin directory: the manifest id when
// it can be read, otherwise the directory name.
func newDirCandidate(dir string, origin Origin) candidate {
	id, ok := peekManifestID(dir)
	if !ok {
		id = filepath.Base(dir)
	}
	return candidate{id: id, dir: dir, origin: origin}
}
