package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/i2y/clawkit/llm"
)

// ReadInput defines the input for the workspace_read tool.
type ReadInput struct {
	Path   string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Line offset to start from (0-based)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Max lines to read (default: 0 = all)"`
}

// ReadOutput defines the output of the workspace_read tool.
type ReadOutput struct {
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

func (w *workspace) readTool() llm.Tool {
	return llm.MustNewTool(
		"workspace_read",
		"Read the contents of a workspace file. Supports reading specific line ranges.",
		w.readFile,
	)
}

func (w *workspace) readFile(ctx context.Context, input ReadInput) (ReadOutput, error) {
	file, err := w.root.Open(input.Path)
	if err != nil {
		return ReadOutput{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	var lines []string
	lineNum := 0
	truncated := false

	for scanner.Scan() {
		if lineNum < input.Offset {
			lineNum++
			continue
		}
		if input.Limit > 0 && len(lines) >= input.Limit {
			truncated = true
			break
		}
		lines = append(lines, scanner.Text())
		lineNum++
	}
	if err := scanner.Err(); err != nil {
		return ReadOutput{}, fmt.Errorf("failed to read file: %w", err)
	}

	return ReadOutput{
		Content:   strings.Join(lines, "\n"),
		Lines:     len(lines),
		Truncated: truncated,
	}, nil
}

// GlobInput defines the input for the workspace_glob tool.
type GlobInput struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern (e.g. **/*.go for all Go files)"`
}

// GlobOutput defines the output of the workspace_glob tool.
type GlobOutput struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

func (w *workspace) globTool() llm.Tool {
	return llm.MustNewTool(
		"workspace_glob",
		"Find workspace files matching a glob pattern. Supports ** for recursive matching.",
		w.globFiles,
	)
}

func (w *workspace) globFiles(ctx context.Context, input GlobInput) (GlobOutput, error) {
	matches, err := doublestar.Glob(w.root.FS(), input.Pattern)
	if err != nil {
		return GlobOutput{}, err
	}
	return GlobOutput{Files: matches, Count: len(matches)}, nil
}

// GrepInput defines the input for the workspace_grep tool.
type GrepInput struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regular expression pattern to search for"`
	Glob       string `json:"glob,omitempty" jsonschema:"description=File pattern filter (default: **/*)"`
	MaxMatches int    `json:"max_matches,omitempty" jsonschema:"description=Maximum number of matches to return"`
}

// GrepOutput defines the output of the workspace_grep tool.
type GrepOutput struct {
	Matches []GrepMatch `json:"matches"`
	Count   int         `json:"count"`
}

// GrepMatch represents a single match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (w *workspace) grepTool() llm.Tool {
	return llm.MustNewTool(
		"workspace_grep",
		"Search workspace files for a regular expression. Returns matching lines with file and line number.",
		w.grepFiles,
	)
}

func (w *workspace) grepFiles(ctx context.Context, input GrepInput) (GrepOutput, error) {
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return GrepOutput{}, err
	}
	globPattern := input.Glob
	if globPattern == "" {
		globPattern = "**/*"
	}
	maxMatches := input.MaxMatches
	if maxMatches <= 0 {
		maxMatches = w.maxMatches
	}

	fsys := w.root.FS()
	files, err := doublestar.Glob(fsys, globPattern, doublestar.WithFilesOnly())
	if err != nil {
		return GrepOutput{}, err
	}

	var matches []GrepMatch
	for _, name := range files {
		if len(matches) >= maxMatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return GrepOutput{}, err
		}
		fileMatches, err := searchFile(fsys, name, re, maxMatches-len(matches))
		if err != nil {
			// Skip files that can't be read
			continue
		}
		matches = append(matches, fileMatches...)
	}

	return GrepOutput{Matches: matches, Count: len(matches)}, nil
}

func searchFile(fsys fs.FS, name string, re *regexp.Regexp, maxMatches int) ([]GrepMatch, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var matches []GrepMatch
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, GrepMatch{File: name, Line: lineNum, Content: line})
			if len(matches) >= maxMatches {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// WriteInput defines the input for the workspace_write tool.
type WriteInput struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
	Content string `json:"content" jsonschema:"required,description=Content to write to the file"`
}

// WriteOutput defines the output of the workspace_write tool.
type WriteOutput struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
}

func (w *workspace) writeTool() llm.Tool {
	return llm.MustNewTool(
		"workspace_write",
		"Write content to a workspace file. Creates parent directories if needed.",
		w.writeFile,
	)
}

func (w *workspace) writeFile(ctx context.Context, input WriteInput) (WriteOutput, error) {
	name := path.Clean(strings.ReplaceAll(input.Path, "\\", "/"))
	if err := w.mkdirAll(path.Dir(name)); err != nil {
		return WriteOutput{}, fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := w.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return WriteOutput{}, fmt.Errorf("failed to write file: %w", err)
	}
	data := []byte(input.Content)
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return WriteOutput{}, fmt.Errorf("failed to write file: %w", werr)
	}

	return WriteOutput{Success: true, Path: name, Bytes: len(data)}, nil
}

// mkdirAll creates dir and its parents inside the root.
func (w *workspace) mkdirAll(dir string) error {
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	var cur string
	for _, part := range strings.Split(dir, "/") {
		cur = path.Join(cur, part)
		if err := w.root.Mkdir(cur, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}
