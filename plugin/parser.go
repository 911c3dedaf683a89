package plugin

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// parseMarkdownWithFrontmatter parses a markdown file and extracts YAML frontmatter.
// Returns the frontmatter bytes and the content after frontmatter.
func parseMarkdownWithFrontmatter(path string) (frontmatter []byte, content string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}

	return parseFrontmatter(data)
}

// parseFrontmatter extracts YAML frontmatter from markdown content.
// Frontmatter is delimited by "---" at the start and end.
func parseFrontmatter(data []byte) (frontmatter []byte, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	// Check for opening delimiter
	if !scanner.Scan() {
		return nil, string(data), nil
	}
	firstLine := strings.TrimSpace(scanner.Text())
	if firstLine != "---" {
		// No frontmatter, return entire content
		return nil, string(data), nil
	}

	// Collect frontmatter lines until closing delimiter
	var fmLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			foundClosing = true
			break
		}
		fmLines = append(fmLines, line)
	}

	if !foundClosing {
		// No closing delimiter, treat as no frontmatter
		return nil, string(data), nil
	}

	// Collect remaining content
	var contentLines []string
	for scanner.Scan() {
		contentLines = append(contentLines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("scanning file: %w", err)
	}

	frontmatter = []byte(strings.Join(fmLines, "\n"))
	content = strings.TrimSpace(strings.Join(contentLines, "\n"))

	return frontmatter, content, nil
}

// ParseCommand parses a markdown prompt command file.
func ParseCommand(path string) (*PromptCommand, error) {
	fm, content, err := parseMarkdownWithFrontmatter(path)
	if err != nil {
		return nil, fmt.Errorf("parsing command file %s: %w", path, err)
	}

	cmd := &PromptCommand{
		Name:     strings.TrimSuffix(filepath.Base(path), ".md"),
		Content:  content,
		FilePath: path,
	}

	if len(fm) > 0 {
		var meta commandFrontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("parsing command frontmatter: %w", err)
		}
		cmd.Description = meta.Description
	}

	return cmd, nil
}

// ParseSkill parses a skill from a directory containing SKILL.md.
func ParseSkill(dirPath string) (*Skill, error) {
	skillFile := filepath.Join(dirPath, "SKILL.md")

	fm, content, err := parseMarkdownWithFrontmatter(skillFile)
	if err != nil {
		return nil, fmt.Errorf("parsing skill file %s: %w", skillFile, err)
	}

	skill := &Skill{
		Name:     filepath.Base(dirPath),
		Content:  content,
		FilePath: skillFile,
	}

	if len(fm) > 0 {
		var meta skillFrontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("parsing skill frontmatter: %w", err)
		}
		skill.Description = meta.Description
		skill.Tools = meta.Tools
	}

	return skill, nil
}

// loadCommands loads all markdown command files from a directory.
func loadCommands(dir string) ([]PromptCommand, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	commands := make([]PromptCommand, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		cmd, err := ParseCommand(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}

	return commands, nil
}

// loadSkills loads all skills from a directory.
// Each subdirectory containing a SKILL.md file is a skill.
func loadSkills(dir string) ([]Skill, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "*/SKILL.md")
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)

	skills := make([]Skill, 0, len(matches))
	for _, m := range matches {
		skill, err := ParseSkill(filepath.Join(dir, filepath.Dir(filepath.FromSlash(m))))
		if err != nil {
			continue // Skip skills that can't be parsed
		}
		skills = append(skills, *skill)
	}

	return skills, nil
}
