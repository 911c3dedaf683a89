package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/i2y/clawkit/llm"
)

// ToSystemMessage converts a Skill to a system message string.
// This includes the skill's purpose and instructions.
func (s *Skill) ToSystemMessage() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Skill: %s\n\n", s.Name))

	if s.Description != "" {
		sb.WriteString(fmt.Sprintf("**Description:** %s\n\n", s.Description))
	}

	if len(s.Tools) > 0 {
		sb.WriteString(fmt.Sprintf("**Required Tools:** %s\n\n", strings.Join(s.Tools, ", ")))
	}

	if s.Content != "" {
		sb.WriteString("**Instructions:**\n\n")
		sb.WriteString(s.Content)
	}

	return sb.String()
}

// FilterTools filters a list of tools to only include those required by this skill.
// If the skill has no tool requirements, all tools are returned.
func (s *Skill) FilterTools(tools []llm.Tool) []llm.Tool {
	if len(s.Tools) == 0 {
		return tools
	}

	required := make(map[string]bool)
	for _, name := range s.Tools {
		required[name] = true
	}

	var filtered []llm.Tool
	for _, tool := range tools {
		if required[tool.Name()] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// MissingTools returns the list of required tools that are not available.
func (s *Skill) MissingTools(tools []llm.Tool) []string {
	if len(s.Tools) == 0 {
		return nil
	}

	available := make(map[string]bool)
	for _, tool := range tools {
		available[tool.Name()] = true
	}

	var missing []string
	for _, required := range s.Tools {
		if !available[required] {
			missing = append(missing, required)
		}
	}
	return missing
}

// dirSkillPlugin serves the skill directories a manifest declares.
// Skills are read on each call so edits show up without reloading.
type dirSkillPlugin struct {
	id   string
	dirs []string
}

func (p *dirSkillPlugin) ID() string { return p.id }

func (p *dirSkillPlugin) Skills(ctx context.Context) ([]Skill, error) {
	var all []Skill
	for _, dir := range p.dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		skills, err := loadSkills(dir)
		if err != nil {
			return nil, fmt.Errorf("loading skills from %s: %w", dir, err)
		}
		all = append(all, skills...)
	}
	return all, nil
}

// AllSkills collects the skills of every registered skill provider, in
// registration order. Providers that fail are reported through the returned error
// after the remaining providers have been read.
func (r *Registry) AllSkills(ctx context.Context) ([]Skill, error) {
	var (
		all  []Skill
		errs []string
	)
	for _, reg := range r.Skills {
		skills, err := reg.Provider.Skills(ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", reg.PluginID, err))
			continue
		}
		all = append(all, skills...)
	}
	if len(errs) > 0 {
		return all, fmt.Errorf("skill providers failed: %s", strings.Join(errs, "; "))
	}
	return all, nil
}
