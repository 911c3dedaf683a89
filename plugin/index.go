package plugin

import (
	"fmt"
	"strings"
)

// SkillsIndexSystemMessage returns a compact skills list for system prompt.
// This follows a progressive disclosure pattern - include only metadata in
// the system prompt, load full content when a skill is invoked.
//
// Format:
//
//	<available_skills>
//	- skill-name: Description of the skill
//	</available_skills>
func SkillsIndexSystemMessage(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<available_skills>\n")
	for _, s := range skills {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", s.Name, s.Description))
	}
	sb.WriteString("</available_skills>\n\n")
	sb.WriteString("When a skill is relevant to the user's task, mention which skill you would use and why.")

	return sb.String()
}

// CommandsIndexSystemMessage returns a compact list of registered commands.
//
// Format:
//
//	<available_commands>
//	- /command-name: Description of the command
//	</available_commands>
func (r *Registry) CommandsIndexSystemMessage() string {
	if len(r.Commands) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<available_commands>\n")
	for _, c := range r.Commands {
		sb.WriteString(fmt.Sprintf("- /%s: %s\n", c.Command.Name, c.Command.Description))
	}
	sb.WriteString("</available_commands>\n\n")
	sb.WriteString("Users can invoke these commands by typing /<command-name> followed by any arguments.")

	return sb.String()
}

// ToolsIndexSystemMessage lists registered tools with the plugin that owns them.
func (r *Registry) ToolsIndexSystemMessage() string {
	if len(r.Tools) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<available_tools>\n")
	for _, t := range r.Tools {
		sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", t.Tool.Name(), t.PluginID, t.Tool.Description()))
	}
	sb.WriteString("</available_tools>")

	return sb.String()
}
