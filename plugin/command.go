package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotACommand is returned when input doesn't start with a slash command.
	ErrNotACommand = errors.New("input is not a slash command")
	// ErrCommandNotFound is returned when no plugin registered the command.
	ErrCommandNotFound = errors.New("command not found")
)

// PromptCommand is a markdown command file shipped in a plugin's commands
// directory. Its content is a prompt template; $ARGUMENTS is replaced with
// the text following the command name.
type PromptCommand struct {
	Name        string // Derived from filename (e.g., "hello" from "hello.md")
	Description string // From frontmatter
	Content     string // Markdown content (the prompt)
	FilePath    string // Original file path
}

// Expand returns the command content with $ARGUMENTS replaced.
func (c *PromptCommand) Expand(arguments string) string {
	if arguments == "" {
		return c.Content
	}
	return strings.ReplaceAll(c.Content, "$ARGUMENTS", arguments)
}

// asCommand turns a prompt command into a registrable Command whose result is
// the expanded prompt.
func (c PromptCommand) asCommand() Command {
	return Command{
		Name:        strings.ToLower(c.Name),
		Description: c.Description,
		AcceptsArgs: strings.Contains(c.Content, "$ARGUMENTS"),
		Handler: func(_ context.Context, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Text: c.Expand(cc.Args)}, nil
		},
	}
}

// IsCommand checks if input starts with a slash command.
// Returns true for inputs like "/greet", "/hello world", etc.
func IsCommand(input string) bool {
	input = strings.TrimSpace(input)
	return strings.HasPrefix(input, "/")
}

// ParseCommandInput parses a potential command input and returns the command name and arguments.
// Returns empty strings if the input is not a command.
func ParseCommandInput(input string) (cmdName, arguments string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", ""
	}

	input = strings.TrimPrefix(input, "/")
	parts := strings.SplitN(input, " ", 2)
	cmdName = parts[0]
	if len(parts) > 1 {
		arguments = strings.TrimSpace(parts[1])
	}
	return cmdName, arguments
}

// ExecuteCommand dispatches a slash command input such as "/greet John" to the
// plugin that registered it. cc may be nil; Args and RawInput are filled in.
func (r *Registry) ExecuteCommand(ctx context.Context, input string, cc *CommandContext) (result *CommandResult, err error) {
	if !IsCommand(input) {
		return nil, ErrNotACommand
	}
	name, args := ParseCommandInput(input)
	reg, ok := r.Command(strings.ToLower(name))
	if !ok {
		return nil, fmt.Errorf("%w: /%s", ErrCommandNotFound, name)
	}

	call := CommandContext{}
	if cc != nil {
		call = *cc
	}
	call.Args = args
	call.RawInput = input
	if args != "" && !reg.Command.AcceptsArgs {
		call.Args = ""
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command /%s from plugin %q: %w", name, reg.PluginID, panicError(rec))
		}
	}()
	result, err = reg.Command.Handler(ctx, &call)
	if err != nil {
		return nil, fmt.Errorf("command /%s from plugin %q: %w", name, reg.PluginID, err)
	}
	if result == nil {
		result = &CommandResult{}
	}
	return result, nil
}
