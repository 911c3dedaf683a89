package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{
			name:  "valid command",
			input: "/greet",
			want:  true,
		},
		{
			name:  "command with arguments",
			input: "/greet John",
			want:  true,
		},
		{
			name:  "command with whitespace prefix",
			input: "  /greet",
			want:  true,
		},
		{
			name:  "not a command - no slash",
			input: "greet",
			want:  false,
		},
		{
			name:  "not a command - slash in middle",
			input: "hello/world",
			want:  false,
		},
		{
			name:  "empty input",
			input: "",
			want:  false,
		},
		{
			name:  "whitespace only",
			input: "   ",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsCommand(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandInput(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantCmdName  string
		wantArgument string
	}{
		{
			name:         "command only",
			input:        "/greet",
			wantCmdName:  "greet",
			wantArgument: "",
		},
		{
			name:         "command with single argument",
			input:        "/greet John",
			wantCmdName:  "greet",
			wantArgument: "John",
		},
		{
			name:         "command with multiple arguments",
			input:        "/translate Hello World",
			wantCmdName:  "translate",
			wantArgument: "Hello World",
		},
		{
			name:         "command with extra whitespace",
			input:        "  /greet   John  ",
			wantCmdName:  "greet",
			wantArgument: "John",
		},
		{
			name:         "not a command",
			input:        "hello world",
			wantCmdName:  "",
			wantArgument: "",
		},
		{
			name:         "empty input",
			input:        "",
			wantCmdName:  "",
			wantArgument: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmdName, argument := ParseCommandInput(tt.input)
			assert.Equal(t, tt.wantCmdName, cmdName)
			assert.Equal(t, tt.wantArgument, argument)
		})
	}
}

func TestPromptCommand_Expand(t *testing.T) {
	tests := []struct {
		name string
		cmd  PromptCommand
		args string
		want string
	}{
		{
			name: "argument substituted",
			cmd:  PromptCommand{Name: "greet", Content: "Say hello to $ARGUMENTS!"},
			args: "John",
			want: "Say hello to John!",
		},
		{
			name: "no arguments leaves template",
			cmd:  PromptCommand{Name: "greet", Content: "Say hello to $ARGUMENTS!"},
			want: "Say hello to $ARGUMENTS!",
		},
		{
			name: "content without placeholder",
			cmd:  PromptCommand{Name: "simple", Content: "Do something simple."},
			args: "ignored",
			want: "Do something simple.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Expand(tt.args))
		})
	}
}

func TestPromptCommand_AsCommand(t *testing.T) {
	c := PromptCommand{Name: "Greet", Description: "Greet someone", Content: "Hi $ARGUMENTS"}.asCommand()
	assert.Equal(t, "greet", c.Name)
	assert.True(t, c.AcceptsArgs)

	plain := PromptCommand{Name: "simple", Content: "Do it."}.asCommand()
	assert.False(t, plain.AcceptsArgs)
}

func commandRegistry(cmds ...CommandRegistration) *Registry {
	return &Registry{Commands: cmds}
}

func TestRegistry_ExecuteCommand(t *testing.T) {
	echo := func(_ context.Context, cc *CommandContext) (*CommandResult, error) {
		return &CommandResult{Text: cc.Args + "|" + cc.ChannelID}, nil
	}
	reg := commandRegistry(
		CommandRegistration{PluginID: "p1", Command: Command{Name: "echo", AcceptsArgs: true, Handler: echo}},
		CommandRegistration{PluginID: "p1", Command: Command{Name: "noargs", Handler: echo}},
		CommandRegistration{PluginID: "p2", Command: Command{Name: "fail", Handler: func(context.Context, *CommandContext) (*CommandResult, error) {
			return nil, errors.New("boom")
		}}},
		CommandRegistration{PluginID: "p2", Command: Command{Name: "panic", Handler: func(context.Context, *CommandContext) (*CommandResult, error) {
			panic("kaboom")
		}}},
		CommandRegistration{PluginID: "p3", Command: Command{Name: "silent", Handler: func(context.Context, *CommandContext) (*CommandResult, error) {
			return nil, nil
		}}},
	)

	tests := []struct {
		name      string
		input     string
		want      string
		wantErr   error
		errSubstr string
	}{
		{name: "with args", input: "/echo hello world", want: "hello world|chan"},
		{name: "case-insensitive name", input: "/ECHO x", want: "x|chan"},
		{name: "args dropped when not accepted", input: "/noargs extra", want: "|chan"},
		{name: "nil result becomes empty", input: "/silent", want: ""},
		{name: "not a command", input: "hello", wantErr: ErrNotACommand},
		{name: "unknown command", input: "/nope", wantErr: ErrCommandNotFound},
		{name: "handler error names plugin", input: "/fail", errSubstr: `plugin "p2": boom`},
		{name: "handler panic is recovered", input: "/panic", errSubstr: "kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.ExecuteCommand(context.Background(), tt.input, &CommandContext{ChannelID: "chan"})
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errSubstr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, res.Text)
			}
		})
	}
}

func TestErrNotACommand(t *testing.T) {
	assert.Equal(t, "input is not a slash command", ErrNotACommand.Error())
}

func TestErrCommandNotFound(t *testing.T) {
	assert.Equal(t, "command not found", ErrCommandNotFound.Error())
}
