package llm

import (
	"fmt"
)

// ToolError represents an error during tool execution.
type ToolError struct {
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.ToolName, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// ToolNotFoundError is returned when a tool is not found.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %q", e.Name)
}

// ToolBlockedError is returned when a before_tool_call hook blocks a call.
type ToolBlockedError struct {
	Name   string
	Reason string
}

func (e *ToolBlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q blocked", e.Name)
	}
	return fmt.Sprintf("tool %q blocked: %s", e.Name, e.Reason)
}
