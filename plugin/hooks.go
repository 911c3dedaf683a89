package plugin

import (
	"context"
	"fmt"
	"maps"
	"reflect"
)

// HookName identifies a typed lifecycle event.
type HookName string

const (
	// HookBeforeAgentStart fires before an agent run; plugins may set the system
	// prompt and prepend context.
	HookBeforeAgentStart HookName = "before_agent_start"

	// HookAgentEnd fires after an agent run finishes.
	HookAgentEnd HookName = "agent_end"

	// HookBeforeToolCall fires before a tool executes; plugins may rewrite the
	// parameters or block the call.
	HookBeforeToolCall HookName = "before_tool_call"

	// HookAfterToolCall fires after a tool executes.
	HookAfterToolCall HookName = "after_tool_call"

	// HookMessageReceived fires for every inbound channel message.
	HookMessageReceived HookName = "message_received"

	// HookMessageSending fires before an outbound message is sent; plugins may
	// rewrite or cancel it.
	HookMessageSending HookName = "message_sending"

	HookSessionStart HookName = "session_start"
	HookSessionEnd   HookName = "session_end"
)

// TypedHookNames lists every typed lifecycle event.
var TypedHookNames = []HookName{
	HookBeforeAgentStart,
	HookAgentEnd,
	HookBeforeToolCall,
	HookAfterToolCall,
	HookMessageReceived,
	HookMessageSending,
	HookSessionStart,
	HookSessionEnd,
}

// IsTypedHook reports whether name is a typed lifecycle event.
func IsTypedHook(name string) bool {
	for _, h := range TypedHookNames {
		if string(h) == name {
			return true
		}
	}
	return false
}

// TypedHook is implemented by the handler function types below. The method
// ties each handler type to the event it handles.
type TypedHook interface {
	HookName() HookName
}

// AgentContext describes the agent a hook runs for.
type AgentContext struct {
	AgentID      string `json:"agentId,omitempty"`
	SessionKey   string `json:"sessionKey,omitempty"`
	WorkspaceDir string `json:"workspaceDir,omitempty"`
	Provider     string `json:"messageProvider,omitempty"` // channel the triggering message came from
}

// MessageContext describes the channel a message hook runs for.
type MessageContext struct {
	ChannelID      string `json:"channelId,omitempty"`
	AccountID      string `json:"accountId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// before_agent_start

type BeforeAgentStartEvent struct {
	Prompt   string `json:"prompt"`
	Messages []any  `json:"messages,omitempty"`
}

// BeforeAgentStartResult: SystemPrompt is an override field, PrependContext is additive.
type BeforeAgentStartResult struct {
	SystemPrompt   string `json:"systemPrompt,omitempty"`
	PrependContext string `json:"prependContext,omitempty"`
}

type BeforeAgentStartHandler func(ctx context.Context, ev *BeforeAgentStartEvent, ac *AgentContext) (*BeforeAgentStartResult, error)

func (BeforeAgentStartHandler) HookName() HookName { return HookBeforeAgentStart }

func mergeBeforeAgentStart(acc, next *BeforeAgentStartResult) *BeforeAgentStartResult {
	return &BeforeAgentStartResult{
		SystemPrompt:   override(acc.SystemPrompt, next.SystemPrompt),
		PrependContext: appendText(acc.PrependContext, next.PrependContext),
	}
}

// agent_end

type AgentEndEvent struct {
	Messages   []any  `json:"messages,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type AgentEndHandler func(ctx context.Context, ev *AgentEndEvent, ac *AgentContext) error

func (AgentEndHandler) HookName() HookName { return HookAgentEnd }

// before_tool_call

type BeforeToolCallEvent struct {
	ToolName string         `json:"toolName"`
	Params   map[string]any `json:"params,omitempty"`
}

// BeforeToolCallResult: Params and BlockReason override, Block latches.
type BeforeToolCallResult struct {
	Params      map[string]any `json:"params,omitempty"`
	Block       bool           `json:"block,omitempty"`
	BlockReason string         `json:"blockReason,omitempty"`
}

type ToolContext struct {
	AgentID    string `json:"agentId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	ToolName   string `json:"toolName"`
}

type BeforeToolCallHandler func(ctx context.Context, ev *BeforeToolCallEvent, tc *ToolContext) (*BeforeToolCallResult, error)

func (BeforeToolCallHandler) HookName() HookName { return HookBeforeToolCall }

func mergeBeforeToolCall(acc, next *BeforeToolCallResult) *BeforeToolCallResult {
	params := acc.Params
	if next.Params != nil {
		params = maps.Clone(next.Params)
	}
	return &BeforeToolCallResult{
		Params:      params,
		Block:       acc.Block || next.Block,
		BlockReason: override(acc.BlockReason, next.BlockReason),
	}
}

// after_tool_call

type AfterToolCallEvent struct {
	ToolName   string         `json:"toolName"`
	Params     map[string]any `json:"params,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

type AfterToolCallHandler func(ctx context.Context, ev *AfterToolCallEvent, tc *ToolContext) error

func (AfterToolCallHandler) HookName() HookName { return HookAfterToolCall }

// message_received

type MessageReceivedEvent struct {
	From      string         `json:"from"`
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type MessageReceivedHandler func(ctx context.Context, ev *MessageReceivedEvent, mc *MessageContext) error

func (MessageReceivedHandler) HookName() HookName { return HookMessageReceived }

// message_sending

type MessageSendingEvent struct {
	To       string         `json:"to"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageSendingResult: Content overrides, Cancel latches.
type MessageSendingResult struct {
	Content string `json:"content,omitempty"`
	Cancel  bool   `json:"cancel,omitempty"`
}

type MessageSendingHandler func(ctx context.Context, ev *MessageSendingEvent, mc *MessageContext) (*MessageSendingResult, error)

func (MessageSendingHandler) HookName() HookName { return HookMessageSending }

func mergeMessageSending(acc, next *MessageSendingResult) *MessageSendingResult {
	return &MessageSendingResult{
		Content: override(acc.Content, next.Content),
		Cancel:  acc.Cancel || next.Cancel,
	}
}

// session_start / session_end

type SessionStartEvent struct {
	SessionID   string `json:"sessionId"`
	ResumedFrom string `json:"resumedFrom,omitempty"`
}

type SessionEndEvent struct {
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
	DurationMs   int64  `json:"durationMs,omitempty"`
}

type SessionContext struct {
	AgentID   string `json:"agentId,omitempty"`
	SessionID string `json:"sessionId"`
}

type SessionStartHandler func(ctx context.Context, ev *SessionStartEvent, sc *SessionContext) error

func (SessionStartHandler) HookName() HookName { return HookSessionStart }

type SessionEndHandler func(ctx context.Context, ev *SessionEndEvent, sc *SessionContext) error

func (SessionEndHandler) HookName() HookName { return HookSessionEnd }

// override returns next when it carries a value, acc otherwise.
func override(acc, next string) string {
	if next != "" {
		return next
	}
	return acc
}

// appendText concatenates additive text fields in order.
func appendText(acc, next string) string {
	switch {
	case acc == "":
		return next
	case next == "":
		return acc
	default:
		return acc + "\n\n" + next
	}
}

// Untyped hooks.

// HookHandler handles an untyped hook. A nil result contributes nothing.
type HookHandler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// FieldMerge combines two values of one result field.
type FieldMerge int

const (
	// MergeOverride keeps the last non-nil contribution.
	MergeOverride FieldMerge = iota
	// MergeAppend concatenates strings (blank line separated) or appends slices.
	MergeAppend
	// MergeLatch stays true once any contribution is true.
	MergeLatch
)

// FieldPolicy maps result keys to their merge rule. Keys not listed override.
type FieldPolicy map[string]FieldMerge

// DefaultFieldPolicies declares the additive and latching keys of known
// events. Untyped results under a typed event name follow the same rules as
// the typed result.
var DefaultFieldPolicies = map[string]FieldPolicy{
	string(HookBeforeAgentStart): {"prependContext": MergeAppend},
	string(HookBeforeToolCall):   {"block": MergeLatch},
	string(HookMessageSending):   {"cancel": MergeLatch},
}

// mergeFields folds next into acc under policy without mutating either map.
func mergeFields(acc, next map[string]any, policy FieldPolicy) map[string]any {
	out := maps.Clone(acc)
	if out == nil {
		out = make(map[string]any, len(next))
	}
	for k, v := range next {
		if v == nil {
			continue
		}
		prev, had := out[k]
		switch {
		case !had:
			out[k] = v
		case policy[k] == MergeAppend:
			out[k] = appendValue(prev, v)
		case policy[k] == MergeLatch:
			out[k] = truthy(prev) || truthy(v)
		default:
			out[k] = v
		}
	}
	return out
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func appendValue(prev, next any) any {
	if ps, ok := prev.(string); ok {
		if ns, ok := next.(string); ok {
			return appendText(ps, ns)
		}
	}
	pv, nv := reflect.ValueOf(prev), reflect.ValueOf(next)
	if pv.Kind() == reflect.Slice && nv.Kind() == reflect.Slice {
		out := make([]any, 0, pv.Len()+nv.Len())
		for i := 0; i < pv.Len(); i++ {
			out = append(out, pv.Index(i).Interface())
		}
		for i := 0; i < nv.Len(); i++ {
			out = append(out, nv.Index(i).Interface())
		}
		return out
	}
	return []any{prev, next}
}

// handlerFor checks that h is one of the known typed handler types.
func handlerFor(h TypedHook) error {
	switch h.(type) {
	case BeforeAgentStartHandler, AgentEndHandler, BeforeToolCallHandler, AfterToolCallHandler,
		MessageReceivedHandler, MessageSendingHandler, SessionStartHandler, SessionEndHandler:
		if reflect.ValueOf(h).IsNil() {
			return fmt.Errorf("nil %s handler", h.HookName())
		}
		return nil
	case nil:
		return fmt.Errorf("nil typed hook")
	default:
		return fmt.Errorf("unsupported typed hook %T", h)
	}
}
