package plugin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// HookRunnerOptions configures a HookRunner.
type HookRunnerOptions struct {
	// CatchErrors isolates handler failures: a failing handler contributes
	// nothing and the run continues. When false the first failure is returned
	// and later handlers do not run.
	CatchErrors bool

	// Logger receives a warning for every caught failure. Nil discards them.
	Logger Logger

	// OnError is called for every caught failure.
	OnError func(*HookHandlerError)

	// FieldPolicies overrides DefaultFieldPolicies for untyped runs.
	FieldPolicies map[string]FieldPolicy
}

// HookRunner invokes the hooks of a registry. It holds no per-run state and
// may be used from several goroutines at once.
type HookRunner struct {
	reg    *Registry
	opts   HookRunnerOptions
	logger Logger
}

// NewHookRunner creates a runner over reg.
func NewHookRunner(reg *Registry, opts HookRunnerOptions) *HookRunner {
	if reg == nil {
		reg = &Registry{}
	}
	if opts.FieldPolicies == nil {
		opts.FieldPolicies = DefaultFieldPolicies
	}
	return &HookRunner{reg: reg, opts: opts, logger: WrapLogger(opts.Logger)}
}

// HookCount returns the number of handlers registered for name, typed and untyped.
func (r *HookRunner) HookCount(name string) int {
	n := 0
	for _, h := range r.reg.TypedHooks {
		if string(h.HookName) == name {
			n++
		}
	}
	for _, h := range r.reg.Hooks {
		if h.HookName == name {
			n++
		}
	}
	return n
}

// HasHooks reports whether any handler is registered for name.
func (r *HookRunner) HasHooks(name string) bool {
	return r.HookCount(name) > 0
}

// RunBeforeAgentStart runs before_agent_start handlers. SystemPrompt is taken
// from the last handler that sets it; PrependContext contributions are
// concatenated in order. The result is nil when no handler contributed.
func (r *HookRunner) RunBeforeAgentStart(ctx context.Context, ev *BeforeAgentStartEvent, ac *AgentContext) (*BeforeAgentStartResult, error) {
	if ev == nil {
		ev = &BeforeAgentStartEvent{}
	}
	if ac == nil {
		ac = &AgentContext{}
	}
	return runModifying(ctx, r, HookBeforeAgentStart,
		func(ctx context.Context, h TypedHook) (*BeforeAgentStartResult, error) {
			return h.(BeforeAgentStartHandler)(ctx, ev, ac)
		},
		mergeBeforeAgentStart)
}

// RunAgentEnd runs agent_end handlers.
func (r *HookRunner) RunAgentEnd(ctx context.Context, ev *AgentEndEvent, ac *AgentContext) error {
	if ev == nil {
		ev = &AgentEndEvent{}
	}
	if ac == nil {
		ac = &AgentContext{}
	}
	return runVoid(ctx, r, HookAgentEnd, func(ctx context.Context, h TypedHook) error {
		return h.(AgentEndHandler)(ctx, ev, ac)
	})
}

// RunBeforeToolCall runs before_tool_call handlers. Params and BlockReason
// are taken from the last handler that sets them; Block stays true once set.
func (r *HookRunner) RunBeforeToolCall(ctx context.Context, ev *BeforeToolCallEvent, tc *ToolContext) (*BeforeToolCallResult, error) {
	if ev == nil {
		ev = &BeforeToolCallEvent{}
	}
	if tc == nil {
		tc = &ToolContext{ToolName: ev.ToolName}
	}
	return runModifying(ctx, r, HookBeforeToolCall,
		func(ctx context.Context, h TypedHook) (*BeforeToolCallResult, error) {
			return h.(BeforeToolCallHandler)(ctx, ev, tc)
		},
		mergeBeforeToolCall)
}

// RunAfterToolCall runs after_tool_call handlers.
func (r *HookRunner) RunAfterToolCall(ctx context.Context, ev *AfterToolCallEvent, tc *ToolContext) error {
	if ev == nil {
		ev = &AfterToolCallEvent{}
	}
	if tc == nil {
		tc = &ToolContext{ToolName: ev.ToolName}
	}
	return runVoid(ctx, r, HookAfterToolCall, func(ctx context.Context, h TypedHook) error {
		return h.(AfterToolCallHandler)(ctx, ev, tc)
	})
}

// RunMessageReceived runs message_received handlers.
func (r *HookRunner) RunMessageReceived(ctx context.Context, ev *MessageReceivedEvent, mc *MessageContext) error {
	if ev == nil {
		ev = &MessageReceivedEvent{}
	}
	if mc == nil {
		mc = &MessageContext{}
	}
	return runVoid(ctx, r, HookMessageReceived, func(ctx context.Context, h TypedHook) error {
		return h.(MessageReceivedHandler)(ctx, ev, mc)
	})
}

// RunMessageSending runs message_sending handlers. Content is taken from the
// last handler that sets it; Cancel stays true once set.
func (r *HookRunner) RunMessageSending(ctx context.Context, ev *MessageSendingEvent, mc *MessageContext) (*MessageSendingResult, error) {
	if ev == nil {
		ev = &MessageSendingEvent{}
	}
	if mc == nil {
		mc = &MessageContext{}
	}
	return runModifying(ctx, r, HookMessageSending,
		func(ctx context.Context, h TypedHook) (*MessageSendingResult, error) {
			return h.(MessageSendingHandler)(ctx, ev, mc)
		},
		mergeMessageSending)
}

// RunSessionStart runs session_start handlers.
func (r *HookRunner) RunSessionStart(ctx context.Context, ev *SessionStartEvent, sc *SessionContext) error {
	if ev == nil {
		ev = &SessionStartEvent{}
	}
	if sc == nil {
		sc = &SessionContext{SessionID: ev.SessionID}
	}
	return runVoid(ctx, r, HookSessionStart, func(ctx context.Context, h TypedHook) error {
		return h.(SessionStartHandler)(ctx, ev, sc)
	})
}

// RunSessionEnd runs session_end handlers.
func (r *HookRunner) RunSessionEnd(ctx context.Context, ev *SessionEndEvent, sc *SessionContext) error {
	if ev == nil {
		ev = &SessionEndEvent{}
	}
	if sc == nil {
		sc = &SessionContext{SessionID: ev.SessionID}
	}
	return runVoid(ctx, r, HookSessionEnd, func(ctx context.Context, h TypedHook) error {
		return h.(SessionEndHandler)(ctx, ev, sc)
	})
}

// Run runs every handler registered under name and folds their results.
//
// Typed handlers for name run first (the payload is decoded into the typed
// event, the "context" key into the typed context), then untyped handlers, each
// group in registry order. Keys marked MergeAppend in the field policy for
// name are concatenated; all other keys take the last contribution.
func (r *HookRunner) Run(ctx context.Context, name string, payload map[string]any) (map[string]any, error) {
	policy := r.opts.FieldPolicies[name]
	run := newRun(r, name)

	var acc map[string]any
	for _, reg := range r.reg.TypedHooks {
		if string(reg.HookName) != name {
			continue
		}
		res, err := safeCall(func() (map[string]any, error) {
			return callTypedWithMap(ctx, reg.Handler, payload)
		})
		if err != nil {
			if err := run.fail(reg.PluginID, err); err != nil {
				return nil, err
			}
			continue
		}
		if len(res) > 0 {
			acc = mergeFields(acc, res, policy)
		}
	}
	for _, reg := range r.reg.Hooks {
		if reg.HookName != name {
			continue
		}
		res, err := safeCall(func() (map[string]any, error) {
			return reg.Handler(ctx, payload)
		})
		if err != nil {
			if err := run.fail(reg.PluginID, err); err != nil {
				return nil, err
			}
			continue
		}
		if len(res) > 0 {
			acc = mergeFields(acc, res, policy)
		}
	}
	return acc, nil
}

// runModifying invokes the typed handlers for name one after another and
// folds their non-nil results left to right with merge.
func runModifying[R any](ctx context.Context, r *HookRunner, name HookName, call func(context.Context, TypedHook) (*R, error), merge func(acc, next *R) *R) (*R, error) {
	run := newRun(r, string(name))
	var acc *R
	for _, reg := range r.reg.TypedHooks {
		if reg.HookName != name {
			continue
		}
		res, err := safeCall(func() (*R, error) {
			return call(ctx, reg.Handler)
		})
		if err != nil {
			if err := run.fail(reg.PluginID, err); err != nil {
				return nil, err
			}
			continue
		}
		if res == nil {
			continue
		}
		if acc == nil {
			first := *res
			acc = &first
			continue
		}
		acc = merge(acc, res)
	}
	return acc, nil
}

// runVoid invokes the typed handlers for name one after another.
func runVoid(ctx context.Context, r *HookRunner, name HookName, call func(context.Context, TypedHook) error) error {
	_, err := runModifying(ctx, r, name,
		func(ctx context.Context, h TypedHook) (*struct{}, error) {
			return nil, call(ctx, h)
		},
		func(acc, _ *struct{}) *struct{} { return acc })
	return err
}

// safeCall runs fn, converting a panic into an error.
func safeCall[R any](fn func() (R, error)) (res R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero R
			res, err = zero, panicError(rec)
		}
	}()
	return fn()
}

// hookRun tracks one invocation for error reporting.
type hookRun struct {
	r    *HookRunner
	name string
	id   string
}

func newRun(r *HookRunner, name string) *hookRun {
	return &hookRun{r: r, name: name}
}

// fail records a handler failure. It returns the error to propagate, or nil
// when failures are caught.
func (h *hookRun) fail(pluginID string, cause error) error {
	if h.id == "" {
		h.id = uuid.NewString()
	}
	herr := &HookHandlerError{PluginID: pluginID, HookName: h.name, RunID: h.id, Cause: cause}
	if !h.r.opts.CatchErrors {
		return herr
	}
	h.r.logger.Warn(fmt.Sprintf("[hooks] %s handler from %s failed (run %s): %v", h.name, pluginID, h.id, cause))
	if h.r.opts.OnError != nil {
		h.r.opts.OnError(herr)
	}
	return nil
}
