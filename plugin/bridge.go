package plugin

import (
	"context"
	"encoding/json"
	"fmt"
)

// ContextKey is the payload key that carries the hook context when a typed
// event crosses into an untyped handler or back.
const ContextKey = "context"

// NewTypedHook adapts an untyped handler to the typed event name. The event
// is passed as a map keyed by its JSON field names, with the hook context
// under ContextKey. A non-empty result map is decoded into the typed result.
//
// Script importers use this to register typed hooks from dynamic code.
func NewTypedHook(name HookName, fn HookHandler) (TypedHook, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil %s handler", name)
	}
	switch name {
	case HookBeforeAgentStart:
		return BeforeAgentStartHandler(bridgeModifying[BeforeAgentStartEvent, AgentContext, BeforeAgentStartResult](fn)), nil
	case HookAgentEnd:
		return AgentEndHandler(bridgeVoid[AgentEndEvent, AgentContext](fn)), nil
	case HookBeforeToolCall:
		return BeforeToolCallHandler(bridgeModifying[BeforeToolCallEvent, ToolContext, BeforeToolCallResult](fn)), nil
	case HookAfterToolCall:
		return AfterToolCallHandler(bridgeVoid[AfterToolCallEvent, ToolContext](fn)), nil
	case HookMessageReceived:
		return MessageReceivedHandler(bridgeVoid[MessageReceivedEvent, MessageContext](fn)), nil
	case HookMessageSending:
		return MessageSendingHandler(bridgeModifying[MessageSendingEvent, MessageContext, MessageSendingResult](fn)), nil
	case HookSessionStart:
		return SessionStartHandler(bridgeVoid[SessionStartEvent, SessionContext](fn)), nil
	case HookSessionEnd:
		return SessionEndHandler(bridgeVoid[SessionEndEvent, SessionContext](fn)), nil
	default:
		return nil, fmt.Errorf("unknown typed hook %q", name)
	}
}

func bridgeModifying[E, C, R any](fn HookHandler) func(context.Context, *E, *C) (*R, error) {
	return func(ctx context.Context, ev *E, hc *C) (*R, error) {
		payload, err := packPayload(ev, hc)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, payload)
		if err != nil || len(out) == 0 {
			return nil, err
		}
		var res R
		if err := decodeInto(out, &res); err != nil {
			return nil, fmt.Errorf("decoding hook result: %w", err)
		}
		return &res, nil
	}
}

func bridgeVoid[E, C any](fn HookHandler) func(context.Context, *E, *C) error {
	return func(ctx context.Context, ev *E, hc *C) error {
		payload, err := packPayload(ev, hc)
		if err != nil {
			return err
		}
		_, err = fn(ctx, payload)
		return err
	}
}

// callTypedWithMap invokes a typed handler with an untyped payload and
// returns its result as a map.
func callTypedWithMap(ctx context.Context, h TypedHook, payload map[string]any) (map[string]any, error) {
	switch h := h.(type) {
	case BeforeAgentStartHandler:
		return callModifying[BeforeAgentStartEvent, AgentContext, BeforeAgentStartResult](ctx, h, payload)
	case AgentEndHandler:
		return callVoid[AgentEndEvent, AgentContext](ctx, h, payload)
	case BeforeToolCallHandler:
		return callModifying[BeforeToolCallEvent, ToolContext, BeforeToolCallResult](ctx, h, payload)
	case AfterToolCallHandler:
		return callVoid[AfterToolCallEvent, ToolContext](ctx, h, payload)
	case MessageReceivedHandler:
		return callVoid[MessageReceivedEvent, MessageContext](ctx, h, payload)
	case MessageSendingHandler:
		return callModifying[MessageSendingEvent, MessageContext, MessageSendingResult](ctx, h, payload)
	case SessionStartHandler:
		return callVoid[SessionStartEvent, SessionContext](ctx, h, payload)
	case SessionEndHandler:
		return callVoid[SessionEndEvent, SessionContext](ctx, h, payload)
	default:
		return nil, fmt.Errorf("unsupported typed hook %T", h)
	}
}

func callModifying[E, C, R any](ctx context.Context, h func(context.Context, *E, *C) (*R, error), payload map[string]any) (map[string]any, error) {
	ev, hc, err := unpackPayload[E, C](payload)
	if err != nil {
		return nil, err
	}
	res, err := h(ctx, ev, hc)
	if err != nil || res == nil {
		return nil, err
	}
	return toMap(res)
}

func callVoid[E, C any](ctx context.Context, h func(context.Context, *E, *C) error, payload map[string]any) (map[string]any, error) {
	ev, hc, err := unpackPayload[E, C](payload)
	if err != nil {
		return nil, err
	}
	return nil, h(ctx, ev, hc)
}

func packPayload(ev, hc any) (map[string]any, error) {
	payload, err := toMap(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding hook event: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	c, err := toMap(hc)
	if err != nil {
		return nil, fmt.Errorf("encoding hook context: %w", err)
	}
	if c != nil {
		payload[ContextKey] = c
	}
	return payload, nil
}

func unpackPayload[E, C any](payload map[string]any) (*E, *C, error) {
	ev, hc := new(E), new(C)
	if err := decodeInto(payload, ev); err != nil {
		return nil, nil, fmt.Errorf("decoding hook event: %w", err)
	}
	if c, ok := payload[ContextKey]; ok {
		if err := decodeInto(c, hc); err != nil {
			return nil, nil, fmt.Errorf("decoding hook context: %w", err)
		}
	}
	return ev, hc, nil
}

// toMap converts a JSON-tagged value to a generic map. Nil values map to nil.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
