package luaplugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	lua "github.com/yuin/gopher-lua"

	"github.com/i2y/clawkit/llm"
	"github.com/i2y/clawkit/plugin"
)

// apiTable builds the table passed to a script's register function:
//
//	api.id, api.name, api.version, api.source, api.config
//	api.logger.info/warn/error(msg)        (debug only when the host logs debug)
//	api.on(hook_name, fn(event, ctx))      typed lifecycle hook
//	api.register_hook(name, fn(payload))   payload hook; typed names get event fields plus "context"
//	api.register_command{name=, description=, accepts_args=, handler=fn(ctx)}
//	api.register_tool{name=, description=, parameters=, handler=fn(args)}
//	api.resolve_path(p)
func apiTable(L *lua.LState, st *state, api *plugin.API) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(api.ID))
	t.RawSetString("name", lua.LString(api.Name))
	t.RawSetString("version", lua.LString(api.Version))
	t.RawSetString("source", lua.LString(api.Source))
	t.RawSetString("config", toLua(L, api.Config))
	t.RawSetString("logger", loggerTable(L, api.Logger))

	L.SetFuncs(t, map[string]lua.LGFunction{
		"on": func(L *lua.LState) int {
			name := L.CheckString(1)
			fn := L.CheckFunction(2)
			h, err := plugin.NewTypedHook(plugin.HookName(name), func(ctx context.Context, payload map[string]any) (map[string]any, error) {
				hctx := payload[plugin.ContextKey]
				ev := make(map[string]any, len(payload))
				for k, v := range payload {
					if k != plugin.ContextKey {
						ev[k] = v
					}
				}
				return resultMap(st.call(ctx, fn, ev, hctx))
			})
			if err != nil {
				L.ArgError(1, err.Error())
				return 0
			}
			api.AddTypedHook(h)
			return 0
		},
		"register_hook": func(L *lua.LState) int {
			name := L.CheckString(1)
			fn := L.CheckFunction(2)
			api.AddHook(name, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
				return resultMap(st.call(ctx, fn, payload))
			})
			return 0
		},
		"register_command": func(L *lua.LState) int {
			opts := L.CheckTable(1)
			fn, ok := opts.RawGetString("handler").(*lua.LFunction)
			if !ok {
				L.ArgError(1, "command handler must be a function")
				return 0
			}
			api.AddCommand(plugin.Command{
				Name:        lua.LVAsString(opts.RawGetString("name")),
				Description: lua.LVAsString(opts.RawGetString("description")),
				AcceptsArgs: lua.LVAsBool(opts.RawGetString("accepts_args")),
				Handler: func(ctx context.Context, cc *plugin.CommandContext) (*plugin.CommandResult, error) {
					out, err := st.call(ctx, fn, map[string]any{
						"args":       cc.Args,
						"channel_id": cc.ChannelID,
						"sender_id":  cc.SenderID,
						"raw":        cc.RawInput,
					})
					if err != nil {
						return nil, err
					}
					return commandResult(out), nil
				},
			})
			return 0
		},
		"register_tool": func(L *lua.LState) int {
			opts := L.CheckTable(1)
			fn, ok := opts.RawGetString("handler").(*lua.LFunction)
			if !ok {
				L.ArgError(1, "tool handler must be a function")
				return 0
			}
			params, err := schemaFromLua(opts.RawGetString("parameters"))
			if err != nil {
				L.ArgError(1, err.Error())
				return 0
			}
			tool, err := llm.NewFuncTool(
				lua.LVAsString(opts.RawGetString("name")),
				lua.LVAsString(opts.RawGetString("description")),
				params,
				func(ctx context.Context, args json.RawMessage) (any, error) {
					var in any
					if len(args) > 0 {
						if err := json.Unmarshal(args, &in); err != nil {
							return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
						}
					}
					return st.call(ctx, fn, in)
				},
			)
			if err != nil {
				L.ArgError(1, err.Error())
				return 0
			}
			api.AddTool(tool)
			return 0
		},
		"resolve_path": func(L *lua.LState) int {
			L.Push(lua.LString(api.ResolvePath(L.CheckString(1))))
			return 1
		},
	})
	return t
}

// loggerTable exposes the host logger. Functions accept both logger.info(msg)
// and logger:info(msg).
func loggerTable(L *lua.LState, l plugin.Logger) *lua.LTable {
	t := L.NewTable()
	wrap := func(fn func(string)) lua.LGFunction {
		return func(L *lua.LState) int {
			fn(L.CheckString(L.GetTop()))
			return 0
		}
	}
	t.RawSetString("info", L.NewFunction(wrap(l.Info)))
	t.RawSetString("warn", L.NewFunction(wrap(l.Warn)))
	t.RawSetString("error", L.NewFunction(wrap(l.Error)))
	if d, ok := l.(plugin.DebugLogger); ok {
		t.RawSetString("debug", L.NewFunction(wrap(d.Debug)))
	}
	return t
}

// resultMap interprets a handler return value: a table contributes, anything
// else contributes nothing.
func resultMap(out any, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

func commandResult(out any) *plugin.CommandResult {
	switch v := out.(type) {
	case nil:
		return &plugin.CommandResult{}
	case string:
		return &plugin.CommandResult{Text: v}
	case map[string]any:
		text, _ := v["text"].(string)
		return &plugin.CommandResult{Text: text}
	default:
		return &plugin.CommandResult{Text: fmt.Sprint(v)}
	}
}

func schemaFromLua(lv lua.LValue) (*jsonschema.Schema, error) {
	if lv == lua.LNil {
		return nil, nil
	}
	data, err := json.Marshal(toGo(lv))
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("tool parameters: %w", err)
	}
	return &s, nil
}
