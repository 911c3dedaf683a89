package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ErrStateClosed is returned when a handler runs after its plugin was closed.
var ErrStateClosed = errors.New("lua state is closed")

// state owns one plugin's interpreter. gopher-lua's LState is not
// goroutine-safe, so every use goes through do, which serializes callers.
type state struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

func newState() *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Scripts may not load further code from disk or strings.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return &state{L: L}
}

// doFile runs a script file in the interpreter.
func (s *state) doFile(path string) error {
	return s.do(context.Background(), func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// do runs fn with exclusive access to the interpreter. ctx cancellation
// aborts running Lua code.
func (s *state) do(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if ctx != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		s.L.SetTop(top)
	}()
	return fn(s.L)
}

// call invokes fn with args converted to Lua values and returns its first
// result converted back to Go.
func (s *state) call(ctx context.Context, fn *lua.LFunction, args ...any) (any, error) {
	var out any
	err := s.do(ctx, func(L *lua.LState) error {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = toLua(L, a)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		out = toGo(L.Get(-1))
		return nil
	})
	return out, err
}

func (s *state) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
