// Package luaplugin loads plugins written in Lua. Importing it registers an
// importer for ".lua" entry scripts.
//
// A script defines a global register function that receives the plugin API
// table:
//
//	function register(api)
//	  api.logger.info("hello from " .. api.id)
//	  api.on("before_agent_start", function(event, ctx)
//	    return { prependContext = "Be brief." }
//	  end)
//	end
//
// Each plugin gets its own interpreter with only the base, table, string and
// math libraries. Handlers from one plugin never run concurrently.
package luaplugin

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/i2y/clawkit/plugin"
)

// Extension is the entry script extension handled by this package.
const Extension = ".lua"

// RegisterFunction is the global a script must define.
const RegisterFunction = "register"

func init() {
	plugin.RegisterImporter(Extension, Importer{})
}

// Importer evaluates Lua entry scripts.
type Importer struct{}

// Import runs the script and returns a RegisterFunc that calls its register
// function. Syntax and runtime errors in the script body fail the import.
func (Importer) Import(ctx context.Context, m *plugin.Manifest, entry string) (plugin.RegisterFunc, error) {
	st := newState()
	if err := st.doFile(entry); err != nil {
		_ = st.close()
		return nil, err
	}

	var fn *lua.LFunction
	_ = st.do(ctx, func(L *lua.LState) error {
		fn, _ = L.GetGlobal(RegisterFunction).(*lua.LFunction)
		return nil
	})
	if fn == nil {
		_ = st.close()
		return nil, fmt.Errorf("%s: no global %s function", entry, RegisterFunction)
	}

	return func(ctx context.Context, api *plugin.API) error {
		api.OnClose(st.close)
		return st.do(ctx, func(L *lua.LState) error {
			return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, apiTable(L, st, api))
		})
	}, nil
}
