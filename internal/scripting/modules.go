package scripting

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules defines the relay global table in L:
//
//	relay.log(level, msg)   -- level is "debug", "info", or "warn"
//	relay.now_ms()          -- wall clock, unix milliseconds
//	relay.max_level()       -- highest catalog level, 0 when unbounded
//	relay.level_name(n)     -- catalog name of level n, or nil
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"log":        m.luaLog,
		"now_ms":     luaNowMillis,
		"max_level":  m.luaMaxLevel,
		"level_name": m.luaLevelName,
	})
	L.SetGlobal("relay", mod)
}

func (m *Manager) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	log := m.logger.With(zap.String("source", "lua"))
	switch level {
	case "debug":
		log.Debug(msg)
	case "warn":
		log.Warn(msg)
	default:
		log.Info(msg)
	}
	return 0
}

func luaNowMillis(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().UnixMilli()))
	return 1
}

func (m *Manager) luaMaxLevel(L *lua.LState) int {
	n := 0
	if m.MaxLevel != nil {
		n = m.MaxLevel()
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (m *Manager) luaLevelName(L *lua.LState) int {
	n := L.CheckInt(1)
	if m.LevelName == nil {
		L.Push(lua.LNil)
		return 1
	}
	name, ok := m.LevelName(n)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(name))
	return 1
}
