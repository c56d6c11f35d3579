package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Manager owns the sandboxed LState holding every loaded hook script.
//
// The LState is single-threaded; mu serializes loads and hook calls.
type Manager struct {
	mu     sync.Mutex
	L      *lua.LState
	limit  int
	logger *zap.Logger

	// Injected after construction. nil = relay.* returns a zero value.
	MaxLevel  func() int
	LevelName func(level int) (string, bool)
}

// NewManager creates a Manager with no scripts loaded.
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{logger: logger}
}

// Load creates a fresh VM, registers the relay.* module, and executes every
// *.lua file in scriptDir in lexicographic order. On success the new VM
// replaces any previously loaded one.
//
// Precondition: scriptDir must be a readable directory; instLimit <= 0
// selects DefaultInstructionLimit.
// Postcondition: Returns an error and keeps the previous VM on any failure.
func (m *Manager) Load(scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	L := NewSandboxedState()
	m.RegisterModules(L)
	for _, path := range luaFiles {
		if err := runLimited(L, instLimit, func() error { return L.DoFile(path) }); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L != nil {
		m.L.Close()
	}
	m.L = L
	m.limit = instLimit
	m.logger.Info("scripting: hooks loaded", zap.String("dir", scriptDir), zap.Int("files", len(luaFiles)))
	return nil
}

// Loaded reports whether a VM is present.
func (m *Manager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.L != nil
}

// Defined reports whether hook is a global function in the loaded VM.
func (m *Manager) Defined(hook string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L == nil {
		return false
	}
	return m.L.GetGlobal(hook).Type() == lua.LTFunction
}

// CallHook calls the named Lua global function. Returns (LNil, nil) if the
// hook is not defined or nothing is loaded. Lua runtime errors, including an
// exhausted instruction budget, are logged at Warn and never propagated.
//
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(hook string, args ...lua.LValue) (lua.LValue, error) {
	return m.call(hook, func(*lua.LState) []lua.LValue { return args }), nil
}

// call is CallHook with arguments built while the VM is held, so tables are
// allocated on the LState that receives them.
func (m *Manager) call(hook string, build func(L *lua.LState) []lua.LValue) lua.LValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	L := m.L
	if L == nil {
		m.logger.Debug("scripting: no VM loaded", zap.String("hook", hook))
		return lua.LNil
	}
	fn := L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil
	}

	args := build(L)
	err := runLimited(L, m.limit, func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error", zap.String("hook", hook), zap.Error(err))
		// A cancelled call can leave partial frames behind.
		L.SetTop(0)
		return lua.LNil
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret
}

// Close releases the VM. The Manager can be reloaded afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.L != nil {
		m.L.Close()
		m.L = nil
	}
}
