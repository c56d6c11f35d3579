package scripting_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dungeon-relay/internal/scripting"
)

func newTestManager(t testing.TB) (*scripting.Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	mgr := scripting.NewManager(zap.New(core))
	t.Cleanup(mgr.Close)
	return mgr, logs
}

func writeTempLua(t testing.TB, filename, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(src), 0644))
	return dir
}

func TestManager_Load_CallsHook(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := writeTempLua(t, "hooks.lua", `
		function test_hook(a, b)
			return a + b
		end
	`)
	require.NoError(t, mgr.Load(dir, 0))
	assert.True(t, mgr.Loaded())
	assert.True(t, mgr.Defined("test_hook"))

	ret, err := mgr.CallHook("test_hook", lua.LNumber(3), lua.LNumber(4))
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(7), ret)
}

func TestManager_CallHook_MissingHook_NoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := writeTempLua(t, "empty.lua", `not_a_function = 3`)
	require.NoError(t, mgr.Load(dir, 0))
	assert.False(t, mgr.Defined("not_a_function"))

	ret, err := mgr.CallHook("not_a_function")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
}

func TestManager_CallHook_NothingLoaded(t *testing.T) {
	mgr, logs := newTestManager(t)
	ret, err := mgr.CallHook("some_hook")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
	assert.Equal(t, 1, logs.FilterMessage("scripting: no VM loaded").Len())
}

func TestManager_CallHook_RuntimeError_WarnLogNoPanic(t *testing.T) {
	mgr, logs := newTestManager(t)
	dir := writeTempLua(t, "bad.lua", `
		function bad_hook()
			error("intentional error")
		end
		function good_hook()
			return "still fine"
		end
	`)
	require.NoError(t, mgr.Load(dir, 0))

	ret, err := mgr.CallHook("bad_hook")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
	warns := logs.FilterMessage("scripting: Lua runtime error").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zap.WarnLevel, warns[0].Level)

	ret, _ = mgr.CallHook("good_hook")
	assert.Equal(t, lua.LString("still fine"), ret)
}

func TestManager_CallHook_RunawayHookIsStopped(t *testing.T) {
	mgr, logs := newTestManager(t)
	dir := writeTempLua(t, "loop.lua", `
		function spin() while true do end end
		function answer() return 42 end
	`)
	require.NoError(t, mgr.Load(dir, 1000))

	ret, err := mgr.CallHook("spin")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
	assert.Equal(t, 1, logs.FilterMessage("scripting: Lua runtime error").Len())

	ret, _ = mgr.CallHook("answer")
	assert.Equal(t, lua.LNumber(42), ret)
}

func TestManager_Load_EmptyDir_NoError(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(t.TempDir(), 0))
	ret, err := mgr.CallHook("anything")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
}

func TestManager_Load_Errors(t *testing.T) {
	mgr, _ := newTestManager(t)
	assert.Error(t, mgr.Load(filepath.Join(t.TempDir(), "missing"), 0))
	assert.Error(t, mgr.Load(writeTempLua(t, "bad.lua", `this is not valid lua @@@@`), 0))
	assert.Error(t, mgr.Load(writeTempLua(t, "slow.lua", `while true do end`), 100))
	assert.False(t, mgr.Loaded())
}

func TestManager_Load_FailureKeepsPreviousVM(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(writeTempLua(t, "v1.lua", `function version() return 1 end`), 0))
	require.Error(t, mgr.Load(writeTempLua(t, "v2.lua", `function version( return 2 end`), 0))

	ret, _ := mgr.CallHook("version")
	assert.Equal(t, lua.LNumber(1), ret)

	require.NoError(t, mgr.Load(writeTempLua(t, "v3.lua", `function version() return 3 end`), 0))
	ret, _ = mgr.CallHook("version")
	assert.Equal(t, lua.LNumber(3), ret)
}

func TestManager_Load_MultipleFiles_OrderedByName(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lua"), []byte(`base_val = 10`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.lua"), []byte(`
		function get_val() return base_val end
	`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`ignored`), 0644))
	require.NoError(t, mgr.Load(dir, 0))

	ret, err := mgr.CallHook("get_val")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(10), ret)
}

func TestManager_RelayModule(t *testing.T) {
	mgr, logs := newTestManager(t)
	mgr.MaxLevel = func() int { return 10 }
	mgr.LevelName = func(n int) (string, bool) {
		if n == 1 {
			return "Entrance Hall", true
		}
		return "", false
	}
	dir := writeTempLua(t, "mod.lua", `
		function probe()
			relay.log("warn", "probing")
			assert(relay.now_ms() > 0, "clock")
			assert(relay.level_name(99) == nil, "unknown level")
			return relay.level_name(1) .. ":" .. relay.max_level()
		end
	`)
	require.NoError(t, mgr.Load(dir, 0))

	ret, _ := mgr.CallHook("probe")
	assert.Equal(t, lua.LString("Entrance Hall:10"), ret)
	entries := logs.FilterMessage("probing").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "lua", entries[0].ContextMap()["source"])
}

func TestManager_RelayModule_NoCallbacks(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(writeTempLua(t, "mod.lua", `
		function probe() return relay.max_level() == 0 and relay.level_name(1) == nil end
	`), 0))
	ret, _ := mgr.CallHook("probe")
	assert.Equal(t, lua.LTrue, ret)
}

func TestProperty_CallHookMissingHookNeverPanics(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(t.TempDir(), 0))
	rapid.Check(t, func(rt *rapid.T) {
		hook := rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "hook")
		ret, err := mgr.CallHook(hook)
		if err != nil || ret != lua.LNil {
			rt.Fatalf("CallHook(%q) = %v, %v", hook, ret, err)
		}
	})
}

func TestManager_CallHookConcurrent_NoRace(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(writeTempLua(t, "hooks.lua", `
		function concurrent_hook(a, b)
			return a + b
		end
	`), 0))

	const goroutines = 10
	const callsEach = 5
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range callsEach {
				ret, err := mgr.CallHook("concurrent_hook", lua.LNumber(1), lua.LNumber(2))
				assert.NoError(t, err)
				assert.Equal(t, lua.LNumber(3), ret)
			}
		}()
	}
	wg.Wait()
}

func TestNewManager_PanicsOnNilLogger(t *testing.T) {
	assert.Panics(t, func() { scripting.NewManager(nil) })
}

func TestManager_Close_ReleasesVM(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(writeTempLua(t, "init.lua", `function get_x() return 1 end`), 0))
	mgr.Close()
	assert.False(t, mgr.Loaded())

	ret, err := mgr.CallHook("get_x")
	assert.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
}
