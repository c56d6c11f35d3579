package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"
)

func TestNewSandboxedState_UnsafeLibsNil(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	for _, name := range []string{"os", "io", "debug", "dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandboxedState_SafeLibsAvailable(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := L.DoString(`
		assert(math.sqrt(4) == 2.0, "math.sqrt failed")
		assert(string.upper("crypt") == "CRYPT", "string.upper failed")
		local t = {}
		table.insert(t, 1)
		assert(#t == 1, "table.insert failed")
	`)
	assert.NoError(t, err)
}

func TestRunLimited_StopsRunawayScript(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := runLimited(L, 10, func() error { return L.DoString(`while true do end`) })
	assert.Error(t, err)
}

func TestRunLimited_BudgetIsPerCall(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	require.Error(t, runLimited(L, 50, func() error { return L.DoString(`while true do end`) }))

	// A fresh budget lets the same VM keep working.
	err := runLimited(L, 0, func() error { return L.DoString(`local x = 1 + 1`) })
	assert.NoError(t, err)
}

func TestProperty_RunLimitedAlwaysStopsInfiniteLoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 200).Draw(t, "limit")
		L := NewSandboxedState()
		defer L.Close()
		if err := runLimited(L, limit, func() error { return L.DoString(`while true do end`) }); err == nil {
			t.Fatalf("expected error with limit=%d", limit)
		}
	})
}
