package kb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const globalsFixture = `---@meta

--- Drawing library.
---@class draw
draw = {}

--- Sets the color for the following draw calls.
---@param r integer
---@param g integer
---@param b integer
---@param a integer
function draw.Color(r, g, b, a) end

--- Draws a filled rectangle.
function draw.FilledRect(x1, y1, x2, y2) end

---@class Entity
---@field m_iHealth integer
local Entity = {}

--- Returns the entity's health.
---@return integer
function Entity:GetHealth() end
`

const constantsFixture = `E_TraceLine = 1
MASK_SHOT = 0x4600400B
`

const docsIndexFixture = `{
  // generated from the online reference
  "engine": {
    "TraceLine": { "signature": "engine.TraceLine(src, dst, mask)", "description": "Casts a ray." },
    "GetMapName": "Returns the current map name.",
  },
  "symbols": [
    { "name": "callbacks.Register", "description": "Registers a callback.", "url": "https://lmaobox.net/lua/Lua_Libraries/callbacks/" },
  ],
}`

type fixture struct {
	cfg Config
	kb  *KB
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		TypesDir:        filepath.Join(root, "types", "lmaobox_lua_api"),
		IndexFile:       filepath.Join(root, "types", "docs-index.json"),
		SmartContextDir: filepath.Join(root, "data", "smart_context"),
	}
	writeFile(t, filepath.Join(cfg.TypesDir, "Lua_Globals.d.lua"), globalsFixture)
	writeFile(t, filepath.Join(cfg.TypesDir, "Lua_Constants.d.lua"), constantsFixture)
	writeFile(t, cfg.IndexFile, docsIndexFixture)
	writeFile(t, filepath.Join(cfg.SmartContextDir, "draw", "Color.md"), "# draw.Color\nUse before every draw call.")
	writeFile(t, filepath.Join(cfg.SmartContextDir, "entity.md"), "# Entity\nHandles.")
	writeFile(t, filepath.Join(cfg.SmartContextDir, "callbacks", "Register_examples.md"), "# callbacks.Register examples")
	return fixture{cfg: cfg, kb: New(cfg)}
}

func TestLookupType_Function(t *testing.T) {
	f := newFixture(t)

	info := f.kb.LookupType("draw.Color")
	require.True(t, info.Found)
	assert.Equal(t, "function", info.Kind)
	assert.Contains(t, info.Signature, "function draw.Color(r, g, b, a)")
	assert.Contains(t, info.Signature, "---@param r integer")
	assert.Equal(t, "Sets the color for the following draw calls.", info.Description)
	assert.Equal(t, "Lua_Globals.d.lua:12", info.Source)
	assert.Empty(t, info.Suggestions)
}

func TestLookupType_Variants(t *testing.T) {
	f := newFixture(t)

	tests := map[string]string{
		"Entity:GetHealth":   "Entity.GetHealth",
		"entity.gethealth":   "Entity.GetHealth",
		"draw.FilledRect()":  "draw.FilledRect",
		"Entity":             "Entity",
		"Entity.m_iHealth":   "Entity.m_iHealth",
		"MASK_SHOT":          "MASK_SHOT",
		"engine.TraceLine":   "engine.TraceLine",
		"engine.GetMapName":  "engine.GetMapName",
		"callbacks.Register": "callbacks.Register",
	}
	for query, want := range tests {
		t.Run(query, func(t *testing.T) {
			info := f.kb.LookupType(query)
			require.True(t, info.Found)
			assert.Equal(t, want, info.Symbol)
		})
	}
}

func TestLookupType_DocsIndexFields(t *testing.T) {
	f := newFixture(t)

	info := f.kb.LookupType("engine.TraceLine")
	require.True(t, info.Found)
	assert.Equal(t, "engine.TraceLine(src, dst, mask)", info.Signature)
	assert.Equal(t, "docs-index.json", info.Source)

	info = f.kb.LookupType("callbacks.Register")
	require.True(t, info.Found)
	assert.Contains(t, info.Description, "https://lmaobox.net/lua/Lua_Libraries/callbacks/")
}

func TestLookupType_MissSuggests(t *testing.T) {
	f := newFixture(t)

	info := f.kb.LookupType("draw.Colr")
	assert.False(t, info.Found)
	assert.Equal(t, "draw.Colr", info.Symbol)
	require.NotEmpty(t, info.Suggestions)
	assert.Contains(t, info.Suggestions, "draw.Color")
	assert.NotEmpty(t, info.DidYouMean)
	assert.LessOrEqual(t, len(info.Suggestions), MaxSuggestions)
}

func TestLookupType_MissWithoutFuzzyMatch(t *testing.T) {
	f := newFixture(t)

	info := f.kb.LookupType("draw.Zzz")
	assert.False(t, info.Found)
	assert.Empty(t, info.DidYouMean)
	assert.Contains(t, info.Suggestions, "draw.Color")
}

func TestLookupContext_Strategies(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		query string
		want  string
	}{
		{query: "draw.Color", want: "# draw.Color"},
		{query: "Entity", want: "# Entity"},
		{query: "register_examples", want: "# callbacks.Register examples"},
		{query: "Register", want: "# callbacks.Register examples"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			info, err := f.kb.LookupContext(tt.query)
			require.NoError(t, err)
			require.True(t, info.Found)
			assert.Contains(t, info.Content, tt.want)
		})
	}
}

func TestLookupContext_MissSuggests(t *testing.T) {
	f := newFixture(t)

	info, err := f.kb.LookupContext("draw.Colour")
	require.NoError(t, err)
	assert.False(t, info.Found)
	assert.Contains(t, info.Suggestions, "draw.Color")
}

func TestLookupContext_StaysInsideDir(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(filepath.Dir(f.cfg.SmartContextDir), "secret.md"), "secret")

	info, err := f.kb.LookupContext("../secret")
	require.NoError(t, err)
	assert.False(t, info.Found)
}

func TestNew_MissingDirectories(t *testing.T) {
	k := New(Config{
		TypesDir:        filepath.Join(t.TempDir(), "nope"),
		IndexFile:       filepath.Join(t.TempDir(), "nope.json"),
		SmartContextDir: filepath.Join(t.TempDir(), "nope"),
	})
	symbols, files := k.Stats()
	assert.Zero(t, symbols)
	assert.Zero(t, files)

	info := k.LookupType("draw.Color")
	assert.False(t, info.Found)
	assert.Empty(t, info.Suggestions)
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.kb.LookupType("input.IsButtonDown").Found)

	writeFile(t, filepath.Join(f.cfg.TypesDir, "Lua_Input.d.lua"), "function input.IsButtonDown(button) end\n")
	f.kb.Reload(context.Background())

	info := f.kb.LookupType("input.IsButtonDown")
	require.True(t, info.Found)
	assert.Equal(t, "Lua_Input.d.lua:1", info.Source)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.kb.Watch(ctx, 20*time.Millisecond) }()

	// Give the watcher a moment to register its directories.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(f.cfg.SmartContextDir, "globals", "Vector3.md"), "# Vector3")

	require.Eventually(t, func() bool {
		_, files := f.kb.Stats()
		return files == 4
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
