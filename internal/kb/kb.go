// Package kb is the on-disk knowledge base behind get_types and
// get_smart_context.
//
// Type information comes from LuaLS annotation files (*.d.lua) and an
// optional docs-index.json. Smart context is a tree of markdown files keyed
// by symbol. The parsed index is immutable; Reload and the optional watcher
// swap in a fresh one.
package kb

import (
	"context"
	"log/slog"
	"sync"
)

// TypeFiles are the annotation files read from the types directory, in
// lookup priority order. Other *.d.lua files are indexed after them.
var TypeFiles = []string{
	"Lua_Globals.d.lua",
	"Lua_Constants.d.lua",
	"Lua_Callbacks.d.lua",
}

// TypeInfo is the get_types answer for one symbol.
type TypeInfo struct {
	Symbol      string   `json:"symbol"`
	Found       bool     `json:"found"`
	Kind        string   `json:"kind,omitempty"`
	Signature   string   `json:"signature,omitempty"`
	Source      string   `json:"source,omitempty"`
	Description string   `json:"description,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	DidYouMean  string   `json:"did_you_mean,omitempty"`
}

// ContextInfo is the get_smart_context answer for one symbol.
type ContextInfo struct {
	Symbol      string
	Found       bool
	Content     string
	Path        string
	Suggestions []string
	DidYouMean  string
}

// Entry is one indexed symbol.
type Entry struct {
	Symbol      string
	Kind        string
	Signature   string
	Source      string
	Description string
}

// Config locates the knowledge base on disk.
type Config struct {
	TypesDir        string
	IndexFile       string
	SmartContextDir string
}

// KB answers lookups against the current index.
type KB struct {
	cfg Config
	log *slog.Logger

	mu  sync.RWMutex
	idx *index
}

// Option configures a KB.
type Option func(*KB)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(k *KB) {
		if logger != nil {
			k.log = logger
		}
	}
}

// New builds the initial index. Missing directories or files leave the
// corresponding part of the index empty; they are not errors.
func New(cfg Config, opts ...Option) *KB {
	k := &KB{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	k.idx = buildIndex(cfg, k.log)
	return k
}

// Reload rebuilds the index from disk and swaps it in.
func (k *KB) Reload(ctx context.Context) {
	idx := buildIndex(k.cfg, k.log)
	k.mu.Lock()
	k.idx = idx
	k.mu.Unlock()
	k.log.DebugContext(ctx, "kb.reload.ok", slog.Int("symbols", len(idx.names)), slog.Int("context_files", len(idx.contextNames)))
}

func (k *KB) current() *index {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.idx
}

// Stats reports index sizes.
func (k *KB) Stats() (symbols, contextFiles int) {
	idx := k.current()
	return len(idx.names), len(idx.contextNames)
}
