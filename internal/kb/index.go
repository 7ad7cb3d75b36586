package kb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

type index struct {
	entries map[string]Entry
	// folded maps a lowercased symbol to its canonical spelling.
	folded map[string]string
	names  []string

	// contextNames are smart-context files as dotted symbols
	// (draw/Color.md -> draw.Color).
	contextNames []string
}

func buildIndex(cfg Config, log *slog.Logger) *index {
	idx := &index{
		entries: make(map[string]Entry),
		folded:  make(map[string]string),
	}

	for _, path := range typeFilePaths(cfg.TypesDir) {
		if err := idx.addTypeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("kb.types.err", slog.String("path", path), slog.String("err", err.Error()))
		}
	}
	if cfg.IndexFile != "" {
		if err := idx.addDocsIndex(cfg.IndexFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("kb.docs_index.err", slog.String("path", cfg.IndexFile), slog.String("err", err.Error()))
		}
	}
	idx.contextNames = listContextFiles(cfg.SmartContextDir)

	idx.names = make([]string, 0, len(idx.entries))
	for name := range idx.entries {
		idx.names = append(idx.names, name)
	}
	sort.Strings(idx.names)
	return idx
}

// typeFilePaths returns the well-known files first, then any other
// *.d.lua in dir.
func typeFilePaths(dir string) []string {
	if dir == "" {
		return nil
	}
	seen := make(map[string]bool)
	var paths []string
	for _, name := range TypeFiles {
		seen[name] = true
		paths = append(paths, filepath.Join(dir, name))
	}
	extra, _ := filepath.Glob(filepath.Join(dir, "*.d.lua"))
	sort.Strings(extra)
	for _, p := range extra {
		if !seen[filepath.Base(p)] {
			paths = append(paths, p)
		}
	}
	return paths
}

// add keeps the first definition of a symbol.
func (idx *index) add(e Entry) {
	if e.Symbol == "" {
		return
	}
	if _, ok := idx.entries[e.Symbol]; ok {
		return
	}
	idx.entries[e.Symbol] = e
	lower := strings.ToLower(e.Symbol)
	if _, ok := idx.folded[lower]; !ok {
		idx.folded[lower] = e.Symbol
	}
}

var (
	functionDecl = regexp.MustCompile(`^\s*(?:local\s+)?function\s+([A-Za-z_][\w.:]*)\s*\(([^)]*)\)`)
	classDecl    = regexp.MustCompile(`^---@class\s+([A-Za-z_][\w.]*)`)
	aliasDecl    = regexp.MustCompile(`^---@alias\s+([A-Za-z_][\w.]*)`)
	fieldDecl    = regexp.MustCompile(`^---@field\s+([A-Za-z_]\w*)\s+(.+)$`)
	assignDecl   = regexp.MustCompile(`^([A-Za-z_][\w.]*)\s*=\s*(.+)$`)
)

// addTypeFile indexes one LuaLS annotation file. Doc comments ("--- text")
// and annotations ("---@param ...") directly above a declaration are
// attached to it.
func (idx *index) addTypeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	base := filepath.Base(path)
	var (
		doc         []string
		annotations []string
		class       string
	)
	reset := func() { doc, annotations = nil, nil }

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		source := fmt.Sprintf("%s:%d", base, lineNo)

		switch {
		case trimmed == "":
			reset()
			class = ""

		case classDecl.MatchString(trimmed):
			m := classDecl.FindStringSubmatch(trimmed)
			class = m[1]
			idx.add(Entry{Symbol: class, Kind: "class", Signature: trimmed, Source: source, Description: joinDoc(doc)})
			reset()

		case aliasDecl.MatchString(trimmed):
			m := aliasDecl.FindStringSubmatch(trimmed)
			idx.add(Entry{Symbol: m[1], Kind: "alias", Signature: trimmed, Source: source, Description: joinDoc(doc)})
			reset()

		case class != "" && fieldDecl.MatchString(trimmed):
			m := fieldDecl.FindStringSubmatch(trimmed)
			idx.add(Entry{Symbol: class + "." + m[1], Kind: "field", Signature: m[2], Source: source})

		case strings.HasPrefix(trimmed, "---@"):
			annotations = append(annotations, trimmed)

		case strings.HasPrefix(trimmed, "---"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "---")))

		case strings.HasPrefix(trimmed, "--"):
			// Plain comments break nothing.

		case functionDecl.MatchString(trimmed):
			m := functionDecl.FindStringSubmatch(trimmed)
			name := strings.ReplaceAll(m[1], ":", ".")
			sig := "function " + m[1] + "(" + m[2] + ")"
			if len(annotations) > 0 {
				sig = strings.Join(annotations, "\n") + "\n" + sig
			}
			idx.add(Entry{Symbol: name, Kind: "function", Signature: sig, Source: source, Description: joinDoc(doc)})
			reset()

		case assignDecl.MatchString(trimmed):
			m := assignDecl.FindStringSubmatch(trimmed)
			kind := "global"
			if strings.HasPrefix(strings.TrimSpace(m[2]), "{") {
				kind = "table"
			}
			sig := trimmed
			if len(annotations) > 0 {
				sig = strings.Join(annotations, "\n") + "\n" + sig
			}
			idx.add(Entry{Symbol: m[1], Kind: kind, Signature: sig, Source: source, Description: joinDoc(doc)})
			reset()

		default:
			reset()
		}
	}
	return sc.Err()
}

func joinDoc(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// addDocsIndex reads docs-index.json. The file may carry comments and
// trailing commas. Any object whose members describe a symbol (name,
// signature, description, url) becomes an entry; plain string values are
// descriptions keyed by their dotted path.
func (idx *index) addDocsIndex(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	idx.walkDocs("", doc, filepath.Base(path))
	return nil
}

func (idx *index) walkDocs(prefix string, v any, source string) {
	switch t := v.(type) {
	case map[string]any:
		e, isEntry := docEntry(prefix, t, source)
		if isEntry {
			idx.add(e)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isEntryField(k) {
				continue
			}
			child := t[k]
			if s, ok := child.(string); ok {
				if isEntry {
					continue
				}
				idx.add(Entry{Symbol: joinSymbol(prefix, k), Kind: "doc", Source: source, Description: s})
				continue
			}
			idx.walkDocs(childPrefix(prefix, k), child, source)
		}
	case []any:
		for _, item := range t {
			idx.walkDocs(prefix, item, source)
		}
	}
}

var entryFields = map[string]bool{"name": true, "symbol": true, "signature": true, "description": true, "url": true, "kind": true, "type": true}

func isEntryField(k string) bool { return entryFields[k] }

func docEntry(prefix string, obj map[string]any, source string) (Entry, bool) {
	str := func(k string) string {
		s, _ := obj[k].(string)
		return s
	}
	name := str("symbol")
	if name == "" {
		name = str("name")
	}
	if name == "" {
		name = prefix
	} else if prefix != "" && !strings.Contains(name, ".") {
		if prefix == name || strings.HasSuffix(prefix, "."+name) {
			name = prefix
		} else {
			name = prefix + "." + name
		}
	}
	if name == "" || (str("signature") == "" && str("description") == "" && str("url") == "") {
		return Entry{}, false
	}
	desc := str("description")
	if u := str("url"); u != "" {
		desc = strings.TrimSpace(desc + "\n" + u)
	}
	kind := str("kind")
	if kind == "" {
		kind = str("type")
	}
	if kind == "" {
		kind = "doc"
	}
	return Entry{Symbol: name, Kind: kind, Signature: str("signature"), Source: source, Description: desc}, true
}

// Container keys group entries without naming a namespace.
var containerKeys = map[string]bool{"symbols": true, "entries": true, "items": true, "functions": true, "classes": true, "libraries": true, "constants": true, "callbacks": true}

func isContainerKey(k string) bool { return containerKeys[strings.ToLower(k)] }

func childPrefix(prefix, k string) string {
	if isContainerKey(k) {
		return prefix
	}
	return joinSymbol(prefix, k)
}

func joinSymbol(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// listContextFiles returns every *.md below dir as a dotted symbol.
func listContextFiles(dir string) []string {
	if dir == "" {
		return nil
	}
	var names []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		rel = strings.TrimSuffix(filepath.ToSlash(rel), ".md")
		names = append(names, strings.ReplaceAll(rel, "/", "."))
		return nil
	})
	sort.Strings(names)
	return names
}
