package kb

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LookupType returns type information for symbol. Lookups try the exact
// name, then method-call syntax (a:b as a.b), then a case-insensitive match.
func (k *KB) LookupType(symbol string) TypeInfo {
	idx := k.current()
	sym := normalizeSymbol(symbol)
	info := TypeInfo{Symbol: symbol}

	if e, ok := idx.resolve(sym); ok {
		info.Found = true
		info.Symbol = e.Symbol
		info.Kind = e.Kind
		info.Signature = e.Signature
		info.Source = e.Source
		info.Description = e.Description
		return info
	}

	suggestions, fuzzy := suggest(idx.names, sym, MaxSuggestions)
	info.Suggestions = suggestions
	if fuzzy && len(suggestions) > 0 {
		info.DidYouMean = suggestions[0]
	}
	return info
}

func (idx *index) resolve(sym string) (Entry, bool) {
	if e, ok := idx.entries[sym]; ok {
		return e, true
	}
	if canon, ok := idx.folded[strings.ToLower(sym)]; ok {
		return idx.entries[canon], true
	}
	return Entry{}, false
}

func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "()")
	return strings.ReplaceAll(s, ":", ".")
}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// LookupContext returns the curated markdown for symbol. File strategies,
// in order: exact name, lowercase, title case, dotted path as directories
// (draw.Color -> draw/Color.md), then the first file whose name contains
// the symbol.
func (k *KB) LookupContext(symbol string) (ContextInfo, error) {
	idx := k.current()
	dir := k.cfg.SmartContextDir
	sym := normalizeSymbol(symbol)
	info := ContextInfo{Symbol: symbol}

	if dir != "" && sym != "" {
		for _, rel := range contextCandidates(sym) {
			path := filepath.Join(dir, rel)
			if !within(path, dir) {
				continue
			}
			if content, err := os.ReadFile(path); err == nil {
				info.Found, info.Content, info.Path = true, string(content), path
				return info, nil
			}
		}

		if path, ok := findContaining(dir, sym); ok {
			content, err := os.ReadFile(path)
			if err != nil {
				return info, err
			}
			info.Found, info.Content, info.Path = true, string(content), path
			return info, nil
		}
	}

	pool := idx.contextNames
	if len(pool) == 0 {
		pool = idx.names
	}
	suggestions, fuzzy := suggest(pool, sym, MaxSuggestions)
	info.Suggestions = suggestions
	if fuzzy && len(suggestions) > 0 {
		info.DidYouMean = suggestions[0]
	}
	return info, nil
}

func contextCandidates(sym string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(rel string) {
		if !seen[rel] {
			seen[rel] = true
			out = append(out, rel)
		}
	}
	add(sym + ".md")
	add(strings.ToLower(sym) + ".md")
	add(titleCaser.String(sym) + ".md")
	if strings.Contains(sym, ".") {
		add(filepath.Join(strings.Split(sym, ".")...) + ".md")
	}
	return out
}

func findContaining(dir, sym string) (string, bool) {
	needle := strings.ToLower(sym)
	var found string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	return found, err == nil && found != ""
}

// within reports whether target is root or below it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
