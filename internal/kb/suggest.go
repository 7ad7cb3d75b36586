package kb

import (
	"sort"
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// MaxSuggestions caps the suggestion list returned with a miss.
const MaxSuggestions = 5

var initAlgo sync.Once

type scored struct {
	name  string
	score int
}

// suggest ranks candidates against query with fzf's matcher. The second
// return value is false when nothing matched fuzzily and the list comes
// from the prefix fallback instead.
func suggest(candidates []string, query string, limit int) ([]string, bool) {
	query = strings.TrimSpace(query)
	if query == "" || len(candidates) == 0 {
		return nil, false
	}
	initAlgo.Do(func() { algo.Init("default") })

	pattern := []rune(strings.ToLower(query))
	slab := util.MakeSlab(100*1024, 2048)

	var hits []scored
	for _, c := range candidates {
		chars := util.ToChars([]byte(c))
		res, _ := algo.FuzzyMatchV2(false, true, true, &chars, pattern, false, slab)
		if res.Start < 0 || res.Score <= 0 {
			continue
		}
		hits = append(hits, scored{name: c, score: res.Score})
	}
	if len(hits) == 0 {
		return prefixFallback(candidates, query, limit), false
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if len(hits[i].name) != len(hits[j].name) {
			return len(hits[i].name) < len(hits[j].name)
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out, true
}

// prefixFallback returns candidates sharing the query's namespace or its
// first three characters.
func prefixFallback(candidates []string, query string, limit int) []string {
	q := strings.ToLower(query)
	ns, _, hasNS := strings.Cut(q, ".")
	head := q
	if len(head) > 3 {
		head = head[:3]
	}

	var out []string
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if (hasNS && strings.HasPrefix(lc, ns+".")) || strings.HasPrefix(lc, head) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
