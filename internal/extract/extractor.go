package extract

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

// compiledRule is a user pattern (regex or Grok template) compiled once
// and cached by content hash so a hot reload that re-sends an unchanged
// pattern doesn't pay recompilation cost.
type compiledRule struct {
	rule types.FieldExtractionRule
	re   *regexp.Regexp
}

// Extractor runs the three-layer field extraction pipeline against a
// raw message (spec.md §4.6). It is safe for concurrent use: rules are
// swapped wholesale under a mutex by the hot-reload watcher, and the
// compiled-pattern cache is keyed by an xxhash of the pattern text so
// concurrent readers never race on a half-compiled regex.
type Extractor struct {
	mu    sync.RWMutex
	rules []compiledRule

	cacheMu sync.Mutex
	cache   map[uint64]*regexp.Regexp
}

func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[uint64]*regexp.Regexp)}
}

// SetRules atomically replaces the user-pattern set, sorted ascending
// by Priority (spec.md §4.6: "ordered by ascending priority value, lower
// runs first"). Called at startup and by the hot-reload watcher.
func (ex *Extractor) SetRules(rules []types.FieldExtractionRule) error {
	sorted := append([]types.FieldExtractionRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	compiled := make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		re, err := ex.compile(r)
		if err != nil {
			return fmt.Errorf("extract: rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: r, re: re})
	}

	ex.mu.Lock()
	ex.rules = compiled
	ex.mu.Unlock()
	return nil
}

func (ex *Extractor) compile(r types.FieldExtractionRule) (*regexp.Regexp, error) {
	key := xxhash.Sum64String(r.Pattern)

	ex.cacheMu.Lock()
	defer ex.cacheMu.Unlock()
	if re, ok := ex.cache[key]; ok {
		return re, nil
	}

	var re *regexp.Regexp
	var err error
	if r.IsGrok {
		re, err = CompileGrok(r.Pattern)
	} else {
		re, err = regexp.Compile(r.Pattern)
	}
	if err != nil {
		return nil, err
	}
	ex.cache[key] = re
	return re, nil
}

// Extract runs the JSON, built-in, and user-pattern layers against
// message in priority order and returns the merged field set. A lower-
// priority layer never overwrites a key a higher-priority layer already
// set (spec.md §4.6).
func (ex *Extractor) Extract(message string) map[string]string {
	fields := make(map[string]string)

	if flattened, ok := FlattenJSON(message); ok {
		mergeMissing(fields, flattened)
	}

	if _, builtin := MatchBuiltin(message); builtin != nil {
		mergeMissing(fields, builtin)
	}
	for k, vs := range ScanSecondary(message) {
		if _, exists := fields[k]; exists {
			continue
		}
		if len(vs) == 1 {
			fields[k] = vs[0]
		} else {
			fields[k] = fmt.Sprintf("%v", vs)
		}
	}

	ex.mu.RLock()
	rules := ex.rules
	ex.mu.RUnlock()
	for _, cr := range rules {
		if groups := namedGroups(cr.re, message); groups != nil {
			mergeMissing(fields, groups)
		}
	}

	return fields
}

func mergeMissing(dst, src map[string]string) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

// Test runs pattern against sample without mutating any catalog or
// cache state, for the DSL/catalog "test a pattern before saving it"
// workflow (spec.md §4.6 contract for test(pattern, sample)).
func Test(rule types.FieldExtractionRule, sample string) (map[string]string, error) {
	var re *regexp.Regexp
	var err error
	if rule.IsGrok {
		re, err = CompileGrok(rule.Pattern)
	} else {
		re, err = regexp.Compile(rule.Pattern)
	}
	if err != nil {
		return nil, err
	}
	groups := namedGroups(re, sample)
	if groups == nil {
		return nil, fmt.Errorf("extract: pattern did not match sample")
	}
	return groups, nil
}
