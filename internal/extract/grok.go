// Package extract implements the three-layer field extractor: a JSON
// flattening pass, a fixed set of built-in full-line patterns, and
// user-defined regex/Grok patterns loaded from the catalog and
// hot-reloadable from disk (spec.md §4.6).
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// grokSubstitutions is the fixed table of named building blocks a Grok
// template may reference as %{NAME} or %{NAME:alias} (spec.md §4.6).
var grokSubstitutions = map[string]string{
	"IP":                `(?:\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`,
	"NUMBER":             `(?:[+-]?\d+(?:\.\d+)?)`,
	"INT":                `(?:[+-]?\d+)`,
	"WORD":               `(?:\w+)`,
	"HOSTNAME":           `(?:[a-zA-Z0-9][a-zA-Z0-9.-]*)`,
	"TIMESTAMP_ISO8601":  `(?:\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`,
	"GREEDYDATA":         `(?:.*)`,
	"DATA":               `(?:.*?)`,
	"QUOTEDSTRING":       `(?:"(?:[^"\\]|\\.)*")`,
	"PATH":               `(?:(?:/[^/\s]*)+)`,
	"LOGLEVEL":           `(?:[Dd]ebug|[Ii]nfo|[Ww]arn(?:ing)?|[Ee]rror|[Ff]atal|[Cc]ritical|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|CRITICAL)`,
	"UUID":               `(?:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`,
	"EMAILADDRESS":       `(?:[\w.+-]+@[\w-]+\.[\w.-]+)`,
	"MONTH":              `(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`,
	"SYSLOGTIMESTAMP":    `(?:[A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})`,
}

var grokTokenPattern = regexp.MustCompile(`%\{(\w+)(?::(\w+))?\}`)

// CompileGrok turns a Grok-style template into a compiled regex with
// named capture groups, substituting each %{NAME} / %{NAME:alias}
// reference from the fixed table. An unknown %{NAME} is a compile
// error, not a silent passthrough.
func CompileGrok(template string) (*regexp.Regexp, error) {
	var missing string
	pattern := grokTokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		m := grokTokenPattern.FindStringSubmatch(tok)
		name, alias := m[1], m[2]
		sub, ok := grokSubstitutions[name]
		if !ok {
			missing = name
			return tok
		}
		if alias != "" {
			return fmt.Sprintf("(?P<%s>%s)", alias, innerPattern(sub))
		}
		return sub
	})
	if missing != "" {
		return nil, fmt.Errorf("grok: unknown pattern %%{%s}", missing)
	}
	return regexp.Compile(pattern)
}

// innerPattern strips the outer non-capturing group wrapper from a
// grokSubstitutions entry so it can be re-wrapped as a named group
// without nesting an extra (?:...) inside (?P<name>...).
func innerPattern(sub string) string {
	if strings.HasPrefix(sub, "(?:") && strings.HasSuffix(sub, ")") {
		return sub[3 : len(sub)-1]
	}
	return sub
}
