package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// StackFrame is one parsed line of a stack trace (spec.md §4.6: "a
// separate helper invoked on demand by the consumer, not the ingestion
// path").
type StackFrame struct {
	Function string
	File     string
	Line     int
}

var (
	// frame-style (Java/JS): "at com.example.Foo.bar(Foo.java:42)"
	frameStyleRE = regexp.MustCompile(`^\s*at\s+(?P<func>[\w.$<>]+)\((?P<file>[^:]+):(?P<line>\d+)\)\s*$`)
	// VM-style: File "script.py", line 10, in <module>
	vmStyleRE = regexp.MustCompile(`^\s*File "(?P<file>[^"]+)", line (?P<line>\d+), in (?P<func>.+)$`)
	// native Go-style: "\t/path/to/file.go:42 +0x1d" following a function name line
	nativeLocRE = regexp.MustCompile(`^\s*(?P<file>\S+\.go):(?P<line>\d+)(?:\s+\+0x[0-9a-f]+)?\s*$`)
	nativeFnRE  = regexp.MustCompile(`^(?P<func>[\w./*()]+)\(.*\)\s*$`)
)

// ParseStackTrace extracts StackFrame entries from a multi-line stack
// trace, recognizing native-style (Go), VM-style (Python "File ...,
// line N"), and frame-style (Java/JS "at pkg.Class.method(File:line)")
// formats within the same input.
func ParseStackTrace(trace string) []StackFrame {
	var frames []StackFrame
	lines := strings.Split(trace, "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := matchNamed(frameStyleRE, line); m != nil {
			frames = append(frames, StackFrame{Function: m["func"], File: m["file"], Line: atoi(m["line"])})
			continue
		}
		if m := matchNamed(vmStyleRE, line); m != nil {
			frames = append(frames, StackFrame{Function: m["func"], File: m["file"], Line: atoi(m["line"])})
			continue
		}
		if fn := matchNamed(nativeFnRE, line); fn != nil && i+1 < len(lines) {
			if loc := matchNamed(nativeLocRE, lines[i+1]); loc != nil {
				frames = append(frames, StackFrame{Function: fn["func"], File: loc["file"], Line: atoi(loc["line"])})
				i++
				continue
			}
		}
	}
	return frames
}

func matchNamed(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	names := re.SubexpNames()
	out := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" || i >= len(m) {
			continue
		}
		out[name] = m[i]
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
