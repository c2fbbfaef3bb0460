package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

func TestCompileGrokPlainAlias(t *testing.T) {
	re, err := CompileGrok(`client=%{IP}`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("client=10.0.0.5"))
}

func TestCompileGrokNamedAlias(t *testing.T) {
	re, err := CompileGrok(`client=%{IP:client_ip} status=%{NUMBER:status}`)
	require.NoError(t, err)

	m := namedGroups(re, "client=10.0.0.5 status=200")
	require.NotNil(t, m)
	assert.Equal(t, "10.0.0.5", m["client_ip"])
	assert.Equal(t, "200", m["status"])
}

func TestMatchBuiltinApacheCombined(t *testing.T) {
	line := `127.0.0.1 - frank [10/Oct/2023:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326 "http://www.example.com/start.html" "Mozilla/4.08"`

	name, fields := MatchBuiltin(line)
	require.NotNil(t, fields)
	assert.Equal(t, "apache_combined", name)
	assert.Equal(t, "127.0.0.1", fields["client_ip"])
	assert.Equal(t, "200", fields["status"])
	assert.Equal(t, "/apache_pb.gif", fields["path"])
}

func TestMatchBuiltinNoMatch(t *testing.T) {
	_, fields := MatchBuiltin("just a plain unstructured message")
	assert.Nil(t, fields)
}

func TestScanSecondaryFindsMultipleKinds(t *testing.T) {
	out := ScanSecondary("request from 10.0.0.1 to 10.0.0.2 took 120ms, see https://example.com/docs")
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, out["ips"])
	assert.Equal(t, []string{"120ms"}, out["durations"])
	assert.Equal(t, []string{"https://example.com/docs"}, out["urls"])
}

func TestFlattenJSONNestedAndArray(t *testing.T) {
	fields, ok := FlattenJSON(`{"user":{"id":42,"tags":["a","b"]},"active":true}`)
	require.True(t, ok)
	assert.Equal(t, "42", fields["user.id"])
	assert.Equal(t, `["a","b"]`, fields["user.tags"])
	assert.Equal(t, "true", fields["active"])
}

func TestFlattenJSONRejectsNonObject(t *testing.T) {
	_, ok := FlattenJSON("not json at all")
	assert.False(t, ok)

	_, ok = FlattenJSON(`[1,2,3]`)
	assert.False(t, ok)
}

func TestParseStackTraceFrameStyle(t *testing.T) {
	trace := "Exception in thread \"main\"\n\tat com.example.Foo.bar(Foo.java:42)\n\tat com.example.Main.main(Main.java:10)"
	frames := ParseStackTrace(trace)
	require.Len(t, frames, 2)
	assert.Equal(t, "com.example.Foo.bar", frames[0].Function)
	assert.Equal(t, "Foo.java", frames[0].File)
	assert.Equal(t, 42, frames[0].Line)
}

func TestParseStackTraceVMStyle(t *testing.T) {
	trace := "Traceback (most recent call last):\n  File \"app.py\", line 10, in <module>\n    main()"
	frames := ParseStackTrace(trace)
	require.Len(t, frames, 1)
	assert.Equal(t, "app.py", frames[0].File)
	assert.Equal(t, 10, frames[0].Line)
	assert.Equal(t, "<module>", frames[0].Function)
}

func TestParseStackTraceNativeStyle(t *testing.T) {
	trace := "panic: runtime error\n\ngoroutine 1 [running]:\nmain.doWork(...)\n\t/src/app/main.go:27 +0x1d"
	frames := ParseStackTrace(trace)
	require.Len(t, frames, 1)
	assert.Equal(t, "main.doWork", frames[0].Function)
	assert.Equal(t, "/src/app/main.go", frames[0].File)
	assert.Equal(t, 27, frames[0].Line)
}

func TestExtractorLayerPriorityNeverOverwrites(t *testing.T) {
	ex := NewExtractor()
	require.NoError(t, ex.SetRules([]types.FieldExtractionRule{
		// names the same "status" key the JSON layer already set, but
		// pulls its value from a different field entirely.
		{Name: "backup_status", Pattern: `"backup_status":"(?P<status>\d+)"`, IsGrok: false, Priority: 10},
	}))

	message := `{"status":"json-value","backup_status":"999"}`

	fields := ex.Extract(message)
	assert.Equal(t, "json-value", fields["status"])
}

func TestExtractorAllLayersContributeDistinctKeys(t *testing.T) {
	ex := NewExtractor()
	require.NoError(t, ex.SetRules([]types.FieldExtractionRule{
		{Name: "req_id", Pattern: `req_id=(?P<req_id>\S+)`, IsGrok: false, Priority: 5},
	}))

	message := `{"service":"billing"} client=10.0.0.9 req_id=abc-123`

	fields := ex.Extract(message)
	assert.Contains(t, fields["ips"], "10.0.0.9")
	assert.Equal(t, "abc-123", fields["req_id"])
}

func TestExtractorUserPatternFillsGapBuiltinLeaves(t *testing.T) {
	ex := NewExtractor()
	require.NoError(t, ex.SetRules([]types.FieldExtractionRule{
		{Name: "session", Pattern: `session=%{WORD:session_id}`, IsGrok: true, Priority: 1},
	}))

	fields := ex.Extract("plain unstructured log line session=abc123")
	assert.Equal(t, "abc123", fields["session_id"])
}

func TestExtractorRulesSortedByPriority(t *testing.T) {
	ex := NewExtractor()
	require.NoError(t, ex.SetRules([]types.FieldExtractionRule{
		{Name: "low_first", Pattern: `v=(?P<v>\d+)`, IsGrok: false, Priority: 100},
		{Name: "high_first", Pattern: `v=(?P<v>\d+)-(?P<extra>\w+)`, IsGrok: false, Priority: 1},
	}))
	require.Len(t, ex.rules, 2)
	assert.Equal(t, "high_first", ex.rules[0].rule.Name)
	assert.Equal(t, "low_first", ex.rules[1].rule.Name)
}

func TestCompileRuleCacheReusesRegexByPatternHash(t *testing.T) {
	ex := NewExtractor()
	rule := types.FieldExtractionRule{Name: "a", Pattern: `x=(?P<x>\d+)`, Priority: 1}

	re1, err := ex.compile(rule)
	require.NoError(t, err)
	re2, err := ex.compile(rule)
	require.NoError(t, err)
	assert.Same(t, re1, re2)
}

func TestTestPatternAgainstSample(t *testing.T) {
	rule := types.FieldExtractionRule{Name: "check", Pattern: `%{IP:src}`, IsGrok: true}
	fields, err := Test(rule, "src was 192.168.1.1 today")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", fields["src"])
}

func TestTestPatternNoMatchErrors(t *testing.T) {
	rule := types.FieldExtractionRule{Name: "check", Pattern: `%{IP:src}`, IsGrok: true}
	_, err := Test(rule, "no ip address here")
	assert.Error(t, err)
}
