package extract

import "regexp"

// builtinPattern is one of the fixed, full-line patterns tried in order;
// the first match wins and no other full-line pattern is attempted
// (spec.md §4.6).
type builtinPattern struct {
	name string
	re   *regexp.Regexp
}

var builtinPatterns = []builtinPattern{
	{
		name: "apache_combined",
		re: regexp.MustCompile(`^(?P<client_ip>\S+) \S+ (?P<ident>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<path>\S+) (?P<http_version>[^"]+)" (?P<status>\d+) (?P<bytes>\S+) "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"$`),
	},
	{
		name: "apache_common",
		re: regexp.MustCompile(`^(?P<client_ip>\S+) \S+ (?P<ident>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<path>\S+) (?P<http_version>[^"]+)" (?P<status>\d+) (?P<bytes>\S+)$`),
	},
	{
		name: "nginx_access",
		re: regexp.MustCompile(`^(?P<client_ip>\S+) - (?P<ident>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<path>\S+) HTTP/(?P<http_version>\S+)" (?P<status>\d+) (?P<bytes>\d+) "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"$`),
	},
	{
		name: "rfc5424_syslog",
		re: regexp.MustCompile(`^<(?P<pri>\d{1,3})>(?P<version>\d) (?P<timestamp>\S+) (?P<hostname>\S+) (?P<app_name>\S+) (?P<procid>\S+) (?P<msgid>\S+) (?P<structured>(?:-|\[.*\])) ?(?P<message>.*)$`),
	},
	{
		name: "rfc3164_syslog",
		re: regexp.MustCompile(`^<(?P<pri>\d{1,3})>(?P<timestamp>[A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2}) (?P<hostname>\S+) (?P<app_name>\S+?)(?:\[(?P<pid>\d+)\])?: (?P<message>.*)$`),
	},
	{
		name: "bracketed_error",
		re: regexp.MustCompile(`^\[(?P<timestamp>[^\]]+)\]\s*\[(?P<level>\w+)\]\s*(?P<message>.*)$`),
	},
}

// MatchBuiltin tries each builtin pattern in order and returns the
// first full-line match's named groups, or nil if none matched.
func MatchBuiltin(line string) (string, map[string]string) {
	for _, p := range builtinPatterns {
		if fields := namedGroups(p.re, line); fields != nil {
			return p.name, fields
		}
	}
	return "", nil
}

func namedGroups(re *regexp.Regexp, s string) map[string]string {
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

// Secondary scanners: pick out every occurrence of a well-known shape
// anywhere in the message, independent of which (if any) full-line
// pattern matched (spec.md §4.6).
var (
	scanIP       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	scanURL      = regexp.MustCompile(`\bhttps?://[^\s"']+`)
	scanUUID     = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	scanEmail    = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)
	scanDuration = regexp.MustCompile(`\b\d+(?:\.\d+)?(?:ms|s|m|h)\b`)
)

// ScanSecondary returns every match of each secondary scanner found in
// message, keyed by a fixed field-name suffix ("_ips", "_urls", ...).
func ScanSecondary(message string) map[string][]string {
	out := map[string][]string{}
	add := func(key string, re *regexp.Regexp) {
		if matches := re.FindAllString(message, -1); len(matches) > 0 {
			out[key] = matches
		}
	}
	add("ips", scanIP)
	add("urls", scanURL)
	add("uuids", scanUUID)
	add("emails", scanEmail)
	add("durations", scanDuration)
	return out
}
