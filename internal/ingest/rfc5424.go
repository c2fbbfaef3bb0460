package ingest

import (
	"net"
	"regexp"
	"strconv"
	"time"
)

// rfc5424Pattern matches a full RFC 5424 frame:
// <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID STRUCTURED-DATA MSG
var rfc5424Pattern = regexp.MustCompile(
	`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+((?:-|\[.*?\]))\s?(.*)$`)

// parseRFC5424 parses a single frame per RFC 5424 (spec.md §4.5). The
// nil/nil-ish fields ("-") are normalized to empty strings; STRUCTURED-DATA
// is not decoded into structured_data here, only stripped from the
// message, so it remains only in the raw frame.
func parseRFC5424(frame string, sourceIP net.IP, sourcePort int, protocol string, now time.Time) (*rawParse, bool) {
	m := rfc5424Pattern.FindStringSubmatch(frame)
	if m == nil {
		return nil, false
	}

	pri, err := strconv.Atoi(m[1])
	if err != nil || pri < 0 || pri > 191 {
		return nil, false
	}

	ts, err := time.Parse(time.RFC3339Nano, m[3])
	if err != nil {
		ts, err = time.Parse(time.RFC3339, m[3])
		if err != nil {
			ts = now
		}
	}

	hostname := dashToEmpty(m[4])
	appName := dashToEmpty(m[5])
	message := m[9]

	return &rawParse{
		Priority:   pri,
		Timestamp:  ts,
		Hostname:   hostname,
		AppName:    appName,
		Message:    message,
		SourceIP:   sourceIP,
		SourcePort: sourcePort,
		Protocol:   protocol,
	}, true
}

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
