package ingest

import (
	"net"
	"regexp"
	"strconv"
	"time"
)

// rfc3164Pattern matches the classic BSD syslog frame:
// <PRI>Mon  2 15:04:05 hostname tag[pid]: message
var rfc3164Pattern = regexp.MustCompile(
	`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[\s]+)(?:\[(\d+)\])?:\s?(.*)$`)

// parseRFC3164 parses a single frame per RFC 3164 (spec.md §4.5). RFC
// 3164 carries no year or timezone, so the timestamp is anchored to the
// current year/location and reconciled against received_at downstream
// (Event.ReconcileTimestamps) if the guess lands far outside the window.
func parseRFC3164(frame string, sourceIP net.IP, sourcePort int, protocol string, now time.Time) (*rawParse, bool) {
	m := rfc3164Pattern.FindStringSubmatch(frame)
	if m == nil {
		return nil, false
	}

	pri, err := strconv.Atoi(m[1])
	if err != nil || pri < 0 || pri > 191 {
		return nil, false
	}

	ts, err := time.ParseInLocation("Jan _2 15:04:05", m[2], now.Location())
	if err != nil {
		ts = now
	} else {
		ts = ts.AddDate(now.Year(), 0, 0)
	}

	return &rawParse{
		Priority:   pri,
		Timestamp:  ts,
		Hostname:   m[3],
		AppName:    m[4],
		Message:    m[6],
		SourceIP:   sourceIP,
		SourcePort: sourcePort,
		Protocol:   protocol,
	}, true
}
