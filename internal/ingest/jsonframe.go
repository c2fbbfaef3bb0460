package ingest

import (
	"encoding/json"
	"net"
	"strings"
	"time"
)

// jsonFrame is the subset of a JSON payload frame that carries
// recognized syslog-shaped fields; other keys are not decoded here and
// reach the field extractor only when the frame itself becomes Message.
type jsonFrame struct {
	Timestamp string `json:"timestamp"`
	Hostname  string `json:"hostname"`
	AppName   string `json:"app_name"`
	Message   string `json:"message"`
	Severity  *int   `json:"severity"`
	Facility  *int   `json:"facility"`
}

// parseJSONFrame handles a whole-payload JSON object frame (spec.md
// §4.5: "a JSON frame: whole payload is a JSON object"). A non-empty
// "message" key becomes Message; otherwise the trimmed frame itself is
// used as Message so the field extractor's JSON layer can flatten it.
func parseJSONFrame(frame string, sourceIP net.IP, sourcePort int, protocol string, now time.Time) (*rawParse, bool) {
	trimmed := strings.TrimSpace(frame)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var jf jsonFrame
	if err := json.Unmarshal([]byte(trimmed), &jf); err != nil {
		return nil, false
	}

	ts := now
	if jf.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, jf.Timestamp); err == nil {
			ts = parsed
		}
	}

	priority := 1*8 + 6 // default facility=user, severity=info unless the frame carries both
	if jf.Facility != nil && jf.Severity != nil {
		priority = *jf.Facility*8 + *jf.Severity
	}

	message := jf.Message
	if message == "" {
		message = trimmed
	}

	return &rawParse{
		Priority:   priority,
		Timestamp:  ts,
		Hostname:   jf.Hostname,
		AppName:    jf.AppName,
		Message:    message,
		SourceIP:   sourceIP,
		SourcePort: sourcePort,
		Protocol:   protocol,
	}, true
}
