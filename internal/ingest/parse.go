package ingest

import (
	"net"
	"time"

	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// rawParse is the parser chain's common output shape before it is
// turned into a types.Event (priority still needs splitting into
// facility/severity, index routing hasn't happened yet).
type rawParse struct {
	Priority   int
	Timestamp  time.Time
	Hostname   string
	AppName    string
	Message    string
	SourceIP   net.IP
	SourcePort int
	Protocol   string
}

// IndexRouter maps a parsed frame to the index it should be written to.
// The default router always returns "default" (spec.md §4.5); callers
// may supply a routing rule derived from hostname/app_name/structured
// fields.
type IndexRouter func(hostname, appName string) string

func DefaultIndexRouter(string, string) string { return types.DefaultIndexName }

// ParseFrame runs the parser-selection chain in order — RFC 5424, RFC
// 3164, whole-payload JSON, then a permissive fallback that keeps the
// raw line as Message — and always succeeds (spec.md §4.5).
func ParseFrame(frame string, sourceIP net.IP, sourcePort int, protocol string, now time.Time) *rawParse {
	if rp, ok := parseRFC5424(frame, sourceIP, sourcePort, protocol, now); ok {
		return rp
	}
	if rp, ok := parseRFC3164(frame, sourceIP, sourcePort, protocol, now); ok {
		return rp
	}
	if rp, ok := parseJSONFrame(frame, sourceIP, sourcePort, protocol, now); ok {
		return rp
	}
	return &rawParse{
		Priority:   1*8 + 6,
		Timestamp:  now,
		Message:    frame,
		SourceIP:   sourceIP,
		SourcePort: sourcePort,
		Protocol:   protocol,
	}
}

// BuildEvent turns a rawParse into a fully-formed Event: priority split,
// index routing, field extraction, raw-payload capture, and the §3
// timestamp-reconciliation invariant (spec.md §4.5 steps 1-3).
func BuildEvent(rp *rawParse, frame string, router IndexRouter, extractor *extract.Extractor, now time.Time) *types.Event {
	facility, severity, priority := types.NormalizePriority(rp.Priority)

	index := types.DefaultIndexName
	if router != nil {
		if r := router(rp.Hostname, rp.AppName); r != "" {
			index = r
		}
	}

	e := &types.Event{
		Timestamp:  rp.Timestamp,
		ReceivedAt: now,
		Hostname:   rp.Hostname,
		AppName:    rp.AppName,
		Message:    rp.Message,
		Severity:   severity,
		Facility:   facility,
		Priority:   priority,
		SourceIP:   rp.SourceIP,
		SourcePort: rp.SourcePort,
		Protocol:   rp.Protocol,
		IndexName:  index,
		Raw:        []byte(frame),
	}

	e.ReconcileTimestamps()
	e.TruncateRaw()
	if e.ParseFallback {
		metrics.RecordParseFallback(index)
	}

	if extractor != nil {
		e.StructuredData = extractor.Extract(rp.Message)
	}
	return e
}
