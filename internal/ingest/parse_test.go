package ingest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/lognog/internal/extract"
)

func TestParseFrameRFC5424(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := `<34>1 2026-03-01T11:59:58Z web01 myapp 4123 ID47 - login failed for user alice`

	rp := ParseFrame(frame, net.ParseIP("10.0.0.1"), 5514, "udp", now)

	require.Equal(t, 34, rp.Priority)
	assert.Equal(t, "web01", rp.Hostname)
	assert.Equal(t, "myapp", rp.AppName)
	assert.Equal(t, "login failed for user alice", rp.Message)
	assert.Equal(t, 2026, rp.Timestamp.Year())
}

func TestParseFrameRFC3164(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := `<13>Mar  1 11:59:58 web01 sshd[1234]: accepted password for root`

	rp := ParseFrame(frame, net.ParseIP("10.0.0.1"), 514, "udp", now)

	require.Equal(t, 13, rp.Priority)
	assert.Equal(t, "web01", rp.Hostname)
	assert.Equal(t, "sshd", rp.AppName)
	assert.Equal(t, "accepted password for root", rp.Message)
	assert.Equal(t, 2026, rp.Timestamp.Year())
}

func TestParseFrameJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := `{"hostname":"web02","app_name":"checkout","message":"order placed","severity":6,"facility":1}`

	rp := ParseFrame(frame, net.ParseIP("10.0.0.2"), 0, "tcp", now)

	require.Equal(t, 1*8+6, rp.Priority)
	assert.Equal(t, "web02", rp.Hostname)
	assert.Equal(t, "checkout", rp.AppName)
	assert.Equal(t, "order placed", rp.Message)
}

func TestParseFrameFallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := "not a syslog frame at all"

	rp := ParseFrame(frame, nil, 0, "tcp", now)

	assert.Equal(t, frame, rp.Message)
	assert.Equal(t, now, rp.Timestamp)
}

func TestBuildEventReconcilesStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rp := &rawParse{
		Priority:  38,
		Timestamp: now.Add(-365 * 24 * time.Hour),
		Hostname:  "web01",
		Message:   "hello",
		Protocol:  "udp",
	}

	e := BuildEvent(rp, "<38>hello", nil, nil, now)

	assert.True(t, e.ParseFallback)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "default", e.IndexName)
	assert.Equal(t, 4, e.Facility)
	assert.Equal(t, 6, e.Severity)
}

func TestBuildEventRoutesIndexAndExtractsFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rp := &rawParse{
		Priority:  38,
		Timestamp: now,
		Hostname:  "web01",
		AppName:   "checkout",
		Message:   `{"order_id":"abc123"}`,
		Protocol:  "tcp",
	}
	router := func(hostname, appName string) string { return "orders" }
	extractor := extract.NewExtractor()

	e := BuildEvent(rp, `{"order_id":"abc123"}`, router, extractor, now)

	assert.Equal(t, "orders", e.IndexName)
	assert.Equal(t, "abc123", e.StructuredData["order_id"])
	assert.False(t, e.ParseFallback)
}

func TestBuildEventTruncatesOversizedRaw(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	big := make([]byte, 128*1024)
	for i := range big {
		big[i] = 'x'
	}
	rp := &rawParse{Priority: 38, Timestamp: now, Message: "big", Protocol: "tcp"}

	e := BuildEvent(rp, string(big), nil, nil, now)

	assert.LessOrEqual(t, len(e.Raw), 64*1024)
}
