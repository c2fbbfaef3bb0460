// Package validation adds an operator-configurable timestamp sanity
// check on top of the fixed §3 reconciliation invariant every Event
// already carries (types.Event.ReconcileTimestamps). That invariant
// only prevents a wildly skewed wire timestamp from ever reaching
// storage; this validator lets an operator additionally clamp, reject,
// or merely flag events whose clock drift is suspicious within that
// window, well before an anomaly investigation would otherwise notice.
package validation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/pkg/dlq"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// Config controls the validator's drift tolerance and what happens to
// an event once it's exceeded.
type Config struct {
	Enabled             bool
	MaxPastAgeSeconds   int
	MaxFutureAgeSeconds int

	// InvalidAction is one of "clamp" (default), "reject", or "warn".
	InvalidAction string
}

// Stats tracks how many events the validator has seen and what it did
// with the ones outside tolerance.
type Stats struct {
	TotalValidated int64
	Valid          int64
	Clamped        int64
	Rejected       int64
	Warned         int64
}

// ValidationResult reports what the validator decided about one event.
type ValidationResult struct {
	Valid         bool
	OriginalTime  time.Time
	ValidatedTime time.Time
	Action        string // "valid", "clamped", "rejected", "warned", "disabled"
	Reason        string
}

// TimestampValidator holds the running stats and, when InvalidAction is
// "reject", the dead-letter queue rejected events are routed to instead
// of being inserted.
type TimestampValidator struct {
	config Config
	logger *logrus.Logger
	dlq    *dlq.Queue

	mu    sync.Mutex
	stats Stats
}

func NewTimestampValidator(config Config, logger *logrus.Logger, deadLetters *dlq.Queue) *TimestampValidator {
	if config.MaxPastAgeSeconds == 0 {
		config.MaxPastAgeSeconds = 21600 // 6h
	}
	if config.MaxFutureAgeSeconds == 0 {
		config.MaxFutureAgeSeconds = 60 // 1m
	}
	if config.InvalidAction == "" {
		config.InvalidAction = "clamp"
	}
	return &TimestampValidator{config: config, logger: logger, dlq: deadLetters}
}

// Validate checks e.Timestamp against the configured drift window and
// applies InvalidAction in place on e when it's out of tolerance. The
// caller should drop e from the batch when the result is not Valid —
// a rejected event has already been handed to the dead-letter queue.
func (v *TimestampValidator) Validate(e *types.Event) *ValidationResult {
	if !v.config.Enabled {
		return &ValidationResult{Valid: true, OriginalTime: e.Timestamp, ValidatedTime: e.Timestamp, Action: "disabled"}
	}

	v.mu.Lock()
	v.stats.TotalValidated++
	v.mu.Unlock()

	now := time.Now()
	result := &ValidationResult{OriginalTime: e.Timestamp, ValidatedTime: e.Timestamp, Valid: true, Action: "valid"}

	maxFuture := now.Add(time.Duration(v.config.MaxFutureAgeSeconds) * time.Second)
	maxPast := now.Add(-time.Duration(v.config.MaxPastAgeSeconds) * time.Second)

	switch {
	case e.Timestamp.After(maxFuture):
		result.Reason = "timestamp_too_far_future"
	case e.Timestamp.Before(maxPast):
		result.Reason = "timestamp_too_old"
	default:
		v.mu.Lock()
		v.stats.Valid++
		v.mu.Unlock()
		return result
	}

	return v.handleInvalid(e, result, now)
}

func (v *TimestampValidator) handleInvalid(e *types.Event, result *ValidationResult, now time.Time) *ValidationResult {
	switch v.config.InvalidAction {
	case "reject":
		result.Valid = false
		result.Action = "rejected"

		v.mu.Lock()
		v.stats.Rejected++
		v.mu.Unlock()

		v.logger.WithFields(logrus.Fields{
			"hostname":  e.Hostname,
			"index":     e.IndexName,
			"timestamp": result.OriginalTime,
			"reason":    result.Reason,
		}).Warn("timestamp validation rejected event")

		if v.dlq != nil {
			v.dlq.Add(e.IndexName, e, result.Reason, 0)
		}

	case "warn":
		result.Action = "warned"

		v.mu.Lock()
		v.stats.Warned++
		v.mu.Unlock()

		v.logger.WithFields(logrus.Fields{
			"hostname":  e.Hostname,
			"index":     e.IndexName,
			"timestamp": result.OriginalTime,
			"reason":    result.Reason,
		}).Warn("timestamp validation flagged event")

	default: // "clamp"
		e.Timestamp = now
		result.ValidatedTime = now
		result.Action = "clamped"

		v.mu.Lock()
		v.stats.Clamped++
		v.mu.Unlock()
	}

	return result
}

func (v *TimestampValidator) GetStats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}
