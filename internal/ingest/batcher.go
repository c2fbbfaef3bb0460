// Package ingest implements the syslog/Kafka receive path: framing,
// RFC3164/5424/JSON parsing, field extraction, and per-index batched
// writes into the storage adapter (spec.md §4.5).
package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/dlq"
	"github.com/taskmasterpeace/lognog/pkg/tracing"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// retryBackoff mirrors the teacher's batch-retry timer idiom, but as a
// closed-form exponential schedule rather than a reschedule-through-the-
// queue loop: base 100ms, factor 2, capped at 30s, 5 retries after the
// first attempt (6 attempts in all) before the batch is dropped.
const (
	retryBase   = 100 * time.Millisecond
	retryFactor = 2.0
	retryCap    = 30 * time.Second
	retryMaxTry = 5
)

func retryDelay(attempt int) time.Duration {
	d := float64(retryBase) * math.Pow(retryFactor, float64(attempt))
	if d > float64(retryCap) {
		d = float64(retryCap)
	}
	return time.Duration(d)
}

// Batcher accumulates events for one index and flushes them to the
// storage adapter on size or delay, whichever comes first (spec.md
// §4.5). One Batcher runs per index; the Router owns the set.
type Batcher struct {
	index       string
	adapter     storage.Adapter
	logger      *logrus.Logger
	maxSize     int
	maxDelay    time.Duration
	deadLetters *dlq.Queue

	queue chan *types.Event
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewBatcher(index string, adapter storage.Adapter, logger *logrus.Logger, queueSize, maxSize int, maxDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = 500
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Batcher{
		index:    index,
		adapter:  adapter,
		logger:   logger,
		maxSize:  maxSize,
		maxDelay: maxDelay,
		queue:    make(chan *types.Event, queueSize),
		done:     make(chan struct{}),
	}
}

// WithDeadLetterQueue attaches a shared dlq.Queue that receives events
// from batches still failing after every retry, so they can be
// inspected or replayed instead of only being counted as dropped.
func (b *Batcher) WithDeadLetterQueue(q *dlq.Queue) *Batcher {
	b.deadLetters = q
	return b
}

// Submit enqueues an event. Under queue overflow the oldest buffered
// event is dropped to make room (spec.md §4.5: "drop oldest, increment
// counter" rather than blocking the receiver).
func (b *Batcher) Submit(e *types.Event) {
	select {
	case b.queue <- e:
		metrics.IngestQueueDepth.WithLabelValues(b.index).Set(float64(len(b.queue)))
	default:
		select {
		case <-b.queue:
			metrics.RecordDrop(b.index, "queue_overflow")
		default:
		}
		select {
		case b.queue <- e:
		default:
			metrics.RecordDrop(b.index, "queue_overflow")
		}
	}
}

func (b *Batcher) Run(ctx context.Context) {
	b.wg.Add(1)
	defer b.wg.Done()

	batch := make([]*types.Event, 0, b.maxSize)
	timer := time.NewTimer(b.maxDelay)
	timer.Stop()

	flush := func(trigger string) {
		if len(batch) == 0 {
			return
		}
		b.flushWithRetry(ctx, batch, trigger)
		batch = make([]*types.Event, 0, b.maxSize)
	}

	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		// ctx is already cancelled here; the tail is flushed on a context
		// that keeps ctx's values but not its cancellation.
		if len(batch) > 0 {
			b.flushWithRetry(context.WithoutCancel(ctx), batch, "shutdown")
		}
		close(b.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			batch = append(batch, e)
			metrics.IngestQueueDepth.WithLabelValues(b.index).Set(float64(len(b.queue)))
			if len(batch) == 1 {
				timer.Reset(b.maxDelay)
			}
			if len(batch) >= b.maxSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush("size")
			}
		case <-timer.C:
			flush("delay")
		}
	}
}

func (b *Batcher) flushWithRetry(ctx context.Context, batch []*types.Event, trigger string) {
	var err error
	for attempt := 0; attempt <= retryMaxTry; attempt++ {
		if attempt > 0 {
			metrics.IngestBatchRetriesTotal.WithLabelValues(b.index).Inc()
			select {
			case <-time.After(retryDelay(attempt - 1)):
			case <-ctx.Done():
				return
			}
		}
		err = tracing.Run(ctx, tracer, "ingest.batch_insert", func(ctx context.Context) error {
			return b.adapter.InsertBatch(ctx, b.index, batch)
		})
		if err == nil {
			metrics.RecordBatch(b.index, trigger, len(batch))
			return
		}
		b.logger.WithError(err).WithFields(logrus.Fields{"index": b.index, "attempt": attempt, "batch_size": len(batch)}).Warn("batch insert failed")
	}
	metrics.RecordDrop(b.index, "retries_exhausted")
	b.logger.WithError(err).WithField("index", b.index).Error("batch insert exhausted retries, dropping batch")

	if b.deadLetters != nil {
		for _, e := range batch {
			b.deadLetters.Add(b.index, e, err.Error(), retryMaxTry)
		}
	}
}

// QueueUtilization reports how full this batcher's queue currently is,
// in [0, 1], for the backpressure manager's scoring.
func (b *Batcher) QueueUtilization() float64 {
	return float64(len(b.queue)) / float64(cap(b.queue))
}

// Stop waits for the run loop to flush its final batch and exit; the
// loop ends when the context passed to Run is cancelled.
func (b *Batcher) Stop() {
	<-b.done
	b.wg.Wait()
}
