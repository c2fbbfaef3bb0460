package ingest

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/backpressure"
	"github.com/taskmasterpeace/lognog/pkg/dlq"
	"github.com/taskmasterpeace/lognog/pkg/tracing"
	"github.com/taskmasterpeace/lognog/pkg/types"
	"github.com/taskmasterpeace/lognog/pkg/validation"
)

// tracer spans the receive -> extract -> batch insert path (SPEC_FULL
// §2 "Tracing"). It picks up whatever TracerProvider the process
// installed at startup; with tracing disabled that's a no-op provider.
var tracer = otel.Tracer("lognog/ingest")

// Router owns every ingestion transport (UDP, TCP, optional Kafka) and
// the set of per-index Batchers they feed. One Batcher is created
// lazily the first time a frame routes to a previously unseen index.
type Router struct {
	config     types.IngestConfig
	adapter    storage.Adapter
	extractor  *extract.Extractor
	indexRoute IndexRouter
	logger     *logrus.Logger

	receiver    *Receiver
	kafka       *KafkaSource
	pressure    *backpressure.Manager
	deadLetters *dlq.Queue
	tsValidator *validation.TimestampValidator

	mu       sync.Mutex
	batchers map[string]*Batcher
	batchWg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRouter(config types.IngestConfig, adapter storage.Adapter, extractor *extract.Extractor, indexRoute IndexRouter, logger *logrus.Logger) *Router {
	if indexRoute == nil {
		indexRoute = DefaultIndexRouter
	}
	return &Router{
		config:     config,
		adapter:    adapter,
		extractor:  extractor,
		indexRoute: indexRoute,
		logger:     logger,
		batchers:   make(map[string]*Batcher),
		pressure:   backpressure.NewManager(backpressure.Config{}, logger),
		deadLetters: dlq.NewQueue(dlq.Config{
			Enabled:       config.DeadLetter.Enabled,
			Directory:     config.DeadLetter.Directory,
			QueueSize:     config.DeadLetter.QueueSize,
			MaxFiles:      config.DeadLetter.MaxFiles,
			MaxFileSize:   config.DeadLetter.MaxFileSizeMB,
			RetentionDays: config.DeadLetter.RetentionDays,
		}, logger),
	}
}

// WithTimestampValidator installs a drift check that runs on every
// built event before it reaches a Batcher. A rejected event is dropped
// here rather than submitted, since the validator has already routed
// it to the dead-letter queue itself.
func (r *Router) WithTimestampValidator(v *validation.TimestampValidator) *Router {
	r.tsValidator = v
	return r
}

// Start launches the configured transports. Each accepted frame runs
// through ParseFrame/BuildEvent and lands in the destination index's
// Batcher, created on first use.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.deadLetters.Start(); err != nil {
		return err
	}

	r.receiver = NewReceiver(r.logger, r.extractor, r.onFrame)

	if r.config.UDP.Enabled {
		if err := r.receiver.ListenUDP(r.ctx, r.config.UDP.Addr); err != nil {
			return err
		}
	}
	if r.config.TCP.Enabled {
		if err := r.receiver.ListenTCP(r.ctx, r.config.TCP.Addr); err != nil {
			return err
		}
	}

	kafka, err := NewKafkaSource(r.config.Kafka, r.logger, r.onFrame)
	if err != nil {
		return err
	}
	r.kafka = kafka
	if err := r.kafka.Start(r.ctx); err != nil {
		return err
	}

	r.batchWg.Add(1)
	go func() {
		defer r.batchWg.Done()
		r.samplePressure(r.ctx)
	}()

	return nil
}

// samplePressure feeds gopsutil CPU/memory readings plus the busiest
// batcher's queue utilization into the backpressure manager every few
// seconds, so ShouldReject reflects real host load rather than only
// queue depth.
func (r *Router) samplePressure(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := backpressure.Metrics{QueueUtilization: r.busiestQueueUtilization()}
			if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
				m.CPUUtilization = pct[0] / 100
			}
			if vm, err := mem.VirtualMemory(); err == nil {
				m.MemoryUtilization = vm.UsedPercent / 100
			}
			r.pressure.UpdateMetrics(m)
		}
	}
}

func (r *Router) busiestQueueUtilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	max := 0.0
	for _, b := range r.batchers {
		if u := b.QueueUtilization(); u > max {
			max = u
		}
	}
	return max
}

func (r *Router) onFrame(frame string, sourceIP net.IP, sourcePort int, protocol string) {
	if r.pressure.ShouldReject() {
		metrics.RecordDrop("_pressure", "backpressure_critical")
		return
	}

	var event *types.Event
	_ = tracing.Run(r.ctx, tracer, "ingest.receive", func(ctx context.Context) error {
		now := time.Now()
		rp := ParseFrame(frame, sourceIP, sourcePort, protocol, now)
		return tracing.Run(ctx, tracer, "ingest.extract", func(context.Context) error {
			event = BuildEvent(rp, frame, r.indexRoute, r.extractor, now)
			return nil
		})
	})

	if r.tsValidator != nil {
		if result := r.tsValidator.Validate(event); !result.Valid {
			return
		}
	}

	r.batcherFor(event.IndexName).Submit(event)
}

func (r *Router) batcherFor(index string) *Batcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.batchers[index]; ok {
		return b
	}

	maxDelay := types.DurationOrDefault(r.config.Batch.MaxDelay, 2*time.Second)
	b := NewBatcher(index, r.adapter, r.logger, r.config.QueueSize, r.config.Batch.MaxSize, maxDelay)
	b.WithDeadLetterQueue(r.deadLetters)
	r.batchers[index] = b

	r.batchWg.Add(1)
	go func() {
		defer r.batchWg.Done()
		b.Run(r.ctx)
	}()

	r.logger.WithField("index", index).Info("ingest batcher started")
	return b
}

// Stop drains transports first (so no new frames arrive), then lets
// every Batcher flush its tail and waits for them to finish.
func (r *Router) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	if r.kafka != nil {
		r.kafka.Stop()
	}
	if r.receiver != nil {
		r.receiver.Close()
	}

	r.mu.Lock()
	batchers := make([]*Batcher, 0, len(r.batchers))
	for _, b := range r.batchers {
		batchers = append(batchers, b)
	}
	r.mu.Unlock()

	for _, b := range batchers {
		b.Stop()
	}
	r.batchWg.Wait()

	metrics.IngestQueueDepth.Reset()
	return r.deadLetters.Stop()
}
