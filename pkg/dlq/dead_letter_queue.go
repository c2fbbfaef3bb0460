// Package dlq persists events a batcher could not write after
// exhausting its retry schedule, so an operator can inspect or replay
// them instead of losing them silently (spec.md §4.5's "drop batch,
// increment counter" still loses data without this).
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/pkg/types"
)

// Config configures the dead letter queue's on-disk file rotation.
type Config struct {
	Enabled       bool  `yaml:"enabled"`
	Directory     string `yaml:"directory"`
	QueueSize     int    `yaml:"queue_size"`
	MaxFiles      int    `yaml:"max_files"`
	MaxFileSize   int64  `yaml:"max_file_size_mb"`
	RetentionDays int    `yaml:"retention_days"`
}

// Entry is one event that failed to persist, along with why.
type Entry struct {
	Timestamp    time.Time   `json:"timestamp"`
	Index        string      `json:"index"`
	Event        *types.Event `json:"event"`
	ErrorMessage string      `json:"error_message"`
	RetryCount   int         `json:"retry_count"`
}

// Stats is a point-in-time snapshot of the queue's counters.
type Stats struct {
	TotalEntries     int64
	EntriesWritten   int64
	WriteErrors      int64
	CurrentQueueSize int
	FilesCreated     int64
	LastFlush        time.Time
}

// Queue buffers failed batches in memory and appends them to rotating
// JSONL files on disk. One Queue is shared across all of a Router's
// per-index Batchers.
type Queue struct {
	config Config
	logger *logrus.Logger

	queue chan Entry
	file  *os.File
	mu    sync.RWMutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(config Config, logger *logrus.Logger) *Queue {
	if config.QueueSize <= 0 {
		config.QueueSize = 10000
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 10
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 100
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 7
	}
	if config.Directory == "" {
		config.Directory = "./dlq"
	}

	return &Queue{
		config: config,
		logger: logger,
		queue:  make(chan Entry, config.QueueSize),
	}
}

// Start opens the current DLQ file and launches the write loop and the
// daily retention sweep. A no-op when the queue is disabled.
func (q *Queue) Start() error {
	if !q.config.Enabled {
		q.logger.Info("dead letter queue disabled")
		return nil
	}

	if err := os.MkdirAll(q.config.Directory, 0o755); err != nil {
		return fmt.Errorf("dlq: create directory: %w", err)
	}
	if err := q.createNewFile(); err != nil {
		return fmt.Errorf("dlq: create initial file: %w", err)
	}

	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.wg.Add(2)
	go q.writeLoop()
	go q.cleanupLoop()
	return nil
}

// Add enqueues a failed event for durable logging. Overflow is
// silently dropped (the caller has already exhausted retries; a
// full DLQ queue means the disk itself can't keep up).
func (q *Queue) Add(index string, event *types.Event, errMsg string, retryCount int) {
	if !q.config.Enabled {
		return
	}

	entry := Entry{Timestamp: time.Now(), Index: index, Event: event, ErrorMessage: errMsg, RetryCount: retryCount}
	select {
	case q.queue <- entry:
		q.mu.Lock()
		q.stats.TotalEntries++
		q.mu.Unlock()
	default:
		q.logger.Warn("dead letter queue full, dropping entry")
		q.mu.Lock()
		q.stats.WriteErrors++
		q.mu.Unlock()
	}
}

func (q *Queue) writeLoop() {
	defer q.wg.Done()

	for entry := range q.queue {
		q.writeEntry(entry)
	}
}

func (q *Queue) writeEntry(entry Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.file == nil {
		q.stats.WriteErrors++
		return
	}
	if q.shouldRotateFile() {
		q.rotateFile()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		q.logger.WithError(err).Error("failed to marshal dlq entry")
		q.stats.WriteErrors++
		return
	}
	data = append(data, '\n')

	if _, err := q.file.Write(data); err != nil {
		q.logger.WithError(err).Error("failed to write dlq entry")
		q.stats.WriteErrors++
		return
	}
	q.stats.EntriesWritten++
}

func (q *Queue) shouldRotateFile() bool {
	if q.file == nil {
		return true
	}
	info, err := q.file.Stat()
	if err != nil {
		return true
	}
	return info.Size() >= q.config.MaxFileSize*1024*1024
}

func (q *Queue) rotateFile() {
	if q.file != nil {
		q.file.Close()
	}
	if err := q.createNewFile(); err != nil {
		q.logger.WithError(err).Error("failed to create new dlq file")
	}
}

func (q *Queue) createNewFile() error {
	name := fmt.Sprintf("dlq_%s.jsonl", time.Now().Format("20060102_150405.000000000"))
	path := filepath.Join(q.config.Directory, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	q.file = file
	q.stats.FilesCreated++
	return nil
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.cleanupOldFiles()
		}
	}
}

func (q *Queue) cleanupOldFiles() {
	pattern := filepath.Join(q.config.Directory, "dlq_*.jsonl")
	files, err := filepath.Glob(pattern)
	if err != nil {
		q.logger.WithError(err).Error("failed to list dlq files for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -q.config.RetentionDays)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				q.logger.WithError(err).WithField("file", f).Warn("failed to remove old dlq file")
			}
		}
	}
}

// Stop flushes the remaining queue to disk and closes the file.
func (q *Queue) Stop() error {
	if !q.config.Enabled {
		return nil
	}
	q.cancel()
	close(q.queue)
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.file != nil {
		q.file.Close()
		q.file = nil
	}
	return nil
}

func (q *Queue) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	stats := q.stats
	stats.CurrentQueueSize = len(q.queue)
	return stats
}
