package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// RetentionSweeper runs the periodic per-index delete sweep (spec.md
// §4.8). Each index gets its own mutex so a slow delete on one index
// never blocks a sweep of another, while two overlapping sweeps of the
// same index (a slow delete plus a new tick) never run concurrently.
type RetentionSweeper struct {
	adapter Adapter
	logger  *logrus.Logger

	mu       sync.Mutex
	perIndex map[string]*sync.Mutex
}

func NewRetentionSweeper(adapter Adapter, logger *logrus.Logger) *RetentionSweeper {
	return &RetentionSweeper{adapter: adapter, logger: logger, perIndex: make(map[string]*sync.Mutex)}
}

func (s *RetentionSweeper) lockFor(index string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.perIndex[index]
	if !ok {
		l = &sync.Mutex{}
		s.perIndex[index] = l
	}
	return l
}

// Sweep deletes events older than index.RetentionDays, idempotently —
// running it twice in a row for a cutoff already passed is a cheap no-op
// delete that affects zero rows.
func (s *RetentionSweeper) Sweep(ctx context.Context, index types.Index) (int64, error) {
	lock := s.lockFor(index.Name)
	lock.Lock()
	defer lock.Unlock()

	days := index.RetentionDays
	if days <= 0 {
		days = types.DefaultRetentionDays
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := s.adapter.DeleteOlderThan(ctx, index.Name, cutoff)
	if err != nil {
		s.logger.WithError(err).WithField("index", index.Name).Error("retention sweep failed")
		return 0, err
	}
	metrics.RetentionDeletedTotal.WithLabelValues(index.Name).Add(float64(n))
	s.logger.WithFields(logrus.Fields{"index": index.Name, "deleted": n, "cutoff": cutoff}).Info("retention sweep complete")
	return n, nil
}

// SweepAll runs Sweep across every index in the catalog, logging but not
// aborting on a single index's failure so one bad index can't starve
// retention for the rest (spec.md §4.8).
func (s *RetentionSweeper) SweepAll(ctx context.Context, indexes []types.Index) {
	for _, idx := range indexes {
		if _, err := s.Sweep(ctx, idx); err != nil {
			continue
		}
	}
}
