package extract

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/pkg/types"
)

// PatternReloader watches a user-patterns file on disk and hot-reloads
// it into an Extractor without restarting the ingestion pipeline
// (spec.md §4.6 supplement; teacher's ConfigReloader debounce-and-atomic-
// swap idiom, scoped down to one file and one consumer).
type PatternReloader struct {
	path     string
	extract  *Extractor
	logger   *logrus.Logger
	watcher  *fsnotify.Watcher
	running  atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewPatternReloader(path string, extract *Extractor, logger *logrus.Logger) (*PatternReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PatternReloader{path: path, extract: extract, logger: logger, watcher: watcher}, nil
}

// Start loads the pattern file once, then watches it for changes. A
// missing file at startup is not fatal: the extractor runs with zero
// user patterns. The watch is placed on the file itself, so when it is
// missing at startup hot reload is disabled and a file created later
// is not loaded by this reloader.
func (r *PatternReloader) Start(ctx context.Context) error {
	if r.running.Swap(true) {
		return nil
	}

	if err := r.reload(); err != nil {
		r.logger.WithError(err).WithField("path", r.path).Warn("initial pattern load failed")
	}

	if err := r.watcher.Add(r.path); err != nil {
		r.logger.WithError(err).WithField("path", r.path).Warn("pattern file watch unavailable; hot reload disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.watch(runCtx)
	return nil
}

func (r *PatternReloader) Stop() {
	if !r.running.Load() {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.watcher.Close()
	r.wg.Wait()
	r.running.Store(false)
}

func (r *PatternReloader) watch(ctx context.Context) {
	defer r.wg.Done()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(500 * time.Millisecond)
				pending = true
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("pattern file watcher error")
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := r.reload(); err != nil {
				r.logger.WithError(err).Warn("pattern reload failed")
				metrics.ExtractionErrorsTotal.WithLabelValues("user_pattern_reload").Inc()
			} else {
				metrics.ExtractionReloadTotal.Inc()
			}
		}
	}
}

func (r *PatternReloader) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var rules []types.FieldExtractionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return err
	}
	if err := r.extract.SetRules(rules); err != nil {
		return err
	}
	r.logger.WithField("count", len(rules)).Info("user extraction patterns reloaded")
	return nil
}
