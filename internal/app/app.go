// Package app composes the lognog server: storage adapter, catalog,
// ingestion router, field extractor, DSL query engine, and the
// baseline/anomaly/retention background loops, into one long-lived
// process sharing a single storage.Adapter (spec.md §5).
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmasterpeace/lognog/internal/anomaly"
	"github.com/taskmasterpeace/lognog/internal/baseline"
	"github.com/taskmasterpeace/lognog/internal/catalog"
	"github.com/taskmasterpeace/lognog/internal/config"
	"github.com/taskmasterpeace/lognog/internal/extract"
	"github.com/taskmasterpeace/lognog/internal/ingest"
	"github.com/taskmasterpeace/lognog/internal/metrics"
	"github.com/taskmasterpeace/lognog/internal/query"
	"github.com/taskmasterpeace/lognog/internal/storage"
	"github.com/taskmasterpeace/lognog/pkg/hotreload"
	"github.com/taskmasterpeace/lognog/pkg/tracing"
	"github.com/taskmasterpeace/lognog/pkg/types"
	"github.com/taskmasterpeace/lognog/pkg/validation"
	"github.com/taskmasterpeace/lognog/pkg/workerpool"
)

// App owns every long-lived component of the server process and their
// start/stop order.
type App struct {
	config     *types.Config
	configFile string
	logger     *logrus.Logger

	adapter         storage.Adapter
	catalogStore    *catalog.Store
	extractor       *extract.Extractor
	patternReloader *extract.PatternReloader
	router          *ingest.Router
	tsValidator     *validation.TimestampValidator

	tracingMgr  *tracing.Manager
	workerPool  *workerpool.WorkerPool
	queryEngine *query.Engine

	baselineCalc     *baseline.Calculator
	anomalyDetector  *anomaly.Detector
	retentionSweeper *storage.RetentionSweeper

	metricsServer  *metrics.Server
	queryServer    *http.Server
	configReloader *hotreload.ConfigReloader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads configFile, wires every component, and returns a server
// ready for Start. Nothing is started yet.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	a := &App{config: cfg, configFile: configFile, logger: logger}
	if err := a.initializeComponents(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initializeComponents() error {
	adapter, err := storage.New(&a.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage adapter: %w", err)
	}
	a.adapter = storage.WithBreaker(adapter, a.config.Storage.Breaker, a.logger)

	a.catalogStore = catalog.NewStore(a.adapter)

	a.extractor = extract.NewExtractor()
	if a.config.Extraction.UserPatternsFile != "" {
		reloader, err := extract.NewPatternReloader(a.config.Extraction.UserPatternsFile, a.extractor, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize pattern reloader: %w", err)
		}
		a.patternReloader = reloader
	}

	tracingMgr, err := tracing.NewManager(tracing.Config{
		Enabled:       a.config.Tracing.Enabled,
		ServiceName:   a.config.App.Name,
		Environment:   a.config.App.Environment,
		Exporter:      a.config.Tracing.Exporter,
		OTLPEndpoint:  a.config.Tracing.OTLPEndpoint,
		JaegerURL:     a.config.Tracing.JaegerURL,
		SamplingRatio: a.config.Tracing.SamplingRatio,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracingMgr = tracingMgr

	a.tsValidator = validation.NewTimestampValidator(validation.Config{
		Enabled:             a.config.Ingest.Validation.Enabled,
		MaxPastAgeSeconds:   a.config.Ingest.Validation.MaxPastAgeSeconds,
		MaxFutureAgeSeconds: a.config.Ingest.Validation.MaxFutureAgeSeconds,
		InvalidAction:       a.config.Ingest.Validation.InvalidAction,
	}, a.logger, nil)

	a.router = ingest.NewRouter(a.config.Ingest, a.adapter, a.extractor, nil, a.logger)
	a.router.WithTimestampValidator(a.tsValidator)

	workers := a.config.Query.WorkerMultiplier
	if workers <= 0 {
		workers = 2
	}
	a.workerPool = workerpool.NewWorkerPool(workerpool.WorkerPoolConfig{
		MaxWorkers: workers * runtime.NumCPU(),
	}, a.logger)

	a.queryEngine = query.NewEngine(a.adapter, a.workerPool, a.extractor, a.config.Query)

	a.baselineCalc = baseline.NewCalculator(a.adapter, a.logger, a.config.Baseline)
	a.anomalyDetector = anomaly.NewDetector(a.adapter, a.baselineCalc, a.logger, a.config.Anomaly)
	a.retentionSweeper = storage.NewRetentionSweeper(a.adapter, a.logger)

	if a.config.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(
			fmt.Sprintf(":%d", a.config.Metrics.Port),
			a.config.Metrics.Path,
			a.logger,
		)
	}

	if a.config.Server.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/query", a.handleQuery)
		a.queryServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
			Handler:      mux,
			ReadTimeout:  types.DurationOrDefault(a.config.Server.ReadTimeout, 30*time.Second),
			WriteTimeout: types.DurationOrDefault(a.config.Server.WriteTimeout, 30*time.Second),
		}
	}

	reloader, err := hotreload.NewConfigReloader(hotreload.Config{
		Enabled:          a.configFile != "",
		WatchInterval:    30 * time.Second,
		DebounceInterval: 2 * time.Second,
		ValidateOnReload: true,
	}, a.configFile, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize config reloader: %w", err)
	}
	reloader.SetCallbacks(a.onConfigChanged, nil, nil)
	a.configReloader = reloader

	return nil
}

// onConfigChanged applies the subset of a reloaded configuration that
// is safe to change without restarting already-running subsystems: log
// level today. Everything else (storage backend, listener addresses,
// worker pool size) requires a process restart, matching the teacher's
// own FailsafeMode fallback for changes it can't apply live.
func (a *App) onConfigChanged(_, next *types.Config) error {
	if level, err := logrus.ParseLevel(next.App.LogLevel); err == nil {
		a.logger.SetLevel(level)
	}
	a.config = next
	return nil
}

// Start brings up every subsystem in dependency order: catalog schema
// first, then ingestion, then the periodic analytics loops, then the
// HTTP surfaces.
func (a *App) Start() error {
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if err := a.catalogStore.EnsureSchema(a.ctx); err != nil {
		return fmt.Errorf("failed to ensure catalog schema: %w", err)
	}

	if a.patternReloader != nil {
		if err := a.patternReloader.Start(a.ctx); err != nil {
			a.logger.WithError(err).Warn("pattern reloader failed to start")
		}
	}

	if err := a.router.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start ingest router: %w", err)
	}

	if err := a.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start query worker pool: %w", err)
	}

	if a.config.Baseline.Enabled {
		a.wg.Add(1)
		go a.runBaselineLoop()
	}
	if a.config.Anomaly.Enabled {
		a.wg.Add(1)
		go a.runAnomalyLoop()
	}
	if a.config.Retention.Enabled {
		a.wg.Add(1)
		go a.runRetentionLoop()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if a.queryServer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.WithField("addr", a.queryServer.Addr).Info("starting query server")
			if err := a.queryServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.WithError(err).Error("query server error")
			}
		}()
	}

	if a.configReloader != nil {
		if err := a.configReloader.Start(); err != nil {
			a.logger.WithError(err).Warn("config reloader failed to start")
		}
	}

	a.logger.Info("lognog server started")
	return nil
}

func (a *App) listIndexesOrLog(ctx context.Context) []*types.Index {
	indexes, err := a.catalogStore.ListIndexes(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("failed to list indexes for periodic task")
		return nil
	}
	return indexes
}

func (a *App) runBaselineLoop() {
	defer a.wg.Done()
	interval := types.DurationOrDefault(a.config.Baseline.RecalculateInterval, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			for _, idx := range a.listIndexesOrLog(a.ctx) {
				if err := a.baselineCalc.Recalculate(a.ctx, idx.Name); err != nil {
					a.logger.WithError(err).WithField("index", idx.Name).Warn("baseline recalculation failed")
				}
			}
		}
	}
}

func (a *App) runAnomalyLoop() {
	defer a.wg.Done()
	interval := types.DurationOrDefault(a.config.Anomaly.ScanInterval, 5*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			for _, idx := range a.listIndexesOrLog(a.ctx) {
				if err := a.anomalyDetector.Scan(a.ctx, idx.Name); err != nil {
					a.logger.WithError(err).WithField("index", idx.Name).Warn("anomaly scan failed")
				}
			}
		}
	}
}

func (a *App) runRetentionLoop() {
	defer a.wg.Done()
	interval := types.DurationOrDefault(a.config.Retention.SweepInterval, 6*time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			indexes := a.listIndexesOrLog(a.ctx)
			vals := make([]types.Index, 0, len(indexes))
			for _, idx := range indexes {
				vals = append(vals, *idx)
			}
			a.retentionSweeper.SweepAll(a.ctx, vals)
		}
	}
}

// Stop shuts every subsystem down in roughly reverse-start order,
// logging failures rather than aborting so one slow component can't
// prevent the rest from closing.
func (a *App) Stop() error {
	if a.cancel == nil {
		return nil
	}

	if a.configReloader != nil {
		if err := a.configReloader.Stop(); err != nil {
			a.logger.WithError(err).Warn("config reloader stop failed")
		}
	}

	if a.queryServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.queryServer.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("query server shutdown failed")
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(); err != nil {
			a.logger.WithError(err).Warn("metrics server stop failed")
		}
	}

	a.cancel()
	a.wg.Wait()

	if err := a.router.Stop(); err != nil {
		a.logger.WithError(err).Warn("ingest router stop failed")
	}

	if a.patternReloader != nil {
		a.patternReloader.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracingMgr.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("tracing shutdown failed")
	}

	if err := a.workerPool.Stop(); err != nil {
		a.logger.WithError(err).Warn("query worker pool stop failed")
	}

	if err := a.adapter.Close(); err != nil {
		a.logger.WithError(err).Warn("storage adapter close failed")
	}

	a.logger.Info("lognog server stopped")
	return nil
}

// Run starts the server and blocks until SIGINT/SIGTERM, then stops it.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return a.Stop()
}
