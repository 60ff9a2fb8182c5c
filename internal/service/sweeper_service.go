package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/jobs"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// SweepJobType is the queue job type of a sweep run.
const SweepJobType = "sweep"

// SweepFileStore lists and removes files the sweeper cleans up.
type SweepFileStore interface {
	ListStalePending(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error)
	ListPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error)
	ExpirePending(ctx context.Context, id string) (bool, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	HardDelete(ctx context.Context, id string) (bool, error)
}

type allocationRepairer interface {
	ActiveCompanies(ctx context.Context) ([]string, error)
	FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error)
}

// SweeperConfig controls the sweeper schedule and passes.
type SweeperConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration
	Retention      time.Duration
	BatchSize      int
	FixAllocations bool
	LockKey        string
}

// SweeperService reconciles the object store with the files table.
type SweeperService struct {
	files   SweepFileStore
	store   storage.ObjectStore
	ledger  allocationRepairer
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	config  SweeperConfig
	now     func() time.Time

	queue *jobs.Queue
	stop  context.CancelFunc
	done  chan struct{}

	mu   sync.Mutex
	last *models.SweepReport
}

// NewSweeperService constructs a SweeperService.
func NewSweeperService(files SweepFileStore, store storage.ObjectStore, ledger allocationRepairer, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg SweeperConfig) *SweeperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "sweeper:lock"
	}
	s := &SweeperService{
		files:   files,
		store:   store,
		ledger:  ledger,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.queue = jobs.NewQueue("sweeper", s.handleJob, jobs.QueueConfig{
		Workers:      1,
		BufferSize:   1,
		SingleFlight: true,
		Logger:       logger,
	})
	return s
}

// Start launches the job worker and the interval ticker.
func (s *SweeperService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})
	s.queue.Start(runCtx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.Trigger(); err != nil && !errors.Is(err, appErrors.ErrConflict) {
					s.logger.Warn("schedule sweep", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Sugar().Infow("sweeper started", "interval", s.config.Interval, "stale_after", s.config.StaleAfter, "retention", s.config.Retention)
}

// Stop halts the ticker and waits for a running sweep to finish.
func (s *SweeperService) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	s.queue.Stop()
}

// Trigger queues a sweep unless one is already queued or running.
func (s *SweeperService) Trigger() error {
	err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: SweepJobType})
	if errors.Is(err, jobs.ErrDuplicate) {
		return appErrors.Clone(appErrors.ErrConflict, "a sweep is already running")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "sweeper unavailable")
	}
	return nil
}

// LastReport returns the most recent completed run, if any.
func (s *SweeperService) LastReport() *models.SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	report := *s.last
	return &report
}

func (s *SweeperService) handleJob(ctx context.Context, _ jobs.Job) error {
	s.Run(ctx)
	return nil
}

// Run performs one sweep. It never fails: per-item errors are logged, counted
// and left for the next run.
func (s *SweeperService) Run(ctx context.Context) models.SweepReport {
	report := models.SweepReport{StartedAt: s.now()}

	token := uuid.NewString()
	locked, err := s.cache.TryLock(ctx, s.config.LockKey, token, s.config.Interval)
	switch {
	case err != nil:
		s.logger.Warn("sweeper lock unavailable, running locally", zap.Error(err))
	case !locked:
		s.logger.Info("sweep skipped, another replica holds the lock")
		report.Skipped = true
		report.FinishedAt = s.now()
		return report
	default:
		defer func() {
			if err := s.cache.Unlock(context.WithoutCancel(ctx), s.config.LockKey, token); err != nil {
				s.logger.Warn("release sweeper lock", zap.Error(err))
			}
		}()
	}

	s.stalePass(ctx, &report)
	s.purgePass(ctx, &report)
	if s.config.FixAllocations {
		s.repairPass(ctx, &report)
	}

	report.FinishedAt = s.now()
	s.metrics.ObserveSweep(report.FinishedAt.Sub(report.StartedAt))
	s.logger.Sugar().Infow("sweep finished", "stale_removed", report.StaleRemoved, "purged", report.Purged, "failed", report.Failed, "repaired", len(report.Reconciled))

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

// sweepError names the operation that failed on a file.
type sweepError struct {
	op  string
	err error
}

func (e *sweepError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *sweepError) Unwrap() error { return e.err }

func (s *SweeperService) stalePass(ctx context.Context, report *models.SweepReport) {
	cutoff := s.now().Add(-s.config.StaleAfter)
	s.eachPage(ctx, "stale", func(afterID string) ([]models.File, error) {
		return s.files.ListStalePending(ctx, cutoff, afterID, s.config.BatchSize)
	}, func(file models.File) {
		removed, err := s.removeStale(ctx, file)
		if err != nil {
			s.itemFailed(report, "stale", file, err)
			return
		}
		if !removed {
			s.logger.Info("stale upload completed concurrently", zap.String("file_id", file.ID))
			s.metrics.SweeperItem("stale", "skipped")
			return
		}
		report.StaleRemoved++
		s.metrics.SweeperItem("stale", "removed")
	})
}

func (s *SweeperService) purgePass(ctx context.Context, report *models.SweepReport) {
	cutoff := s.now().Add(-s.config.Retention)
	s.eachPage(ctx, "purge", func(afterID string) ([]models.File, error) {
		return s.files.ListPurgeable(ctx, cutoff, afterID, s.config.BatchSize)
	}, func(file models.File) {
		removed, err := s.purge(ctx, file)
		if err != nil {
			s.itemFailed(report, "purge", file, err)
			return
		}
		if removed {
			report.Purged++
			s.metrics.SweeperItem("purge", "removed")
		}
	})
}

func (s *SweeperService) repairPass(ctx context.Context, report *models.SweepReport) {
	ids, err := s.ledger.ActiveCompanies(ctx)
	if err != nil {
		s.logger.Error("list companies for repair", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		result, err := s.ledger.FixAllocations(ctx, id)
		if err != nil {
			report.Failed++
			s.metrics.SweeperItem("repair", "failed")
			s.logger.Warn("repair company counters", zap.String("company_id", id), zap.Error(err))
			continue
		}
		if result.Drifted {
			report.Reconciled = append(report.Reconciled, *result)
			s.metrics.SweeperItem("repair", "repaired")
		}
	}
}

// eachPage walks a keyset-paged listing until it runs dry or ctx ends.
func (s *SweeperService) eachPage(ctx context.Context, pass string, list func(afterID string) ([]models.File, error), handle func(models.File)) {
	afterID := ""
	for ctx.Err() == nil {
		page, err := list(afterID)
		if err != nil {
			s.logger.Error("list files for sweep", zap.String("pass", pass), zap.Error(err))
			return
		}
		for _, file := range page {
			if ctx.Err() != nil {
				return
			}
			afterID = file.ID
			handle(file)
		}
		if len(page) < s.config.BatchSize {
			return
		}
	}
}

// removeStale claims the row before touching the store, so an upload finalized
// after the listing keeps its object. An expired row that fails cleanup is
// listed again by the next run.
func (s *SweeperService) removeStale(ctx context.Context, file models.File) (bool, error) {
	claimed, err := s.files.ExpirePending(ctx, file.ID)
	if err != nil {
		return false, &sweepError{op: "expire pending row", err: err}
	}
	if !claimed {
		return false, nil
	}
	if file.IsMultipart() {
		if err := s.store.AbortMultipart(ctx, file.StorageKey, *file.UploadID); err != nil {
			return false, &sweepError{op: "abort multipart", err: err}
		}
	}
	if _, err := s.store.Head(ctx, file.StorageKey); err == nil {
		if err := s.store.Delete(ctx, file.StorageKey); err != nil {
			return false, &sweepError{op: "delete object", err: err}
		}
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return false, &sweepError{op: "head object", err: err}
	}
	if _, err := s.files.DeletePending(ctx, file.ID); err != nil {
		return false, &sweepError{op: "delete pending row", err: err}
	}
	return true, nil
}

func (s *SweeperService) purge(ctx context.Context, file models.File) (bool, error) {
	if err := s.store.Delete(ctx, file.StorageKey); err != nil {
		return false, &sweepError{op: "delete object", err: err}
	}
	removed, err := s.files.HardDelete(ctx, file.ID)
	if err != nil {
		return false, &sweepError{op: "hard delete row", err: err}
	}
	return removed, nil
}

func (s *SweeperService) itemFailed(report *models.SweepReport, pass string, file models.File, err error) {
	report.Failed++
	s.metrics.SweeperItem(pass, "failed")
	op := pass
	var swErr *sweepError
	if errors.As(err, &swErr) {
		op = swErr.op
	}
	s.logger.Warn("sweep item failed",
		zap.String("pass", pass),
		zap.String("file_id", file.ID),
		zap.String("key", file.StorageKey),
		zap.String("op", op),
		zap.Error(err),
	)
}
