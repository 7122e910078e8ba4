package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/openeduhub/metaqs/pkg/metrics"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Job is one background unit of work for a node.
type Job func(ctx context.Context, nodeRefID uuid.UUID) error

// RunStatsJob recomputes the statistics of a node.
func RunStatsJob(svc StatsService) Job {
	return func(ctx context.Context, nodeRefID uuid.UUID) error {
		_, err := svc.RunStats(ctx, nodeRefID)
		return err
	}
}

// SeedJob backfills count days of history for a node.
func SeedJob(svc SeedService, count int) Job {
	return func(ctx context.Context, nodeRefID uuid.UUID) error {
		_, err := svc.SeedBackward(ctx, nodeRefID, count)
		return err
	}
}

// DispatcherOptions configures background execution.
type DispatcherOptions struct {
	PortalRootID  uuid.UUID
	MaxConcurrent int64
	RunTimeout    time.Duration
}

// Dispatcher runs jobs in the background with bounded concurrency. Jobs
// never inherit the caller's context: they outlive the request that
// triggered them and are only cancelled by their timeout or Shutdown.
type Dispatcher struct {
	collections CollectionService
	rootID      uuid.UUID
	sem         *semaphore.Weighted
	timeout     time.Duration
	logger      *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(collections CollectionService, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		collections: collections,
		rootID:      opts.PortalRootID,
		sem:         semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:     opts.RunTimeout,
		logger:      logger.Named("dispatcher"),
		base:        base,
		cancel:      cancel,
	}
}

// Targets resolves the nodes a request for nodeRefID applies to. The portal
// root stands for all of its direct child portals.
func (d *Dispatcher) Targets(ctx context.Context, nodeRefID uuid.UUID) ([]uuid.UUID, error) {
	if nodeRefID != d.rootID {
		return []uuid.UUID{nodeRefID}, nil
	}

	portals, err := d.collections.ChildPortals(ctx, d.rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve portals: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(portals))
	for _, p := range portals {
		ids = append(ids, p.NodeRefID)
	}
	return ids, nil
}

// Dispatch resolves the targets of nodeRefID and starts job for each of
// them in the background. It returns the ids that were scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, nodeRefID uuid.UUID, job Job) ([]uuid.UUID, error) {
	if d.isClosed() {
		return nil, ErrDispatcherClosed
	}
	targets, err := d.Targets(ctx, nodeRefID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// Shutdown may have started while the portals were resolved.
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	for _, id := range targets {
		d.wg.Add(1)
		go d.run(name, id, job)
	}

	d.logger.Info("Dispatched background jobs",
		zap.String("job", name),
		zap.String("noderef_id", nodeRefID.String()),
		zap.Int("targets", len(targets)))
	return targets, nil
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) run(name string, id uuid.UUID, job Job) {
	defer d.wg.Done()

	ctx := d.base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.logger.Warn("Background job abandoned before start",
			zap.String("job", name),
			zap.String("noderef_id", id.String()),
			zap.Error(err))
		return
	}
	defer d.sem.Release(1)

	metrics.RunStarted()
	defer metrics.RunFinished()

	start := time.Now()
	if err := job(ctx, id); err != nil {
		d.logger.Error("Background job failed",
			zap.String("job", name),
			zap.String("noderef_id", id.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	d.logger.Debug("Background job finished",
		zap.String("job", name),
		zap.String("noderef_id", id.String()),
		zap.Duration("elapsed", time.Since(start)))
}

// RunScheduler dispatches job for the portal root every interval until ctx
// is cancelled. A non-positive interval disables scheduling.
func (d *Dispatcher) RunScheduler(ctx context.Context, name string, interval time.Duration, job Job) {
	if interval <= 0 {
		return
	}
	go func() {
		d.logger.Info("Scheduler started", zap.String("job", name), zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				d.logger.Info("Scheduler stopped", zap.String("job", name))
				return
			case <-ticker.C:
				if _, err := d.Dispatch(ctx, name, d.rootID, job); err != nil {
					d.logger.Error("Scheduled dispatch failed", zap.String("job", name), zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until all dispatched jobs have finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs, waits for running ones until ctx is done
// and then cancels whatever is still in flight.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := d.Wait(ctx)
	d.cancel()
	return err
}
