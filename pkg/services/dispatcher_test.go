package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/models"
)

func portalList(ids ...uuid.UUID) []models.Collection {
	out := make([]models.Collection, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Collection{Node: models.Node{NodeRefID: id}})
	}
	return out
}

// recordingJob records the ids it ran for.
type recordingJob struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingJob) job(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingJob) seen() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func TestDispatcher_RootFansOutToPortals(t *testing.T) {
	root, a, b := uuid.New(), uuid.New(), uuid.New()
	d := NewDispatcher(staticCollections{portals: portalList(a, b)},
		DispatcherOptions{PortalRootID: root, MaxConcurrent: 2}, zap.NewNop())
	rec := &recordingJob{}

	ids, err := d.Dispatch(context.Background(), "run-stats", root, rec.job)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	require.NoError(t, d.Wait(context.Background()))
	assert.ElementsMatch(t, []uuid.UUID{a, b}, rec.seen())
}

func TestDispatcher_SingleTarget(t *testing.T) {
	node := uuid.New()
	d := NewDispatcher(staticCollections{err: errBoom}, DispatcherOptions{PortalRootID: uuid.New()}, zap.NewNop())
	rec := &recordingJob{}

	ids, err := d.Dispatch(context.Background(), "run-stats", node, rec.job)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{node}, ids)

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, []uuid.UUID{node}, rec.seen())
}

func TestDispatcher_PortalLookupFails(t *testing.T) {
	root := uuid.New()
	d := NewDispatcher(staticCollections{err: errBoom}, DispatcherOptions{PortalRootID: root}, zap.NewNop())

	_, err := d.Dispatch(context.Background(), "run-stats", root, (&recordingJob{}).job)
	assert.ErrorIs(t, err, errBoom)
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	root := uuid.New()
	portals := portalList(uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New())
	d := NewDispatcher(staticCollections{portals: portals},
		DispatcherOptions{PortalRootID: root, MaxConcurrent: 2}, zap.NewNop())

	var running, peak atomic.Int32
	job := func(ctx context.Context, _ uuid.UUID) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	_, err := d.Dispatch(context.Background(), "run-stats", root, job)
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_JobOutlivesRequestContext(t *testing.T) {
	node := uuid.New()
	d := NewDispatcher(staticCollections{}, DispatcherOptions{PortalRootID: uuid.New()}, zap.NewNop())

	reqCtx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var jobErr atomic.Value
	_, err := d.Dispatch(reqCtx, "run-stats", node, func(ctx context.Context, _ uuid.UUID) error {
		close(started)
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			jobErr.Store(ctx.Err())
		}
		return nil
	})
	require.NoError(t, err)

	<-started
	cancel()
	require.NoError(t, d.Wait(context.Background()))
	assert.Nil(t, jobErr.Load())
}

func TestDispatcher_RunTimeout(t *testing.T) {
	d := NewDispatcher(staticCollections{}, DispatcherOptions{PortalRootID: uuid.New(), RunTimeout: 10 * time.Millisecond}, zap.NewNop())

	done := make(chan error, 1)
	_, err := d.Dispatch(context.Background(), "run-stats", uuid.New(), func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}
}

func TestDispatcher_ShutdownRejectsNewJobs(t *testing.T) {
	d := NewDispatcher(staticCollections{}, DispatcherOptions{PortalRootID: uuid.New()}, zap.NewNop())
	rec := &recordingJob{}

	_, err := d.Dispatch(context.Background(), "seed-stats", uuid.New(), rec.job)
	require.NoError(t, err)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Len(t, rec.seen(), 1)

	_, err = d.Dispatch(context.Background(), "seed-stats", uuid.New(), rec.job)
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

// countingCollections counts portal lookups.
type countingCollections struct {
	staticCollections
	lookups atomic.Int32
}

func (c *countingCollections) ChildPortals(ctx context.Context, root uuid.UUID) ([]models.Collection, error) {
	c.lookups.Add(1)
	return c.staticCollections.ChildPortals(ctx, root)
}

func TestDispatcher_ClosedSkipsPortalLookup(t *testing.T) {
	root := uuid.New()
	collections := &countingCollections{staticCollections: staticCollections{portals: portalList(uuid.New())}}
	d := NewDispatcher(collections, DispatcherOptions{PortalRootID: root}, zap.NewNop())
	require.NoError(t, d.Shutdown(context.Background()))

	_, err := d.Dispatch(context.Background(), "run-stats", root, (&recordingJob{}).job)

	assert.ErrorIs(t, err, ErrDispatcherClosed)
	assert.Zero(t, collections.lookups.Load())
}

func TestDispatcher_ShutdownCancelsStragglers(t *testing.T) {
	d := NewDispatcher(staticCollections{}, DispatcherOptions{PortalRootID: uuid.New()}, zap.NewNop())

	cancelled := make(chan struct{})
	_, err := d.Dispatch(context.Background(), "run-stats", uuid.New(), func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight job was not cancelled")
	}
}

func TestDispatcher_RunScheduler(t *testing.T) {
	root, portal := uuid.New(), uuid.New()
	d := NewDispatcher(staticCollections{portals: portalList(portal)},
		DispatcherOptions{PortalRootID: root}, zap.NewNop())
	rec := &recordingJob{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.RunScheduler(ctx, "run-stats", 5*time.Millisecond, rec.job)

	assert.Eventually(t, func() bool { return len(rec.seen()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, d.Shutdown(context.Background()))
	for _, id := range rec.seen() {
		assert.Equal(t, portal, id)
	}
}

func TestDispatcher_RunSchedulerDisabled(t *testing.T) {
	d := NewDispatcher(staticCollections{}, DispatcherOptions{PortalRootID: uuid.New()}, zap.NewNop())
	rec := &recordingJob{}

	d.RunScheduler(context.Background(), "run-stats", 0, rec.job)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.seen())
}
