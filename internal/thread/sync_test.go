package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"colloquy/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

// countingLoader counts loads per thread and returns ready snapshots.
type countingLoader struct {
	mu    sync.Mutex
	calls map[uint]int
}

func newCountingLoader() *countingLoader {
	return &countingLoader{calls: map[uint]int{}}
}

func (l *countingLoader) load(_ context.Context, threadID uint) Snapshot {
	l.mu.Lock()
	l.calls[threadID]++
	l.mu.Unlock()
	return Snapshot{State: StateReady, ThreadID: threadID, Thread: &Thread{ThreadID: threadID}}
}

func (l *countingLoader) count(threadID uint) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[threadID]
}

func TestSyncController_ActivateLoadsAndSubscribes(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	loader := newCountingLoader()
	rec := &recorder{}
	c := NewSyncController(models.LessonScope, feed, loader.load, rec.record)

	require.NoError(t, c.Activate(context.Background(), 10))
	c.wait()

	assert.Equal(t, 1, feed.active())
	assert.Equal(t, 1, loader.count(10))
	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, uint(10), snaps[0].ThreadID)
	assert.Equal(t, uint64(1), snaps[0].Generation)

	id, active := c.ThreadID()
	assert.True(t, active)
	assert.Equal(t, uint(10), id)
}

func TestSyncController_UnrelatedReactionTriggersReload(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	loader := newCountingLoader()
	c := NewSyncController(models.LessonScope, feed, loader.load, (&recorder{}).record)

	require.NoError(t, c.Activate(context.Background(), 10))
	c.wait()

	// Reaction on a comment of another thread.
	feed.emit(models.ChangeEvent{Kind: models.KindLesson, Table: models.TableReactions, Op: models.OpInsert, CommentID: 999})
	c.wait()
	assert.Equal(t, 2, loader.count(10))

	// Comment events for another thread do not reach this view.
	feed.emit(models.ChangeEvent{Kind: models.KindLesson, Table: models.TableComments, Op: models.OpInsert, ThreadID: 11})
	c.wait()
	assert.Equal(t, 2, loader.count(10))

	feed.emit(models.ChangeEvent{Kind: models.KindLesson, Table: models.TableComments, Op: models.OpInsert, ThreadID: 10})
	c.wait()
	assert.Equal(t, 3, loader.count(10))

	// Other scopes are separate feeds.
	feed.emit(models.ChangeEvent{Kind: models.KindNews, Table: models.TableReactions, Op: models.OpDelete})
	c.wait()
	assert.Equal(t, 3, loader.count(10))
}

func TestSyncController_IgnoresCommentEventForOtherThread(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader()
	c := NewSyncController(models.LessonScope, nil, loader.load, nil)
	require.NoError(t, c.Activate(context.Background(), 1))
	c.wait()

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	c.handleEvent(session, models.ChangeEvent{Table: models.TableComments, ThreadID: 2})
	c.wait()
	assert.Equal(t, 1, loader.count(1))
}

func TestSyncController_DiscardsStaleCompletions(t *testing.T) {
	t.Parallel()

	releases := map[uint64]chan struct{}{
		1: make(chan struct{}),
		2: make(chan struct{}),
	}
	var calls sync.Mutex
	n := uint64(0)
	load := func(_ context.Context, threadID uint) Snapshot {
		calls.Lock()
		n++
		gen := n
		calls.Unlock()
		<-releases[gen]
		return Snapshot{State: StateReady, ThreadID: threadID, Thread: &Thread{TotalCount: int(gen)}}
	}

	rec := &recorder{}
	c := NewSyncController(models.LessonScope, nil, load, rec.record)
	require.NoError(t, c.Activate(context.Background(), 1))
	require.Eventually(t, func() bool {
		calls.Lock()
		defer calls.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	c.Reload()

	// The newer reload finishes first, then the older one.
	close(releases[2])
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	close(releases[1])
	c.wait()

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(2), snaps[0].Generation)
	assert.Equal(t, 2, snaps[0].Thread.TotalCount)
}

func TestSyncController_CoalescesBursts(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	loader := newCountingLoader()
	c := NewSyncController(models.LessonScope, feed, loader.load, nil,
		WithCoalesceWindow(50*time.Millisecond))
	require.NoError(t, c.Activate(context.Background(), 4))
	c.wait()

	for i := 0; i < 10; i++ {
		feed.emit(models.ChangeEvent{Kind: models.KindLesson, Table: models.TableReactions})
	}

	require.Eventually(t, func() bool { return loader.count(4) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	c.wait()
	assert.Equal(t, 2, loader.count(4))
}

func TestSyncController_DeactivateUnsubscribes(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	loader := newCountingLoader()
	rec := &recorder{}
	c := NewSyncController(models.LessonScope, feed, loader.load, rec.record)

	require.NoError(t, c.Activate(context.Background(), 1))
	c.wait()
	c.Deactivate()

	assert.Equal(t, 0, feed.active())
	feed.mu.Lock()
	assert.Equal(t, 1, feed.unsubs)
	feed.mu.Unlock()

	feed.emit(models.ChangeEvent{Kind: models.KindLesson, Table: models.TableReactions})
	c.Reload()
	c.wait()
	assert.Equal(t, 1, loader.count(1))
	assert.Len(t, rec.all(), 1)

	_, active := c.ThreadID()
	assert.False(t, active)

	// Second teardown is a no-op.
	c.Deactivate()
	feed.mu.Lock()
	assert.Equal(t, 1, feed.unsubs)
	feed.mu.Unlock()
}

func TestSyncController_SwitchThreadDropsInFlight(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	block := make(chan struct{})
	load := func(_ context.Context, threadID uint) Snapshot {
		if threadID == 1 {
			<-block
		}
		return Snapshot{State: StateReady, ThreadID: threadID, Thread: &Thread{ThreadID: threadID}}
	}
	rec := &recorder{}
	c := NewSyncController(models.LessonScope, feed, load, rec.record)

	require.NoError(t, c.Activate(context.Background(), 1))
	require.NoError(t, c.Activate(context.Background(), 2))
	close(block)
	c.wait()

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, uint(2), snaps[0].ThreadID)
	assert.Equal(t, 1, feed.active())
}

func TestSyncController_SubscribeFailure(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	feed.failSub = errors.New("redis down")
	loader := newCountingLoader()
	rec := &recorder{}
	c := NewSyncController(models.NewsScope, feed, loader.load, rec.record)

	err := c.Activate(context.Background(), 3)
	assert.True(t, models.HasCode(err, models.CodeTransportError))
	c.wait()

	assert.Len(t, rec.all(), 1)
	c.Deactivate()
}

func TestSyncController_DeliversFailedSnapshots(t *testing.T) {
	t.Parallel()

	load := func(_ context.Context, threadID uint) Snapshot {
		return failed(threadID, errors.New("boom"))
	}
	rec := &recorder{}
	c := NewSyncController(models.LessonScope, nil, load, rec.record)
	require.NoError(t, c.Activate(context.Background(), 1))
	c.wait()

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, StateFailed, snaps[0].State)
}

func TestEngine_SyncControllerUsesActivationIdentity(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.seed(1, nil, 0, "hi")
	feed := newFakeFeed()
	engine := NewEngine(models.LessonScope, repo, feed, nil)

	rec := &recorder{}
	c := engine.NewSyncController(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Activate(ctx, 1))
	c.wait()
	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, StateUnresolved, snaps[0].State)
	c.Deactivate()
}
