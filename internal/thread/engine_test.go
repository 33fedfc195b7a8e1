package thread

import (
	"context"
	"errors"
	"testing"

	"colloquy/internal/identity"
	"colloquy/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedViewer resolves every context to the same viewer. Zero means anonymous.
type fixedViewer uint

func (f fixedViewer) CurrentViewer(context.Context) (identity.Viewer, bool) {
	if f == 0 {
		return identity.Viewer{}, false
	}
	return identity.Viewer{ID: uint(f)}, true
}

func TestEngine_AddReplyVisibleAfterReload(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	c1 := repo.seed(1, nil, 0, "question")
	repo.seed(1, uintPtr(c1), 0, "earlier answer")

	engine := NewEngine(models.LessonScope, repo, nil, fixedViewer(2))
	ctx := context.Background()

	require.NoError(t, engine.AddReply(ctx, 1, c1, "hello"))

	snap := engine.LoadThread(ctx, 1)
	require.Equal(t, StateReady, snap.State)
	replies := snap.Thread.Comments[0].Replies
	require.Len(t, replies, 2)
	assert.Equal(t, "earlier answer", replies[0].Content)
	assert.Equal(t, "hello", replies[1].Content)
	assert.Equal(t, uint(2), replies[1].AuthorID)
	assert.False(t, replies[1].CreatedAt.Before(replies[0].CreatedAt))
}

func TestEngine_AddComment(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	engine := NewEngine(models.NewsScope, repo, nil, fixedViewer(5))
	ctx := context.Background()

	require.NoError(t, engine.AddComment(ctx, 3, "first"))

	snap := engine.LoadThread(ctx, 3)
	require.Equal(t, StateReady, snap.State)
	require.Len(t, snap.Thread.Comments, 1)
	assert.True(t, snap.Thread.Comments[0].IsTopLevel())
	assert.Equal(t, "first", snap.Thread.Comments[0].Content)
}

func TestEngine_MutationsRequireViewer(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	c1 := repo.seed(1, nil, 0, "c")
	engine := NewEngine(models.LessonScope, repo, nil, fixedViewer(0))
	ctx := context.Background()

	err := engine.AddComment(ctx, 1, "x")
	assert.True(t, models.HasCode(err, models.CodeAuthRequired))

	err = engine.AddReply(ctx, 1, c1, "x")
	assert.True(t, models.HasCode(err, models.CodeAuthRequired))

	_, err = engine.ToggleReaction(ctx, c1, true)
	assert.True(t, models.HasCode(err, models.CodeAuthRequired))

	assert.Zero(t, repo.writeCount())
	assert.Equal(t, StateUnresolved, engine.LoadThread(ctx, 1).State)
}

func TestEngine_InsertFailureIsRepositoryError(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.failWrite = errors.New("disk full")
	engine := NewEngine(models.LessonScope, repo, nil, fixedViewer(1))

	err := engine.AddComment(context.Background(), 1, "x")
	assert.True(t, models.HasCode(err, models.CodeRepositoryError))
	assert.ErrorContains(t, err, "disk full")
}

func TestEngine_EmptyContentPassesThrough(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	engine := NewEngine(models.LessonScope, repo, nil, fixedViewer(1))

	require.NoError(t, engine.AddComment(context.Background(), 1, ""))
	assert.Equal(t, 1, repo.writeCount())
}

func TestEngine_LoadReplies(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	parent := repo.seed(1, nil, 0, "p")
	r1 := repo.seed(1, uintPtr(parent), 0, "a")
	r2 := repo.seed(1, uintPtr(parent), 0, "b")
	ctx := context.Background()
	require.NoError(t, repo.UpsertReaction(ctx, r2, 1, false))

	plain := NewEngine(models.LessonScope, repo, nil, fixedViewer(1))
	nodes, err := plain.LoadReplies(ctx, 1, parent)
	require.NoError(t, err)
	assert.Equal(t, []uint{r1, r2}, commentIDs(nodes))
	assert.Equal(t, models.ReactionNone, nodes[1].Reaction)

	nodes, err = plain.LoadReplies(ctx, 2, parent)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	flagged := NewEngine(models.LessonScope, repo, nil, fixedViewer(1),
		WithFlags(staticFlags{FlagReplyReactions: true}))
	nodes, err = flagged.LoadReplies(ctx, 1, parent)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionDisliked, nodes[1].Reaction)
}

func TestEngine_DefaultsToContextIdentity(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	engine := NewEngine(models.LessonScope, repo, nil, nil)

	assert.Equal(t, StateUnresolved, engine.LoadThread(context.Background(), 1).State)

	ctx := identity.WithViewer(context.Background(), identity.Viewer{ID: 8})
	assert.Equal(t, StateReady, engine.LoadThread(ctx, 1).State)
}
