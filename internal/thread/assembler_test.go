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

func uintPtr(v uint) *uint { return &v }

func viewer(id uint) *identity.Viewer { return &identity.Viewer{ID: id} }

func commentIDs(nodes []Node) []uint {
	ids := make([]uint, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestAssembler_OrdersTopLevelByLikes(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	c1 := repo.seed(1, nil, 5, "first five")
	c2 := repo.seed(1, nil, 3, "three")
	c3 := repo.seed(1, nil, 5, "second five")
	c4 := repo.seed(1, nil, 1, "one")

	snap := NewAssembler(models.LessonScope, repo).Load(context.Background(), 1, viewer(7))
	require.Equal(t, StateReady, snap.State)

	// Equal counts fall back to id ascending.
	assert.Equal(t, []uint{c1, c3, c2, c4}, commentIDs(snap.Thread.Comments))
	assert.Equal(t, 4, snap.Thread.TotalCount)
}

func TestAssembler_StableForEqualCountsFromRepository(t *testing.T) {
	t.Parallel()

	top := []models.Comment{
		{ID: 9, ThreadID: 1, LikesCount: 2},
		{ID: 4, ThreadID: 1, LikesCount: 2},
		{ID: 6, ThreadID: 1, LikesCount: 8},
	}
	repo := &stubRepo{top: top}

	snap := NewAssembler(models.NewsScope, repo).Load(context.Background(), 1, viewer(1))
	require.Equal(t, StateReady, snap.State)
	assert.Equal(t, []uint{6, 9, 4}, commentIDs(snap.Thread.Comments))
}

func TestAssembler_UnresolvedWithoutViewer(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.seed(1, nil, 0, "hi")

	a := NewAssembler(models.LessonScope, repo)
	anon := a.Load(context.Background(), 1, nil)
	assert.Equal(t, StateUnresolved, anon.State)
	assert.Nil(t, anon.Thread)

	empty := a.Load(context.Background(), 2, viewer(1))
	require.Equal(t, StateReady, empty.State)
	require.NotNil(t, empty.Thread)
	assert.Empty(t, empty.Thread.Comments)
	assert.Equal(t, 0, empty.Thread.TotalCount)
}

func TestAssembler_RepliesOldestFirstWithCount(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	parent := repo.seed(1, nil, 1, "parent")
	r1 := repo.seed(1, uintPtr(parent), 9, "older")
	r2 := repo.seed(1, uintPtr(parent), 0, "newer")
	other := repo.seed(1, nil, 0, "lonely")

	snap := NewAssembler(models.LessonScope, repo).Load(context.Background(), 1, viewer(1))
	require.Equal(t, StateReady, snap.State)
	require.Len(t, snap.Thread.Comments, 2)

	first := snap.Thread.Comments[0]
	assert.Equal(t, parent, first.ID)
	assert.Equal(t, []uint{r1, r2}, commentIDs(first.Replies))
	assert.Equal(t, other, snap.Thread.Comments[1].ID)
	assert.Empty(t, snap.Thread.Comments[1].Replies)
	assert.Equal(t, 4, snap.Thread.TotalCount)
}

func TestAssembler_FailedStateOnRepositoryError(t *testing.T) {
	t.Parallel()

	t.Run("top level", func(t *testing.T) {
		t.Parallel()
		repo := newMemRepo()
		repo.failTop = errors.New("connection reset")

		snap := NewAssembler(models.LessonScope, repo).Load(context.Background(), 1, viewer(1))
		assert.Equal(t, StateFailed, snap.State)
		assert.Nil(t, snap.Thread)
		assert.True(t, models.HasCode(snap.Err, models.CodeRepositoryError))
	})

	t.Run("replies", func(t *testing.T) {
		t.Parallel()
		repo := newMemRepo()
		repo.seed(1, nil, 0, "x")
		repo.failReplies = errors.New("timeout")

		snap := NewAssembler(models.LessonScope, repo).Load(context.Background(), 1, viewer(1))
		assert.Equal(t, StateFailed, snap.State)
		assert.ErrorContains(t, snap.Err, "timeout")
	})
}

func TestAssembler_ViewerReactions(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	parent := repo.seed(1, nil, 0, "parent")
	reply := repo.seed(1, uintPtr(parent), 0, "reply")
	ctx := context.Background()
	require.NoError(t, repo.UpsertReaction(ctx, parent, 3, false))
	require.NoError(t, repo.UpsertReaction(ctx, reply, 3, true))

	t.Run("reply reactions off", func(t *testing.T) {
		snap := NewAssembler(models.LessonScope, repo).Load(ctx, 1, viewer(3))
		require.Equal(t, StateReady, snap.State)
		top := snap.Thread.Comments[0]
		assert.Equal(t, models.ReactionDisliked, top.Reaction)
		assert.Equal(t, models.ReactionNone, top.Replies[0].Reaction)
	})

	t.Run("reply reactions on", func(t *testing.T) {
		a := NewAssembler(models.LessonScope, repo, WithFlags(staticFlags{FlagReplyReactions: true}))
		snap := a.Load(ctx, 1, viewer(3))
		require.Equal(t, StateReady, snap.State)
		assert.Equal(t, models.ReactionLiked, snap.Thread.Comments[0].Replies[0].Reaction)
	})

	t.Run("other viewer", func(t *testing.T) {
		snap := NewAssembler(models.LessonScope, repo).Load(ctx, 1, viewer(4))
		assert.Equal(t, models.ReactionNone, snap.Thread.Comments[0].Reaction)
	})
}

func TestAssembler_NewsHidesDislikes(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.seed(1, nil, 2, "news")

	news := NewAssembler(models.NewsScope, repo).Load(context.Background(), 1, viewer(1))
	require.Equal(t, StateReady, news.State)
	assert.Nil(t, news.Thread.Comments[0].DislikesCount)
	assert.Equal(t, models.KindNews, news.Thread.Kind)

	lesson := NewAssembler(models.LessonScope, repo).Load(context.Background(), 1, viewer(1))
	require.NotNil(t, lesson.Thread.Comments[0].DislikesCount)
}

func TestAssembler_Pagination(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	a1 := repo.seed(1, nil, 9, "a")
	b := repo.seed(1, nil, 5, "b")
	c := repo.seed(1, nil, 5, "c")
	d := repo.seed(1, nil, 1, "d")
	repo.seed(1, uintPtr(b), 0, "reply to b")

	a := NewAssembler(models.LessonScope, repo, WithPageSize(2))
	ctx := context.Background()

	first := a.Load(ctx, 1, viewer(1))
	require.Equal(t, StateReady, first.State)
	assert.Equal(t, []uint{a1, b}, commentIDs(first.Thread.Comments))
	assert.Equal(t, 3, first.Thread.TotalCount)
	require.NotEmpty(t, first.Thread.NextCursor)

	cur, err := models.DecodeCursor(first.Thread.NextCursor)
	require.NoError(t, err)
	second := a.LoadPage(ctx, 1, viewer(1), models.Page{Limit: 2, After: cur})
	require.Equal(t, StateReady, second.State)
	assert.Equal(t, []uint{c, d}, commentIDs(second.Thread.Comments))

	cur, err = models.DecodeCursor(second.Thread.NextCursor)
	require.NoError(t, err)
	last := a.LoadPage(ctx, 1, viewer(1), models.Page{Limit: 2, After: cur})
	require.Equal(t, StateReady, last.State)
	assert.Empty(t, last.Thread.Comments)
	assert.Empty(t, last.Thread.NextCursor)
}

// stubRepo returns canned top-level rows in a fixed order.
type stubRepo struct {
	memRepo
	top []models.Comment
}

func (s *stubRepo) FetchTopLevelComments(context.Context, uint, models.Page) ([]models.Comment, error) {
	return append([]models.Comment(nil), s.top...), nil
}
