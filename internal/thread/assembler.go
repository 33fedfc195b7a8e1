package thread

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"colloquy/internal/identity"
	"colloquy/internal/models"
	"colloquy/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Assembler turns flat comment rows into an ordered two-level thread.
type Assembler struct {
	scope    models.Scope
	repo     Repository
	flags    FlagChecker
	pageSize int
	log      *slog.Logger
}

// NewAssembler creates an Assembler for one scope.
func NewAssembler(scope models.Scope, repo Repository, opts ...Option) *Assembler {
	o := buildOptions(opts)
	return &Assembler{
		scope:    scope,
		repo:     repo,
		flags:    o.flags,
		pageSize: o.pageSize,
		log:      o.logger,
	}
}

// Load assembles the first page of a thread using the configured page size.
func (a *Assembler) Load(ctx context.Context, threadID uint, viewer *identity.Viewer) Snapshot {
	return a.LoadPage(ctx, threadID, viewer, models.Page{Limit: a.pageSize})
}

// LoadPage assembles one page of top-level comments with all their replies.
// Without a viewer nothing is fetched and the snapshot is StateUnresolved.
func (a *Assembler) LoadPage(ctx context.Context, threadID uint, viewer *identity.Viewer, page models.Page) Snapshot {
	if viewer == nil {
		return unresolved(threadID)
	}

	span, ctx := observability.StartSpan(ctx, "thread.load",
		attribute.String("thread.kind", a.scope.String()),
		attribute.Int64("thread.id", int64(threadID)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.ThreadLoadLatency.WithLabelValues(a.scope.String()).Observe(time.Since(start).Seconds())
	}()

	top, err := a.repo.FetchTopLevelComments(ctx, threadID, page)
	if err != nil {
		span.SetError(err)
		a.log.ErrorContext(ctx, "thread load failed",
			slog.String("kind", a.scope.String()),
			slog.Uint64("thread_id", uint64(threadID)),
			slog.String("error", err.Error()),
		)
		return failed(threadID, err)
	}

	// Equal counts keep the order the repository returned them in.
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].LikesCount > top[j].LikesCount
	})

	topIDs := make([]uint, len(top))
	for i := range top {
		topIDs[i] = top[i].ID
	}

	replies, reactions, err := a.fetchChildren(ctx, topIDs, viewer)
	if err != nil {
		span.SetError(err)
		a.log.ErrorContext(ctx, "thread load failed",
			slog.String("kind", a.scope.String()),
			slog.Uint64("thread_id", uint64(threadID)),
			slog.String("error", err.Error()),
		)
		return failed(threadID, err)
	}

	t := a.build(threadID, top, replies, reactions)
	if page.Limit > 0 && len(top) == page.Limit {
		last := top[len(top)-1]
		t.NextCursor = models.Cursor{Likes: last.LikesCount, ID: last.ID}.Encode()
	}

	span.AddAttributes(attribute.Int("thread.total_count", t.TotalCount))
	return Snapshot{State: StateReady, ThreadID: threadID, Thread: t}
}

// fetchChildren loads replies and viewer reactions keyed by the top-level ids.
// The two batched reads run concurrently unless reply reactions are enabled,
// in which case the reaction read also needs the reply ids.
func (a *Assembler) fetchChildren(
	ctx context.Context, topIDs []uint, viewer *identity.Viewer,
) ([]models.Comment, []models.Reaction, error) {
	if len(topIDs) == 0 {
		return nil, nil, nil
	}

	if a.flags != nil && a.flags.Enabled(FlagReplyReactions, viewer.ID) {
		replies, err := a.repo.FetchRepliesFor(ctx, topIDs)
		if err != nil {
			return nil, nil, err
		}
		ids := append([]uint(nil), topIDs...)
		for i := range replies {
			ids = append(ids, replies[i].ID)
		}
		reactions, err := a.repo.FetchViewerReactions(ctx, ids, viewer.ID)
		if err != nil {
			return nil, nil, err
		}
		return replies, reactions, nil
	}

	var (
		replies   []models.Comment
		reactions []models.Reaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		replies, err = a.repo.FetchRepliesFor(gctx, topIDs)
		return err
	})
	g.Go(func() error {
		var err error
		reactions, err = a.repo.FetchViewerReactions(gctx, topIDs, viewer.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return replies, reactions, nil
}

func (a *Assembler) build(
	threadID uint, top []models.Comment, replies []models.Comment, reactions []models.Reaction,
) *Thread {
	states := make(map[uint]models.ReactionState, len(reactions))
	for i := range reactions {
		states[reactions[i].CommentID] = models.StateOf(&reactions[i])
	}
	stateOf := func(id uint) models.ReactionState {
		if s, ok := states[id]; ok {
			return s
		}
		return models.ReactionNone
	}

	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})
	byParent := make(map[uint][]Node, len(top))
	for _, r := range replies {
		if r.ParentCommentID == nil {
			continue
		}
		pid := *r.ParentCommentID
		byParent[pid] = append(byParent[pid], Node{Comment: a.present(r), Reaction: stateOf(r.ID)})
	}

	t := &Thread{
		Kind:     a.scope.Kind,
		ThreadID: threadID,
		Comments: make([]Node, 0, len(top)),
	}
	for _, c := range top {
		children := byParent[c.ID]
		t.Comments = append(t.Comments, Node{
			Comment:  a.present(c),
			Reaction: stateOf(c.ID),
			Replies:  children,
		})
		t.TotalCount += 1 + len(children)
	}
	return t
}

// present hides counters the scope does not expose.
func (a *Assembler) present(c models.Comment) models.Comment {
	if !a.scope.HasDislikes {
		c.DislikesCount = nil
	}
	return c
}
