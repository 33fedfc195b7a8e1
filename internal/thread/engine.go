package thread

import (
	"context"
	"log/slog"
	"sort"

	"colloquy/internal/identity"
	"colloquy/internal/models"
)

// Engine is the comment core of one scope. Lesson and news threads each get
// their own Engine over the same code.
type Engine struct {
	scope     models.Scope
	repo      Repository
	feed      ChangeFeed
	ident     IdentityPort
	opts      []Option
	flags     FlagChecker
	log       *slog.Logger
	assembler *Assembler
	mutations *Mutations
	reactions *ReactionEngine
}

// NewEngine wires the assembler, mutation pipeline and reaction engine of one
// scope. feed may be nil, in which case sync controllers never receive events.
func NewEngine(scope models.Scope, repo Repository, feed ChangeFeed, ident IdentityPort, opts ...Option) *Engine {
	o := buildOptions(opts)
	if ident == nil {
		ident = identity.ContextResolver{}
	}
	return &Engine{
		scope:     scope,
		repo:      repo,
		feed:      feed,
		ident:     ident,
		opts:      opts,
		flags:     o.flags,
		log:       o.logger,
		assembler: NewAssembler(scope, repo, opts...),
		mutations: NewMutations(scope, repo, opts...),
		reactions: NewReactionEngine(scope, repo, opts...),
	}
}

// Scope returns the scope this engine serves.
func (e *Engine) Scope() models.Scope {
	return e.scope
}

func (e *Engine) viewer(ctx context.Context) *identity.Viewer {
	v, ok := e.ident.CurrentViewer(ctx)
	if !ok {
		return nil
	}
	return &v
}

// LoadThread assembles the first page of a thread for the current viewer.
func (e *Engine) LoadThread(ctx context.Context, threadID uint) Snapshot {
	return e.assembler.Load(ctx, threadID, e.viewer(ctx))
}

// LoadThreadPage assembles the page of top-level comments selected by page.
func (e *Engine) LoadThreadPage(ctx context.Context, threadID uint, page models.Page) Snapshot {
	return e.assembler.LoadPage(ctx, threadID, e.viewer(ctx), page)
}

// LoadReplies returns the replies of one comment of threadID, oldest first.
// A comment of another thread has no replies here. The viewer's own reaction
// is only filled in when reply reactions are enabled for them.
func (e *Engine) LoadReplies(ctx context.Context, threadID, parentID uint) ([]Node, error) {
	replies, err := e.repo.FetchReplies(ctx, threadID, parentID)
	if err != nil {
		return nil, models.NewRepositoryError(err)
	}
	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})

	states := map[uint]models.ReactionState{}
	if v := e.viewer(ctx); v != nil && len(replies) > 0 && e.flags != nil && e.flags.Enabled(FlagReplyReactions, v.ID) {
		ids := make([]uint, len(replies))
		for i := range replies {
			ids[i] = replies[i].ID
		}
		reactions, err := e.repo.FetchViewerReactions(ctx, ids, v.ID)
		if err != nil {
			return nil, models.NewRepositoryError(err)
		}
		for i := range reactions {
			states[reactions[i].CommentID] = models.StateOf(&reactions[i])
		}
	}

	nodes := make([]Node, 0, len(replies))
	for _, r := range replies {
		state, ok := states[r.ID]
		if !ok {
			state = models.ReactionNone
		}
		nodes = append(nodes, Node{Comment: e.assembler.present(r), Reaction: state})
	}
	return nodes, nil
}

// AddComment posts a top-level comment as the current viewer.
func (e *Engine) AddComment(ctx context.Context, threadID uint, content string) error {
	return e.mutations.AddComment(ctx, threadID, e.viewer(ctx), content)
}

// AddReply posts a reply to parentID as the current viewer.
func (e *Engine) AddReply(ctx context.Context, threadID, parentID uint, content string) error {
	return e.mutations.AddReply(ctx, threadID, parentID, e.viewer(ctx), content)
}

// ToggleReaction toggles the current viewer's like or dislike on commentID.
func (e *Engine) ToggleReaction(ctx context.Context, commentID uint, wantsLike bool) (models.ReactionState, error) {
	return e.reactions.Toggle(ctx, commentID, e.viewer(ctx), wantsLike)
}

// NewSyncController returns an inactive controller whose reloads go through
// LoadThread with the identity carried by the context passed to Activate.
func (e *Engine) NewSyncController(onSnapshot func(Snapshot)) *SyncController {
	return NewSyncController(e.scope, e.feed, e.LoadThread, onSnapshot, e.opts...)
}
