package thread

import (
	"context"
	"log/slog"

	"colloquy/internal/identity"
	"colloquy/internal/models"
	"colloquy/internal/observability"
)

// ReactionAction is the storage write a reaction transition requires.
type ReactionAction string

const (
	ActionInsert ReactionAction = "insert"
	ActionUpdate ReactionAction = "update"
	ActionRemove ReactionAction = "remove"
)

// Transition applies one like/dislike toggle to the current state.
//
//	current   like        dislike
//	none      liked  +    disliked +
//	liked     none   -    disliked ~
//	disliked  liked  ~    none     -
func Transition(current models.ReactionState, wantsLike bool) (models.ReactionState, ReactionAction) {
	switch current {
	case models.ReactionLiked:
		if wantsLike {
			return models.ReactionNone, ActionRemove
		}
		return models.ReactionDisliked, ActionUpdate
	case models.ReactionDisliked:
		if wantsLike {
			return models.ReactionLiked, ActionUpdate
		}
		return models.ReactionNone, ActionRemove
	default:
		if wantsLike {
			return models.ReactionLiked, ActionInsert
		}
		return models.ReactionDisliked, ActionInsert
	}
}

// ReactionEngine toggles a viewer's like/dislike on a comment.
type ReactionEngine struct {
	scope models.Scope
	repo  Repository
	log   *slog.Logger
}

// NewReactionEngine creates a ReactionEngine for one scope.
func NewReactionEngine(scope models.Scope, repo Repository, opts ...Option) *ReactionEngine {
	o := buildOptions(opts)
	return &ReactionEngine{scope: scope, repo: repo, log: o.logger}
}

// Toggle moves the viewer's reaction on commentID through the transition
// table and returns the new state. Comment counters are left untouched; they
// change only when the thread is reloaded.
func (e *ReactionEngine) Toggle(
	ctx context.Context, commentID uint, viewer *identity.Viewer, wantsLike bool,
) (models.ReactionState, error) {
	if viewer == nil {
		e.record("toggle_reaction", "auth_required")
		return models.ReactionNone, models.NewAuthRequiredError("react to comments")
	}

	current, err := e.repo.FetchViewerReaction(ctx, commentID, viewer.ID)
	if err != nil {
		e.record("toggle_reaction", "error")
		return models.ReactionNone, models.NewRepositoryError(err)
	}

	prev := models.StateOf(current)
	next, action := Transition(prev, wantsLike)

	switch action {
	case ActionInsert, ActionUpdate:
		err = e.repo.UpsertReaction(ctx, commentID, viewer.ID, next == models.ReactionLiked)
	case ActionRemove:
		err = e.repo.DeleteReaction(ctx, commentID, viewer.ID)
	}
	if err != nil {
		e.record("toggle_reaction", "error")
		e.log.ErrorContext(ctx, "reaction write failed",
			slog.String("kind", e.scope.String()),
			slog.Uint64("comment_id", uint64(commentID)),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		if models.ErrorCode(err) != "" {
			return prev, err
		}
		return prev, models.NewRepositoryError(err)
	}

	e.record("toggle_reaction", "ok")
	e.log.DebugContext(ctx, "reaction toggled",
		slog.String("kind", e.scope.String()),
		slog.Uint64("comment_id", uint64(commentID)),
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	return next, nil
}

func (e *ReactionEngine) record(op, outcome string) {
	observability.Mutations.WithLabelValues(e.scope.String(), op, outcome).Inc()
}
