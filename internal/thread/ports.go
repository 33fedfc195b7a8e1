// Package thread assembles two-level comment threads, applies comment and
// reaction mutations, and keeps a live thread in sync with remote changes.
package thread

import (
	"context"

	"colloquy/internal/identity"
	"colloquy/internal/models"
)

// Repository is the storage port for one comment scope.
type Repository interface {
	// FetchTopLevelComments returns comments without a parent, most liked first.
	FetchTopLevelComments(ctx context.Context, threadID uint, page models.Page) ([]models.Comment, error)
	// FetchReplies returns the replies of one comment of threadID, oldest first.
	FetchReplies(ctx context.Context, threadID, parentID uint) ([]models.Comment, error)
	// FetchRepliesFor returns the replies of every given parent, oldest first.
	FetchRepliesFor(ctx context.Context, parentIDs []uint) ([]models.Comment, error)
	// FetchViewerReaction returns the viewer's reaction on a comment, or nil.
	FetchViewerReaction(ctx context.Context, commentID, viewerID uint) (*models.Reaction, error)
	// FetchViewerReactions returns the viewer's reactions on any of the given comments.
	FetchViewerReactions(ctx context.Context, commentIDs []uint, viewerID uint) ([]models.Reaction, error)

	InsertComment(ctx context.Context, threadID, viewerID uint, content string, parentID *uint) error
	// UpsertReaction creates or flips the (comment, viewer) reaction in a single statement.
	UpsertReaction(ctx context.Context, commentID, viewerID uint, isLike bool) error
	DeleteReaction(ctx context.Context, commentID, viewerID uint) error
}

// Unsubscribe tears down a change feed subscription.
type Unsubscribe func() error

// ChangeFeed is the realtime port. Comment events are filtered to threadID;
// reaction events are delivered for the whole scope.
type ChangeFeed interface {
	Subscribe(ctx context.Context, scope models.Scope, threadID uint, onEvent func(models.ChangeEvent)) (Unsubscribe, error)
}

// IdentityPort resolves the viewer of the current request.
type IdentityPort interface {
	CurrentViewer(ctx context.Context) (identity.Viewer, bool)
}

// FlagChecker reports per-viewer feature flags.
type FlagChecker interface {
	Enabled(name string, viewerID uint) bool
}

// FlagReplyReactions enables fetching the viewer's own reaction on replies.
const FlagReplyReactions = "reply_reactions"
