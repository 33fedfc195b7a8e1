package models

// ReactionState is a viewer's own reaction on a comment.
type ReactionState string

const (
	ReactionNone     ReactionState = "none"
	ReactionLiked    ReactionState = "liked"
	ReactionDisliked ReactionState = "disliked"
)

// StateOf maps a stored reaction row (possibly nil) to a ReactionState.
func StateOf(r *Reaction) ReactionState {
	if r == nil {
		return ReactionNone
	}
	if r.IsLike {
		return ReactionLiked
	}
	return ReactionDisliked
}
