package thread

import (
	"colloquy/internal/models"
)

// State is the outcome of a thread load.
type State string

const (
	// StateUnresolved means no viewer was known, so nothing was fetched. It is
	// distinct from a ready thread with zero comments.
	StateUnresolved State = "unresolved"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// Node is a comment in an assembled thread together with the viewer's own
// reaction on it. Only top-level nodes carry replies.
type Node struct {
	models.Comment
	Reaction models.ReactionState `json:"reaction"`
	Replies  []Node               `json:"replies,omitempty"`
}

// Thread is an assembled two-level comment tree.
type Thread struct {
	Kind     models.ThreadKind `json:"kind"`
	ThreadID uint              `json:"thread_id"`
	Comments []Node            `json:"comments"`
	// TotalCount counts top-level comments plus all of their replies.
	TotalCount int `json:"total_count"`
	// NextCursor is set when more top-level comments follow this page.
	NextCursor string `json:"next_cursor,omitempty"`
}

// Snapshot is the result of one thread load.
type Snapshot struct {
	State    State   `json:"state"`
	ThreadID uint    `json:"thread_id"`
	Thread   *Thread `json:"thread,omitempty"`
	Err      error   `json:"-"`
	// Generation is set by the SyncController for reload-driven snapshots.
	Generation uint64 `json:"generation,omitempty"`
}

func unresolved(threadID uint) Snapshot {
	return Snapshot{State: StateUnresolved, ThreadID: threadID}
}

func failed(threadID uint, err error) Snapshot {
	return Snapshot{State: StateFailed, ThreadID: threadID, Err: models.NewRepositoryError(err)}
}
