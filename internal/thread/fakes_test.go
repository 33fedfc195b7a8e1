package thread

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"colloquy/internal/models"
)

type reactionKey struct {
	commentID uint
	viewerID  uint
}

// memRepo is an in-memory Repository. Like the real store it never touches
// the aggregate counters on reaction writes.
type memRepo struct {
	mu        sync.Mutex
	nextID    uint
	clock     time.Time
	comments  []models.Comment
	reactions map[reactionKey]models.Reaction
	writes    int

	failTop     error
	failReplies error
	failWrite   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		reactions: map[reactionKey]models.Reaction{},
	}
}

func (r *memRepo) seed(threadID uint, parentID *uint, likes int, content string) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(threadID, 1, parentID, likes, content)
}

func (r *memRepo) addLocked(threadID, authorID uint, parentID *uint, likes int, content string) uint {
	r.nextID++
	r.clock = r.clock.Add(time.Minute)
	dislikes := 0
	r.comments = append(r.comments, models.Comment{
		ID:              r.nextID,
		ThreadID:        threadID,
		ParentCommentID: parentID,
		Content:         content,
		AuthorID:        authorID,
		LikesCount:      likes,
		DislikesCount:   &dislikes,
		CreatedAt:       r.clock,
	})
	return r.nextID
}

func (r *memRepo) comment(id uint) models.Comment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.comments {
		if c.ID == id {
			return c
		}
	}
	return models.Comment{}
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memRepo) reactionRows(commentID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.reactions {
		if k.commentID == commentID {
			n++
		}
	}
	return n
}

func (r *memRepo) FetchTopLevelComments(_ context.Context, threadID uint, page models.Page) ([]models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTop != nil {
		return nil, r.failTop
	}
	var out []models.Comment
	for _, c := range r.comments {
		if c.ThreadID == threadID && c.ParentCommentID == nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LikesCount != out[j].LikesCount {
			return out[i].LikesCount > out[j].LikesCount
		}
		return out[i].ID < out[j].ID
	})
	if page.After != nil {
		filtered := out[:0:0]
		for _, c := range out {
			if c.LikesCount < page.After.Likes || (c.LikesCount == page.After.Likes && c.ID > page.After.ID) {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (r *memRepo) FetchReplies(ctx context.Context, threadID, parentID uint) ([]models.Comment, error) {
	all, err := r.FetchRepliesFor(ctx, []uint{parentID})
	if err != nil {
		return nil, err
	}
	var out []models.Comment
	for _, c := range all {
		if c.ThreadID == threadID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) FetchRepliesFor(_ context.Context, parentIDs []uint) ([]models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReplies != nil {
		return nil, r.failReplies
	}
	want := map[uint]bool{}
	for _, id := range parentIDs {
		want[id] = true
	}
	var out []models.Comment
	for _, c := range r.comments {
		if c.ParentCommentID != nil && want[*c.ParentCommentID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) FetchViewerReaction(_ context.Context, commentID, viewerID uint) (*models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rx, ok := r.reactions[reactionKey{commentID, viewerID}]; ok {
		return &rx, nil
	}
	return nil, nil
}

func (r *memRepo) FetchViewerReactions(_ context.Context, commentIDs []uint, viewerID uint) ([]models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reaction
	for _, id := range commentIDs {
		if rx, ok := r.reactions[reactionKey{id, viewerID}]; ok {
			out = append(out, rx)
		}
	}
	return out, nil
}

func (r *memRepo) InsertComment(_ context.Context, threadID, viewerID uint, content string, parentID *uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	r.writes++
	r.addLocked(threadID, viewerID, parentID, 0, content)
	return nil
}

func (r *memRepo) UpsertReaction(_ context.Context, commentID, viewerID uint, isLike bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	r.writes++
	k := reactionKey{commentID, viewerID}
	rx := r.reactions[k]
	rx.CommentID, rx.ViewerID, rx.IsLike = commentID, viewerID, isLike
	r.reactions[k] = rx
	return nil
}

func (r *memRepo) DeleteReaction(_ context.Context, commentID, viewerID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	r.writes++
	delete(r.reactions, reactionKey{commentID, viewerID})
	return nil
}

// fakeFeed records subscriptions and lets tests push events.
type fakeFeed struct {
	mu      sync.Mutex
	subs    map[int]fakeSub
	next    int
	unsubs  int
	failSub error
}

type fakeSub struct {
	scope    models.Scope
	threadID uint
	onEvent  func(models.ChangeEvent)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: map[int]fakeSub{}}
}

func (f *fakeFeed) Subscribe(
	_ context.Context, scope models.Scope, threadID uint, onEvent func(models.ChangeEvent),
) (Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub != nil {
		return nil, f.failSub
	}
	f.next++
	id := f.next
	f.subs[id] = fakeSub{scope: scope, threadID: threadID, onEvent: onEvent}
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; !ok {
			return errors.New("already unsubscribed")
		}
		delete(f.subs, id)
		f.unsubs++
		return nil
	}, nil
}

// emit delivers ev to every subscriber the way a real feed filters: comment
// events only reach subscribers of the same thread, reaction events reach all
// subscribers of the scope.
func (f *fakeFeed) emit(ev models.ChangeEvent) {
	f.mu.Lock()
	var targets []func(models.ChangeEvent)
	for _, s := range f.subs {
		if s.scope.Kind != ev.Kind {
			continue
		}
		if ev.Table == models.TableComments && ev.ThreadID != s.threadID {
			continue
		}
		targets = append(targets, s.onEvent)
	}
	f.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}

func (f *fakeFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type staticFlags map[string]bool

func (s staticFlags) Enabled(name string, _ uint) bool {
	return s[name]
}
