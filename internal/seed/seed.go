// Package seed fills the comment tables with demo threads for development
// and testing.
package seed

import (
	"fmt"
	"log/slog"
	"time"

	"colloquy/internal/database"
	"colloquy/internal/models"
	"colloquy/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

const batchSize = 200

// Options controls how much data is generated per scope.
type Options struct {
	Threads           int
	CommentsPerThread int
	MaxReplies        int
	Viewers           int
	// ReactionRate is the probability that a viewer reacts to a comment.
	ReactionRate float64
	// MaxDays spreads comment timestamps over the last MaxDays days.
	MaxDays int
	Seed    int64
}

// DefaultOptions is a small but lively dataset.
func DefaultOptions() Options {
	return Options{
		Threads:           5,
		CommentsPerThread: 12,
		MaxReplies:        4,
		Viewers:           25,
		ReactionRate:      0.3,
		MaxDays:           30,
		Seed:              time.Now().UnixNano(),
	}
}

// Result counts the rows written for one scope.
type Result struct {
	Comments  int
	Replies   int
	Reactions int
}

// Seeder writes generated threads through gorm.
type Seeder struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	now   time.Time
}

// NewSeeder creates a Seeder. The same Seed produces the same content.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if opts.Viewers <= 0 {
		opts.Viewers = 1
	}
	return &Seeder{
		db:    db,
		opts:  opts,
		faker: gofakeit.New(opts.Seed),
		now:   time.Now().UTC(),
	}
}

// ClearAll removes every comment and reaction.
func (s *Seeder) ClearAll() error {
	if err := database.TruncateAll(s.db); err != nil {
		return fmt.Errorf("clear comment tables: %w", err)
	}
	observability.Logger.Info("comment tables cleared")
	return nil
}

// SeedAll seeds every scope.
func (s *Seeder) SeedAll() (map[models.ThreadKind]Result, error) {
	out := make(map[models.ThreadKind]Result)
	for _, scope := range models.Scopes() {
		res, err := s.SeedScope(scope)
		if err != nil {
			return out, err
		}
		out[scope.Kind] = res
	}
	return out, nil
}

// SeedScope generates Threads threads (IDs 1..Threads) for scope, then
// recounts the like and dislike counters from the reaction rows.
func (s *Seeder) SeedScope(scope models.Scope) (Result, error) {
	var res Result

	for threadID := uint(1); threadID <= uint(s.opts.Threads); threadID++ {
		top := make([]models.Comment, 0, s.opts.CommentsPerThread)
		for i := 0; i < s.opts.CommentsPerThread; i++ {
			top = append(top, s.buildComment(scope, threadID, nil, s.pastTime()))
		}
		if err := s.insertComments(scope, top); err != nil {
			return res, err
		}
		res.Comments += len(top)

		var replies []models.Comment
		for i := range top {
			n := 0
			if s.opts.MaxReplies > 0 {
				n = s.faker.Number(0, s.opts.MaxReplies)
			}
			at := top[i].CreatedAt
			for j := 0; j < n; j++ {
				at = at.Add(time.Duration(s.faker.Number(1, 180)) * time.Minute)
				parentID := top[i].ID
				replies = append(replies, s.buildComment(scope, threadID, &parentID, at))
			}
		}
		if err := s.insertComments(scope, replies); err != nil {
			return res, err
		}
		res.Replies += len(replies)

		reactions := s.buildReactions(scope, append(top, replies...))
		if len(reactions) > 0 {
			if err := s.db.Table(scope.ReactionsTable()).CreateInBatches(&reactions, batchSize).Error; err != nil {
				return res, fmt.Errorf("insert %s reactions: %w", scope, err)
			}
		}
		res.Reactions += len(reactions)
	}

	if err := Recount(s.db, scope); err != nil {
		return res, err
	}

	observability.Logger.Info("scope seeded",
		slog.String("kind", scope.String()),
		slog.Int("threads", s.opts.Threads),
		slog.Int("comments", res.Comments),
		slog.Int("replies", res.Replies),
		slog.Int("reactions", res.Reactions),
	)
	return res, nil
}

func (s *Seeder) buildComment(scope models.Scope, threadID uint, parentID *uint, at time.Time) models.Comment {
	c := models.Comment{
		ThreadID:        threadID,
		ParentCommentID: parentID,
		Content:         s.faker.Paragraph(1, s.faker.Number(1, 3), s.faker.Number(6, 14), " "),
		AuthorID:        s.viewer(),
		CreatedAt:       at,
	}
	if scope.HasDislikes {
		zero := 0
		c.DislikesCount = &zero
	}
	return c
}

func (s *Seeder) insertComments(scope models.Scope, rows []models.Comment) error {
	if len(rows) == 0 {
		return nil
	}
	q := s.db.Table(scope.CommentsTable())
	if !scope.HasDislikes {
		q = q.Omit("DislikesCount")
	}
	if err := q.CreateInBatches(&rows, batchSize).Error; err != nil {
		return fmt.Errorf("insert %s comments: %w", scope, err)
	}
	return nil
}

// buildReactions gives every viewer at most one reaction per comment. News
// threads only collect likes.
func (s *Seeder) buildReactions(scope models.Scope, comments []models.Comment) []models.Reaction {
	var out []models.Reaction
	for _, c := range comments {
		for viewer := uint(1); viewer <= uint(s.opts.Viewers); viewer++ {
			if s.faker.Float64Range(0, 1) >= s.opts.ReactionRate {
				continue
			}
			isLike := true
			if scope.HasDislikes {
				isLike = s.faker.Number(0, 3) > 0
			}
			at := c.CreatedAt.Add(time.Duration(s.faker.Number(1, 600)) * time.Minute)
			out = append(out, models.Reaction{
				CommentID: c.ID,
				ViewerID:  viewer,
				IsLike:    isLike,
				CreatedAt: at,
				UpdatedAt: at,
			})
		}
	}
	return out
}

func (s *Seeder) viewer() uint {
	return uint(s.faker.Number(1, s.opts.Viewers))
}

func (s *Seeder) pastTime() time.Time {
	return s.faker.DateRange(s.now.AddDate(0, 0, -s.opts.MaxDays), s.now).UTC()
}

// Recount sets the aggregate counters of every comment in scope from its
// reaction rows. On PostgreSQL the triggers already keep them in sync, so
// this only repairs drift.
func Recount(db *gorm.DB, scope models.Scope) error {
	comments, reactions := scope.CommentsTable(), scope.ReactionsTable()
	count := func(isLike bool) string {
		return fmt.Sprintf(
			"(SELECT COUNT(*) FROM %s r WHERE r.comment_id = %s.id AND r.is_like = %t)",
			reactions, comments, isLike,
		)
	}

	stmt := fmt.Sprintf("UPDATE %s SET likes_count = %s", comments, count(true))
	if scope.HasDislikes {
		stmt += ", dislikes_count = " + count(false)
	}
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("recount %s: %w", scope, err)
	}
	return nil
}
