// Package changefeed delivers comment and reaction change events to active
// thread views, over Redis pub/sub or PostgreSQL LISTEN/NOTIFY.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"colloquy/internal/models"
	"colloquy/internal/observability"
	"colloquy/internal/thread"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CommentChannel is the channel carrying comment events of one thread.
func CommentChannel(kind models.ThreadKind, threadID uint) string {
	return fmt.Sprintf("colloquy:%s:comments:%d", kind, threadID)
}

// ReactionChannel is the channel carrying every reaction event of a kind.
// Reactions are not partitioned by thread.
func ReactionChannel(kind models.ThreadKind) string {
	return fmt.Sprintf("colloquy:%s:reactions", kind)
}

// ErrNoRedis is returned by RedisFeed.Subscribe when no Redis client is
// configured.
var ErrNoRedis = errors.New("redis change feed has no client")

// RedisFeed publishes and subscribes to change events over Redis pub/sub.
// With a nil client Publish is a no-op and Subscribe fails with ErrNoRedis.
type RedisFeed struct {
	rdb *redis.Client
}

// NewRedisFeed creates a RedisFeed.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

// Publish sends ev to the channel its table routes to.
func (f *RedisFeed) Publish(ctx context.Context, ev models.ChangeEvent) error {
	if f.rdb == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	var channel string
	switch ev.Table {
	case models.TableComments:
		channel = CommentChannel(ev.Kind, ev.ThreadID)
	case models.TableReactions:
		channel = ReactionChannel(ev.Kind)
	default:
		return fmt.Errorf("unknown change table %q", ev.Table)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return f.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe listens to the comment channel of threadID and the reaction
// channel of scope. The subscription is confirmed before Subscribe returns;
// if the connection later dies the failure is logged and not retried.
func (f *RedisFeed) Subscribe(
	ctx context.Context, scope models.Scope, threadID uint, onEvent func(models.ChangeEvent),
) (thread.Unsubscribe, error) {
	if f.rdb == nil {
		observability.ChangeFeedErrors.WithLabelValues("redis", "subscribe").Inc()
		return nil, ErrNoRedis
	}

	sub := f.rdb.Subscribe(ctx, CommentChannel(scope.Kind, threadID), ReactionChannel(scope.Kind))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.ChangeFeedErrors.WithLabelValues("redis", "subscribe").Inc()
		return nil, fmt.Errorf("subscribe to %s thread %d: %w", scope, threadID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	ch := sub.Channel()

	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if runCtx.Err() == nil {
						observability.ChangeFeedErrors.WithLabelValues("redis", "receive").Inc()
						observability.Logger.Warn("change feed channel closed",
							slog.String("kind", scope.String()),
							slog.Uint64("thread_id", uint64(threadID)),
						)
					}
					return
				}
				deliver("redis", scope, msg.Payload, onEvent)
			}
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			cancel()
			err = sub.Close()
			<-done
		})
		return err
	}, nil
}

// deliver decodes one payload and hands it to onEvent.
func deliver(feed string, scope models.Scope, payload string, onEvent func(models.ChangeEvent)) {
	ev, ok := decodeEvent(feed, payload)
	if !ok {
		return
	}
	if ev.Kind == "" {
		ev.Kind = scope.Kind
	}
	safeCall(onEvent, ev)
}

func decodeEvent(feed, payload string) (models.ChangeEvent, bool) {
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		observability.ChangeFeedErrors.WithLabelValues(feed, "decode").Inc()
		observability.Logger.Warn("dropping malformed change event",
			slog.String("feed", feed),
			slog.String("error", err.Error()),
		)
		return ev, false
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev, true
}

func safeCall(onEvent func(models.ChangeEvent), ev models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("PANIC in change feed subscriber",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	onEvent(ev)
}
