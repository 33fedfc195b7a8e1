package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"colloquy/internal/models"
	"colloquy/internal/observability"
	"colloquy/internal/thread"

	"github.com/jackc/pgx/v5"
)

// ErrNotListening is returned by PostgresFeed.Subscribe while the listener
// connection is down.
var ErrNotListening = errors.New("postgres change feed is not listening")

type pgSubscriber struct {
	scope    models.Scope
	threadID uint
	onEvent  func(models.ChangeEvent)
}

// PostgresFeed fans out the notifications that the comment table triggers
// send on models.ChangeNotifyChannel. One LISTEN connection serves every
// subscriber.
type PostgresFeed struct {
	dsn   string
	retry time.Duration

	ready atomic.Bool
	mu    sync.Mutex
	next  uint64
	subs  map[uint64]pgSubscriber
}

// NewPostgresFeed creates a feed listening with a dedicated pgx connection.
func NewPostgresFeed(dsn string) *PostgresFeed {
	return &PostgresFeed{
		dsn:   dsn,
		retry: 2 * time.Second,
		subs:  make(map[uint64]pgSubscriber),
	}
}

// Ready reports whether the LISTEN connection is currently established.
func (f *PostgresFeed) Ready() bool {
	return f.ready.Load()
}

// Run keeps the LISTEN connection open until ctx is cancelled, reconnecting
// after failures. Subscriptions made while connected stay registered across
// reconnects, but notifications sent in between are lost.
func (f *PostgresFeed) Run(ctx context.Context) {
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		observability.ChangeFeedErrors.WithLabelValues("postgres", "listen").Inc()
		observability.Logger.Warn("postgres change feed disconnected",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", f.retry),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}

func (f *PostgresFeed) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{models.ChangeNotifyChannel}.Sanitize()); err != nil {
		return err
	}
	f.ready.Store(true)
	defer f.ready.Store(false)
	observability.Logger.Info("postgres change feed listening", slog.String("channel", models.ChangeNotifyChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.dispatch(n.Payload)
	}
}

// Subscribe registers onEvent for comment events of threadID and every
// reaction event of scope.
func (f *PostgresFeed) Subscribe(
	_ context.Context, scope models.Scope, threadID uint, onEvent func(models.ChangeEvent),
) (thread.Unsubscribe, error) {
	if !f.ready.Load() {
		observability.ChangeFeedErrors.WithLabelValues("postgres", "subscribe").Inc()
		return nil, ErrNotListening
	}

	f.mu.Lock()
	f.next++
	id := f.next
	f.subs[id] = pgSubscriber{scope: scope, threadID: threadID, onEvent: onEvent}
	f.mu.Unlock()

	return func() error {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		return nil
	}, nil
}

func (f *PostgresFeed) dispatch(payload string) {
	ev, ok := decodeEvent("postgres", payload)
	if !ok {
		return
	}

	f.mu.Lock()
	targets := make([]func(models.ChangeEvent), 0, len(f.subs))
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
		safeCall(fn, ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
