package users

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Sender delivers one broadcast message to one identity.
type Sender func(ctx context.Context, identity dialog.Identity, text string) error

// Broadcaster fans a message out to every subscribed user, rate limited so
// the delivery channel is not flooded. Individual failures are counted, not
// fatal.
type Broadcaster struct {
	store       *Store
	send        Sender
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// BroadcasterOption configures the Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcastLogger configures a logger for the broadcaster.
func WithBroadcastLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithConcurrency bounds parallel deliveries (default 4).
func WithConcurrency(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBroadcaster creates a broadcaster sending at most perSecond messages
// per second with the given burst.
func NewBroadcaster(store *Store, send Sender, perSecond float64, burst int, opts ...BroadcasterOption) *Broadcaster {
	if burst < 1 {
		burst = 1
	}
	b := &Broadcaster{
		store:       store,
		send:        send,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		concurrency: 4,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send delivers text to every subscribed user and reports how many
// deliveries succeeded and failed. It stops early only when the context
// ends. Each run gets a batch id for log correlation.
func (b *Broadcaster) Send(ctx context.Context, text string) (sent, failed int, err error) {
	recipients, err := b.store.Subscribers(ctx)
	if err != nil {
		return 0, 0, err
	}

	batch := uuid.NewString()
	var okCount, failCount atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, u := range recipients {
		identity := u.Identity
		g.Go(func() error {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := b.send(ctx, identity, text); err != nil {
				failCount.Add(1)
				b.logger.Warn("broadcast delivery failed",
					"batch", batch, "identity", identity.Key(), "err", err)
				return nil
			}
			okCount.Add(1)
			return nil
		})
	}

	err = g.Wait()
	sent, failed = int(okCount.Load()), int(failCount.Load())
	b.logger.Info("broadcast finished", "batch", batch, "sent", sent, "failed", failed)
	return sent, failed, err
}

// BroadcastAction sends the text collected under field to all users and
// merges the delivery counts back into the session data.
func (b *Broadcaster) BroadcastAction(field string) dialog.ActionFunc {
	return func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
		text, _ := data[field].(string)
		sent, failed, err := b.Send(ctx, text)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"broadcast_sent":   sent,
			"broadcast_failed": failed,
		}, nil
	}
}
