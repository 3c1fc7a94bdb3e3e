package statusfeed

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/ipc"
)

// URL returns the websocket URL of a feed listening on addr.
func URL(addr string) string {
	return (&url.URL{Scheme: "ws", Host: addr, Path: Path}).String()
}

// Follow connects to the feed at rawURL and calls fn for every status until
// ctx is done. A dropped connection is retried with exponential backoff and
// jitter, capped at maxDelay.
func Follow(ctx context.Context, rawURL string, maxDelay time.Duration, fn func(ipc.Status), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := 500 * time.Millisecond
	attempt := 0
	for {
		err := follow(ctx, rawURL, func(s ipc.Status) {
			attempt = 0
			delay = 500 * time.Millisecond
			fn(s)
		})
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		log.Info("feed disconnected, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
		// ±10% jitter.
		delay += time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
	}
}

func follow(ctx context.Context, rawURL string, fn func(ipc.Status)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var status ipc.Status
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fn(status)
	}
}
