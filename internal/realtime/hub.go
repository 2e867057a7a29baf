// Package realtime pushes wallet change events to connected browsers. A single
// LISTEN connection fans notifications out to per-user subscribers.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidaleve/backend/internal/metrics"
)

// Hub routes change notifications to subscribers by user id. Each subscriber
// channel has a buffer of one, so a burst of changes collapses into a single
// pending signal the reader drains once.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan struct{}]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uuid.UUID]map[chan struct{}]struct{}), logger: logger}
}

// Subscribe registers interest in userID's wallet. The returned cancel func
// must be called once the caller stops reading.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeSubscriberAdded()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			metrics.RealtimeSubscriberRemoved()
		})
	}
}

// Publish signals every subscriber of userID without blocking.
func (h *Hub) Publish(userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) subscriberCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Listen holds a dedicated connection LISTENing on channel and publishes each
// payload (a user id) until ctx is done. Lost connections are re-established
// with capped backoff.
func (h *Hub) Listen(ctx context.Context, pool *pgxpool.Pool, channel string) {
	backoff := time.Second
	for {
		err := h.listenOnce(ctx, pool, channel)
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("realtime listener stopped, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (h *Hub) listenOnce(ctx context.Context, pool *pgxpool.Pool, channel string) error {
	pc, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// The session keeps LISTEN state, so it must not go back to the pool.
	conn := pc.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	h.logger.Info("realtime listener started", "channel", channel)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(n.Payload)
		if err != nil {
			h.logger.Warn("ignoring malformed notification", "payload", n.Payload)
			continue
		}
		h.Publish(id)
	}
}
