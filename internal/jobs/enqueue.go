package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/vidaleve/backend/internal/notify"
)

var errNotBound = errors.New("river client not bound")

// Enqueuer implements notify.Enqueuer. It is created before the River client
// (whose workers need the notify service) and bound once the client exists.
type Enqueuer struct {
	mu     sync.RWMutex
	insert func(ctx context.Context, tx pgx.Tx, params []river.InsertManyParams) error
}

var _ notify.Enqueuer = (*Enqueuer)(nil)

func NewEnqueuer() *Enqueuer { return &Enqueuer{} }

// Bind attaches the River client.
func (e *Enqueuer) Bind(client *river.Client[pgx.Tx]) {
	e.BindFunc(func(ctx context.Context, tx pgx.Tx, params []river.InsertManyParams) error {
		_, err := client.InsertManyTx(ctx, tx, params)
		return err
	})
}

// BindFunc attaches an arbitrary insert function; tests use it to capture jobs.
func (e *Enqueuer) BindFunc(fn func(ctx context.Context, tx pgx.Tx, params []river.InsertManyParams) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert = fn
}

func (e *Enqueuer) EnqueueTx(ctx context.Context, tx pgx.Tx, deliveries []notify.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	e.mu.RLock()
	fn := e.insert
	e.mu.RUnlock()
	if fn == nil {
		return errNotBound
	}
	params := make([]river.InsertManyParams, len(deliveries))
	for i, d := range deliveries {
		params[i] = river.InsertManyParams{Args: SendPushArgs{Delivery: d}}
	}
	return fn(ctx, tx, params)
}
