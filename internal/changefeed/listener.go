package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the NOTIFY channel written by the orders and menu_items triggers.
const Channel = "order_changes"

type Sink interface {
	Publish(ev domain.StatusChangeEvent) int
}

// Listener turns postgres notifications into hub events. Any instance
// sharing the database sees every committed change, including ones made
// outside this service.
type Listener struct {
	pool    *pgxpool.Pool
	sink    Sink
	backoff time.Duration
}

func NewListener(pool *pgxpool.Pool, sink Sink) *Listener {
	return &Listener{pool: pool, sink: sink, backoff: time.Second}
}

// Run blocks until ctx is cancelled, re-listening after connection loss.
// Notifications sent while disconnected are lost.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("change feed listener stopped, reconnecting", "err", err, "backoff", l.backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("change feed listening", "channel", Channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := Decode(n.Payload)
		if err != nil {
			logger.Warn("bad change notification", "payload", n.Payload, "err", err)
			continue
		}
		l.sink.Publish(ev)
	}
}

// Decode parses a trigger payload into an event.
func Decode(payload string) (domain.StatusChangeEvent, error) {
	var ev domain.StatusChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode change payload: %w", err)
	}
	if ev.EntityID == uuid.Nil {
		return ev, fmt.Errorf("change payload without entity id")
	}
	if ev.EntityType != domain.EntityOrder && ev.EntityType != domain.EntityMenuItem {
		return ev, fmt.Errorf("unknown entity type %q", ev.EntityType)
	}
	return ev, nil
}
