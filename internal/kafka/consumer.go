package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// Sink receives decoded change events; notify.Hub satisfies it.
type Sink interface {
	Publish(ev domain.StatusChangeEvent) int
}

// StartConsumer relays the change topic into sink until ctx is done.
// Every instance should use its own group id so each one sees every event.
func StartConsumer(ctx context.Context, sink Sink, cfg ConsumerConfig) (*kafka.Reader, error) {
	if cfg.Brokers == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer: brokers and topic are required")
	}
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.LastOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	go func() {
		defer r.Close()

		backoff := time.Millisecond * 300
		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka fetch error", "err", err)
				time.Sleep(backoff)
				continue
			}

			ev, err := decodeEvent(m)
			if err != nil {
				logger.Warn("kafka invalid change event, skip and commit", "offset", m.Offset, "err", err)
			} else {
				n := sink.Publish(ev)
				logger.Debug("change event relayed", "entity_id", ev.EntityID, "status", ev.Status, "subscribers", n)
			}

			if err := r.CommitMessages(ctx, m); err != nil {
				logger.Warn("[kafka] commit failed", "err", err)
			}
		}
	}()
	return r, nil
}

func decodeEvent(m kafka.Message) (domain.StatusChangeEvent, error) {
	var ev domain.StatusChangeEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, err
	}
	if ev.EntityID == uuid.Nil {
		return ev, fmt.Errorf("event without entity id")
	}
	switch ev.EntityType {
	case domain.EntityOrder, domain.EntityMenuItem:
	default:
		return ev, fmt.Errorf("unknown entity type %q", ev.EntityType)
	}
	return ev, nil
}
