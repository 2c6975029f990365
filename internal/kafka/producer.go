package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w *kafka.Writer
}

// NewProducer writes change events keyed by entity id, so every change of
// one order lands on the same partition and keeps its order.
func NewProducer(brokersSTR, topic string) *Producer {
	brokers := strings.Split(brokersSTR, ",")

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

func (p *Producer) Emit(ctx context.Context, ev domain.StatusChangeEvent) error {
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func encodeEvent(ev domain.StatusChangeEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.EntityID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "entity-type", Value: []byte(ev.EntityType)},
		},
	}, nil
}
