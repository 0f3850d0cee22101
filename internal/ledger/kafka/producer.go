package kafka

import (
	"context"
	"encoding/json"
	"ms-ledger/internal/models"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventItemReserved        = "item.reserved"
	EventTransactionRecorded = "transaction.recorded"
	EventReservationExpired  = "reservation.expired"
	EventItemTransferred     = "item.transferred"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

// Publish streams a ledger event keyed by order, so all events for one
// order land on the same partition in order.
func (p *Producer) Publish(event models.LedgerEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.OrderID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
