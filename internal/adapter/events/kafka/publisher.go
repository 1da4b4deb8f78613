// Package kafka publishes ledger status changes to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ports.LedgerEventPublisher. Messages are keyed by
// entry id so every status change of one entry lands in the same partition.
type Publisher struct {
	writer messageWriter
	log    zerolog.Logger
}

// NewPublisher creates a publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string, log zerolog.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log,
	}
}

// EntryEvent is the message body of one ledger status change.
type EntryEvent struct {
	EntryID     string         `json:"entry_id"`
	OwnerType   string         `json:"owner_type"`
	OwnerID     string         `json:"owner_id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Direction   string         `json:"direction"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Reference   *string        `json:"reference,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func entryMessage(entry *domain.LedgerEntry) (kafka.Message, error) {
	ev := EntryEvent{
		EntryID:     entry.ID.String(),
		OwnerType:   string(entry.OwnerType),
		OwnerID:     entry.OwnerID,
		Type:        string(entry.Type),
		Status:      string(entry.Status),
		Direction:   string(entry.Direction),
		Amount:      entry.Amount,
		Currency:    entry.Currency,
		Reference:   entry.Reference,
		Metadata:    entry.Metadata,
		OccurredAt:  entry.UpdatedAt,
		CompletedAt: entry.CompletedAt,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal ledger event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.EntryID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}

// PublishEntry writes the entry's current state.
func (p *Publisher) PublishEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	msg, err := entryMessage(entry)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write ledger event: %w", err)
	}
	p.log.Debug().Str("entry_id", entry.ID.String()).Str("status", string(entry.Status)).Msg("ledger event published")
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) PublishEntry(context.Context, *domain.LedgerEntry) error { return nil }
