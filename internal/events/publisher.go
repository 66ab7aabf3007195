package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/viper"
	"github.com/zamio/backend/internal/models"
)

// Publisher emits ledger events to Kafka after the owning database
// transaction has committed. Publishing is best effort: a broker
// failure is logged and never rolls back money movement.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a publisher from config. Returns a disabled
// (nil-writer) publisher when no brokers are configured.
func NewPublisher() *Publisher {
	viper.SetDefault("kafka.topic", "royalty.transactions")

	brokers := viper.GetStringSlice("kafka.brokers")
	if len(brokers) == 0 {
		log.Println("Kafka brokers not configured, event publishing disabled")
		return &Publisher{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        viper.GetString("kafka.topic"),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Printf("Kafka publisher ready, topic %s", writer.Topic)
	return &Publisher{writer: writer}
}

type transactionRecorded struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Type          string `json:"transaction_type"`
	Direction     string `json:"direction"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
	Timestamp     string `json:"timestamp"`
}

// TransactionRecorded publishes one committed ledger row. Keyed by
// account id so per-account ordering is preserved.
func (p *Publisher) TransactionRecorded(entry *models.Transaction) {
	if p == nil || p.writer == nil {
		return
	}

	payload, err := json.Marshal(transactionRecorded{
		Event:         "transaction.recorded",
		TransactionID: entry.TransactionID,
		AccountID:     entry.AccountID,
		Type:          entry.Type,
		Direction:     entry.Direction,
		Amount:        entry.Amount.String(),
		BalanceAfter:  entry.BalanceAfter.String(),
		Timestamp:     entry.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[EVENTS] marshal failed for %s: %v", entry.TransactionID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.AccountID),
		Value: payload,
	})
	if err != nil {
		log.Printf("[EVENTS] publish failed for %s: %v", entry.TransactionID, err)
	}
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
