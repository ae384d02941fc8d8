// Package events defines the outbound event contracts the ledger publishes
// for downstream subsystems (statistics, competitions) and the Kafka
// publisher that carries them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// BetPlaced is emitted after a placement transaction commits. SlipID is empty
// for straight bets and set once per parlay.
type BetPlaced struct {
	BetID      string `json:"bet_id"`
	SlipID     string `json:"slip_id,omitempty"`
	UserID     string `json:"user_id"`
	LeagueID   string `json:"league_id"`
	GameID     string `json:"game_id"`
	Market     string `json:"market"`
	Selection  string `json:"selection"`
	Odds       int64  `json:"odds"`
	StakeCents int64  `json:"stake_cents"`
	TsUnixMs   int64  `json:"ts_unix_ms"`
}

// BetSettled is emitted after a settlement transaction commits, once per bet
// or parlay slip.
type BetSettled struct {
	BetID       string `json:"bet_id"`
	SlipID      string `json:"slip_id,omitempty"`
	UserID      string `json:"user_id"`
	LeagueID    string `json:"league_id"`
	Result      string `json:"result"`
	StakeCents  int64  `json:"stake_cents"`
	PayoutCents int64  `json:"payout_cents"`
	SettledBy   string `json:"settled_by"`
	TsUnixMs    int64  `json:"ts_unix_ms"`
}

// Publisher is the outbound event sink. Publishing is best-effort relative to
// the ledger: the database commit is the source of truth and failures here
// must not roll anything back.
type Publisher interface {
	PublishBetPlaced(ctx context.Context, e BetPlaced) error
	PublishBetSettled(ctx context.Context, e BetSettled) error
	Close() error
}

// KafkaPublisher publishes ledger events to Kafka topics.
type KafkaPublisher struct {
	placedWriter  *kafka.Writer
	settledWriter *kafka.Writer
}

// NewKafkaPublisher creates writers for the bet-placed and bet-settled topics.
func NewKafkaPublisher(brokers []string, topicPlaced, topicSettled string) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaPublisher{
		placedWriter:  newWriter(topicPlaced),
		settledWriter: newWriter(topicSettled),
	}
}

// PublishBetPlaced writes a bet-placed event keyed by user id.
func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e BetPlaced) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal bet placed event: %w", err)
	}
	return p.placedWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.UserID), Value: b})
}

// PublishBetSettled writes a bet-settled event keyed by user id.
func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, e BetSettled) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal bet settled event: %w", err)
	}
	return p.settledWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.UserID), Value: b})
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	if err := p.placedWriter.Close(); err != nil {
		return err
	}
	return p.settledWriter.Close()
}

// NoopPublisher drops every event. Used in tests and when the publisher is
// disabled by configuration.
type NoopPublisher struct{}

// PublishBetPlaced implements Publisher.
func (NoopPublisher) PublishBetPlaced(context.Context, BetPlaced) error { return nil }

// PublishBetSettled implements Publisher.
func (NoopPublisher) PublishBetSettled(context.Context, BetSettled) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
