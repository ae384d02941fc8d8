package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"wager-ledger/internal/model"
)

// resultReader is the slice of kafka.Reader the consumer needs. Offsets are
// committed explicitly so a failed settlement run is redelivered.
type resultReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// GameResultConsumer reads normalized game results from the result feed topic
// and drives settlement, one message per completed or cancelled game. The
// scheduler upstream deduplicates games, so concurrent batches never share a
// game id.
type GameResultConsumer struct {
	reader resultReader
	settle func(ctx context.Context, results []model.GameResult) error
}

// NewGameResultConsumer creates a consumer on the game results topic.
func NewGameResultConsumer(brokers []string, topic, groupID string, settle func(ctx context.Context, results []model.GameResult) error) *GameResultConsumer {
	return &GameResultConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		settle: settle,
	}
}

// Run consumes until the context is cancelled. A message's offset is
// committed only after its settlement run succeeds: failures are retried in
// place, so the consumer never advances past an unsettled game. Retrying a
// half-applied run is safe because settlement is idempotent per bet.
// Unparseable messages are committed away so a poison message cannot wedge
// the partition.
func (c *GameResultConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Game result fetch failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var result model.GameResult
		if err := json.Unmarshal(m.Value, &result); err != nil {
			log.Warn().Err(err).Msg("Invalid game result message")
			c.commit(ctx, m)
			continue
		}

		// Commits are cumulative per partition, so skipping ahead here would
		// implicitly commit the failed game once a later message commits.
		for {
			err := c.settle(ctx, []model.GameResult{result})
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("game_id", result.GameID).Msg("Settlement run failed, retrying")
			time.Sleep(2 * time.Second)
		}

		c.commit(ctx, m)
	}
}

func (c *GameResultConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Warn().Err(err).Msg("Failed to commit game result offset")
	}
}
