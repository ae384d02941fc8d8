// Package events tests for the game result consumer's delivery guarantees.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"wager-ledger/internal/model"
)

// fakeReader feeds a fixed message sequence and records commits.
type fakeReader struct {
	messages  []kafka.Message
	next      int
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.next >= len(f.messages) {
		// Sequence exhausted: end the run loop.
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.messages[f.next]
	f.next++
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func resultMessage(t *testing.T, offset int64, gameID string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.GameResult{
		GameID:    gameID,
		HomeTeam:  "KC",
		AwayTeam:  "BUF",
		HomeScore: 24,
		AwayScore: 20,
		Status:    model.GameStatusCompleted,
	})
	if err != nil {
		t.Fatalf("marshal game result: %v", err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

// TestConsumerCommitsOnlyAfterSettleSucceeds tests that a failed settlement
// run holds the offset back and the same game is retried until it lands.
func TestConsumerCommitsOnlyAfterSettleSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		messages: []kafka.Message{resultMessage(t, 7, "game-1")},
		cancel:   cancel,
	}

	var attempts []string
	failures := 1
	c := &GameResultConsumer{
		reader: reader,
		settle: func(_ context.Context, results []model.GameResult) error {
			attempts = append(attempts, results[0].GameID)
			if failures > 0 {
				failures--
				if len(reader.committed) != 0 {
					t.Fatal("offset committed before settlement succeeded")
				}
				return errors.New("transient database outage")
			}
			return nil
		},
	}

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if len(attempts) != 2 {
		t.Fatalf("settle ran %d times, want 2 (one failure then success)", len(attempts))
	}
	for _, g := range attempts {
		if g != "game-1" {
			t.Fatalf("retry switched games: %v", attempts)
		}
	}
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Fatalf("committed offsets = %v, want [7]", reader.committed)
	}
}

// TestConsumerCommitsPoisonMessages tests that an unparseable message is
// committed away without reaching settlement.
func TestConsumerCommitsPoisonMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		messages: []kafka.Message{
			{Offset: 3, Value: []byte("not json")},
			resultMessage(t, 4, "game-2"),
		},
		cancel: cancel,
	}

	var settled []string
	c := &GameResultConsumer{
		reader: reader,
		settle: func(_ context.Context, results []model.GameResult) error {
			settled = append(settled, results[0].GameID)
			return nil
		},
	}

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if len(settled) != 1 || settled[0] != "game-2" {
		t.Fatalf("settled games = %v, want [game-2]", settled)
	}
	if len(reader.committed) != 2 {
		t.Fatalf("committed %d offsets, want 2 (poison skipped, result settled)", len(reader.committed))
	}
}
