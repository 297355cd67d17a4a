package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/sync"
)

type fakeTrigger struct {
	calls []sync.BatchOptions
	ctxs  []context.Context
}

func (f *fakeTrigger) RunBatch(ctx context.Context, opts sync.BatchOptions) (*domain.BatchSummary, error) {
	f.calls = append(f.calls, opts)
	f.ctxs = append(f.ctxs, ctx)
	return &domain.BatchSummary{RunID: "run-1", Processed: 1, Succeeded: 1}, nil
}

type fakeSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (f *fakeSession) Claims() map[string][]int32               { return nil }
func (f *fakeSession) MemberID() string                         { return "member-1" }
func (f *fakeSession) GenerationID() int32                      { return 1 }
func (f *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (f *fakeSession) Commit()                                  {}
func (f *fakeSession) ResetOffset(string, int32, int64, string) {}
func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.marked = append(f.marked, msg)
}
func (f *fakeSession) Context() context.Context { return f.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string                            { return "sync-requests" }
func (f *fakeClaim) Partition() int32                         { return 0 }
func (f *fakeClaim) InitialOffset() int64                     { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

type sessionKey struct{}

func newClaimHandler(trigger *fakeTrigger, batchSize int) *consumerGroupHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &consumerGroupHandler{
		consumer: &Consumer{
			config: &config.KafkaConfig{
				Topic:        "sync-requests",
				GroupID:      "activity-sync",
				BatchSize:    batchSize,
				BatchTimeout: 50 * time.Millisecond,
			},
			trigger: trigger,
			logger:  logger,
		},
		ready: make(chan bool),
	}
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "sync-requests", Value: []byte(value)}
}

func TestConsumeClaim_ProcessesValidRequests(t *testing.T) {
	trigger := &fakeTrigger{}
	handler := newClaimHandler(trigger, 10)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 8)}
	claim.messages <- message(`{"student_id":"student-1","platform":"lichess"}`)
	claim.messages <- message(`{"student_id":"student-1","platform":"lichess"}`)
	claim.messages <- message(`{"student_id":"student-2","platform":"chesscom"}`)
	claim.messages <- message(`not json`)
	claim.messages <- message(`{"student_id":"","platform":"lichess"}`)
	claim.messages <- message(`{"student_id":"student-3","platform":"fics"}`)
	close(claim.messages)

	session := &fakeSession{ctx: context.WithValue(context.Background(), sessionKey{}, "claim")}
	require.NoError(t, handler.ConsumeClaim(session, claim))

	// Duplicate requests collapse; malformed and invalid ones are
	// skipped but still marked consumed
	require.Len(t, trigger.calls, 2)
	assert.Equal(t, "student-1", trigger.calls[0].StudentID)
	assert.Equal(t, domain.PlatformLichess, trigger.calls[0].Platform)
	assert.Equal(t, "student-2", trigger.calls[1].StudentID)
	assert.Len(t, session.marked, 6)
}

func TestConsumeClaim_UsesSessionContext(t *testing.T) {
	trigger := &fakeTrigger{}
	handler := newClaimHandler(trigger, 10)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- message(`{"student_id":"student-1","platform":"lichess"}`)
	close(claim.messages)

	session := &fakeSession{ctx: context.WithValue(context.Background(), sessionKey{}, "claim")}
	require.NoError(t, handler.ConsumeClaim(session, claim))

	// Shutdown must be able to cancel an in-flight sync, so the batch
	// runs on the session's context
	require.Len(t, trigger.ctxs, 1)
	assert.Equal(t, "claim", trigger.ctxs[0].Value(sessionKey{}))
}

func TestConsumeClaim_FlushesFullBatches(t *testing.T) {
	trigger := &fakeTrigger{}
	handler := newClaimHandler(trigger, 1)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- message(`{"student_id":"student-1","platform":"lichess"}`)
	claim.messages <- message(`{"student_id":"student-2","platform":"lichess"}`)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, handler.ConsumeClaim(session, claim))

	assert.Len(t, trigger.calls, 2)
}
