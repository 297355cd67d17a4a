// Package kafka consumes sync-request messages so other services can
// enqueue targeted refreshes without calling the HTTP API.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/sync"
)

// SyncTrigger runs targeted sync batches for consumed requests
type SyncTrigger interface {
	RunBatch(ctx context.Context, opts sync.BatchOptions) (*domain.BatchSummary, error)
}

// Consumer consumes sync requests from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	trigger       SyncTrigger
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            stdsync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, trigger SyncTrigger, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		trigger:       trigger,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Requests are
// collected into short batches and deduplicated before syncing, since
// producers often enqueue the same student several times in a burst.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.SyncRequest, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		seen := make(map[string]bool, len(batch))
		for _, req := range batch {
			dedupeKey := req.StudentID + "/" + string(req.Platform)
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true

			summary, err := h.consumer.trigger.RunBatch(session.Context(), sync.BatchOptions{
				StudentID: req.StudentID,
				Platform:  req.Platform,
			})
			if err != nil {
				h.consumer.logger.Error("failed to process sync request",
					"student_id", req.StudentID,
					"platform", req.Platform,
					"error", err,
				)
				continue
			}
			h.consumer.logger.Debug("processed sync request",
				"student_id", req.StudentID,
				"platform", req.Platform,
				"run_id", summary.RunID,
				"succeeded", summary.Succeeded,
			)
		}

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			var req domain.SyncRequest
			if err := json.Unmarshal(message.Value, &req); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if req.StudentID == "" {
				h.consumer.logger.Warn("sync request missing student id",
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}
			if _, err := domain.ParsePlatform(string(req.Platform)); err != nil {
				h.consumer.logger.Warn("sync request has unknown platform",
					"platform", req.Platform,
					"student_id", req.StudentID,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, req)
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
