package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/vk-rv/adpulse/internal/adpulse"
)

// ConsumerConfig holds configuration for consuming metric records from Kafka.
//
//nolint:govet // we want to align the struct fields
type ConsumerConfig struct {
	CommonConfig

	Reg prometheus.Registerer
	// Processor is invoked for every polled record.
	Processor adpulse.Processor
	// GroupID is the consumer group the consumer joins.
	GroupID string
	// Topics are the topics the consumer subscribes to.
	Topics []adpulse.Topic
	// Delivery decides whether offsets are committed before or after
	// records are processed.
	Delivery adpulse.DeliveryType
	// MaxPollRecords caps the number of records returned by a single poll.
	MaxPollRecords int
}

// finalize ensures the configuration is valid, returning an error otherwise.
func (cfg *ConsumerConfig) finalize() error {
	cfg.CommonConfig.finalize()

	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 100
	}

	var errs []error
	if cfg.GroupID == "" {
		errs = append(errs, errors.New("kafka: consumer group id must be set"))
	}
	if len(cfg.Topics) == 0 {
		errs = append(errs, errors.New("kafka: consumer topics must be set"))
	}
	if cfg.Processor == nil {
		errs = append(errs, errors.New("kafka: consumer processor must be set"))
	}
	return errors.Join(errs...)
}

// Consumer polls records from Kafka and hands them to a Processor.
// Implements the Consumer interface.
type Consumer struct {
	cfg     *ConsumerConfig
	client  *kgo.Client
	mu      sync.Mutex
	running bool
}

// NewConsumer returns a new Consumer with the given config.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("kafka: invalid consumer config: %w", err)
	}

	namespacePrefix := cfg.namespacePrefix()
	topics := make([]string, 0, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		topics = append(topics, namespacePrefix+string(topic))
	}

	client, err := cfg.newClientWithOpts(
		[]clientOptsFn{
			func(opts *clientOpts) {
				opts.reg = cfg.Reg
			},
		},
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed creating consumer: %w", err)
	}

	return &Consumer{
		cfg:    cfg,
		client: client,
	}, nil
}

// Run executes the consumer in a blocking manner. Returns
// adpulse.ErrConsumerAlreadyRunning when it has already been called.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return adpulse.ErrConsumerAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	for {
		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, kgo.ErrClientClosed) {
				return nil
			}
			return err
		}
	}
}

// poll fetches a batch of records and processes them according to the
// configured delivery type.
func (c *Consumer) poll(ctx context.Context) error {
	fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
	if err := fetches.Err0(); err != nil {
		return fmt.Errorf("kafka: poll records: %w", err)
	}
	fetches.EachError(func(topic string, partition int32, err error) {
		c.cfg.Logger.Error("consumer fetch error",
			slog.Any("error", err),
			slog.String("topic", topic),
			slog.Int("partition", int(partition)))
	})
	if fetches.NumRecords() == 0 {
		return nil
	}

	if c.cfg.Delivery == adpulse.AtMostOnceDeliveryType {
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			return fmt.Errorf("kafka: commit offsets: %w", err)
		}
	}

	namespacePrefix := c.cfg.namespacePrefix()
	var processErr error
	fetches.EachRecord(func(r *kgo.Record) {
		if processErr != nil {
			return
		}
		record := adpulse.Record{
			Topic:       adpulse.Topic(strings.TrimPrefix(r.Topic, namespacePrefix)),
			OrderingKey: r.Key,
			Value:       r.Value,
			Partition:   r.Partition,
		}
		if err := c.cfg.Processor.Process(ctx, record); err != nil {
			processErr = fmt.Errorf("kafka: process record: %w", err)
		}
	})
	if processErr != nil {
		// Offsets stay uncommitted for at-least-once delivery, so the
		// failed batch is redelivered after a restart or rebalance.
		return processErr
	}

	if c.cfg.Delivery == adpulse.AtLeastOnceDeliveryType {
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			return fmt.Errorf("kafka: commit offsets: %w", err)
		}
	}
	return nil
}

// Healthy returns an error if the Kafka client fails to reach a discovered
// broker.
func (c *Consumer) Healthy(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

// Close closes the consumer, leaving the consumer group and releasing
// the client.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
