package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const processAttempts = 4

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterWriter is the subset of *kafka.Writer used for the dead-letter
// topic.
type DeadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer reads payment confirmations from Kafka and feeds the Processor.
// Offsets are committed only after a message is applied or parked on the
// dead-letter topic, so a crash redelivers it and the Processor treats the
// repeat as a duplicate.
type Consumer struct {
	reader    MessageReader
	processor *Processor
	dlq       DeadLetterWriter
	log       *zap.Logger
	backoff   time.Duration
}

// NewKafkaReader builds the consumer-group reader used in production.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// NewDeadLetterWriter builds the writer for failed payment events.
func NewDeadLetterWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}
}

// NewConsumer constructs a Consumer. dlq may be nil, in which case a message
// that keeps failing blocks the partition until it succeeds.
func NewConsumer(reader MessageReader, processor *Processor, dlq DeadLetterWriter, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, processor: processor, dlq: dlq, log: log, backoff: 500 * time.Millisecond}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("payment consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("payment consumer stopped")
				return nil
			}
			c.log.Error("fetch payment message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.settle(ctx, msg); err != nil {
			c.log.Info("payment consumer stopped")
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("commit payment offset", zap.Error(err))
		}
	}
}

// settle returns once msg may be committed: it was applied, parked on the
// dead-letter topic, or can never be applied and there is no dead-letter
// topic. Transient failures without a dead-letter topic are retried until
// ctx is done, which is the only error settle returns.
func (c *Consumer) settle(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.handleMessage(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := c.log.With(
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
			zap.Error(err),
		)

		if c.dlq != nil {
			dlqErr := c.deadLetter(ctx, msg, err)
			if dlqErr == nil {
				log.Warn("payment message sent to dead-letter topic")
				return nil
			}
			log.Error("dead-letter payment message", zap.NamedError("dlq_error", dlqErr))
		} else if !retryable(err) {
			log.Error("payment message rejected")
			return nil
		} else {
			log.Error("payment message not applied, retrying")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq-error", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlq-original-topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq-original-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq-timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	return c.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
}

// retryable reports whether err may go away on a later attempt.
func retryable(err error) bool {
	var appErr *apperror.Error
	return !errors.As(err, &appErr) || appErr.Kind == apperror.KindInternal
}

// handleMessage decodes and processes one message, retrying transient
// failures. Malformed messages are not retried.
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var ev model.PaymentConfirmed
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return apperror.InvalidInput("malformed payment event: " + err.Error())
	}

	backoff := retry.WithMaxRetries(processAttempts-1, retry.NewExponential(c.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		outcome, _, err := c.processor.Process(ctx, ev)
		if err == nil {
			c.log.Debug("payment processed", zap.String("outcome", string(outcome)))
			return nil
		}
		if !retryable(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Close closes the reader and the dead-letter writer.
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if closer, ok := c.dlq.(interface{ Close() error }); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
