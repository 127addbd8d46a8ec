// Package notify dispatches user notifications after committed state
// changes. Dispatch is fire-and-forget: failures are logged and never reach
// the caller.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	publishTimeout  = 10 * time.Second
	publishAttempts = 3
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications as JSON to a topic, keyed by user id so one
// user's notifications stay ordered.
type Kafka struct {
	writer  MessageWriter
	log     *zap.Logger
	backoff time.Duration
	wg      sync.WaitGroup
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  1,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafka wraps a writer.
func NewKafka(writer MessageWriter, log *zap.Logger) *Kafka {
	return &Kafka{writer: writer, log: log, backoff: 200 * time.Millisecond}
}

// Notify publishes n in the background with a few retries.
func (k *Kafka) Notify(ctx context.Context, n model.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		k.log.Error("encode notification", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: payload,
		Time:  n.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}

	// The request that triggered the notification may finish first.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer cancel()

		backoff := retry.WithMaxRetries(publishAttempts-1, retry.NewExponential(k.backoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := k.writer.WriteMessages(ctx, msg); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			k.log.Warn("notification dropped",
				zap.String("type", string(n.Type)),
				zap.String(logger.FieldUserID, n.UserID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight notifications and closes the writer.
func (k *Kafka) Close() error {
	k.wg.Wait()
	return k.writer.Close()
}

// Log writes notifications to the log instead of a broker. It is used when
// no Kafka brokers are configured.
type Log struct {
	log *zap.Logger
}

// NewLog constructs a Log notifier.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, n model.Notification) {
	l.log.Debug("notification",
		zap.String("type", string(n.Type)),
		zap.String(logger.FieldUserID, n.UserID),
		zap.String("status", n.Status),
	)
}
