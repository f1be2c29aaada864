package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// MessageHandler processes one SQS message body. Returning an error leaves
// the message on the queue so it becomes visible again after the
// visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConsumer long-polls one queue. While a batch is being handled, the
// visibility of every message not yet handled is extended every heartbeat,
// so a slow handler does not race a redelivery of its own message.
type SQSConsumer struct {
	client            sqsAPI
	queueURL          string
	logger            *zap.Logger
	visibilityTimeout int32
	heartbeat         time.Duration
	errorBackoff      time.Duration
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(cfg sdkaws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:            sqs.NewFromConfig(cfg),
		queueURL:          queueURL,
		logger:            logger.With(zap.String("queue_url", queueURL)),
		visibilityTimeout: 60,
		heartbeat:         20 * time.Second,
		errorBackoff:      5 * time.Second,
	}
}

// StartPolling runs until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("sqs polling started")

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("sqs polling stopped")
			return err
		}

		if err := c.pollOnce(ctx, handler); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.errorBackoff):
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}
	if len(result.Messages) == 0 {
		return nil
	}

	pending := newInflight(result.Messages)
	stop := c.keepInvisible(ctx, pending)
	defer stop()

	for _, msg := range result.Messages {
		messageID := sdkaws.ToString(msg.MessageId)
		if msg.Body == nil {
			pending.done(messageID)
			continue
		}

		err := handler(ctx, *msg.Body)
		pending.done(messageID)
		if err != nil {
			c.logger.Warn("sqs message handling failed, leaving for redelivery",
				zap.String("message_id", messageID),
				zap.Error(err),
			)
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      sdkaws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Error("sqs message delete failed", zap.String("message_id", messageID), zap.Error(err))
		}
	}

	return nil
}

// keepInvisible extends the visibility of pending messages until the
// returned stop function is called.
func (c *SQSConsumer) keepInvisible(ctx context.Context, pending *inflight) (stop func()) {
	if c.heartbeat <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				for id, handle := range pending.snapshot() {
					_, err := c.client.ChangeMessageVisibility(hbCtx, &sqs.ChangeMessageVisibilityInput{
						QueueUrl:          sdkaws.String(c.queueURL),
						ReceiptHandle:     handle,
						VisibilityTimeout: c.visibilityTimeout,
					})
					if err != nil && hbCtx.Err() == nil {
						c.logger.Warn("sqs visibility extension failed", zap.String("message_id", id), zap.Error(err))
					}
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// inflight tracks the receipt handles of a batch's unhandled messages.
type inflight struct {
	mu      sync.Mutex
	handles map[string]*string
}

func newInflight(msgs []types.Message) *inflight {
	handles := make(map[string]*string, len(msgs))
	for _, m := range msgs {
		handles[sdkaws.ToString(m.MessageId)] = m.ReceiptHandle
	}
	return &inflight{handles: handles}
}

func (f *inflight) done(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, messageID)
}

func (f *inflight) snapshot() map[string]*string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*string, len(f.handles))
	for id, h := range f.handles {
		out[id] = h
	}
	return out
}
