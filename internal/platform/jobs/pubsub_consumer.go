package jobs

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/variants/internal/domain"
)

// ProductOptionEventHandler reacts to product option changes.
type ProductOptionEventHandler interface {
	HandleProductOptionEvent(ctx context.Context, event domain.ProductOptionEvent) error
}

// ConsumerOption customises the option event consumer.
type ConsumerOption func(*OptionEventConsumer)

// WithConsumerLogger sets the logger used for per-message diagnostics.
func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *OptionEventConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConcurrency bounds the number of messages handled at once.
func WithConcurrency(n int) ConsumerOption {
	return func(c *OptionEventConsumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// OptionEventConsumer pulls product option events from a subscription.
type OptionEventConsumer struct {
	sub         *pubsub.Subscription
	handler     ProductOptionEventHandler
	logger      *zap.Logger
	concurrency int
}

// NewOptionEventConsumer binds handler to the subscription.
func NewOptionEventConsumer(sub *pubsub.Subscription, handler ProductOptionEventHandler, opts ...ConsumerOption) (*OptionEventConsumer, error) {
	if sub == nil {
		return nil, errors.New("option event consumer: subscription is required")
	}
	if handler == nil {
		return nil, errors.New("option event consumer: handler is required")
	}
	consumer := &OptionEventConsumer{
		sub:         sub,
		handler:     handler,
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer, nil
}

// Run receives messages until ctx is cancelled. Malformed messages are acked and dropped;
// handler failures are nacked for redelivery.
func (c *OptionEventConsumer) Run(ctx context.Context) error {
	c.sub.ReceiveSettings.NumGoroutines = c.concurrency
	c.sub.ReceiveSettings.MaxOutstandingMessages = c.concurrency * 10

	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := c.logger.With(zap.String("messageId", msg.ID))

		event, err := DecodeProductOptionEvent(msg.ID, msg.Data, msg.Attributes, msg.PublishTime)
		if err != nil {
			logger.Warn("dropping undecodable product option event", zap.Error(err))
			msg.Ack()
			return
		}

		if err := c.handler.HandleProductOptionEvent(ctx, event); err != nil {
			logger.Error("product option event failed", zap.String("event", event.Name), zap.String("optionId", event.OptionID), zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
