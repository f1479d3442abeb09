package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/variants/internal/domain"
)

// variantsCreatedMessage is the wire payload of product-variant.created.
type variantsCreatedMessage struct {
	ProductID  string    `json:"product_id"`
	VariantIDs []string  `json:"variant_ids"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PubSubVariantPublisher announces generated variants on a Pub/Sub topic.
type PubSubVariantPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubVariantPublisher constructs a Pub/Sub backed variant event publisher.
func NewPubSubVariantPublisher(topic *pubsub.Topic) (*PubSubVariantPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub variant publisher: topic is required")
	}
	return &PubSubVariantPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishVariantsCreated publishes one message per batch and waits for the server ack.
func (p *PubSubVariantPublisher) PublishVariantsCreated(ctx context.Context, event domain.VariantsCreatedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub variant publisher: not initialised")
	}

	data, err := p.marshal(variantsCreatedMessage{
		ProductID:  event.ProductID,
		VariantIDs: event.VariantIDs,
		ActorID:    event.ActorID,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal variants created event: %w", err)
	}

	attrs := map[string]string{AttributeEvent: domain.EventProductVariantsCreated}
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "actorId", event.ActorID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish variants created event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
