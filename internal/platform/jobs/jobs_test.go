package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/variants/internal/domain"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPubSubVariantPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "product-variant-created")
	require.NoError(t, err)

	publisher, err := NewPubSubVariantPublisher(topic)
	require.NoError(t, err)

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.FixedZone("JST", 9*3600))
	_, err = publisher.PublishVariantsCreated(ctx, domain.VariantsCreatedEvent{
		ProductID:  "prod_1",
		VariantIDs: []string{"variant_a", "variant_b"},
		ActorID:    "admin-1",
		OccurredAt: occurred,
	})
	require.NoError(t, err)

	messages := srv.Messages()
	require.Len(t, messages, 1)

	var payload variantsCreatedMessage
	require.NoError(t, json.Unmarshal(messages[0].Data, &payload))
	assert.Equal(t, "prod_1", payload.ProductID)
	assert.Equal(t, []string{"variant_a", "variant_b"}, payload.VariantIDs)
	assert.True(t, payload.OccurredAt.Equal(occurred))
	assert.Equal(t, time.UTC, payload.OccurredAt.Location())
	assert.Equal(t, domain.EventProductVariantsCreated, messages[0].Attributes[AttributeEvent])
	assert.Equal(t, "prod_1", messages[0].Attributes["productId"])
}

func TestNewPubSubVariantPublisherRequiresTopic(t *testing.T) {
	_, err := NewPubSubVariantPublisher(nil)
	require.Error(t, err)
}

func TestDecodeProductOptionEvent(t *testing.T) {
	published := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	event, err := DecodeProductOptionEvent("m1", []byte(`{"id":" opt_1 "}`), map[string]string{AttributeEvent: domain.EventProductOptionUpdated}, published)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductOptionEvent{
		ID:         "m1",
		Name:       domain.EventProductOptionUpdated,
		OptionID:   "opt_1",
		OccurredAt: published,
	}, event)

	event, err = DecodeProductOptionEvent("m2", []byte(`{"id":"opt_2","product_id":"prod_9","name":"product-option.created"}`), nil, published)
	require.NoError(t, err)
	assert.Equal(t, domain.EventProductOptionCreated, event.Name)
	assert.Equal(t, "prod_9", event.ProductID)

	_, err = DecodeProductOptionEvent("m3", []byte(`not json`), nil, published)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = DecodeProductOptionEvent("m4", []byte(`{"name":"product-option.created"}`), nil, published)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.ProductOptionEvent
	once   sync.Once
	done   chan struct{}
}

func (h *recordingHandler) HandleProductOptionEvent(_ context.Context, event domain.ProductOptionEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.once.Do(func() { close(h.done) })
	return nil
}

func TestOptionEventConsumerDeliversDecodedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "product-options")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "variants-product-options", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	for _, msg := range []*pubsub.Message{
		{Data: []byte(`garbage`)},
		{Data: []byte(`{"id":"opt_1"}`), Attributes: map[string]string{AttributeEvent: domain.EventProductOptionCreated}},
	} {
		_, err := topic.Publish(ctx, msg).Get(ctx)
		require.NoError(t, err)
	}

	handler := &recordingHandler{done: make(chan struct{})}
	consumer, err := NewOptionEventConsumer(sub, handler, WithConcurrency(1))
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(runCtx) }()

	select {
	case <-handler.done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for option event")
	}
	stop()
	require.NoError(t, <-errCh)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.events, 1)
	assert.Equal(t, "opt_1", handler.events[0].OptionID)
	assert.Equal(t, domain.EventProductOptionCreated, handler.events[0].Name)
}
