package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSub_PublishSubscribe(t *testing.T) {
	ps := NewPubSub(config.GetDefaultConfig(), logger.NewNoopLogger())
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := ps.Subscribe(ctx, "dunning.webhooks")
	require.NoError(t, err)

	msg := message.NewMessage("obx_1", []byte(`{"invoice_id":"inv_1"}`))
	msg.Metadata.Set(pubsub.MetadataEventName, "dunning.payment_failed")
	require.NoError(t, ps.Publish(ctx, "dunning.webhooks", msg))

	select {
	case got := <-messages:
		assert.Equal(t, "obx_1", got.UUID)
		assert.Equal(t, "dunning.payment_failed", got.Metadata.Get(pubsub.MetadataEventName))
		assert.JSONEq(t, `{"invoice_id":"inv_1"}`, string(got.Payload))
		got.Ack()
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestPubSub_TopicsAreIsolated(t *testing.T) {
	ps := NewPubSub(config.GetDefaultConfig(), logger.NewNoopLogger())
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emails, err := ps.Subscribe(ctx, "dunning.emails")
	require.NoError(t, err)

	require.NoError(t, ps.Publish(ctx, "dunning.webhooks", message.NewMessage("obx_1", []byte(`{}`))))

	select {
	case got := <-emails:
		t.Fatalf("unexpected message %s on email topic", got.UUID)
	case <-time.After(50 * time.Millisecond):
	}
}
