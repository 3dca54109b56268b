package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("obx_1", nil)
	key, err := partitionKey("dunning.webhooks", msg)
	require.NoError(t, err)
	assert.Equal(t, "obx_1", key)

	msg.Metadata.Set(pubsub.MetadataAggregateID, "inv_1")
	key, err = partitionKey("dunning.webhooks", msg)
	require.NoError(t, err)
	assert.Equal(t, "inv_1", key)
}

func TestNewPubSubFromConfig_NoBrokers(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Kafka.Brokers = nil

	_, err := NewPubSubFromConfig(cfg, logger.NewNoopLogger(), "")
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}
