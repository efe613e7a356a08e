package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	logger := watermill.NopLogger{}

	_, _, err := CreateChannel(logger, "conveyor-worker", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no kafka brokers")

	// A blank broker list from an unset flag is rejected the same way.
	_, _, err = CreateChannel(logger, "conveyor-worker", []string{""})
	require.Error(t, err)
}
