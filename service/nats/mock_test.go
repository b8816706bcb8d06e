package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks.
var (
	_ Publisher = (*JetStreamPublisher)(nil)
	_ Publisher = (*MockPublisher)(nil)
)

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishCleanup(ctx, &CleanupEvent{WalletAddress: "walletA", Status: "confirmed"}))
	require.NoError(t, m.PublishCleanup(ctx, &CleanupEvent{WalletAddress: "walletB", Status: "dry_run"}))

	assert.Equal(t, 2, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsForWallet("walletA"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishCleanup(ctx, &CleanupEvent{WalletAddress: "walletA"}))
	assert.Equal(t, 2, m.GetPublishedEventCount())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	m.Reset()
	assert.Zero(t, m.GetPublishedEventCount())
}

func TestCleanupEventSubject(t *testing.T) {
	e := &CleanupEvent{WalletAddress: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"}
	assert.Equal(t, "cleanups.9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", e.Subject())
}
