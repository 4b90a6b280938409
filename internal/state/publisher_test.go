package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

func TestRedisPublisher_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewRedisPublisher(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan TransitionEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- publisher.Subscribe(ctx, func(e TransitionEvent) error {
			received <- e
			return nil
		})
	}()

	// Wait for the subscriber to register before publishing
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	event := TransitionEvent{
		EntityType: EntityNode,
		EntityID:   NodeEntityID("run-9", "ocr"),
		RunID:      "run-9",
		OldState:   models.StatusRunning,
		NewState:   models.StatusCompleted,
	}
	require.NoError(t, publisher.Publish(event))

	select {
	case got := <-received:
		assert.Equal(t, event.EntityID, got.EntityID)
		assert.Equal(t, models.StatusCompleted, got.NewState)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestRedisPublisher_PublishError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mr.Close()

	err := NewRedisPublisher(client).Publish(TransitionEvent{EntityType: EntityPipelineRun, EntityID: "r"})
	assert.Error(t, err)
}
