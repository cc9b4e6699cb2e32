package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndSubscribe(t *testing.T) {
	hub := NewHub(8)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(TopicInvocationStarted, InvocationStarted{
		InvocationID: "inv-1",
		Library:      "/plugins/gain.clap",
		TestID:       "scan-time",
	})

	ev := <-ch
	assert.Equal(t, TopicInvocationStarted, ev.Topic)
	assert.Equal(t, int64(1), ev.ID)

	var payload InvocationStarted
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "inv-1", payload.InvocationID)
	assert.Equal(t, "scan-time", payload.TestID)
}

func TestSnapshotSince(t *testing.T) {
	hub := NewHub(8)

	for i := 0; i < 5; i++ {
		hub.Publish(TopicInvocationFinished, nil)
	}

	all := hub.SnapshotSince(0)
	require.Len(t, all, 5)

	tail := hub.SnapshotSince(3)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].ID)
	assert.Equal(t, int64(5), tail[1].ID)
}

func TestRingOverwritesOldest(t *testing.T) {
	hub := NewHub(3)

	for i := 0; i < 5; i++ {
		hub.Publish(TopicInvocationFinished, nil)
	}

	got := hub.SnapshotSince(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(5), got[2].ID)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(4)
	// Never drained: its buffer fills and further publishes must not hang.
	_, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		hub.Publish(TopicInvocationFinished, nil)
	}

	assert.Len(t, hub.SnapshotSince(0), 4)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub(4)
	ch, cancel := hub.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	hub.Publish(TopicRunFinished, nil)
}
