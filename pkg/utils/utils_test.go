package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	session := NewSession(context.Background())
	require.WithinDuration(t, time.Now(), session.Started(), time.Minute)
	require.NoError(t, session.Ctx().Err())

	session.Cancel()
	require.Error(t, session.Ctx().Err())
}

func TestSessionParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	session := NewSession(parent)

	cancel()
	require.Error(t, session.Ctx().Err())
}

func TestTopicDropsOldest(t *testing.T) {
	topic := NewTopic[int]()
	sub := topic.Subscribe()
	defer sub.Done()

	// One more than the buffer: the oldest unread value gives way.
	for i := 0; i <= SUBSCRIBER_BUFFER; i++ {
		topic.Publish(i)
	}

	require.Equal(t, 1, <-sub.Recv())
}

func TestTopicUnsubscribe(t *testing.T) {
	topic := NewTopic[int]()
	sub := topic.Subscribe()
	sub.Done()

	topic.Publish(1)

	select {
	case value := <-sub.Recv():
		t.Fatalf("received %d after unsubscribe", value)
	default:
	}
}
