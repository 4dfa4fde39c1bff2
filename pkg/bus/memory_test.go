package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishThenSubscribeTimesOut(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	_, err := b.Subscribe(ctx, "task/1/texam", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryBusSubscribeThenPublishDelivers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	done := make(chan Message, 1)
	go func() {
		msg, err := b.Subscribe(ctx, "task/1/texam", time.Second)
		require.NoError(t, err)
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, "task/1/texam", Message{Status: StatusOK}))

	select {
	case msg := <-done:
		require.Equal(t, StatusOK, msg.Status)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received message")
	}
}

func TestMemoryBusPublishWithNoSubscriberIsNonBlocking(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	require.NoError(t, b.Publish(context.Background(), "task/1/texam", Message{Status: StatusOK}))
}
