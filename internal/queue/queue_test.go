package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	q.Push(3)
	require.Equal(t, 3, q.Len())

	for _, want := range []int{1, 2, 3} {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueue_PopWaitsForPush(t *testing.T) {
	q := New[string]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", got)
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := New[int]()
	q.Push(7)
	boom := errors.New("boom")
	q.Close(boom)
	q.Push(8)

	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := New[int]()
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close(context.Canceled)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}
