package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	var zero T
	return zero
}

func TestBroadcastToAllListeners(t *testing.T) {
	src := make(chan int)
	b := NewBroadcastServer("test", "fanout", src)
	defer b.Close()

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	src <- 42
	assert.Equal(t, 42, receive(t, l1))
	assert.Equal(t, 42, receive(t, l2))
}

func TestCancelSubscriptionClosesListener(t *testing.T) {
	src := make(chan string)
	b := NewBroadcastServer("test", "cancel", src)
	defer b.Close()

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	b.CancelSubscription(l1)
	_, ok := <-l1
	assert.False(t, ok)

	src <- "x"
	assert.Equal(t, "x", receive(t, l2))
}

func TestSlowListenerIsSkipped(t *testing.T) {
	src := make(chan int)
	b := NewBroadcastServer("test", "slow", src,
		WithListenerBuffer[int](0),
		WithSendTimeout[int](10*time.Millisecond))
	defer b.Close()

	slow := b.Subscribe()
	src <- 1
	src <- 2 // both skipped, nobody reads slow
	fast := b.Subscribe()
	go func() { src <- 3 }()
	assert.Equal(t, 3, receive(t, fast))
	select {
	case v := <-slow:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestCloseClosesListeners(t *testing.T) {
	src := make(chan int)
	b := NewBroadcastServer("test", "close", src)
	l := b.Subscribe()
	b.Close()
	b.Close()
	_, ok := <-l
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
}

func TestSourceClosedEndsServer(t *testing.T) {
	src := make(chan int)
	b := NewBroadcastServer("test", "eof", src)
	l := b.Subscribe()
	close(src)
	_, ok := <-l
	assert.False(t, ok)
	b.Close()
}
