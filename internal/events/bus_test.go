package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBus[string](4)
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubA()
	defer unsubC()

	b.Publish("hello")

	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-c)
	assert.Equal(t, 2, b.Len())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus[int](1)
	ch, unsub := b.Subscribe()

	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Len())

	// publishing after the last unsubscribe is a no-op
	b.Publish(1)
}

func TestFullBufferDrops(t *testing.T) {
	b := NewBus[int](1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestClose(t *testing.T) {
	b := NewBus[int](0)
	ch, unsub := b.Subscribe()
	b.Close()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBus[int](1000)
	ch, unsub := b.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				b.Publish(i*100 + j)
			}
		}()
	}
	wg.Wait()
	require.Len(t, ch, 500)
}
