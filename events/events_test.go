package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryBusFansOutToAllSubscribers(t *testing.T) {
	b := NewInMemoryBus()
	chA := b.Subscribe()
	chB := b.Subscribe()

	update := AdaptiveExecutionUpdate{StageID: "s1", Kind: "coalesced-partitions", Detail: "P=4"}
	b.Publish(update)

	require.Equal(t, update, <-chA)
	require.Equal(t, update, <-chB)
}

func TestInMemoryBusPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewInMemoryBus()
	ch := b.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(AdaptiveExecutionUpdate{StageID: "s1"})
		}()
	}
	wg.Wait()
	require.NotEmpty(t, ch)
}

func TestRecorderCapturesPublishOrder(t *testing.T) {
	r := NewRecorder()
	r.Publish(AdaptiveExecutionUpdate{StageID: "s1", Kind: "broadcast-demotion"})
	r.Publish(AdaptiveExecutionUpdate{StageID: "s1", Kind: "skew-split"})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "broadcast-demotion", snap[0].Kind)
	require.Equal(t, "skew-split", snap[1].Kind)

	// Snapshot is a copy: mutating it must not affect the Recorder.
	snap[0].Kind = "mutated"
	require.Equal(t, "broadcast-demotion", r.Snapshot()[0].Kind)
}

func TestRecorderSubscribeReturnsClosedChannel(t *testing.T) {
	r := NewRecorder()
	_, ok := <-r.Subscribe()
	require.False(t, ok)
}
