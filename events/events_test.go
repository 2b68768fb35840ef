package events

import (
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/quorumfeed/quorumfeed/metrics"
	"github.com/quorumfeed/quorumfeed/types"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	e := NewEmitter(log.NewNopLogger(), 16, 1)

	var mu sync.Mutex
	var got []Event
	for i := 0; i < 2; i++ {
		e.Subscribe(func(evt Event) {
			mu.Lock()
			got = append(got, evt)
			mu.Unlock()
		})
	}

	e.Emit(types.EventTypePriceUpdated, SeverityInfo, map[string]string{
		types.AttributeKeyFeedID: "ATOM/USD",
	})
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Equal(t, types.EventTypePriceUpdated, got[0].Type)
	require.Equal(t, "ATOM/USD", got[0].Attributes[types.AttributeKeyFeedID])
}

func TestEmitterDropsOnOverflow(t *testing.T) {
	e := NewEmitter(log.NewNopLogger(), 1, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	e.Subscribe(func(Event) {
		once.Do(func() { close(started) })
		<-block
	})

	// First event occupies the worker, second fills the buffer, the rest drop.
	e.Emit(types.EventTypeCircuitTripped, SeverityCritical, nil)
	<-started
	for i := 0; i < 5; i++ {
		e.Emit(types.EventTypeCircuitTripped, SeverityCritical, nil)
	}

	require.Eventually(t, func() bool { return e.Dropped() >= 4 },
		time.Second, 10*time.Millisecond)
	require.Equal(t, float64(e.Dropped()),
		testutil.ToFloat64(metrics.Get().EventsDropped))
	close(block)
	e.Close()
}
