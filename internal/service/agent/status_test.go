package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-update-agent/internal/domain/update"
)

// TestStatusBusDelivery checks fan-out to multiple subscribers.
func TestStatusBusDelivery(t *testing.T) {
	t.Parallel()

	bus := newStatusBus()

	first, unsubscribeFirst := bus.Subscribe(4)
	second, unsubscribeSecond := bus.Subscribe(4)

	bus.publish(newEvent(update.PhaseCheckingVersion, "checking"))

	require.Equal(t, update.PhaseCheckingVersion, (<-first).Phase)
	require.Equal(t, update.PhaseCheckingVersion, (<-second).Phase)

	unsubscribeFirst()
	unsubscribeSecond()

	// Channels are closed after unsubscribe.
	_, open := <-first
	require.False(t, open)
}

// TestStatusBusNeverBlocks floods a subscriber with a full buffer and
// expects publish to drop instead of stalling.
func TestStatusBusNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := newStatusBus()

	events, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		bus.publish(newEvent(update.PhaseDownloading, "progress"))
	}

	// Exactly one event fits the buffer, the rest were dropped.
	require.Len(t, events, 1)
}

// TestStatusBusNoSubscribers publishes into the void without panicking.
func TestStatusBusNoSubscribers(t *testing.T) {
	t.Parallel()

	bus := newStatusBus()
	bus.publish(newEvent(update.PhaseUpToDate, "nobody is listening"))
}

// TestUnsubscribeTwice must be safe.
func TestUnsubscribeTwice(t *testing.T) {
	t.Parallel()

	bus := newStatusBus()

	_, unsubscribe := bus.Subscribe(1)
	unsubscribe()
	unsubscribe()

	bus.publish(newEvent(update.PhaseCleanup, "still fine"))
}
