package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeCompleted, 1)
	defer unsub()

	bus.Publish(EventTradeCompleted, "done")
	select {
	case msg := <-ch:
		assert.Equal(t, "done", msg)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 1)
	bus.Publish(EventPriceTick, 2) // dropped, buffer full
	require.Equal(t, 1, <-ch)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %v", msg)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventRiskAlert, 1)
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(EventRiskAlert, Alert{Message: "ignored"})
}
