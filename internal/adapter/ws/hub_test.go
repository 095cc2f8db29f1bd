package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(4, logging.Discard())
	a := hub.subscribe()
	b := hub.subscribe()
	require.Equal(t, 2, hub.Subscribers())

	v := domain.String("blue")
	hub.Notify(domain.Event{Type: domain.EventStorageUpdate, Key: "color", Value: &v, UpdatedAt: 1.5})

	for _, s := range []*subscriber{a, b} {
		select {
		case msg := <-s.send:
			var got map[string]any
			require.NoError(t, json.Unmarshal(msg, &got))
			assert.Equal(t, "storage_update", got["type"])
			assert.Equal(t, "color", got["key"])
			assert.Equal(t, "blue", got["value"])
			assert.Equal(t, 1.5, got["updated_at"])
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, logging.Discard())
	slow := hub.subscribe()
	fast := hub.subscribe()

	hub.Notify(domain.Event{Type: domain.EventSyncUpdate, Collection: "fedexOrders"})
	<-fast.send

	done := make(chan struct{})
	go func() {
		hub.Notify(domain.Event{Type: domain.EventSyncUpdate, Collection: "uspsOrders"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full subscriber")
	}

	assert.Equal(t, 1, hub.Subscribers())
	select {
	case <-slow.done:
	default:
		t.Fatal("slow subscriber was not closed")
	}
	assert.Len(t, fast.send, 1)
}

func TestHub_ConcurrentNotify(t *testing.T) {
	hub := NewHub(1000, logging.Discard())
	s := hub.subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Notify(domain.Event{Type: domain.EventStorageUpdate, Key: "k"})
		}()
	}
	wg.Wait()
	assert.Len(t, s.send, 50)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(0, logging.Discard())
	s := hub.subscribe()
	hub.Close()

	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-s.done
	assert.False(t, open)
	assert.False(t, s.trySend([]byte("x")))

	// Unsubscribing after Close is harmless.
	hub.unsubscribe(s)
}
