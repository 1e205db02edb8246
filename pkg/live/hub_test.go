package live

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a, b := h.Subscribe(), h.Subscribe()
	require.Equal(t, 2, h.Len())

	h.Broadcast([]byte("hello"))

	assert.Equal(t, []byte("hello"), <-a.Send)
	assert.Equal(t, []byte("hello"), <-b.Send)
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	s := h.Subscribe()

	h.Unsubscribe(s)
	h.Unsubscribe(s)
	assert.Zero(t, h.Len())

	_, ok := <-s.Send
	assert.False(t, ok)

	// Broadcasting after removal must not panic.
	h.Broadcast([]byte("late"))
}

func TestSlowSubscriberDropsMessages(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	s := h.Subscribe()

	for i := 0; i < SendBuffer+10; i++ {
		h.Broadcast([]byte("x"))
	}
	assert.Len(t, s.Send, SendBuffer)
}

func TestConcurrentBroadcastAndUnsubscribe(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	subs := make([]*Subscriber, 20)
	for i := range subs {
		subs[i] = h.Subscribe()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Broadcast([]byte("x"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			h.Unsubscribe(s)
		}
	}()
	wg.Wait()

	assert.Zero(t, h.Len())
}

func TestBalanceUpdatedEncode(t *testing.T) {
	ev := NewBalanceUpdated(balance.Entry{Date: "2024-10-01 12:00:00", PeerID: "QmA", Balance: "10", Hostname: "node-a"})
	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)

	raw, err := ev.Encode()
	require.NoError(t, err)

	var msg struct {
		Type    string         `json:"type"`
		Payload BalanceUpdated `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypeBalanceUpdated, msg.Type)
	assert.Equal(t, ev, msg.Payload)
}
